package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type APIConfig struct {
	Port      string
	DBDSN     string
	RMQURL    string
	Queue     string
	BaseURL   string
	JWTSecret string
	JWTTTL    time.Duration

	// MaxBatchSize bounds the contact batch frozen into one campaign run.
	MaxBatchSize int
}

type RunnerConfig struct {
	DBDSN        string
	RMQURL       string
	Queue        string
	BaseURL      string
	MinSendDelay time.Duration
	SendTimeout  time.Duration
}

var (
	API    APIConfig
	Runner RunnerConfig
)

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustEnv(k string) string {
	v := os.Getenv(k)
	if v == "" {
		log.Fatalf("required env %s is not set", k)
	}
	return v
}

func getenvInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("env %s must be an integer, got %q", k, v)
	}
	return n
}

func loadDotenv() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, relying on OS environment")
	}
}

func MustLoadAPI() {
	loadDotenv()
	API = APIConfig{
		Port:      getenv("PORT", "8080"),
		DBDSN:     mustEnv("DB_DSN"),
		RMQURL:    mustEnv("RMQ_URL"),
		Queue:     getenv("QUEUE", "campaign_runs"),
		BaseURL:   mustEnv("BASE_URL"),
		JWTSecret: mustEnv("JWT_SECRET"),
		JWTTTL:    time.Duration(getenvInt("JWT_TTL_HOURS", 24)) * time.Hour,

		MaxBatchSize: getenvInt("MAX_BATCH_SIZE", 50),
	}
}

func MustLoadRunner() {
	loadDotenv()
	Runner = RunnerConfig{
		DBDSN:        mustEnv("DB_DSN"),
		RMQURL:       mustEnv("RMQ_URL"),
		Queue:        getenv("QUEUE", "campaign_runs"),
		BaseURL:      mustEnv("BASE_URL"),
		MinSendDelay: time.Duration(getenvInt("MIN_SEND_DELAY_MS", 15000)) * time.Millisecond,
		SendTimeout:  time.Duration(getenvInt("SEND_TIMEOUT_MS", 10000)) * time.Millisecond,
	}
}
