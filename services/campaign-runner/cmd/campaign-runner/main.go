package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/janmejaybhavsar/email-campaign-system/internal/dispatch"
	"github.com/janmejaybhavsar/email-campaign-system/internal/store"
	"github.com/janmejaybhavsar/email-campaign-system/pkg/config"
	"github.com/janmejaybhavsar/email-campaign-system/pkg/db"
	"github.com/janmejaybhavsar/email-campaign-system/pkg/logx"
	"github.com/janmejaybhavsar/email-campaign-system/pkg/rmq"
	"github.com/janmejaybhavsar/email-campaign-system/services/campaign-runner/runner"
)

func main() {
	logx.Init()
	defer logx.Sync()

	config.MustLoadRunner()
	cfg := config.Runner

	sqlDB, err := db.Open(cfg.DBDSN)
	if err != nil {
		logx.L().Fatalw("db_open_error", "error", err)
	}
	defer sqlDB.Close()

	st := store.New(sqlDB)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A crashed predecessor may have left campaigns stuck in 'sending';
	// fail them before taking new work.
	if n, err := st.RecoverStuckCampaigns(ctx); err != nil {
		logx.L().Errorw("recover_stuck_campaigns_error", "error", err)
	} else if n > 0 {
		logx.L().Warnw("recovered_stuck_campaigns", "count", n)
	}

	cons, err := rmq.NewConsumer(cfg.RMQURL, cfg.Queue)
	if err != nil {
		logx.L().Fatalw("rmq_init_error", "error", err)
	}
	defer cons.Close()

	disp := dispatch.New(st, cfg.BaseURL, cfg.SendTimeout)
	r := runner.New(st, cons, disp, cfg.MinSendDelay)

	if err := r.Run(ctx); err != nil && err != context.Canceled {
		logx.L().Fatalw("runner_error", "error", err)
	}
	logx.L().Infow("campaign-runner stopped gracefully")
}
