package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/janmejaybhavsar/email-campaign-system/docs"
	"github.com/janmejaybhavsar/email-campaign-system/pkg/metrics"
)

func NewHTTPServer(addr string, h *Handlers) *http.Server {
	r := gin.New()
	r.Use(gin.Recovery(), Observability())

	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	r.GET("/docs", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", docs.OutreachSwaggerHTML)
	})
	r.GET("/docs/outreach-api/openapi.yaml", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/yaml", docs.OutreachOpenAPI)
	})

	// Tracking ingest is hit by recipients' mail clients, never with a token.
	r.GET("/track/open/:tid", h.TrackOpen)
	r.GET("/track/click/:tid/:idx", h.TrackClick)

	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)

	authed := r.Group("/", RequireAuth(h.JWTSecret))
	{
		authed.PUT("/settings/sender", h.UpdateSenderSettings)

		authed.POST("/contacts", h.CreateContact)
		authed.POST("/contacts/import", h.ImportContacts)
		authed.GET("/contacts", h.ListContacts)
		authed.GET("/contacts/:id", h.GetContact)
		authed.PUT("/contacts/:id", h.UpdateContact)

		authed.POST("/templates", h.CreateTemplate)
		authed.GET("/templates", h.ListTemplates)
		authed.GET("/templates/:id", h.GetTemplate)
		authed.PUT("/templates/:id", h.UpdateTemplate)

		authed.POST("/campaigns", h.CreateCampaign)
		authed.GET("/campaigns", h.ListCampaigns)
		authed.GET("/campaigns/:id", h.GetCampaign)
		authed.POST("/campaigns/:id/send", h.SendCampaign)
		authed.GET("/campaigns/:id/analytics", h.CampaignAnalytics)
	}

	return &http.Server{
		Addr:    addr,
		Handler: r,
	}
}
