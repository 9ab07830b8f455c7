package server

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/janmejaybhavsar/email-campaign-system/internal/mailer"
	"github.com/janmejaybhavsar/email-campaign-system/internal/outreach"
	"github.com/janmejaybhavsar/email-campaign-system/internal/store"
	"github.com/janmejaybhavsar/email-campaign-system/pkg/auth"
	"github.com/janmejaybhavsar/email-campaign-system/pkg/config"
	"github.com/janmejaybhavsar/email-campaign-system/pkg/logx"
	"github.com/janmejaybhavsar/email-campaign-system/pkg/rmq"
)

type storeAPI interface {
	CreateUser(ctx context.Context, email, passwordHash, name string) (int64, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUser(ctx context.Context, id int64) (store.User, error)
	UpdateSenderIdentity(ctx context.Context, userID int64, host string, port int, addr, password, signature string, verified bool) error

	UpsertContact(ctx context.Context, c store.Contact) (int64, error)
	GetContact(ctx context.Context, ownerID, id int64) (store.Contact, error)
	ListContacts(ctx context.Context, ownerID int64, limit, offset int) ([]store.Contact, error)
	UpdateContact(ctx context.Context, c store.Contact) error
	ListUncontacted(ctx context.Context, ownerID int64, limit int) ([]store.Contact, error)

	InsertTemplate(ctx context.Context, t store.Template) (int64, error)
	GetTemplate(ctx context.Context, ownerID, id int64) (store.Template, error)
	ListTemplates(ctx context.Context, ownerID int64) ([]store.Template, error)
	UpdateTemplate(ctx context.Context, t store.Template) error

	InsertCampaign(ctx context.Context, ownerID int64, name string, templateID int64, sendDelayMS int) (int64, error)
	GetCampaign(ctx context.Context, ownerID, id int64) (store.Campaign, error)
	ListCampaigns(ctx context.Context, ownerID int64, limit, offset int) ([]store.Campaign, []store.CampaignStats, error)
	GetCampaignStats(ctx context.Context, campaignID int64) (store.CampaignStats, error)
	BeginRun(ctx context.Context, campaignID int64, totalRecipients int) error
	FinishRun(ctx context.Context, campaignID int64, status string) error

	MarkOpened(ctx context.Context, trackingID, userAgent, remoteAddr string) error
	RecordClick(ctx context.Context, trackingID string, linkIndex int, userAgent, remoteAddr string) (string, error)
	ListCampaignActivity(ctx context.Context, campaignID int64) ([]store.RecipientActivityRow, error)
}

type publisherAPI interface {
	PublishJSON(ctx context.Context, body []byte) error
}

type transportVerifier interface {
	Verify(ctx context.Context) error
}

type storeAdapter struct{ *store.Store }
type publisherAdapter struct{ *rmq.Publisher }

type Handlers struct {
	Store     storeAPI
	Pub       publisherAPI
	BaseURL   string
	JWTSecret []byte
	JWTTTL    time.Duration

	// maxBatchSize bounds one campaign run.
	MaxBatchSize int

	// NewTransport is swapped out in tests.
	NewTransport func(host string, port int, username, password string) transportVerifier
}

func NewHandlers(s *store.Store, pub *rmq.Publisher, cfg config.APIConfig) *Handlers {
	return &Handlers{
		Store:        &storeAdapter{s},
		Pub:          &publisherAdapter{pub},
		BaseURL:      cfg.BaseURL,
		JWTSecret:    []byte(cfg.JWTSecret),
		JWTTTL:       cfg.JWTTTL,
		MaxBatchSize: cfg.MaxBatchSize,
		NewTransport: func(host string, port int, username, password string) transportVerifier {
			return mailer.New(host, port, username, password)
		},
	}
}

func (h *Handlers) Healthz(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// ---------- auth ----------

func (h *Handlers) Register(c *gin.Context) {
	var req outreach.RegisterReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hash error"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	id, err := h.Store.CreateUser(ctx, req.Email, hash, req.Name)
	if err != nil {
		if store.IsUniqueViolation(err) {
			c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
			return
		}
		logx.L().Errorw("create_user_error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "register error"})
		return
	}

	token, err := auth.IssueToken(h.JWTSecret, id, h.JWTTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}
	c.JSON(http.StatusOK, outreach.TokenResp{Token: token})
}

func (h *Handlers) Login(c *gin.Context) {
	var req outreach.LoginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	u, err := h.Store.GetUserByEmail(ctx, req.Email)
	if err != nil || !auth.CheckPassword(u.PasswordHash, req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := auth.IssueToken(h.JWTSecret, u.ID, h.JWTTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}
	c.JSON(http.StatusOK, outreach.TokenResp{Token: token})
}

// UpdateSenderSettings stores the SMTP identity used for outbound sends.
// The credentials are verified against the server before being saved.
func (h *Handlers) UpdateSenderSettings(c *gin.Context) {
	var req outreach.SenderSettingsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	transport := h.NewTransport(req.SMTPHost, req.SMTPPort, req.SendAddress, req.SendPassword)
	if err := transport.Verify(ctx); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "smtp verification failed: " + err.Error()})
		return
	}

	if err := h.Store.UpdateSenderIdentity(ctx, ownerID(c), req.SMTPHost, req.SMTPPort,
		req.SendAddress, req.SendPassword, req.Signature, true); err != nil {
		logx.L().Errorw("update_sender_error", "user_id", ownerID(c), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "settings error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"verified": true})
}

// ---------- contacts ----------

func contactFromReq(ownerID int64, req outreach.ContactReq) store.Contact {
	return store.Contact{
		OwnerID:      ownerID,
		Email:        req.Email,
		Name:         req.Name,
		Company:      req.Company,
		Position:     req.Position,
		LinkedinURL:  req.LinkedinURL,
		Notes:        req.Notes,
		CustomFields: req.CustomFields,
	}
}

func contactView(c store.Contact) gin.H {
	v := gin.H{
		"id":            c.ID,
		"email":         c.Email,
		"name":          c.Name,
		"company":       c.Company,
		"position":      c.Position,
		"linkedin_url":  c.LinkedinURL,
		"notes":         c.Notes,
		"custom_fields": c.CustomFields,
		"contacted":     c.Contacted,
	}
	if c.LastContactedAt.Valid {
		v["last_contacted_at"] = c.LastContactedAt.Time
	}
	return v
}

func (h *Handlers) CreateContact(c *gin.Context) {
	var req outreach.ContactReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	id, err := h.Store.UpsertContact(ctx, contactFromReq(ownerID(c), req))
	if err != nil {
		logx.L().Errorw("upsert_contact_error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "contact error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

func (h *Handlers) ImportContacts(c *gin.Context) {
	var req outreach.ImportContactsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	imported := 0
	for _, cr := range req.Contacts {
		if _, err := h.Store.UpsertContact(ctx, contactFromReq(ownerID(c), cr)); err != nil {
			logx.L().Warnw("import_contact_error", "email", cr.Email, "error", err)
			continue
		}
		imported++
	}
	c.JSON(http.StatusOK, outreach.ImportContactsResp{Imported: imported})
}

func (h *Handlers) ListContacts(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	contacts, err := h.Store.ListContacts(ctx, ownerID(c), limit, offset)
	if err != nil {
		logx.L().Errorw("list_contacts_error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list error"})
		return
	}

	out := make([]gin.H, 0, len(contacts))
	for _, ct := range contacts {
		out = append(out, contactView(ct))
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handlers) GetContact(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	ct, err := h.Store.GetContact(ctx, ownerID(c), id)
	if err != nil {
		respondNotFoundOr500(c, err, "contact not found")
		return
	}
	c.JSON(http.StatusOK, contactView(ct))
}

func (h *Handlers) UpdateContact(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req outreach.ContactReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	ct := contactFromReq(ownerID(c), req)
	ct.ID = id
	if err := h.Store.UpdateContact(ctx, ct); err != nil {
		respondNotFoundOr500(c, err, "contact not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

// ---------- templates ----------

func (h *Handlers) CreateTemplate(c *gin.Context) {
	var req outreach.TemplateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	id, err := h.Store.InsertTemplate(ctx, store.Template{
		OwnerID:  ownerID(c),
		Name:     req.Name,
		Subject:  req.Subject,
		HTMLBody: req.HTMLBody,
		TextBody: req.TextBody,
	})
	if err != nil {
		logx.L().Errorw("insert_template_error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "template error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

func (h *Handlers) ListTemplates(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	tpls, err := h.Store.ListTemplates(ctx, ownerID(c))
	if err != nil {
		logx.L().Errorw("list_templates_error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list error"})
		return
	}
	c.JSON(http.StatusOK, tpls)
}

func (h *Handlers) GetTemplate(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	t, err := h.Store.GetTemplate(ctx, ownerID(c), id)
	if err != nil {
		respondNotFoundOr500(c, err, "template not found")
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *Handlers) UpdateTemplate(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req outreach.TemplateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	err := h.Store.UpdateTemplate(ctx, store.Template{
		ID:       id,
		OwnerID:  ownerID(c),
		Name:     req.Name,
		Subject:  req.Subject,
		HTMLBody: req.HTMLBody,
		TextBody: req.TextBody,
	})
	if err != nil {
		respondNotFoundOr500(c, err, "template not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

// ---------- helpers ----------

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func respondNotFoundOr500(c *gin.Context, err error, msg string) {
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": msg})
		return
	}
	logx.L().Errorw("store_error", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "storage error"})
}
