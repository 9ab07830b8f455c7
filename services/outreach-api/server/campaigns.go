package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/janmejaybhavsar/email-campaign-system/internal/outreach"
	"github.com/janmejaybhavsar/email-campaign-system/internal/store"
	"github.com/janmejaybhavsar/email-campaign-system/pkg/logx"
	"github.com/janmejaybhavsar/email-campaign-system/pkg/metrics"
)

func (h *Handlers) CreateCampaign(c *gin.Context) {
	var req outreach.CreateCampaignReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	// A campaign must reference a template the owner actually has.
	if _, err := h.Store.GetTemplate(ctx, ownerID(c), req.TemplateID); err != nil {
		respondNotFoundOr500(c, err, "template not found")
		return
	}

	id, err := h.Store.InsertCampaign(ctx, ownerID(c), req.Name, req.TemplateID, req.SendDelayMS)
	if err != nil {
		logx.L().Errorw("insert_campaign_error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "campaign error"})
		return
	}
	c.JSON(http.StatusOK, outreach.CreateCampaignResp{ID: id})
}

func campaignListItem(cp store.Campaign, st store.CampaignStats) outreach.CampaignListItem {
	item := outreach.CampaignListItem{
		ID:         cp.ID,
		Name:       cp.Name,
		TemplateID: cp.TemplateID,
		Status:     cp.Status,
		SentCount:  cp.SentCount,
		TotalCount: cp.TotalRecipients,
		CreatedAt:  cp.CreatedAt,
	}
	item.Stats = outreach.CampaignStatsView{
		Total:  st.Total,
		Sent:   st.Sent,
		Failed: st.Failed,
		Opens:  st.Opens,
		Clicks: st.Clicks,
	}
	return item
}

func (h *Handlers) ListCampaigns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	rows, stats, err := h.Store.ListCampaigns(ctx, ownerID(c), limit, offset)
	if err != nil {
		logx.L().Errorw("list_campaigns_error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list error"})
		return
	}

	out := make([]outreach.CampaignListItem, 0, len(rows))
	for i, r := range rows {
		out = append(out, campaignListItem(r, stats[i]))
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handlers) GetCampaign(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	cp, err := h.Store.GetCampaign(ctx, ownerID(c), id)
	if err != nil {
		respondNotFoundOr500(c, err, "campaign not found")
		return
	}
	st, err := h.Store.GetCampaignStats(ctx, id)
	if err != nil {
		logx.L().Errorw("get_campaign_stats_error", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats error"})
		return
	}
	c.JSON(http.StatusOK, campaignListItem(cp, st))
}

// SendCampaign runs the precondition checks, atomically flips the campaign
// into 'sending' with the batch frozen, publishes the run job, and answers
// immediately. The actual sending happens in the campaign-runner service.
func (h *Handlers) SendCampaign(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	owner := ownerID(c)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	campaign, err := h.Store.GetCampaign(ctx, owner, id)
	if err != nil {
		respondNotFoundOr500(c, err, "campaign not found")
		return
	}

	sender, err := h.Store.GetUser(ctx, owner)
	if err != nil {
		respondNotFoundOr500(c, err, "user not found")
		return
	}
	if !sender.SMTPVerified {
		c.JSON(http.StatusBadRequest, gin.H{"error": store.ErrSenderNotConfigured.Error()})
		return
	}

	if _, err := h.Store.GetTemplate(ctx, owner, campaign.TemplateID); err != nil {
		respondNotFoundOr500(c, err, "template not found")
		return
	}

	contacts, err := h.Store.ListUncontacted(ctx, owner, h.MaxBatchSize)
	if err != nil {
		logx.L().Errorw("list_uncontacted_error", "campaign_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "contacts error"})
		return
	}
	if len(contacts) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": store.ErrNoEligibleContacts.Error()})
		return
	}

	if err := h.Store.BeginRun(ctx, id, len(contacts)); err != nil {
		if errors.Is(err, store.ErrRunConflict) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		logx.L().Errorw("begin_run_error", "campaign_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "run error"})
		return
	}

	job := outreach.RunJob{CampaignID: id, OwnerID: owner}
	for _, ct := range contacts {
		job.ContactIDs = append(job.ContactIDs, ct.ID)
	}
	payload, err := json.Marshal(job)
	if err != nil {
		h.revertRun(id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "publish error"})
		return
	}

	pubCtx, cancelPub := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPub()
	if err := h.Pub.PublishJSON(pubCtx, payload); err != nil {
		logx.L().Errorw("publish_run_error", "campaign_id", id, "error", err)
		h.revertRun(id)
		c.JSON(http.StatusBadGateway, gin.H{"error": "queue unavailable"})
		return
	}
	metrics.PublishedRunsTotal.Inc()

	c.JSON(http.StatusAccepted, outreach.SendCampaignResp{
		ID:         id,
		Status:     store.CampaignSending,
		Recipients: len(contacts),
	})
}

// revertRun puts a campaign back to failed when the run job never made it
// onto the queue; otherwise it would sit in 'sending' with no runner
// picking it up.
func (h *Handlers) revertRun(campaignID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.Store.FinishRun(ctx, campaignID, store.CampaignFailed); err != nil {
		logx.L().Errorw("revert_run_error", "campaign_id", campaignID, "error", err)
	}
}

func (h *Handlers) CampaignAnalytics(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	cp, err := h.Store.GetCampaign(ctx, ownerID(c), id)
	if err != nil {
		respondNotFoundOr500(c, err, "campaign not found")
		return
	}
	st, err := h.Store.GetCampaignStats(ctx, id)
	if err != nil {
		logx.L().Errorw("analytics_stats_error", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats error"})
		return
	}
	rows, err := h.Store.ListCampaignActivity(ctx, id)
	if err != nil {
		logx.L().Errorw("analytics_activity_error", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "activity error"})
		return
	}

	resp := outreach.CampaignAnalytics{
		CampaignID: cp.ID,
		Status:     cp.Status,
		Stats: outreach.CampaignStatsView{
			Total:  st.Total,
			Sent:   st.Sent,
			Failed: st.Failed,
			Opens:  st.Opens,
			Clicks: st.Clicks,
		},
	}

	clickedRecipients := 0
	for _, r := range rows {
		act := outreach.RecipientActivity{
			ContactID:   r.ContactID,
			Email:       r.Email,
			Name:        r.Name,
			Status:      r.Status,
			Opened:      r.Opened,
			Clicked:     r.Clicked,
			ClicksCount: r.ClicksCount,
		}
		if r.OpenedAt.Valid {
			t := r.OpenedAt.Time
			act.OpenedAt = &t
		}
		if r.Clicked {
			clickedRecipients++
		}
		resp.Recipients = append(resp.Recipients, act)
	}
	if st.Sent > 0 {
		resp.OpenRate = float64(st.Opens) / float64(st.Sent)
		resp.ClickRate = float64(clickedRecipients) / float64(st.Sent)
	}

	c.JSON(http.StatusOK, resp)
}
