// Package dispatch performs the per-recipient send: render, rewrite,
// transmit, record. One Dispatcher call is one send attempt; a failure is
// logged against the recipient and never aborts the campaign run.
package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/janmejaybhavsar/email-campaign-system/internal/mailer"
	"github.com/janmejaybhavsar/email-campaign-system/internal/personalize"
	"github.com/janmejaybhavsar/email-campaign-system/internal/store"
	"github.com/janmejaybhavsar/email-campaign-system/internal/tracklinks"
	"github.com/janmejaybhavsar/email-campaign-system/pkg/logx"
)

// Transport is the outbound mail collaborator, satisfied by
// mailer.SMTPMailer and by test fakes.
type Transport interface {
	Send(ctx context.Context, msg mailer.Message) error
}

type trackingStore interface {
	InsertTrackingRecord(ctx context.Context, trackingID string, campaignID, contactID int64) error
	InsertTrackedLinks(ctx context.Context, links []store.TrackedLink) error
	MarkContacted(ctx context.Context, contactID int64, at time.Time) error
	InsertOutreachLog(ctx context.Context, l store.OutreachLog) error
}

type Dispatcher struct {
	Store       trackingStore
	BaseURL     string
	SendTimeout time.Duration
}

func New(st trackingStore, baseURL string, sendTimeout time.Duration) *Dispatcher {
	if sendTimeout <= 0 {
		sendTimeout = 10 * time.Second
	}
	return &Dispatcher{Store: st, BaseURL: baseURL, SendTimeout: sendTimeout}
}

// SendOne delivers the campaign's template to a single contact. A nil
// return means the message reached the transport and the contact was
// marked contacted; any error has already been recorded in the outreach
// log where possible.
func (d *Dispatcher) SendOne(ctx context.Context, campaign store.Campaign, tpl store.Template, contact store.Contact, sender store.User, transport Transport) error {
	trackingID := uuid.NewString()
	fields := []any{
		"campaign_id", campaign.ID,
		"contact_id", contact.ID,
		"tracking_id", trackingID,
	}

	// The tracking record exists before any delivery attempt so analytics
	// can tell attempted-but-failed from never-attempted.
	if err := d.Store.InsertTrackingRecord(ctx, trackingID, campaign.ID, contact.ID); err != nil {
		logx.L().Errorw("tracking_record_insert_error", append(fields, "error", err)...)
		d.logOutcome(ctx, campaign.ID, contact.ID, trackingID, store.LogFailed, "", err.Error())
		return err
	}

	recipient := personalize.Recipient{
		Email:        contact.Email,
		Name:         contact.Name,
		Company:      contact.Company,
		Position:     contact.Position,
		LinkedinURL:  contact.LinkedinURL,
		CustomFields: contact.CustomFields,
	}
	senderCtx := personalize.Sender{Name: sender.Name}

	subject := personalize.Render(tpl.Subject, recipient, senderCtx)
	html := personalize.Render(tpl.HTMLBody, recipient, senderCtx)
	text := personalize.Render(tpl.TextBody, recipient, senderCtx)

	html, links := tracklinks.Rewrite(html, trackingID, d.BaseURL)
	tracked := make([]store.TrackedLink, 0, len(links))
	for _, l := range links {
		tracked = append(tracked, store.TrackedLink{TrackingID: trackingID, LinkIndex: l.Index, OriginalURL: l.OriginalURL})
	}
	if err := d.Store.InsertTrackedLinks(ctx, tracked); err != nil {
		logx.L().Errorw("tracked_links_insert_error", append(fields, "error", err)...)
		d.logOutcome(ctx, campaign.ID, contact.ID, trackingID, store.LogFailed, subject, err.Error())
		return err
	}
	html = tracklinks.AppendPixel(html, trackingID, d.BaseURL, sender.Signature)

	sendCtx, cancel := context.WithTimeout(ctx, d.SendTimeout)
	err := transport.Send(sendCtx, mailer.Message{
		FromName: sender.Name,
		From:     sender.SendAddress,
		To:       contact.Email,
		ReplyTo:  sender.SendAddress,
		Subject:  subject,
		HTML:     html,
		Text:     text,
	})
	cancel()

	if err != nil {
		logx.L().Infow("send_failed", append(fields, "error", err)...)
		d.logOutcome(ctx, campaign.ID, contact.ID, trackingID, store.LogFailed, subject, err.Error())
		return err
	}

	if err := d.Store.MarkContacted(ctx, contact.ID, time.Now()); err != nil {
		// The mail is out; a bookkeeping miss here must not fail the send.
		logx.L().Errorw("mark_contacted_error", append(fields, "error", err)...)
	}
	d.logOutcome(ctx, campaign.ID, contact.ID, trackingID, store.LogSent, subject, "")
	logx.L().Infow("send_success", fields...)
	return nil
}

func (d *Dispatcher) logOutcome(ctx context.Context, campaignID, contactID int64, trackingID, status, subject, detail string) {
	err := d.Store.InsertOutreachLog(ctx, store.OutreachLog{
		CampaignID: campaignID,
		ContactID:  contactID,
		TrackingID: trackingID,
		Status:     status,
		Subject:    subject,
		Detail:     detail,
	})
	if err != nil {
		logx.L().Errorw("outreach_log_insert_error",
			"campaign_id", campaignID, "contact_id", contactID, "error", err)
	}
}
