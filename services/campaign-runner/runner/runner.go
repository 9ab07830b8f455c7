// Package runner executes queued campaign runs: one job is one sequential
// pass over a frozen contact batch, paced by the campaign's inter-send
// delay. Sends within a run are never parallelized; the pacing is the
// point, not a bottleneck.
package runner

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/janmejaybhavsar/email-campaign-system/internal/dispatch"
	"github.com/janmejaybhavsar/email-campaign-system/internal/mailer"
	"github.com/janmejaybhavsar/email-campaign-system/internal/outreach"
	"github.com/janmejaybhavsar/email-campaign-system/internal/store"
	"github.com/janmejaybhavsar/email-campaign-system/pkg/logx"
	"github.com/janmejaybhavsar/email-campaign-system/pkg/metrics"
	"github.com/janmejaybhavsar/email-campaign-system/pkg/rmq"
)

type runStore interface {
	GetCampaignByID(ctx context.Context, id int64) (store.Campaign, error)
	GetUser(ctx context.Context, id int64) (store.User, error)
	GetTemplate(ctx context.Context, ownerID, id int64) (store.Template, error)
	GetContactsByIDs(ctx context.Context, ownerID int64, ids []int64) ([]store.Contact, error)
	IncrementSentCount(ctx context.Context, campaignID int64) error
	FinishRun(ctx context.Context, campaignID int64, status string) error
}

type oneSender interface {
	SendOne(ctx context.Context, campaign store.Campaign, tpl store.Template, contact store.Contact, sender store.User, transport dispatch.Transport) error
}

type Runner struct {
	Store    runStore
	Dispatch oneSender
	Cons     *rmq.Consumer

	// NewTransport builds a per-sender transport instance for each run;
	// no process-wide SMTP state.
	NewTransport func(u store.User) dispatch.Transport

	MinSendDelay time.Duration
}

func New(st *store.Store, cons *rmq.Consumer, disp *dispatch.Dispatcher, minDelay time.Duration) *Runner {
	return &Runner{
		Store:    st,
		Dispatch: disp,
		Cons:     cons,
		NewTransport: func(u store.User) dispatch.Transport {
			return mailer.New(u.SMTPHost, u.SMTPPort, u.SendAddress, u.SendPassword)
		},
		MinSendDelay: minDelay,
	}
}

func (r *Runner) Run(ctx context.Context) error {
	msgs, err := r.Cons.Consume()
	if err != nil {
		return err
	}
	logx.L().Infow("runner_started", "queue", r.Cons.Queue)

	for {
		select {
		case <-ctx.Done():
			logx.L().Infow("runner_stopping")
			return ctx.Err()

		case d, ok := <-msgs:
			if !ok {
				logx.L().Warnw("consumer_channel_closed")
				return nil
			}
			metrics.RunnerRunsConsumed.Inc()

			var job outreach.RunJob
			if err := json.Unmarshal(d.Body, &job); err != nil {
				logx.L().Warnw("run_job_unmarshal_error", "error", err)
				_ = d.Ack(false)
				continue
			}

			start := time.Now()
			r.ExecuteRun(ctx, job)
			metrics.RunnerRunDuration.Observe(time.Since(start).Seconds())

			// A redelivered run would double-send the batch, so the job is
			// acked no matter how the run ended; the terminal campaign
			// status is the durable outcome.
			r.ack(d)
		}
	}
}

func (r *Runner) ack(d amqp.Delivery) {
	if err := d.Ack(false); err != nil {
		logx.L().Errorw("run_job_ack_error", "error", err)
	}
}

// ExecuteRun drives one campaign run to a terminal status. Whatever goes
// wrong inside the loop, the campaign never stays in 'sending': a deferred
// recover and a background-context status write see to it.
func (r *Runner) ExecuteRun(ctx context.Context, job outreach.RunJob) {
	fields := []any{"campaign_id", job.CampaignID, "owner_id", job.OwnerID}

	terminal := ""
	defer func() {
		if p := recover(); p != nil {
			logx.L().Errorw("run_panic", append(fields, "panic", p)...)
			terminal = store.CampaignFailed
		}
		if terminal == "" {
			return
		}
		// The surrounding ctx may already be cancelled on shutdown; the
		// terminal write must still land.
		wctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.Store.FinishRun(wctx, job.CampaignID, terminal); err != nil {
			logx.L().Errorw("finish_run_error", append(fields, "status", terminal, "error", err)...)
			return
		}
		logx.L().Infow("run_finished", append(fields, "status", terminal)...)
	}()

	campaign, err := r.Store.GetCampaignByID(ctx, job.CampaignID)
	if err != nil {
		logx.L().Errorw("run_load_campaign_error", append(fields, "error", err)...)
		terminal = store.CampaignFailed
		return
	}
	if campaign.Status != store.CampaignSending {
		// Stale or duplicate delivery; the CAS on the API side is the
		// source of truth.
		logx.L().Warnw("run_skip_not_sending", append(fields, "status", campaign.Status)...)
		return
	}

	sender, err := r.Store.GetUser(ctx, job.OwnerID)
	if err != nil {
		logx.L().Errorw("run_load_sender_error", append(fields, "error", err)...)
		terminal = store.CampaignFailed
		return
	}
	tpl, err := r.Store.GetTemplate(ctx, job.OwnerID, campaign.TemplateID)
	if err != nil {
		logx.L().Errorw("run_load_template_error", append(fields, "error", err)...)
		terminal = store.CampaignFailed
		return
	}
	contacts, err := r.Store.GetContactsByIDs(ctx, job.OwnerID, job.ContactIDs)
	if err != nil || len(contacts) == 0 {
		logx.L().Errorw("run_load_contacts_error", append(fields, "error", err, "count", len(contacts))...)
		terminal = store.CampaignFailed
		return
	}

	transport := r.NewTransport(sender)
	delay := time.Duration(campaign.SendDelayMS) * time.Millisecond
	if delay < r.MinSendDelay {
		delay = r.MinSendDelay
	}

	succeeded := 0
	for i, contact := range contacts {
		sendStart := time.Now()
		err := r.Dispatch.SendOne(ctx, campaign, tpl, contact, sender, transport)
		metrics.RunnerSendDuration.Observe(time.Since(sendStart).Seconds())
		if err == nil {
			succeeded++
			metrics.RunnerSendsTotal.WithLabelValues(store.LogSent).Inc()
			if err := r.Store.IncrementSentCount(ctx, campaign.ID); err != nil {
				logx.L().Errorw("sent_count_update_error", append(fields, "error", err)...)
			}
		} else {
			metrics.RunnerSendsTotal.WithLabelValues(store.LogFailed).Inc()
		}

		if i == len(contacts)-1 {
			break
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			logx.L().Warnw("run_cancelled_mid_batch", append(fields, "sent", succeeded, "remaining", len(contacts)-i-1)...)
			terminal = store.CampaignFailed
			return
		case <-timer.C:
		}
	}

	if succeeded > 0 {
		terminal = store.CampaignCompleted
	} else {
		terminal = store.CampaignFailed
	}
}
