package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type TrackingRecord struct {
	ID          int64
	TrackingID  string
	CampaignID  int64
	ContactID   int64
	Opened      bool
	OpenedAt    sql.NullTime
	Clicked     bool
	ClickedAt   sql.NullTime
	ClicksCount int
	UserAgent   string
	RemoteAddr  string
	CreatedAt   time.Time
}

type TrackedLink struct {
	TrackingID  string
	LinkIndex   int
	OriginalURL string
}

type OutreachLog struct {
	ID         int64
	CampaignID int64
	ContactID  int64
	TrackingID string
	Status     string
	Subject    string
	Detail     string
	CreatedAt  time.Time
}

func (s *Store) InsertTrackingRecord(ctx context.Context, trackingID string, campaignID, contactID int64) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO tracking_records (tracking_id, campaign_id, contact_id)
		VALUES ($1,$2,$3)`, trackingID, campaignID, contactID)
	return err
}

func (s *Store) InsertTrackedLinks(ctx context.Context, links []TrackedLink) error {
	if len(links) == 0 {
		return nil
	}
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		for _, l := range links {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO tracked_links (tracking_id, link_index, original_url)
				VALUES ($1,$2,$3)`, l.TrackingID, l.LinkIndex, l.OriginalURL); err != nil {
				return err
			}
		}
		return nil
	})
}

// MarkOpened records the first open of an email. Subsequent opens are
// no-ops: the WHERE clause only matches an un-opened record. Request
// metadata is first-event-wins across opens AND clicks, so a click that
// landed before the pixel loaded keeps its user agent and address.
func (s *Store) MarkOpened(ctx context.Context, trackingID, userAgent, remoteAddr string) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE tracking_records
		   SET opened=true, opened_at=NOW(),
		       user_agent=CASE WHEN user_agent='' THEN $2 ELSE user_agent END,
		       remote_addr=CASE WHEN remote_addr='' THEN $3 ELSE remote_addr END
		 WHERE tracking_id=$1 AND opened=false`, trackingID, userAgent, remoteAddr)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Already opened, or unknown tracking ID. Distinguish for the log.
		var exists bool
		if err := s.DB.QueryRowContext(ctx, `
			SELECT EXISTS(SELECT 1 FROM tracking_records WHERE tracking_id=$1)`, trackingID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
	}
	return nil
}

// RecordClick bumps the click counter and returns the original destination
// for the redirect. clicked_at and request metadata are first-write-wins;
// the counter accumulates.
func (s *Store) RecordClick(ctx context.Context, trackingID string, linkIndex int, userAgent, remoteAddr string) (string, error) {
	var originalURL string
	err := s.DB.QueryRowContext(ctx, `
		SELECT original_url FROM tracked_links
		WHERE tracking_id=$1 AND link_index=$2`, trackingID, linkIndex).Scan(&originalURL)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}

	_, err = s.DB.ExecContext(ctx, `
		UPDATE tracking_records
		   SET clicked=true,
		       clicked_at=COALESCE(clicked_at, NOW()),
		       clicks_count=clicks_count+1,
		       user_agent=CASE WHEN user_agent='' THEN $2 ELSE user_agent END,
		       remote_addr=CASE WHEN remote_addr='' THEN $3 ELSE remote_addr END
		 WHERE tracking_id=$1`, trackingID, userAgent, remoteAddr)
	return originalURL, err
}

func (s *Store) GetTrackingRecord(ctx context.Context, trackingID string) (TrackingRecord, error) {
	var r TrackingRecord
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, tracking_id, campaign_id, contact_id, opened, opened_at,
		       clicked, clicked_at, clicks_count, user_agent, remote_addr, created_at
		FROM tracking_records WHERE tracking_id=$1`, trackingID).
		Scan(&r.ID, &r.TrackingID, &r.CampaignID, &r.ContactID, &r.Opened, &r.OpenedAt,
			&r.Clicked, &r.ClickedAt, &r.ClicksCount, &r.UserAgent, &r.RemoteAddr, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return TrackingRecord{}, ErrNotFound
	}
	return r, err
}

func (s *Store) InsertOutreachLog(ctx context.Context, l OutreachLog) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO outreach_logs (campaign_id, contact_id, tracking_id, status, subject, detail)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		l.CampaignID, l.ContactID, l.TrackingID, l.Status, l.Subject, l.Detail)
	return err
}

type RecipientActivityRow struct {
	ContactID   int64
	Email       string
	Name        string
	Status      string
	Opened      bool
	OpenedAt    sql.NullTime
	Clicked     bool
	ClicksCount int
}

func (s *Store) ListCampaignActivity(ctx context.Context, campaignID int64) ([]RecipientActivityRow, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT c.id, c.email, c.name, l.status,
		       t.opened, t.opened_at, t.clicked, t.clicks_count
		FROM tracking_records t
		JOIN contacts c       ON c.id = t.contact_id
		JOIN outreach_logs l  ON l.tracking_id = t.tracking_id
		WHERE t.campaign_id=$1
		ORDER BY t.id`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RecipientActivityRow
	for rows.Next() {
		var r RecipientActivityRow
		if err := rows.Scan(&r.ContactID, &r.Email, &r.Name, &r.Status,
			&r.Opened, &r.OpenedAt, &r.Clicked, &r.ClicksCount); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
