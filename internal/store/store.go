package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrRunConflict         = errors.New("campaign is already sending")
	ErrNoEligibleContacts  = errors.New("no un-contacted contacts")
	ErrSenderNotConfigured = errors.New("sender transport is not configured")
)

const (
	CampaignDraft     = "draft"
	CampaignSending   = "sending"
	CampaignCompleted = "completed"
	CampaignFailed    = "failed"

	LogSent   = "sent"
	LogFailed = "failed"
)

type Store struct {
	DB *sql.DB
}

func New(db *sql.DB) *Store { return &Store{DB: db} }

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505).
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

type User struct {
	ID           int64
	Email        string
	PasswordHash string
	Name         string
	SMTPHost     string
	SMTPPort     int
	SendAddress  string
	SendPassword string
	Signature    string
	SMTPVerified bool
	CreatedAt    time.Time
}

type Template struct {
	ID        int64
	OwnerID   int64
	Name      string
	Subject   string
	HTMLBody  string
	TextBody  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Campaign struct {
	ID              int64
	OwnerID         int64
	TemplateID      int64
	Name            string
	Status          string
	TotalRecipients int
	SentCount       int
	SendDelayMS     int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type CampaignStats struct {
	Total  int
	Sent   int
	Failed int
	Opens  int
	Clicks int
}

func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// ---------- users ----------

func (s *Store) CreateUser(ctx context.Context, email, passwordHash, name string) (int64, error) {
	var id int64
	err := s.DB.QueryRowContext(ctx, `
		INSERT INTO users (email, password_hash, name)
		VALUES ($1,$2,$3) RETURNING id`, email, passwordHash, name).Scan(&id)
	return id, err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.scanUser(s.DB.QueryRowContext(ctx, `
		SELECT id, email, password_hash, name,
		       smtp_host, smtp_port, send_address, send_password, signature, smtp_verified,
		       created_at
		FROM users WHERE email = $1`, email))
}

func (s *Store) GetUser(ctx context.Context, id int64) (User, error) {
	return s.scanUser(s.DB.QueryRowContext(ctx, `
		SELECT id, email, password_hash, name,
		       smtp_host, smtp_port, send_address, send_password, signature, smtp_verified,
		       created_at
		FROM users WHERE id = $1`, id))
}

func (s *Store) scanUser(row *sql.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name,
		&u.SMTPHost, &u.SMTPPort, &u.SendAddress, &u.SendPassword, &u.Signature, &u.SMTPVerified,
		&u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}

func (s *Store) UpdateSenderIdentity(ctx context.Context, userID int64, host string, port int, addr, password, signature string, verified bool) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE users
		   SET smtp_host=$2, smtp_port=$3, send_address=$4, send_password=$5,
		       signature=$6, smtp_verified=$7
		 WHERE id=$1`, userID, host, port, addr, password, signature, verified)
	return err
}

// ---------- templates ----------

func (s *Store) InsertTemplate(ctx context.Context, t Template) (int64, error) {
	var id int64
	err := s.DB.QueryRowContext(ctx, `
		INSERT INTO templates (owner_id, name, subject, html_body, text_body)
		VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		t.OwnerID, t.Name, t.Subject, t.HTMLBody, t.TextBody).Scan(&id)
	return id, err
}

func (s *Store) GetTemplate(ctx context.Context, ownerID, id int64) (Template, error) {
	var t Template
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, owner_id, name, subject, html_body, text_body, created_at, updated_at
		FROM templates WHERE id=$1 AND owner_id=$2`, id, ownerID).
		Scan(&t.ID, &t.OwnerID, &t.Name, &t.Subject, &t.HTMLBody, &t.TextBody, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Template{}, ErrNotFound
	}
	return t, err
}

func (s *Store) ListTemplates(ctx context.Context, ownerID int64) ([]Template, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, owner_id, name, subject, html_body, text_body, created_at, updated_at
		FROM templates WHERE owner_id=$1 ORDER BY id DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Template
	for rows.Next() {
		var t Template
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.Name, &t.Subject, &t.HTMLBody, &t.TextBody, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) UpdateTemplate(ctx context.Context, t Template) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE templates
		   SET name=$3, subject=$4, html_body=$5, text_body=$6, updated_at=NOW()
		 WHERE id=$1 AND owner_id=$2`,
		t.ID, t.OwnerID, t.Name, t.Subject, t.HTMLBody, t.TextBody)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

// ---------- campaigns ----------

func (s *Store) InsertCampaign(ctx context.Context, ownerID int64, name string, templateID int64, sendDelayMS int) (int64, error) {
	var id int64
	err := s.DB.QueryRowContext(ctx, `
		INSERT INTO campaigns (owner_id, name, template_id, status, send_delay_ms)
		VALUES ($1,$2,$3,'draft',$4) RETURNING id`,
		ownerID, name, templateID, sendDelayMS).Scan(&id)
	return id, err
}

func (s *Store) GetCampaign(ctx context.Context, ownerID, id int64) (Campaign, error) {
	var c Campaign
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, owner_id, template_id, name, status, total_recipients, sent_count, send_delay_ms, created_at, updated_at
		FROM campaigns WHERE id=$1 AND owner_id=$2`, id, ownerID).
		Scan(&c.ID, &c.OwnerID, &c.TemplateID, &c.Name, &c.Status, &c.TotalRecipients, &c.SentCount, &c.SendDelayMS, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Campaign{}, ErrNotFound
	}
	return c, err
}

// GetCampaignByID is the unscoped lookup used by the runner, which trusts
// the owner ID carried in the queued job.
func (s *Store) GetCampaignByID(ctx context.Context, id int64) (Campaign, error) {
	var c Campaign
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, owner_id, template_id, name, status, total_recipients, sent_count, send_delay_ms, created_at, updated_at
		FROM campaigns WHERE id=$1`, id).
		Scan(&c.ID, &c.OwnerID, &c.TemplateID, &c.Name, &c.Status, &c.TotalRecipients, &c.SentCount, &c.SendDelayMS, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Campaign{}, ErrNotFound
	}
	return c, err
}

// BeginRun moves a campaign into the sending state. The transition is a
// single conditional update so two concurrent send requests cannot both
// win; the loser gets ErrRunConflict.
func (s *Store) BeginRun(ctx context.Context, campaignID int64, totalRecipients int) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE campaigns
		   SET status='sending', total_recipients=$2, sent_count=0, updated_at=NOW()
		 WHERE id=$1 AND status IN ('draft','completed','failed')`,
		campaignID, totalRecipients)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRunConflict
	}
	return nil
}

func (s *Store) IncrementSentCount(ctx context.Context, campaignID int64) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE campaigns SET sent_count = sent_count + 1, updated_at=NOW() WHERE id=$1`, campaignID)
	return err
}

func (s *Store) FinishRun(ctx context.Context, campaignID int64, status string) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE campaigns SET status=$2, updated_at=NOW() WHERE id=$1`, campaignID, status)
	return err
}

// RecoverStuckCampaigns fails any campaign a crashed runner left in
// 'sending'. Called once at runner startup, before consuming.
func (s *Store) RecoverStuckCampaigns(ctx context.Context) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE campaigns SET status='failed', updated_at=NOW() WHERE status='sending'`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) ListCampaigns(ctx context.Context, ownerID int64, limit, offset int) ([]Campaign, []CampaignStats, error) {
	if limit <= 0 || limit > 1000 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, owner_id, template_id, name, status, total_recipients, sent_count, send_delay_ms, created_at, updated_at
		FROM campaigns
		WHERE owner_id=$1
		ORDER BY id DESC
		LIMIT $2 OFFSET $3`, ownerID, limit, offset)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var campaigns []Campaign
	var ids []int64
	for rows.Next() {
		var c Campaign
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.TemplateID, &c.Name, &c.Status, &c.TotalRecipients, &c.SentCount, &c.SendDelayMS, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, nil, err
		}
		campaigns = append(campaigns, c)
		ids = append(ids, c.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	if len(campaigns) == 0 {
		return campaigns, []CampaignStats{}, nil
	}

	statRows, err := s.DB.QueryContext(ctx, `
		SELECT l.campaign_id,
		       COUNT(*)                                  AS total,
		       COUNT(*) FILTER (WHERE l.status='sent')   AS sent,
		       COUNT(*) FILTER (WHERE l.status='failed') AS failed
		FROM outreach_logs l
		WHERE l.campaign_id = ANY($1)
		GROUP BY l.campaign_id`, int64Slice(ids))
	if err != nil {
		return nil, nil, err
	}
	defer statRows.Close()

	statsByID := make(map[int64]CampaignStats, len(ids))
	for statRows.Next() {
		var id int64
		var st CampaignStats
		if err := statRows.Scan(&id, &st.Total, &st.Sent, &st.Failed); err != nil {
			return nil, nil, err
		}
		statsByID[id] = st
	}
	if err := statRows.Err(); err != nil {
		return nil, nil, err
	}

	out := make([]CampaignStats, len(campaigns))
	for i, c := range campaigns {
		out[i] = statsByID[c.ID]
	}
	return campaigns, out, nil
}

func (s *Store) GetCampaignStats(ctx context.Context, campaignID int64) (CampaignStats, error) {
	var st CampaignStats
	err := s.DB.QueryRowContext(ctx, `
		SELECT
		  (SELECT COUNT(*) FROM outreach_logs WHERE campaign_id=$1)                          AS total,
		  (SELECT COUNT(*) FROM outreach_logs WHERE campaign_id=$1 AND status='sent')        AS sent,
		  (SELECT COUNT(*) FROM outreach_logs WHERE campaign_id=$1 AND status='failed')      AS failed,
		  (SELECT COUNT(*) FROM tracking_records WHERE campaign_id=$1 AND opened)            AS opens,
		  (SELECT COALESCE(SUM(clicks_count),0) FROM tracking_records WHERE campaign_id=$1)  AS clicks`,
		campaignID).Scan(&st.Total, &st.Sent, &st.Failed, &st.Opens, &st.Clicks)
	return st, err
}

type int64Slice []int64

func (a int64Slice) Value() (driver.Value, error) {
	if len(a) == 0 {
		return "{}", nil
	}
	var b strings.Builder
	b.WriteByte('{')
	for i, v := range a {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatInt(v, 10))
	}
	b.WriteByte('}')
	return b.String(), nil
}
