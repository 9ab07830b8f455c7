package outreach

import "time"

// RunJob is the wire message published to the run queue when a campaign
// send is started. The contact batch is frozen at publish time so the
// runner processes exactly the set the caller was answered about.
type RunJob struct {
	CampaignID int64   `json:"campaign_id"`
	OwnerID    int64   `json:"owner_id"`
	ContactIDs []int64 `json:"contact_ids"`
}

type RegisterReq struct {
	Email    string `json:"email"    binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Name     string `json:"name"     binding:"required"`
}

type LoginReq struct {
	Email    string `json:"email"    binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type TokenResp struct {
	Token string `json:"token"`
}

type SenderSettingsReq struct {
	SMTPHost     string `json:"smtp_host"     binding:"required"`
	SMTPPort     int    `json:"smtp_port"     binding:"required"`
	SendAddress  string `json:"send_address"  binding:"required,email"`
	SendPassword string `json:"send_password" binding:"required"`
	Signature    string `json:"signature"`
}

type ContactReq struct {
	Email        string            `json:"email" binding:"required,email"`
	Name         string            `json:"name"`
	Company      string            `json:"company"`
	Position     string            `json:"position"`
	LinkedinURL  string            `json:"linkedin_url"`
	Notes        string            `json:"notes"`
	CustomFields map[string]string `json:"custom_fields"`
}

type ImportContactsReq struct {
	Contacts []ContactReq `json:"contacts" binding:"required,min=1,dive"`
}

type ImportContactsResp struct {
	Imported int `json:"imported"`
}

type TemplateReq struct {
	Name     string `json:"name"      binding:"required"`
	Subject  string `json:"subject"   binding:"required"`
	HTMLBody string `json:"html_body" binding:"required"`
	TextBody string `json:"text_body"`
}

type CreateCampaignReq struct {
	Name        string `json:"name"        binding:"required"`
	TemplateID  int64  `json:"template_id" binding:"required"`
	SendDelayMS int    `json:"send_delay_ms"`
}

type CreateCampaignResp struct {
	ID int64 `json:"id"`
}

type SendCampaignResp struct {
	ID         int64  `json:"id"`
	Status     string `json:"status"`
	Recipients int    `json:"recipients"`
}

type CampaignStatsView struct {
	Total  int `json:"total"`
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
	Opens  int `json:"opens"`
	Clicks int `json:"clicks"`
}

type CampaignListItem struct {
	ID          int64             `json:"id"`
	Name        string            `json:"name"`
	TemplateID  int64             `json:"template_id"`
	Status      string            `json:"status"`
	SentCount   int               `json:"sent_count"`
	TotalCount  int               `json:"total_recipients"`
	CreatedAt   time.Time         `json:"created_at"`
	Stats       CampaignStatsView `json:"stats"`
}

type RecipientActivity struct {
	ContactID   int64      `json:"contact_id"`
	Email       string     `json:"email"`
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	Opened      bool       `json:"opened"`
	OpenedAt    *time.Time `json:"opened_at,omitempty"`
	Clicked     bool       `json:"clicked"`
	ClicksCount int        `json:"clicks_count"`
}

type CampaignAnalytics struct {
	CampaignID int64               `json:"campaign_id"`
	Status     string              `json:"status"`
	Stats      CampaignStatsView   `json:"stats"`
	OpenRate   float64             `json:"open_rate"`
	ClickRate  float64             `json:"click_rate"`
	Recipients []RecipientActivity `json:"recipients"`
}
