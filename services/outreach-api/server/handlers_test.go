package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/janmejaybhavsar/email-campaign-system/internal/outreach"
	"github.com/janmejaybhavsar/email-campaign-system/internal/store"
	"github.com/janmejaybhavsar/email-campaign-system/pkg/auth"
)

type fakeStore struct {
	user        store.User
	userErr     error
	campaign    store.Campaign
	campaignErr error
	template    store.Template
	templateErr error
	uncontacted []store.Contact

	createUserErr error
	beginRunErr   error

	beginRunTotal int
	finishes      []string
	upserts       []store.Contact
	clicks        int
}

func (f *fakeStore) CreateUser(ctx context.Context, email, passwordHash, name string) (int64, error) {
	if f.createUserErr != nil {
		return 0, f.createUserErr
	}
	return 1, nil
}

func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	return f.user, f.userErr
}

func (f *fakeStore) GetUser(ctx context.Context, id int64) (store.User, error) {
	return f.user, f.userErr
}

func (f *fakeStore) UpdateSenderIdentity(ctx context.Context, userID int64, host string, port int, addr, password, signature string, verified bool) error {
	return nil
}

func (f *fakeStore) UpsertContact(ctx context.Context, c store.Contact) (int64, error) {
	f.upserts = append(f.upserts, c)
	return int64(len(f.upserts)), nil
}

func (f *fakeStore) GetContact(ctx context.Context, ownerID, id int64) (store.Contact, error) {
	return store.Contact{}, store.ErrNotFound
}

func (f *fakeStore) ListContacts(ctx context.Context, ownerID int64, limit, offset int) ([]store.Contact, error) {
	return f.uncontacted, nil
}

func (f *fakeStore) UpdateContact(ctx context.Context, c store.Contact) error { return nil }

func (f *fakeStore) ListUncontacted(ctx context.Context, ownerID int64, limit int) ([]store.Contact, error) {
	if len(f.uncontacted) > limit {
		return f.uncontacted[:limit], nil
	}
	return f.uncontacted, nil
}

func (f *fakeStore) InsertTemplate(ctx context.Context, t store.Template) (int64, error) {
	return 3, nil
}

func (f *fakeStore) GetTemplate(ctx context.Context, ownerID, id int64) (store.Template, error) {
	return f.template, f.templateErr
}

func (f *fakeStore) ListTemplates(ctx context.Context, ownerID int64) ([]store.Template, error) {
	return nil, nil
}

func (f *fakeStore) UpdateTemplate(ctx context.Context, t store.Template) error { return nil }

func (f *fakeStore) InsertCampaign(ctx context.Context, ownerID int64, name string, templateID int64, sendDelayMS int) (int64, error) {
	return 9, nil
}

func (f *fakeStore) GetCampaign(ctx context.Context, ownerID, id int64) (store.Campaign, error) {
	return f.campaign, f.campaignErr
}

func (f *fakeStore) ListCampaigns(ctx context.Context, ownerID int64, limit, offset int) ([]store.Campaign, []store.CampaignStats, error) {
	return []store.Campaign{f.campaign}, []store.CampaignStats{{Total: 3, Sent: 2, Failed: 1}}, nil
}

func (f *fakeStore) GetCampaignStats(ctx context.Context, campaignID int64) (store.CampaignStats, error) {
	return store.CampaignStats{Total: 3, Sent: 2, Failed: 1, Opens: 1, Clicks: 4}, nil
}

func (f *fakeStore) BeginRun(ctx context.Context, campaignID int64, totalRecipients int) error {
	if f.beginRunErr != nil {
		return f.beginRunErr
	}
	f.beginRunTotal = totalRecipients
	return nil
}

func (f *fakeStore) FinishRun(ctx context.Context, campaignID int64, status string) error {
	f.finishes = append(f.finishes, status)
	return nil
}

func (f *fakeStore) MarkOpened(ctx context.Context, trackingID, userAgent, remoteAddr string) error {
	if trackingID == "unknown" {
		return store.ErrNotFound
	}
	return nil
}

func (f *fakeStore) RecordClick(ctx context.Context, trackingID string, linkIndex int, userAgent, remoteAddr string) (string, error) {
	if trackingID == "unknown" || linkIndex > 1 {
		return "", store.ErrNotFound
	}
	f.clicks++
	return "https://dest.test/page", nil
}

func (f *fakeStore) ListCampaignActivity(ctx context.Context, campaignID int64) ([]store.RecipientActivityRow, error) {
	return nil, nil
}

type fakePublisher struct {
	payloads [][]byte
	err      error
}

func (p *fakePublisher) PublishJSON(ctx context.Context, body []byte) error {
	if p.err != nil {
		return p.err
	}
	p.payloads = append(p.payloads, body)
	return nil
}

type fakeVerifier struct{ err error }

func (v fakeVerifier) Verify(ctx context.Context) error { return v.err }

var testSecret = []byte("test-secret")

func newTestHandlers(fs *fakeStore, fp *fakePublisher) *Handlers {
	return &Handlers{
		Store:        fs,
		Pub:          fp,
		BaseURL:      "https://app.test",
		JWTSecret:    testSecret,
		JWTTTL:       time.Hour,
		MaxBatchSize: 50,
		NewTransport: func(host string, port int, username, password string) transportVerifier {
			return fakeVerifier{}
		},
	}
}

func doJSON(t *testing.T, h *Handlers, method, path, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	srv := NewHTTPServer(":0", h)
	rr := httptest.NewRecorder()

	var rd *bytes.Buffer
	if body != "" {
		rd = bytes.NewBufferString(body)
	} else {
		rd = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if authed {
		token, err := auth.IssueToken(testSecret, 1, time.Hour)
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func sendReadyStore() *fakeStore {
	return &fakeStore{
		user:     store.User{ID: 1, SMTPVerified: true},
		campaign: store.Campaign{ID: 9, OwnerID: 1, TemplateID: 3, Status: store.CampaignDraft},
		template: store.Template{ID: 3, OwnerID: 1},
		uncontacted: []store.Contact{
			{ID: 11, Email: "a@x.test"},
			{ID: 12, Email: "b@x.test"},
		},
	}
}

func TestRegister_OK(t *testing.T) {
	h := newTestHandlers(&fakeStore{}, &fakePublisher{})
	rr := doJSON(t, h, http.MethodPost, "/auth/register",
		`{"email":"u@x.test","password":"longenough","name":"U"}`, false)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var resp outreach.TokenResp
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Token == "" {
		t.Fatal("empty token")
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	fs := &fakeStore{createUserErr: &pgconn.PgError{Code: "23505"}}
	h := newTestHandlers(fs, &fakePublisher{})
	rr := doJSON(t, h, http.MethodPost, "/auth/register",
		`{"email":"u@x.test","password":"longenough","name":"U"}`, false)

	if rr.Code != http.StatusConflict {
		t.Fatalf("want 409, got %d", rr.Code)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	hash, err := auth.HashPassword("rightpassword")
	if err != nil {
		t.Fatal(err)
	}
	fs := &fakeStore{user: store.User{ID: 1, Email: "u@x.test", PasswordHash: hash}}
	h := newTestHandlers(fs, &fakePublisher{})

	rr := doJSON(t, h, http.MethodPost, "/auth/login",
		`{"email":"u@x.test","password":"wrongpassword"}`, false)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("want 401, got %d", rr.Code)
	}
}

func TestRequireAuth_MissingToken(t *testing.T) {
	h := newTestHandlers(&fakeStore{}, &fakePublisher{})
	rr := doJSON(t, h, http.MethodGet, "/contacts", "", false)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("want 401, got %d", rr.Code)
	}
}

func TestUpdateSenderSettings_VerificationFailure(t *testing.T) {
	h := newTestHandlers(&fakeStore{}, &fakePublisher{})
	h.NewTransport = func(host string, port int, username, password string) transportVerifier {
		return fakeVerifier{err: errors.New("535 bad credentials")}
	}

	rr := doJSON(t, h, http.MethodPut, "/settings/sender",
		`{"smtp_host":"smtp.test","smtp_port":587,"send_address":"u@x.test","send_password":"pw"}`, true)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestImportContacts(t *testing.T) {
	fs := &fakeStore{}
	h := newTestHandlers(fs, &fakePublisher{})

	rr := doJSON(t, h, http.MethodPost, "/contacts/import",
		`{"contacts":[{"email":"a@x.test"},{"email":"b@x.test"}]}`, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var resp outreach.ImportContactsResp
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Imported != 2 || len(fs.upserts) != 2 {
		t.Fatalf("imported=%d upserts=%d", resp.Imported, len(fs.upserts))
	}
}

func TestSendCampaign_OK(t *testing.T) {
	fs := sendReadyStore()
	fp := &fakePublisher{}
	h := newTestHandlers(fs, fp)

	rr := doJSON(t, h, http.MethodPost, "/campaigns/9/send", "", true)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}

	var resp outreach.SendCampaignResp
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != store.CampaignSending || resp.Recipients != 2 {
		t.Fatalf("resp=%+v", resp)
	}
	if fs.beginRunTotal != 2 {
		t.Fatalf("BeginRun total=%d", fs.beginRunTotal)
	}

	if len(fp.payloads) != 1 {
		t.Fatalf("want 1 published job, got %d", len(fp.payloads))
	}
	var job outreach.RunJob
	if err := json.Unmarshal(fp.payloads[0], &job); err != nil {
		t.Fatal(err)
	}
	if job.CampaignID != 9 || job.OwnerID != 1 {
		t.Fatalf("job=%+v", job)
	}
	if len(job.ContactIDs) != 2 || job.ContactIDs[0] != 11 || job.ContactIDs[1] != 12 {
		t.Fatalf("batch not frozen into job: %+v", job.ContactIDs)
	}
}

func TestSendCampaign_Conflict(t *testing.T) {
	fs := sendReadyStore()
	fs.beginRunErr = store.ErrRunConflict
	h := newTestHandlers(fs, &fakePublisher{})

	rr := doJSON(t, h, http.MethodPost, "/campaigns/9/send", "", true)
	if rr.Code != http.StatusConflict {
		t.Fatalf("want 409, got %d", rr.Code)
	}
}

func TestSendCampaign_SenderNotVerified(t *testing.T) {
	fs := sendReadyStore()
	fs.user.SMTPVerified = false
	h := newTestHandlers(fs, &fakePublisher{})

	rr := doJSON(t, h, http.MethodPost, "/campaigns/9/send", "", true)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestSendCampaign_NoEligibleContacts(t *testing.T) {
	fs := sendReadyStore()
	fs.uncontacted = nil
	h := newTestHandlers(fs, &fakePublisher{})

	rr := doJSON(t, h, http.MethodPost, "/campaigns/9/send", "", true)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", rr.Code)
	}
}

func TestSendCampaign_UnknownCampaign(t *testing.T) {
	fs := sendReadyStore()
	fs.campaignErr = store.ErrNotFound
	h := newTestHandlers(fs, &fakePublisher{})

	rr := doJSON(t, h, http.MethodPost, "/campaigns/9/send", "", true)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("want 404, got %d", rr.Code)
	}
}

func TestSendCampaign_PublishFailureRevertsRun(t *testing.T) {
	fs := sendReadyStore()
	fp := &fakePublisher{err: errors.New("broker down")}
	h := newTestHandlers(fs, fp)

	rr := doJSON(t, h, http.MethodPost, "/campaigns/9/send", "", true)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("want 502, got %d", rr.Code)
	}
	if len(fs.finishes) != 1 || fs.finishes[0] != store.CampaignFailed {
		t.Fatalf("run not reverted: %v", fs.finishes)
	}
}

func TestTrackOpen_ServesPixel(t *testing.T) {
	h := newTestHandlers(&fakeStore{}, &fakePublisher{})

	for _, tid := range []string{"known-id", "unknown"} {
		rr := doJSON(t, h, http.MethodGet, "/track/open/"+tid, "", false)
		if rr.Code != http.StatusOK {
			t.Fatalf("tid=%s status=%d", tid, rr.Code)
		}
		if ct := rr.Header().Get("Content-Type"); ct != "image/gif" {
			t.Fatalf("tid=%s content-type=%s", tid, ct)
		}
		if !bytes.Equal(rr.Body.Bytes(), transparentGIF) {
			t.Fatalf("tid=%s pixel bytes differ", tid)
		}
	}
}

func TestTrackClick_RedirectsToOriginalURL(t *testing.T) {
	h := newTestHandlers(&fakeStore{}, &fakePublisher{})

	rr := doJSON(t, h, http.MethodGet, "/track/click/known-id/1", "", false)
	if rr.Code != http.StatusFound {
		t.Fatalf("want 302, got %d", rr.Code)
	}
	if loc := rr.Header().Get("Location"); loc != "https://dest.test/page" {
		t.Fatalf("location=%s", loc)
	}
}

func TestTrackClick_RepeatClicksEachCount(t *testing.T) {
	fs := &fakeStore{}
	h := newTestHandlers(fs, &fakePublisher{})

	const clicks = 3
	for i := 0; i < clicks; i++ {
		rr := doJSON(t, h, http.MethodGet, "/track/click/known-id/1", "", false)
		if rr.Code != http.StatusFound {
			t.Fatalf("click %d: want 302, got %d", i+1, rr.Code)
		}
		if loc := rr.Header().Get("Location"); loc != "https://dest.test/page" {
			t.Fatalf("click %d: location=%s", i+1, loc)
		}
	}
	if fs.clicks != clicks {
		t.Fatalf("want %d counter updates, got %d", clicks, fs.clicks)
	}
}

func TestTrackClick_UnknownFallsBackToBaseURL(t *testing.T) {
	h := newTestHandlers(&fakeStore{}, &fakePublisher{})

	for _, path := range []string{"/track/click/unknown/1", "/track/click/known-id/nope"} {
		rr := doJSON(t, h, http.MethodGet, path, "", false)
		if rr.Code != http.StatusFound {
			t.Fatalf("path=%s want 302, got %d", path, rr.Code)
		}
		if loc := rr.Header().Get("Location"); loc != "https://app.test" {
			t.Fatalf("path=%s location=%s", path, loc)
		}
	}
}

func TestDocsEndpoints(t *testing.T) {
	h := newTestHandlers(&fakeStore{}, &fakePublisher{})

	t.Run("html", func(t *testing.T) {
		rr := doJSON(t, h, http.MethodGet, "/docs", "", false)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "SwaggerUIBundle") {
			t.Fatalf("swagger bundle not rendered: %s", rr.Body.String())
		}
	})

	t.Run("openapi", func(t *testing.T) {
		rr := doJSON(t, h, http.MethodGet, "/docs/outreach-api/openapi.yaml", "", false)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "yaml") {
			t.Fatalf("unexpected content type: %s", ct)
		}
		if !strings.Contains(rr.Body.String(), "openapi: 3.0.3") {
			t.Fatalf("unexpected body: %s", rr.Body.String())
		}
	})
}
