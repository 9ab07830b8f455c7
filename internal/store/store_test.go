package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestBeginRun_CAS(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta(`SET status='sending', total_recipients=$2, sent_count=0`)).
		WithArgs(int64(9), 3).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.BeginRun(ctx, 9, 3); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestBeginRun_ConflictWhenAlreadySending(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()

	// A campaign already in 'sending' matches no row; the caller loses.
	mock.ExpectExec(regexp.QuoteMeta(`SET status='sending', total_recipients=$2, sent_count=0`)).
		WithArgs(int64(9), 3).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.BeginRun(ctx, 9, 3); !errors.Is(err, ErrRunConflict) {
		t.Fatalf("want ErrRunConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestMarkOpened_FirstOpenWins(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()

	// Metadata columns are guarded: a click recorded before the pixel
	// loaded must keep its user agent and address.
	mock.ExpectExec(regexp.QuoteMeta(`user_agent=CASE WHEN user_agent='' THEN $2 ELSE user_agent END`)).
		WithArgs("tid-1", "Agent/1.0", "10.0.0.1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.MarkOpened(ctx, "tid-1", "Agent/1.0", "10.0.0.1"); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestMarkOpened_SecondOpenIsNoop(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta(`SET opened=true, opened_at=NOW()`)).
		WithArgs("tid-1", "Agent/2.0", "10.0.0.2").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS`)).
		WithArgs("tid-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	if err := s.MarkOpened(ctx, "tid-1", "Agent/2.0", "10.0.0.2"); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestMarkOpened_UnknownTrackingID(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta(`SET opened=true, opened_at=NOW()`)).
		WithArgs("nope", "", "").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS`)).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	if err := s.MarkOpened(ctx, "nope", "", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestRecordClick_ReturnsOriginalURL(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT original_url FROM tracked_links`)).
		WithArgs("tid-1", 2).
		WillReturnRows(sqlmock.NewRows([]string{"original_url"}).AddRow("https://dest.test/page"))
	mock.ExpectExec(regexp.QuoteMeta(`clicks_count=clicks_count+1`)).
		WithArgs("tid-1", "Agent/1.0", "10.0.0.1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	url, err := s.RecordClick(ctx, "tid-1", 2, "Agent/1.0", "10.0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	if url != "https://dest.test/page" {
		t.Fatalf("url=%q", url)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestRecordClick_RepeatClicksAccumulate(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()

	// Every click on the same (tracking_id, index) bumps the counter once
	// and resolves to the same destination.
	const clicks = 3
	for i := 0; i < clicks; i++ {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT original_url FROM tracked_links`)).
			WithArgs("tid-1", 2).
			WillReturnRows(sqlmock.NewRows([]string{"original_url"}).AddRow("https://dest.test/page"))
		mock.ExpectExec(regexp.QuoteMeta(`clicks_count=clicks_count+1`)).
			WithArgs("tid-1", "Agent/1.0", "10.0.0.1").
			WillReturnResult(sqlmock.NewResult(0, 1))
	}

	for i := 0; i < clicks; i++ {
		url, err := s.RecordClick(ctx, "tid-1", 2, "Agent/1.0", "10.0.0.1")
		if err != nil {
			t.Fatalf("click %d: %v", i+1, err)
		}
		if url != "https://dest.test/page" {
			t.Fatalf("click %d: url=%q", i+1, url)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestRecordClick_UnknownLink(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT original_url FROM tracked_links`)).
		WithArgs("tid-1", 99).
		WillReturnRows(sqlmock.NewRows([]string{"original_url"}))

	if _, err := s.RecordClick(ctx, "tid-1", 99, "", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestUpsertContact(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta(`ON CONFLICT (owner_id, email) DO UPDATE`)).
		WithArgs(int64(1), "jane@acme.test", "Jane", "Acme", "CTO", "", "", []byte(`{"tier":"gold"}`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	id, err := s.UpsertContact(ctx, Contact{
		OwnerID:      1,
		Email:        "jane@acme.test",
		Name:         "Jane",
		Company:      "Acme",
		Position:     "CTO",
		CustomFields: map[string]string{"tier": "gold"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if id != 42 {
		t.Fatalf("want id=42, got %d", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestInsertTrackedLinks_WithTx(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO tracked_links`)).
		WithArgs("tid-1", 1, "https://a.test").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO tracked_links`)).
		WithArgs("tid-1", 2, "https://b.test").
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	err := s.InsertTrackedLinks(ctx, []TrackedLink{
		{TrackingID: "tid-1", LinkIndex: 1, OriginalURL: "https://a.test"},
		{TrackingID: "tid-1", LinkIndex: 2, OriginalURL: "https://b.test"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestMarkContacted(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()
	at := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE contacts SET contacted=true`)).
		WithArgs(int64(42), at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.MarkContacted(ctx, 42, at); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
