package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

type Contact struct {
	ID              int64
	OwnerID         int64
	Email           string
	Name            string
	Company         string
	Position        string
	LinkedinURL     string
	Notes           string
	CustomFields    map[string]string
	Contacted       bool
	LastContactedAt sql.NullTime
	CreatedAt       time.Time
}

const contactCols = `id, owner_id, email, name, company, position, linkedin_url, notes,
	custom_fields, contacted, last_contacted_at, created_at`

// UpsertContact inserts or, on an existing (owner, email) pair, overwrites
// the contact's fields. The contacted flag and timestamps survive re-import.
func (s *Store) UpsertContact(ctx context.Context, c Contact) (int64, error) {
	fields, err := marshalCustomFields(c.CustomFields)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.DB.QueryRowContext(ctx, `
		INSERT INTO contacts (owner_id, email, name, company, position, linkedin_url, notes, custom_fields)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (owner_id, email) DO UPDATE
		   SET name=EXCLUDED.name, company=EXCLUDED.company, position=EXCLUDED.position,
		       linkedin_url=EXCLUDED.linkedin_url, notes=EXCLUDED.notes,
		       custom_fields=EXCLUDED.custom_fields
		RETURNING id`,
		c.OwnerID, c.Email, c.Name, c.Company, c.Position, c.LinkedinURL, c.Notes, fields).Scan(&id)
	return id, err
}

func (s *Store) GetContact(ctx context.Context, ownerID, id int64) (Contact, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT `+contactCols+`
		FROM contacts WHERE id=$1 AND owner_id=$2`, id, ownerID)
	return scanContact(row)
}

func (s *Store) ListContacts(ctx context.Context, ownerID int64, limit, offset int) ([]Contact, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+contactCols+`
		FROM contacts WHERE owner_id=$1
		ORDER BY id
		LIMIT $2 OFFSET $3`, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectContacts(rows)
}

func (s *Store) UpdateContact(ctx context.Context, c Contact) error {
	fields, err := marshalCustomFields(c.CustomFields)
	if err != nil {
		return err
	}
	res, err := s.DB.ExecContext(ctx, `
		UPDATE contacts
		   SET name=$3, company=$4, position=$5, linkedin_url=$6, notes=$7, custom_fields=$8
		 WHERE id=$1 AND owner_id=$2`,
		c.ID, c.OwnerID, c.Name, c.Company, c.Position, c.LinkedinURL, c.Notes, fields)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

// ListUncontacted returns up to limit un-contacted contacts in insertion
// order, which is the batch order the runner is bound to.
func (s *Store) ListUncontacted(ctx context.Context, ownerID int64, limit int) ([]Contact, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+contactCols+`
		FROM contacts
		WHERE owner_id=$1 AND contacted=false
		ORDER BY id
		LIMIT $2`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectContacts(rows)
}

func (s *Store) GetContactsByIDs(ctx context.Context, ownerID int64, ids []int64) ([]Contact, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+contactCols+`
		FROM contacts
		WHERE owner_id=$1 AND id = ANY($2)
		ORDER BY id`, ownerID, int64Slice(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectContacts(rows)
}

func (s *Store) MarkContacted(ctx context.Context, contactID int64, at time.Time) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE contacts SET contacted=true, last_contacted_at=$2 WHERE id=$1`, contactID, at)
	return err
}

func marshalCustomFields(m map[string]string) ([]byte, error) {
	if m == nil {
		m = map[string]string{}
	}
	return json.Marshal(m)
}

func scanContact(row *sql.Row) (Contact, error) {
	var c Contact
	var fields []byte
	err := row.Scan(&c.ID, &c.OwnerID, &c.Email, &c.Name, &c.Company, &c.Position,
		&c.LinkedinURL, &c.Notes, &fields, &c.Contacted, &c.LastContactedAt, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Contact{}, ErrNotFound
	}
	if err != nil {
		return Contact{}, err
	}
	if err := json.Unmarshal(fields, &c.CustomFields); err != nil {
		return Contact{}, err
	}
	return c, nil
}

func collectContacts(rows *sql.Rows) ([]Contact, error) {
	var out []Contact
	for rows.Next() {
		var c Contact
		var fields []byte
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Email, &c.Name, &c.Company, &c.Position,
			&c.LinkedinURL, &c.Notes, &fields, &c.Contacted, &c.LastContactedAt, &c.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(fields, &c.CustomFields); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
