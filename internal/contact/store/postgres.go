package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/lib/pq"

	"contactlink/internal/contact/models"
	"contactlink/pkg/platform/sentinel"
)

// queryer abstracts *sql.DB and *sql.Tx so the same store code serves both
// direct reads and transactional units of work.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Postgres persists contacts in PostgreSQL.
type Postgres struct {
	q queryer
}

// NewPostgres constructs a store over a connection pool.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{q: db}
}

// NewPostgresTx constructs a store bound to an open transaction. Used by the
// RunInTx adapter so every store call inside a unit of work shares it.
func NewPostgresTx(tx *sql.Tx) *Postgres {
	return &Postgres{q: tx}
}

const contactColumns = `id, email, phone_number, link_precedence, linked_id, created_at, updated_at, deleted_at`

func (s *Postgres) FindExact(ctx context.Context, email, phoneNumber string) (*models.Contact, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+contactColumns+`
		FROM contacts
		WHERE email = $1 AND phone_number = $2 AND deleted_at IS NULL
		ORDER BY created_at, id
		LIMIT 1
	`, email, phoneNumber)
	contact, err := scanContact(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("exact contact match: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find exact contact: %w", err)
	}
	return contact, nil
}

func (s *Postgres) FindByEmailOrPhone(ctx context.Context, email, phoneNumber string) ([]*models.Contact, error) {
	// A blank argument disables its side of the match rather than matching
	// rows whose field is absent.
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+contactColumns+`
		FROM contacts
		WHERE deleted_at IS NULL
		  AND (($1 <> '' AND email = $1) OR ($2 <> '' AND phone_number = $2))
		ORDER BY created_at, id
	`, email, phoneNumber)
	if err != nil {
		return nil, fmt.Errorf("find contacts by email or phone: %w", err)
	}
	defer rows.Close()
	return collectContacts(rows)
}

func (s *Postgres) FindByID(ctx context.Context, id models.ContactID) (*models.Contact, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+contactColumns+`
		FROM contacts
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	contact, err := scanContact(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("contact %d: %w", id, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find contact by id: %w", err)
	}
	return contact, nil
}

func (s *Postgres) FindByLinkedID(ctx context.Context, id models.ContactID) ([]*models.Contact, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+contactColumns+`
		FROM contacts
		WHERE linked_id = $1 AND link_precedence = 'secondary' AND deleted_at IS NULL
		ORDER BY created_at, id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("find contacts by linked id: %w", err)
	}
	defer rows.Close()
	return collectContacts(rows)
}

func (s *Postgres) Create(ctx context.Context, contact *models.Contact) (*models.Contact, error) {
	created := *contact
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO contacts (email, phone_number, link_precedence, linked_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`,
		nullable(contact.Email),
		nullable(contact.PhoneNumber),
		string(contact.LinkPrecedence),
		nullableID(contact.LinkedID),
		contact.CreatedAt,
		contact.UpdatedAt,
	).Scan(&created.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return nil, fmt.Errorf("create contact: %w", sentinel.ErrConflict)
		}
		return nil, fmt.Errorf("create contact: %w", err)
	}
	return &created, nil
}

func (s *Postgres) Demote(ctx context.Context, id, linkedID models.ContactID, now time.Time) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE contacts
		SET link_precedence = 'secondary', linked_id = $2, updated_at = $3
		WHERE id = $1 AND deleted_at IS NULL
	`, id, linkedID, now)
	if err != nil {
		return fmt.Errorf("demote contact %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("demote contact %d: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("contact %d: %w", id, sentinel.ErrNotFound)
	}
	return nil
}

func (s *Postgres) RelinkAll(ctx context.Context, oldLinkedID, newLinkedID models.ContactID, now time.Time) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE contacts
		SET linked_id = $2, updated_at = $3
		WHERE linked_id = $1 AND deleted_at IS NULL
	`, oldLinkedID, newLinkedID, now)
	if err != nil {
		return fmt.Errorf("relink contacts from %d to %d: %w", oldLinkedID, newLinkedID, err)
	}
	return nil
}

// LockSubmission takes transaction-scoped advisory locks on the submitted
// identity keys so two first-time submissions for the same identity
// serialize instead of both creating a primary. Keys are locked in sorted
// order to rule out lock-order deadlocks between mirrored submissions.
func (s *Postgres) LockSubmission(ctx context.Context, email, phoneNumber string) error {
	var keys []string
	if email != "" {
		keys = append(keys, "email:"+email)
	}
	if phoneNumber != "" {
		keys = append(keys, "phone:"+phoneNumber)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if _, err := s.q.ExecContext(ctx,
			`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
			return fmt.Errorf("lock submission key: %w", err)
		}
	}
	return nil
}

// SoftDelete marks a record deleted so it vanishes from matching and views.
func (s *Postgres) SoftDelete(ctx context.Context, id models.ContactID, now time.Time) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE contacts
		SET deleted_at = $2, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL
	`, id, now)
	if err != nil {
		return fmt.Errorf("soft delete contact %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("soft delete contact %d: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("contact %d: %w", id, sentinel.ErrNotFound)
	}
	return nil
}

func collectContacts(rows *sql.Rows) ([]*models.Contact, error) {
	var out []*models.Contact
	for rows.Next() {
		contact, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		out = append(out, contact)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contacts: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContact(row rowScanner) (*models.Contact, error) {
	var (
		c           models.Contact
		email       sql.NullString
		phoneNumber sql.NullString
		precedence  string
		linkedID    sql.NullInt64
		deletedAt   sql.NullTime
	)
	if err := row.Scan(&c.ID, &email, &phoneNumber, &precedence, &linkedID, &c.CreatedAt, &c.UpdatedAt, &deletedAt); err != nil {
		return nil, err
	}
	c.Email = email.String
	c.PhoneNumber = phoneNumber.String
	c.LinkPrecedence = models.LinkPrecedence(precedence)
	if linkedID.Valid {
		c.LinkedID = models.ContactID(linkedID.Int64)
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		c.DeletedAt = &t
	}
	return &c, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullableID(id models.ContactID) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(id), Valid: id != 0}
}
