// Package postgres implements the audit store using the transactional outbox
// pattern. Events are written to the outbox table inside the caller's
// transaction and relayed to Kafka by the outbox worker, so an audit event is
// durable exactly when the contact mutation that caused it is.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	audit "contactlink/pkg/platform/audit"
	txcontext "contactlink/pkg/platform/tx"
)

// Store implements audit.Store over the audit_outbox table.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL audit store that writes to the outbox.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// outboxPayload is the JSON structure relayed to Kafka. Field names match
// audit.Event for deserialization by consumers.
type outboxPayload struct {
	ID               string `json:"ID"`
	Category         string `json:"Category"`
	Timestamp        string `json:"Timestamp"`
	Action           string `json:"Action"`
	PrimaryContactID int64  `json:"PrimaryContactID,omitempty"`
	ContactID        int64  `json:"ContactID,omitempty"`
	SubmissionHash   string `json:"SubmissionHash,omitempty"`
	Reason           string `json:"Reason,omitempty"`
	RequestID        string `json:"RequestID,omitempty"`
	ClientIP         string `json:"ClientIP,omitempty"`
	UserAgent        string `json:"UserAgent,omitempty"`
}

// Append writes an audit event to the outbox table for Kafka publishing.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	eventID := uuid.New()

	payload := outboxPayload{
		ID:               eventID.String(),
		Category:         string(event.Action.Category()),
		Timestamp:        event.Timestamp.Format(time.RFC3339Nano),
		Action:           string(event.Action),
		PrimaryContactID: event.PrimaryContactID,
		ContactID:        event.ContactID,
		SubmissionHash:   event.SubmissionHash,
		Reason:           event.Reason,
		RequestID:        event.RequestID,
		ClientIP:         event.ClientIP,
		UserAgent:        event.UserAgent,
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	// The aggregate is the cluster so consumers can partition by primary.
	aggregateID := eventID.String()
	if event.PrimaryContactID != 0 {
		aggregateID = fmt.Sprintf("contact-%d", event.PrimaryContactID)
	}

	query := `
		INSERT INTO audit_outbox (id, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		eventID, aggregateID, string(event.Action), payloadBytes, event.Timestamp)
	if err != nil {
		return fmt.Errorf("append audit event to outbox: %w", err)
	}
	return nil
}
