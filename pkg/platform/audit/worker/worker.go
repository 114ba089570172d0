// Package worker relays audit events from the PostgreSQL outbox to Kafka.
// Rows are claimed with FOR UPDATE SKIP LOCKED so multiple relay instances
// never double-publish, and a row is only marked published after the broker
// acknowledges it (at-least-once delivery).
package worker

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Sink receives relayed outbox payloads. The Kafka publisher implements it.
type Sink interface {
	Publish(ctx context.Context, aggregateID string, payload []byte) error
}

const (
	defaultBatchSize    = 100
	defaultPollInterval = time.Second
)

// Worker polls the outbox and forwards unpublished events to the sink.
type Worker struct {
	db           *sql.DB
	sink         Sink
	logger       *slog.Logger
	batchSize    int
	pollInterval time.Duration
}

// Option configures a Worker.
type Option func(*Worker)

// WithBatchSize overrides how many rows are claimed per poll.
func WithBatchSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

// WithPollInterval overrides the idle poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

func New(db *sql.DB, sink Sink, logger *slog.Logger, opts ...Option) *Worker {
	w := &Worker{
		db:           db,
		sink:         sink,
		logger:       logger,
		batchSize:    defaultBatchSize,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls until the context is cancelled. Publish failures are logged and
// retried on the next poll; they never stop the relay.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n, err := w.RelayBatch(ctx); err != nil {
				w.logger.ErrorContext(ctx, "outbox relay failed", "error", err)
			} else if n > 0 {
				w.logger.DebugContext(ctx, "outbox batch relayed", "events", n)
			}
		}
	}
}

type outboxRow struct {
	id          uuid.UUID
	aggregateID string
	payload     []byte
}

// RelayBatch claims up to batchSize unpublished rows, publishes them, and
// marks the delivered ones. Returns how many were published.
func (w *Worker) RelayBatch(ctx context.Context) (int, error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin outbox tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, aggregate_id, payload
		FROM audit_outbox
		WHERE published_at IS NULL
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("claim outbox rows: %w", err)
	}

	var batch []outboxRow
	for rows.Next() {
		var row outboxRow
		if err := rows.Scan(&row.id, &row.aggregateID, &row.payload); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan outbox row: %w", err)
		}
		batch = append(batch, row)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("iterate outbox rows: %w", err)
	}
	rows.Close()

	published := 0
	for _, row := range batch {
		if err := w.sink.Publish(ctx, row.aggregateID, row.payload); err != nil {
			// Stop at the first failure to preserve per-aggregate ordering.
			w.logger.WarnContext(ctx, "audit publish failed, will retry",
				"event_id", row.id, "error", err)
			break
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE audit_outbox SET published_at = NOW() WHERE id = $1`, row.id); err != nil {
			return published, fmt.Errorf("mark outbox row published: %w", err)
		}
		published++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit outbox tx: %w", err)
	}
	return published, nil
}
