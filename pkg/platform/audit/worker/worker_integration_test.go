//go:build integration

package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	contactstore "contactlink/internal/contact/store"
	audit "contactlink/pkg/platform/audit"
	auditkafka "contactlink/pkg/platform/audit/kafka"
	auditpostgres "contactlink/pkg/platform/audit/store/postgres"
	"contactlink/pkg/platform/audit/worker"
	"contactlink/pkg/testutil/containers"
)

// TestOutboxRelayEndToEnd drives an audit event from the outbox table through
// the relay into a Kafka-compatible broker and reads it back.
func TestOutboxRelayEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	pg := containers.NewPostgresContainer(t)
	require.NoError(t, contactstore.RunMigrations(ctx, pg.DB))
	broker := containers.NewRedpandaContainer(t)

	store := auditpostgres.New(pg.DB)
	publisher := audit.NewPublisher(store)
	event := audit.Event{
		Timestamp:        time.Now().UTC(),
		Action:           audit.ActionClustersMerged,
		PrimaryContactID: 1,
		ContactID:        2,
		SubmissionHash:   audit.HashSubmission("a@example.com", "111"),
		RequestID:        "req-123",
	}
	require.NoError(t, publisher.Emit(ctx, event))

	const topic = "contactlink.audit.test"
	sink, err := auditkafka.New(ctx, []string{broker.Broker}, topic)
	require.NoError(t, err)
	defer sink.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	relay := worker.New(pg.DB, sink, logger, worker.WithBatchSize(10))

	published, err := relay.RelayBatch(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, published)

	// A second pass finds nothing left to publish.
	published, err = relay.RelayBatch(ctx)
	require.NoError(t, err)
	require.Zero(t, published)

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(broker.Broker),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	fetchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	fetches := consumer.PollFetches(fetchCtx)
	require.NoError(t, fetches.Err())

	records := fetches.Records()
	require.Len(t, records, 1)
	require.Equal(t, "contact-1", string(records[0].Key))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(records[0].Value, &payload))
	require.Equal(t, string(audit.ActionClustersMerged), payload["Action"])
	require.Equal(t, string(audit.CategoryCompliance), payload["Category"])
	require.Equal(t, "req-123", payload["RequestID"])
}

// failingSink rejects every publish until allowed.
type failingSink struct {
	allow     bool
	published [][]byte
}

func (f *failingSink) Publish(_ context.Context, _ string, payload []byte) error {
	if !f.allow {
		return errors.New("broker unreachable")
	}
	f.published = append(f.published, payload)
	return nil
}

// TestOutboxRelayRetriesFailedPublishes verifies rows stay unpublished across
// sink failures and are delivered once the sink recovers.
func TestOutboxRelayRetriesFailedPublishes(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	pg := containers.NewPostgresContainer(t)
	require.NoError(t, contactstore.RunMigrations(ctx, pg.DB))

	publisher := audit.NewPublisher(auditpostgres.New(pg.DB))
	for i := 0; i < 3; i++ {
		require.NoError(t, publisher.Emit(ctx, audit.Event{
			Timestamp:        time.Now().UTC().Add(time.Duration(i) * time.Millisecond),
			Action:           audit.ActionContactCreated,
			PrimaryContactID: int64(i + 1),
		}))
	}

	sink := &failingSink{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	relay := worker.New(pg.DB, sink, logger)

	published, err := relay.RelayBatch(ctx)
	require.NoError(t, err)
	require.Zero(t, published)

	var unpublished int
	require.NoError(t, pg.DB.QueryRow(
		`SELECT COUNT(*) FROM audit_outbox WHERE published_at IS NULL`).Scan(&unpublished))
	require.Equal(t, 3, unpublished)

	sink.allow = true
	published, err = relay.RelayBatch(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, published)
	require.Len(t, sink.published, 3)

	require.NoError(t, pg.DB.QueryRow(
		`SELECT COUNT(*) FROM audit_outbox WHERE published_at IS NULL`).Scan(&unpublished))
	require.Zero(t, unpublished)
}
