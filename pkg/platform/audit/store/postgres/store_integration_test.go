//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	contactstore "contactlink/internal/contact/store"
	audit "contactlink/pkg/platform/audit"
	auditpostgres "contactlink/pkg/platform/audit/store/postgres"
	txcontext "contactlink/pkg/platform/tx"
	"contactlink/pkg/testutil/containers"
)

func countOutbox(t *testing.T, pg *containers.PostgresContainer) int {
	t.Helper()
	var n int
	require.NoError(t, pg.DB.QueryRow(`SELECT COUNT(*) FROM audit_outbox`).Scan(&n))
	return n
}

// TestAppendJoinsCallerTransaction verifies the outbox write shares the
// transaction found in the context, so an audit event is durable exactly when
// the mutation that caused it commits.
func TestAppendJoinsCallerTransaction(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	pg := containers.NewPostgresContainer(t)
	require.NoError(t, contactstore.RunMigrations(ctx, pg.DB))
	store := auditpostgres.New(pg.DB)

	event := audit.Event{
		Timestamp:        time.Now().UTC(),
		Action:           audit.ActionContactCreated,
		PrimaryContactID: 1,
	}

	t.Run("rolled back transaction drops the event", func(t *testing.T) {
		tx, err := pg.DB.BeginTx(ctx, nil)
		require.NoError(t, err)

		require.NoError(t, store.Append(txcontext.WithTx(ctx, tx), event))
		require.NoError(t, tx.Rollback())

		require.Zero(t, countOutbox(t, pg))
	})

	t.Run("committed transaction persists the event", func(t *testing.T) {
		tx, err := pg.DB.BeginTx(ctx, nil)
		require.NoError(t, err)

		require.NoError(t, store.Append(txcontext.WithTx(ctx, tx), event))
		require.NoError(t, tx.Commit())

		require.Equal(t, 1, countOutbox(t, pg))
	})

	t.Run("no transaction in context writes directly", func(t *testing.T) {
		require.NoError(t, store.Append(ctx, event))
		require.Equal(t, 2, countOutbox(t, pg))
	})
}
