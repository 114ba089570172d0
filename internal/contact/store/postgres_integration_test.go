//go:build integration

package store_test

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"contactlink/internal/contact/models"
	"contactlink/internal/contact/service"
	"contactlink/internal/contact/store"
	"contactlink/pkg/platform/sentinel"
	"contactlink/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.Postgres
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.Require().NoError(store.RunMigrations(context.Background(), s.postgres.DB))
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	s.Require().NoError(s.postgres.Truncate(ctx, "audit_outbox", "contacts"))
}

func (s *PostgresStoreSuite) create(email, phone string, precedence models.LinkPrecedence, linkedID models.ContactID, offset time.Duration) *models.Contact {
	s.T().Helper()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Add(offset)
	created, err := s.store.Create(context.Background(), &models.Contact{
		Email:          email,
		PhoneNumber:    phone,
		LinkPrecedence: precedence,
		LinkedID:       linkedID,
		CreatedAt:      base,
		UpdatedAt:      base,
	})
	s.Require().NoError(err)
	return created
}

func (s *PostgresStoreSuite) TestRoundTrip() {
	ctx := context.Background()

	s.Run("persists and reads back all fields", func() {
		created := s.create("a@example.com", "111", models.LinkPrecedencePrimary, 0, 0)

		found, err := s.store.FindByID(ctx, created.ID)
		s.Require().NoError(err)
		s.Equal("a@example.com", found.Email)
		s.Equal("111", found.PhoneNumber)
		s.Equal(models.LinkPrecedencePrimary, found.LinkPrecedence)
		s.Zero(found.LinkedID)
		s.Nil(found.DeletedAt)
	})

	s.Run("absent fields round-trip as empty strings", func() {
		created := s.create("b@example.com", "", models.LinkPrecedencePrimary, 0, time.Second)

		found, err := s.store.FindByID(ctx, created.ID)
		s.Require().NoError(err)
		s.Equal("b@example.com", found.Email)
		s.Empty(found.PhoneNumber)
	})

	s.Run("returns ErrNotFound for a missing ID", func() {
		_, err := s.store.FindByID(ctx, 9999)
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *PostgresStoreSuite) TestMatchQueries() {
	ctx := context.Background()
	primary := s.create("a@example.com", "111", models.LinkPrecedencePrimary, 0, 0)
	secondary := s.create("b@example.com", "111", models.LinkPrecedenceSecondary, primary.ID, time.Second)
	s.create("c@example.com", "333", models.LinkPrecedencePrimary, 0, 2*time.Second)

	s.Run("exact match requires both fields equal", func() {
		found, err := s.store.FindExact(ctx, "a@example.com", "111")
		s.Require().NoError(err)
		s.Equal(primary.ID, found.ID)

		_, err = s.store.FindExact(ctx, "a@example.com", "333")
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("either-field match returns creation order", func() {
		found, err := s.store.FindByEmailOrPhone(ctx, "c@example.com", "111")
		s.Require().NoError(err)
		s.Require().Len(found, 3)
		s.Equal(primary.ID, found[0].ID)
		s.Equal(secondary.ID, found[1].ID)
	})

	s.Run("blank argument does not match NULL columns", func() {
		noPhone := s.create("d@example.com", "", models.LinkPrecedencePrimary, 0, 3*time.Second)

		found, err := s.store.FindByEmailOrPhone(ctx, "", "")
		s.Require().NoError(err)
		s.Empty(found)

		found, err = s.store.FindByEmailOrPhone(ctx, "d@example.com", "")
		s.Require().NoError(err)
		s.Require().Len(found, 1)
		s.Equal(noPhone.ID, found[0].ID)
	})

	s.Run("secondaries list in creation order", func() {
		later := s.create("e@example.com", "111", models.LinkPrecedenceSecondary, primary.ID, 4*time.Second)

		secondaries, err := s.store.FindByLinkedID(ctx, primary.ID)
		s.Require().NoError(err)
		s.Require().Len(secondaries, 2)
		s.Equal(secondary.ID, secondaries[0].ID)
		s.Equal(later.ID, secondaries[1].ID)
	})
}

func (s *PostgresStoreSuite) TestDemoteAndRelink() {
	ctx := context.Background()
	older := s.create("a@example.com", "111", models.LinkPrecedencePrimary, 0, 0)
	newer := s.create("b@example.com", "222", models.LinkPrecedencePrimary, 0, time.Second)
	dependent := s.create("c@example.com", "222", models.LinkPrecedenceSecondary, newer.ID, 2*time.Second)

	now := time.Now().UTC()
	s.Require().NoError(s.store.Demote(ctx, newer.ID, older.ID, now))
	s.Require().NoError(s.store.RelinkAll(ctx, newer.ID, older.ID, now))

	demoted, err := s.store.FindByID(ctx, newer.ID)
	s.Require().NoError(err)
	s.Equal(models.LinkPrecedenceSecondary, demoted.LinkPrecedence)
	s.Equal(older.ID, demoted.LinkedID)

	relinked, err := s.store.FindByID(ctx, dependent.ID)
	s.Require().NoError(err)
	s.Equal(older.ID, relinked.LinkedID)

	s.Run("demoting a missing record returns ErrNotFound", func() {
		err := s.store.Demote(ctx, 9999, older.ID, now)
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *PostgresStoreSuite) TestSoftDeleteHidesRecord() {
	ctx := context.Background()
	created := s.create("a@example.com", "111", models.LinkPrecedencePrimary, 0, 0)

	s.Require().NoError(s.store.SoftDelete(ctx, created.ID, time.Now().UTC()))

	_, err := s.store.FindByID(ctx, created.ID)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	found, err := s.store.FindByEmailOrPhone(ctx, "a@example.com", "111")
	s.Require().NoError(err)
	s.Empty(found)
}

// sqlStoreTx mirrors the server's transaction adapter so the full resolution
// path, advisory locks included, can run against a real database.
type sqlStoreTx struct {
	db *sql.DB
}

func (t *sqlStoreTx) RunInTx(ctx context.Context, fn func(txCtx context.Context, s service.ContactStore) error) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	if err := fn(ctx, store.NewPostgresTx(tx)); err != nil {
		return err
	}
	return tx.Commit()
}

// TestConcurrentFirstSubmissions verifies that racing first-time submissions
// for the same identity serialize on advisory locks and produce exactly one
// primary contact.
func (s *PostgresStoreSuite) TestConcurrentFirstSubmissions() {
	svc := service.New(&sqlStoreTx{db: s.postgres.DB},
		service.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	const goroutines = 20
	var wg sync.WaitGroup
	views := make([]*models.ClusterView, goroutines)
	errs := make([]error, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			views[i], errs[i] = svc.Identify(context.Background(), "race@example.com", "555-0100")
		}(i)
	}
	wg.Wait()

	for i := 0; i < goroutines; i++ {
		s.Require().NoError(errs[i])
		s.Equal(views[0].PrimaryContactID, views[i].PrimaryContactID)
		s.Empty(views[i].SecondaryContactIDs)
	}

	var count int
	err := s.postgres.DB.QueryRow(`SELECT COUNT(*) FROM contacts`).Scan(&count)
	s.Require().NoError(err)
	s.Equal(1, count)
}

// TestConcurrentBridging verifies racing bridging submissions leave a single
// primary with every other record linked directly to it.
func (s *PostgresStoreSuite) TestConcurrentBridging() {
	svc := service.New(&sqlStoreTx{db: s.postgres.DB},
		service.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	ctx := context.Background()
	_, err := svc.Identify(ctx, "a@example.com", "111")
	s.Require().NoError(err)
	_, err = svc.Identify(ctx, "b@example.com", "222")
	s.Require().NoError(err)

	const goroutines = 10
	var wg sync.WaitGroup
	errs := make([]error, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Identify(ctx, "a@example.com", "222")
		}(i)
	}
	wg.Wait()

	for i := 0; i < goroutines; i++ {
		s.Require().NoError(errs[i])
	}

	var primaries int
	s.Require().NoError(s.postgres.DB.QueryRow(
		`SELECT COUNT(*) FROM contacts WHERE link_precedence = 'primary'`).Scan(&primaries))
	s.Equal(1, primaries)

	var chained int
	s.Require().NoError(s.postgres.DB.QueryRow(`
		SELECT COUNT(*)
		FROM contacts c
		JOIN contacts p ON p.id = c.linked_id
		WHERE p.link_precedence <> 'primary'
	`).Scan(&chained))
	s.Zero(chained, "no secondary may link to another secondary")
}
