package service

import (
	"context"
	"fmt"

	"contactlink/internal/contact/models"
	dErrors "contactlink/pkg/domain-errors"
	"contactlink/pkg/requestcontext"
)

// merge unifies two clusters: the primary with the earlier CreatedAt (lower
// ID on an exact tie) survives, the other is demoted to its secondary, and
// every dependent of the demoted record is repointed at the survivor so no
// multi-level chain can form. Runs inside the caller's transaction; a partial
// merge must never become visible.
//
// Returns (survivor, demoted). Idempotent under retry: a record that was
// already demoted toward the same survivor makes the whole call a no-op.
func (s *Service) merge(ctx context.Context, store ContactStore, a, b *models.Contact) (*models.Contact, *models.Contact, error) {
	older, newer := a, b
	if newer.OlderThan(older) {
		older, newer = newer, older
	}

	if !newer.IsPrimary() {
		if newer.LinkedID == older.ID {
			// A retried merge: the demotion already happened.
			return older, newer, nil
		}
		return nil, nil, dErrors.Newf(dErrors.CodeInvariantViolation,
			"contact %d is secondary to %d, cannot merge toward %d", newer.ID, newer.LinkedID, older.ID)
	}

	now := requestcontext.Now(ctx)
	if err := store.Demote(ctx, newer.ID, older.ID, now); err != nil {
		return nil, nil, fmt.Errorf("demote contact %d: %w", newer.ID, err)
	}
	if err := store.RelinkAll(ctx, newer.ID, older.ID, now); err != nil {
		return nil, nil, fmt.Errorf("relink dependents of contact %d: %w", newer.ID, err)
	}

	if s.metrics != nil {
		s.metrics.IncrementMerges()
	}
	s.logger.InfoContext(ctx, "clusters merged",
		"request_id", requestcontext.RequestID(ctx),
		"surviving_primary", older.ID,
		"demoted_primary", newer.ID,
	)
	return older, newer, nil
}
