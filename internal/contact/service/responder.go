package service

import (
	"context"
	"fmt"

	"contactlink/internal/contact/models"
)

// buildView assembles the canonical cluster view for a resolved primary:
// the primary's fields first, then each secondary's in ascending creation
// order. Empty fields are skipped. A secondary's value is only suppressed
// when it repeats the primary's, not another secondary's.
func (s *Service) buildView(ctx context.Context, store ContactStore, res *resolution) (*models.ClusterView, error) {
	// Mutations stale any cached view of the involved clusters.
	if s.cache != nil && len(res.mutated) > 0 {
		if err := s.cache.Invalidate(ctx, res.mutated...); err != nil {
			s.logger.WarnContext(ctx, "view cache invalidation failed", "error", err)
		}
	}

	primary := res.primary
	if s.cache != nil && res.outcome == OutcomeAlreadyLinked {
		cached, err := s.cache.Get(ctx, primary.ID)
		if err == nil && cached != nil {
			if s.metrics != nil {
				s.metrics.IncrementCacheHit()
			}
			return cached, nil
		}
		if s.metrics != nil {
			s.metrics.IncrementCacheMiss()
		}
	}

	secondaries, err := store.FindByLinkedID(ctx, primary.ID)
	if err != nil {
		return nil, fmt.Errorf("find secondaries of contact %d: %w", primary.ID, err)
	}

	view := &models.ClusterView{
		PrimaryContactID:    primary.ID,
		Emails:              make([]string, 0, len(secondaries)+1),
		PhoneNumbers:        make([]string, 0, len(secondaries)+1),
		SecondaryContactIDs: make([]models.ContactID, 0, len(secondaries)),
	}
	if primary.Email != "" {
		view.Emails = append(view.Emails, primary.Email)
	}
	if primary.PhoneNumber != "" {
		view.PhoneNumbers = append(view.PhoneNumbers, primary.PhoneNumber)
	}
	for _, sec := range secondaries {
		if sec.Email != "" && sec.Email != primary.Email {
			view.Emails = append(view.Emails, sec.Email)
		}
		if sec.PhoneNumber != "" && sec.PhoneNumber != primary.PhoneNumber {
			view.PhoneNumbers = append(view.PhoneNumbers, sec.PhoneNumber)
		}
		view.SecondaryContactIDs = append(view.SecondaryContactIDs, sec.ID)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, view); err != nil {
			s.logger.WarnContext(ctx, "view cache set failed", "error", err)
		}
	}
	return view, nil
}
