package service

import (
	"context"
	"errors"
	"fmt"

	"contactlink/internal/contact/models"
	dErrors "contactlink/pkg/domain-errors"
	"contactlink/pkg/platform/audit"
	"contactlink/pkg/platform/sentinel"
	"contactlink/pkg/requestcontext"
)

// resolution is the matcher's verdict on a submission.
type resolution struct {
	outcome Outcome
	// primary is the canonical record of the resolved cluster.
	primary *models.Contact
	// mutated lists every primary whose cluster changed, for cache invalidation.
	mutated []models.ContactID
}

// resolve classifies a submission against the existing contact graph and
// applies the resulting mutation, if any. It runs inside the caller's
// transaction.
func (s *Service) resolve(ctx context.Context, store ContactStore, email, phoneNumber string) (*resolution, error) {
	// Racing first-time submissions for the same identity must serialize so
	// only one creates the primary; the loser re-reads and attaches.
	if err := store.LockSubmission(ctx, email, phoneNumber); err != nil {
		return nil, fmt.Errorf("lock submission: %w", err)
	}

	var exact *models.Contact
	if email != "" && phoneNumber != "" {
		found, err := store.FindExact(ctx, email, phoneNumber)
		switch {
		case err == nil:
			exact = found
		case errors.Is(err, sentinel.ErrNotFound):
			// No record carries this exact pair; fall through to candidates.
		default:
			return nil, fmt.Errorf("find exact match: %w", err)
		}
	}

	candidates, err := store.FindByEmailOrPhone(ctx, email, phoneNumber)
	if err != nil {
		return nil, fmt.Errorf("find candidates: %w", err)
	}

	// No existing identity shares either field: start a new cluster.
	if len(candidates) == 0 {
		return s.createPrimary(ctx, store, email, phoneNumber)
	}

	// The exact pair already exists: nothing to insert, resolve its cluster.
	if exact != nil {
		primary, err := s.resolvePrimary(ctx, store, exact)
		if err != nil {
			return nil, err
		}
		return &resolution{outcome: OutcomeAlreadyLinked, primary: primary}, nil
	}

	if email != "" && phoneNumber != "" {
		return s.resolveBridging(ctx, store, candidates, email, phoneNumber)
	}

	// A single supplied field cannot bridge clusters and, by matching a
	// candidate, is already fully covered by one: resolve without inserting.
	// A candidate the lookup surfaced without covering the submission means
	// the store is returning foreign rows; surface it, never repair.
	covered := candidates[0]
	if !covered.Covers(email, phoneNumber) {
		return nil, dErrors.Newf(dErrors.CodeInvariantViolation,
			"contact %d does not cover the submission that matched it", covered.ID)
	}
	primary, err := s.resolvePrimary(ctx, store, covered)
	if err != nil {
		return nil, err
	}
	return &resolution{outcome: OutcomeAlreadyLinked, primary: primary}, nil
}

// createPrimary starts a new cluster from a first-time submission.
func (s *Service) createPrimary(ctx context.Context, store ContactStore, email, phoneNumber string) (*resolution, error) {
	now := requestcontext.Now(ctx)
	created, err := store.Create(ctx, &models.Contact{
		Email:          email,
		PhoneNumber:    phoneNumber,
		LinkPrecedence: models.LinkPrecedencePrimary,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return nil, fmt.Errorf("create primary contact: %w", err)
	}
	if err := s.emit(ctx, audit.ActionContactCreated, created.ID, created.ID, email, phoneNumber); err != nil {
		return nil, err
	}
	return &resolution{outcome: OutcomeCreatedPrimary, primary: created}, nil
}

// resolveBridging handles a both-fields submission whose exact pair is new:
// the email side and the phone side each resolve to a primary independently,
// and the verdict depends on whether those primaries coincide.
func (s *Service) resolveBridging(ctx context.Context, store ContactStore, candidates []*models.Contact, email, phoneNumber string) (*resolution, error) {
	emailPrimary, err := s.sidePrimary(ctx, store, candidates, func(c *models.Contact) bool {
		return c.Email == email
	})
	if err != nil {
		return nil, err
	}
	phonePrimary, err := s.sidePrimary(ctx, store, candidates, func(c *models.Contact) bool {
		return c.PhoneNumber == phoneNumber
	})
	if err != nil {
		return nil, err
	}

	// The submission bridges two previously independent clusters.
	if emailPrimary != nil && phonePrimary != nil && emailPrimary.ID != phonePrimary.ID {
		survivor, demoted, err := s.merge(ctx, store, emailPrimary, phonePrimary)
		if err != nil {
			return nil, err
		}
		if err := s.emit(ctx, audit.ActionClustersMerged, survivor.ID, demoted.ID, email, phoneNumber); err != nil {
			return nil, err
		}
		return &resolution{
			outcome: OutcomeMergedClusters,
			primary: survivor,
			mutated: []models.ContactID{survivor.ID, demoted.ID},
		}, nil
	}

	// Both sides agree (or only one matched): a known identity carrying a
	// field combination not seen before. Record it as a secondary.
	primary := emailPrimary
	if primary == nil {
		primary = phonePrimary
	}
	now := requestcontext.Now(ctx)
	created, err := store.Create(ctx, &models.Contact{
		Email:          email,
		PhoneNumber:    phoneNumber,
		LinkPrecedence: models.LinkPrecedenceSecondary,
		LinkedID:       primary.ID,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return nil, fmt.Errorf("create secondary contact: %w", err)
	}
	if err := s.emit(ctx, audit.ActionSecondaryLinked, primary.ID, created.ID, email, phoneNumber); err != nil {
		return nil, err
	}
	return &resolution{
		outcome: OutcomeAttachedSecondary,
		primary: primary,
		mutated: []models.ContactID{primary.ID},
	}, nil
}

// sidePrimary resolves the primary reachable from the earliest candidate
// matching one side of the submission. Candidates arrive in ascending
// CreatedAt order, so the first match is the oldest.
func (s *Service) sidePrimary(ctx context.Context, store ContactStore, candidates []*models.Contact, matches func(*models.Contact) bool) (*models.Contact, error) {
	for _, c := range candidates {
		if matches(c) {
			return s.resolvePrimary(ctx, store, c)
		}
	}
	return nil, nil
}

// resolvePrimary follows a record to its cluster's primary. A secondary's
// link must resolve in exactly one hop to a primary; anything else is data
// corruption and is surfaced, never repaired.
func (s *Service) resolvePrimary(ctx context.Context, store ContactStore, record *models.Contact) (*models.Contact, error) {
	if record.IsPrimary() {
		return record, nil
	}
	if record.LinkedID == 0 {
		return nil, dErrors.Newf(dErrors.CodeInvariantViolation,
			"secondary contact %d has no link target", record.ID)
	}
	primary, err := store.FindByID(ctx, record.LinkedID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeInvariantViolation,
				"secondary contact %d links to missing contact %d", record.ID, record.LinkedID)
		}
		return nil, fmt.Errorf("find linked primary: %w", err)
	}
	if !primary.IsPrimary() {
		return nil, dErrors.Newf(dErrors.CodeInvariantViolation,
			"secondary contact %d links to non-primary contact %d", record.ID, primary.ID)
	}
	return primary, nil
}
