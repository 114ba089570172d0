// Package service implements contact identity resolution: deciding whether a
// submission creates a new identity cluster, attaches to an existing one, or
// bridges two clusters into one.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	contactmetrics "contactlink/internal/contact/metrics"
	"contactlink/internal/contact/models"
	dErrors "contactlink/pkg/domain-errors"
	"contactlink/pkg/platform/audit"
	"contactlink/pkg/platform/sentinel"
	"contactlink/pkg/requestcontext"
)

// ContactStore is the persistence contract the engine resolves against.
// Implementations must exclude soft-deleted records from every query and
// return sentinel.ErrNotFound for absent records.
type ContactStore interface {
	// FindExact returns the record whose email AND phone number both equal
	// the submitted values. Only meaningful when both are supplied.
	FindExact(ctx context.Context, email, phoneNumber string) (*models.Contact, error)

	// FindByEmailOrPhone returns all records matching either supplied field,
	// ordered by CreatedAt ascending. A field is only compared when supplied.
	FindByEmailOrPhone(ctx context.Context, email, phoneNumber string) ([]*models.Contact, error)

	FindByID(ctx context.Context, id models.ContactID) (*models.Contact, error)

	// FindByLinkedID returns all secondaries of the given primary, ordered by
	// CreatedAt ascending.
	FindByLinkedID(ctx context.Context, id models.ContactID) ([]*models.Contact, error)

	// Create inserts a record and returns it with its store-assigned ID.
	Create(ctx context.Context, contact *models.Contact) (*models.Contact, error)

	// Demote turns a primary into a secondary of linkedID.
	Demote(ctx context.Context, id, linkedID models.ContactID, now time.Time) error

	// RelinkAll repoints every record linked to oldLinkedID at newLinkedID
	// as a single bulk operation.
	RelinkAll(ctx context.Context, oldLinkedID, newLinkedID models.ContactID, now time.Time) error

	// LockSubmission serializes submissions racing on the same identity keys
	// for the duration of the enclosing transaction.
	LockSubmission(ctx context.Context, email, phoneNumber string) error
}

// StoreTx provides a transactional boundary for a resolution unit of work.
// Implementations may wrap a database transaction or, in-memory, a coarse
// lock. fn receives the transaction-scoped context so collaborators that
// piggyback on the transaction (the audit outbox) can find it.
type StoreTx interface {
	RunInTx(ctx context.Context, fn func(txCtx context.Context, store ContactStore) error) error
}

// AuditPublisher records identity mutations. Emission failures abort the
// transaction: an unauditable mutation must not commit.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// ViewCache caches built cluster views keyed by primary contact ID.
// Implementations must tolerate being nil-checked away entirely.
type ViewCache interface {
	Get(ctx context.Context, id models.ContactID) (*models.ClusterView, error)
	Set(ctx context.Context, view *models.ClusterView) error
	Invalidate(ctx context.Context, ids ...models.ContactID) error
}

// Outcome classifies how a submission was resolved.
type Outcome string

const (
	OutcomeCreatedPrimary    Outcome = "created_primary"
	OutcomeAlreadyLinked     Outcome = "already_linked"
	OutcomeAttachedSecondary Outcome = "attached_secondary"
	OutcomeMergedClusters    Outcome = "merged_clusters"
)

var tracer = otel.Tracer("contactlink/internal/contact")

// Service orchestrates matching, merging, and view assembly for submissions.
type Service struct {
	tx      StoreTx
	logger  *slog.Logger
	metrics *contactmetrics.Metrics
	auditor AuditPublisher
	cache   ViewCache
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics sets the prometheus metrics collection.
func WithMetrics(m *contactmetrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithAuditPublisher sets the audit sink for identity mutations.
func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) { s.auditor = p }
}

// WithViewCache sets the optional cluster-view cache.
func WithViewCache(c ViewCache) Option {
	return func(s *Service) { s.cache = c }
}

// New constructs the resolution service around a transactional store.
func New(tx StoreTx, opts ...Option) *Service {
	s := &Service{tx: tx}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Identify resolves a submission to its identity cluster, mutating the
// contact graph as needed, and returns the cluster's canonical view.
// At least one of email, phoneNumber must be non-empty.
func (s *Service) Identify(ctx context.Context, email, phoneNumber string) (*models.ClusterView, error) {
	email = strings.TrimSpace(email)
	phoneNumber = strings.TrimSpace(phoneNumber)
	if email == "" && phoneNumber == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "at least one of email or phoneNumber is required")
	}

	ctx, span := tracer.Start(ctx, "contact.Identify")
	defer span.End()

	start := time.Now()
	var (
		view    *models.ClusterView
		outcome Outcome
	)
	err := s.tx.RunInTx(ctx, func(txCtx context.Context, store ContactStore) error {
		res, err := s.resolve(txCtx, store, email, phoneNumber)
		if err != nil {
			return err
		}
		outcome = res.outcome
		view, err = s.buildView(txCtx, store, res)
		return err
	})
	if err != nil {
		s.recordFailure(ctx, email, phoneNumber, err)
		return nil, translateStoreErr(err)
	}

	span.SetAttributes(
		attribute.String("contact.outcome", string(outcome)),
		attribute.Int64("contact.primary_id", int64(view.PrimaryContactID)),
	)
	if s.metrics != nil {
		s.metrics.ObserveIdentify(start)
		s.metrics.IncrementIdentify(string(outcome))
	}
	s.logger.InfoContext(ctx, "submission resolved",
		"request_id", requestcontext.RequestID(ctx),
		"outcome", outcome,
		"primary_contact_id", view.PrimaryContactID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return view, nil
}

// recordFailure emits a best-effort operational audit event for a failed
// submission. It never masks the original error.
func (s *Service) recordFailure(ctx context.Context, email, phoneNumber string, cause error) {
	if s.metrics != nil {
		s.metrics.IncrementIdentifyError()
	}
	if s.auditor == nil {
		return
	}
	event := audit.Event{
		Action:         audit.ActionIdentifyFailed,
		SubmissionHash: audit.HashSubmission(email, phoneNumber),
		Reason:         string(dErrors.CodeOf(cause)),
		RequestID:      requestcontext.RequestID(ctx),
		ClientIP:       requestcontext.ClientIP(ctx),
		UserAgent:      requestcontext.UserAgent(ctx),
	}
	if err := s.auditor.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failure audit emit failed", "error", err)
	}
}

// emit records a compliance audit event for a graph mutation, failing the
// enclosing transaction on error.
func (s *Service) emit(ctx context.Context, action audit.Action, primaryID, contactID models.ContactID, email, phoneNumber string) error {
	if s.auditor == nil {
		return nil
	}
	event := audit.Event{
		Timestamp:        requestcontext.Now(ctx),
		Action:           action,
		PrimaryContactID: int64(primaryID),
		ContactID:        int64(contactID),
		SubmissionHash:   audit.HashSubmission(email, phoneNumber),
		RequestID:        requestcontext.RequestID(ctx),
		ClientIP:         requestcontext.ClientIP(ctx),
		UserAgent:        requestcontext.UserAgent(ctx),
	}
	if err := s.auditor.Emit(ctx, event); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to audit identity mutation")
	}
	return nil
}

// translateStoreErr maps sentinel and uncoded errors to the domain taxonomy.
// Coded errors pass through untouched.
func translateStoreErr(err error) error {
	var domainErr *dErrors.Error
	if errors.As(err, &domainErr) {
		return err
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeNotFound, "contact record not found")
	}
	if errors.Is(err, sentinel.ErrUnavailable) {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "contact store unavailable")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "contact store failure")
}
