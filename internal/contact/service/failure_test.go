package service_test

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks ContactStore,StoreTx,AuditPublisher,ViewCache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"contactlink/internal/contact/models"
	"contactlink/internal/contact/service"
	"contactlink/internal/contact/service/mocks"
	dErrors "contactlink/pkg/domain-errors"
	"contactlink/pkg/platform/audit"
	"contactlink/pkg/platform/sentinel"
)

// hasAction matches an audit.Event by its action.
type hasAction audit.Action

func (m hasAction) Matches(x any) bool {
	event, ok := x.(audit.Event)
	return ok && event.Action == audit.Action(m)
}

func (m hasAction) String() string {
	return fmt.Sprintf("audit event with action %q", string(m))
}

type IdentifyFailureSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	store   *mocks.MockContactStore
	auditor *mocks.MockAuditPublisher
	cache   *mocks.MockViewCache
	service *service.Service
}

func TestIdentifyFailureSuite(t *testing.T) {
	suite.Run(t, new(IdentifyFailureSuite))
}

func (s *IdentifyFailureSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.store = mocks.NewMockContactStore(s.ctrl)
	s.auditor = mocks.NewMockAuditPublisher(s.ctrl)
	s.cache = mocks.NewMockViewCache(s.ctrl)

	tx := mocks.NewMockStoreTx(s.ctrl)
	tx.EXPECT().RunInTx(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, fn func(context.Context, service.ContactStore) error) error {
			return fn(ctx, s.store)
		}).AnyTimes()

	s.service = service.New(tx,
		service.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		service.WithAuditPublisher(s.auditor),
		service.WithViewCache(s.cache),
	)
}

func (s *IdentifyFailureSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *IdentifyFailureSuite) TestCandidateLookupFailure() {
	s.store.EXPECT().LockSubmission(gomock.Any(), "a@example.com", "").Return(nil)
	s.store.EXPECT().FindByEmailOrPhone(gomock.Any(), "a@example.com", "").
		Return(nil, errors.New("connection reset"))
	s.auditor.EXPECT().Emit(gomock.Any(), hasAction(audit.ActionIdentifyFailed)).Return(nil)

	_, err := s.service.Identify(context.Background(), "a@example.com", "")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}

func (s *IdentifyFailureSuite) TestStoreUnavailable() {
	s.store.EXPECT().LockSubmission(gomock.Any(), "a@example.com", "111").
		Return(fmt.Errorf("acquire lock: %w", sentinel.ErrUnavailable))
	s.auditor.EXPECT().Emit(gomock.Any(), hasAction(audit.ActionIdentifyFailed)).Return(nil)

	_, err := s.service.Identify(context.Background(), "a@example.com", "111")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
}

// TestForeignCandidateSurfacesCorruption verifies a lookup result that does
// not cover the submission is reported, not silently resolved.
func (s *IdentifyFailureSuite) TestForeignCandidateSurfacesCorruption() {
	foreign := &models.Contact{ID: 7, Email: "other@example.com", PhoneNumber: "999",
		LinkPrecedence: models.LinkPrecedencePrimary}

	s.store.EXPECT().LockSubmission(gomock.Any(), "", "111").Return(nil)
	s.store.EXPECT().FindByEmailOrPhone(gomock.Any(), "", "111").
		Return([]*models.Contact{foreign}, nil)
	s.auditor.EXPECT().Emit(gomock.Any(), hasAction(audit.ActionIdentifyFailed)).Return(nil)

	_, err := s.service.Identify(context.Background(), "", "111")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

// TestAuditEmitFailureAbortsMutation verifies that a mutation which cannot be
// audited does not commit.
func (s *IdentifyFailureSuite) TestAuditEmitFailureAbortsMutation() {
	s.store.EXPECT().LockSubmission(gomock.Any(), "a@example.com", "111").Return(nil)
	s.store.EXPECT().FindExact(gomock.Any(), "a@example.com", "111").
		Return(nil, sentinel.ErrNotFound)
	s.store.EXPECT().FindByEmailOrPhone(gomock.Any(), "a@example.com", "111").Return(nil, nil)
	s.store.EXPECT().Create(gomock.Any(), gomock.Any()).
		Return(&models.Contact{ID: 1, Email: "a@example.com", PhoneNumber: "111",
			LinkPrecedence: models.LinkPrecedencePrimary}, nil)
	s.auditor.EXPECT().Emit(gomock.Any(), hasAction(audit.ActionContactCreated)).
		Return(errors.New("outbox insert failed"))
	s.auditor.EXPECT().Emit(gomock.Any(), hasAction(audit.ActionIdentifyFailed)).Return(nil)

	_, err := s.service.Identify(context.Background(), "a@example.com", "111")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}

// TestCacheFailuresAreNonFatal verifies the view cache degrades to the store
// without surfacing errors to the caller.
func (s *IdentifyFailureSuite) TestCacheFailuresAreNonFatal() {
	primary := &models.Contact{
		ID:             1,
		Email:          "a@example.com",
		PhoneNumber:    "111",
		LinkPrecedence: models.LinkPrecedencePrimary,
		CreatedAt:      time.Now(),
	}

	s.store.EXPECT().LockSubmission(gomock.Any(), "a@example.com", "111").Return(nil)
	s.store.EXPECT().FindExact(gomock.Any(), "a@example.com", "111").Return(primary, nil)
	s.store.EXPECT().FindByEmailOrPhone(gomock.Any(), "a@example.com", "111").
		Return([]*models.Contact{primary}, nil)
	s.cache.EXPECT().Get(gomock.Any(), models.ContactID(1)).
		Return(nil, errors.New("redis down"))
	s.store.EXPECT().FindByLinkedID(gomock.Any(), models.ContactID(1)).Return(nil, nil)
	s.cache.EXPECT().Set(gomock.Any(), gomock.Any()).Return(errors.New("redis down"))

	view, err := s.service.Identify(context.Background(), "a@example.com", "111")
	s.Require().NoError(err)
	s.Equal(models.ContactID(1), view.PrimaryContactID)
	s.Equal([]string{"a@example.com"}, view.Emails)
}

// TestCacheHitSkipsStore verifies a cached view short-circuits assembly for
// read-only resolutions.
func (s *IdentifyFailureSuite) TestCacheHitSkipsStore() {
	primary := &models.Contact{
		ID:             1,
		Email:          "a@example.com",
		PhoneNumber:    "111",
		LinkPrecedence: models.LinkPrecedencePrimary,
		CreatedAt:      time.Now(),
	}
	cached := &models.ClusterView{
		PrimaryContactID: 1,
		Emails:           []string{"a@example.com"},
		PhoneNumbers:     []string{"111"},
	}

	s.store.EXPECT().LockSubmission(gomock.Any(), "a@example.com", "111").Return(nil)
	s.store.EXPECT().FindExact(gomock.Any(), "a@example.com", "111").Return(primary, nil)
	s.store.EXPECT().FindByEmailOrPhone(gomock.Any(), "a@example.com", "111").
		Return([]*models.Contact{primary}, nil)
	s.cache.EXPECT().Get(gomock.Any(), models.ContactID(1)).Return(cached, nil)

	view, err := s.service.Identify(context.Background(), "a@example.com", "111")
	s.Require().NoError(err)
	s.Equal(cached, view)
}
