package budget

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"veil/internal/audit"
	"veil/internal/platform/localstore"
	"veil/pkg/domain"
	dErrors "veil/pkg/domain-errors"
	"veil/pkg/platform/sentinel"
)

type failingStore struct {
	Store
	failSave bool
}

func (f *failingStore) Save(ctx context.Context, state State) error {
	if f.failSave {
		return errors.New("disk full")
	}
	return f.Store.Save(ctx, state)
}

type ManagerSuite struct {
	suite.Suite
	ctx     context.Context
	store   *InMemoryStore
	auditor *audit.InMemoryStore
	manager *Manager
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = NewInMemoryStore()
	s.auditor = audit.NewInMemoryStore()

	var err error
	s.manager, err = NewManager(s.ctx, s.store, 1.0, 0.01,
		WithAuditPublisher(audit.NewPublisher(s.auditor)),
	)
	s.Require().NoError(err)
}

func (s *ManagerSuite) TestAllocateDebitsLedger() {
	s.Require().NoError(s.manager.Allocate(s.ctx, 0.05))

	st := s.manager.Status()
	s.InDelta(0.05, st.Spent, 1e-9)
	s.InDelta(0.95, st.Remaining, 1e-9)
	s.Equal(1, st.Allocations)
	s.False(st.Exhausted)
}

func (s *ManagerSuite) TestRefusesAllocationBeyondRemaining() {
	s.Require().NoError(s.manager.Allocate(s.ctx, 0.8))

	err := s.manager.Allocate(s.ctx, 0.3)
	s.Require().Error(err)
	s.Equal(dErrors.CodeBudgetExhausted, dErrors.CodeOf(err))

	st := s.manager.Status()
	s.InDelta(0.2, st.Remaining, 1e-9, "a refused allocation spends nothing")
	s.Equal(1, st.Allocations)

	entries, err := s.auditor.ListRecent(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().NotEmpty(entries)
	s.Equal(audit.ActionAllocationRefused, entries[0].Action)
}

func (s *ManagerSuite) TestSpendNeverExceedsCeiling() {
	var spent float64
	for i := 0; i < 100; i++ {
		if err := s.manager.Allocate(s.ctx, 0.03); err != nil {
			s.Equal(dErrors.CodeBudgetExhausted, dErrors.CodeOf(err))
			break
		}
		spent += 0.03
	}
	s.LessOrEqual(s.manager.Status().Spent, 1.0+1e-9)
	s.InDelta(spent, s.manager.Status().Spent, 1e-9)
}

func (s *ManagerSuite) TestRejectsBelowFloor() {
	err := s.manager.Allocate(s.ctx, 0.001)
	s.Require().Error(err)
	s.Equal(dErrors.CodeInvalidInput, dErrors.CodeOf(err))
	s.Zero(s.manager.Status().Spent)
}

func (s *ManagerSuite) TestPersistFailureLeavesLedgerUnchanged() {
	failing := &failingStore{Store: NewInMemoryStore()}
	mgr, err := NewManager(s.ctx, failing, 1.0, 0.01)
	s.Require().NoError(err)

	failing.failSave = true
	err = mgr.Allocate(s.ctx, 0.1)
	s.Require().Error(err)
	s.Equal(dErrors.CodeUnavailable, dErrors.CodeOf(err))
	s.Zero(mgr.Status().Spent)

	failing.failSave = false
	s.Require().NoError(mgr.Allocate(s.ctx, 0.1))
	s.InDelta(0.1, mgr.Status().Spent, 1e-9)
}

func (s *ManagerSuite) TestLedgerSurvivesRestart() {
	s.Require().NoError(s.manager.Allocate(s.ctx, 0.4))

	revived, err := NewManager(s.ctx, s.store, 1.0, 0.01)
	s.Require().NoError(err)
	s.InDelta(0.4, revived.Status().Spent, 1e-9)
	s.Equal(1, revived.Status().Allocations)
}

func (s *ManagerSuite) TestPersistedCeilingWinsOverConfig() {
	s.Require().NoError(s.manager.Allocate(s.ctx, 0.9))

	revived, err := NewManager(s.ctx, s.store, 5.0, 0.01)
	s.Require().NoError(err)
	s.InDelta(1.0, revived.Status().Ceiling, 1e-9)
	s.InDelta(0.1, revived.Status().Remaining, 1e-9)
}

func (s *ManagerSuite) TestExhaustedWhenRemainingBelowFloor() {
	s.False(s.manager.Exhausted())
	s.Require().NoError(s.manager.Allocate(s.ctx, 0.995))
	s.True(s.manager.Exhausted())
}

func (s *ManagerSuite) TestResetZeroesLedgerAndAudits() {
	s.Require().NoError(s.manager.Allocate(s.ctx, 0.7))
	s.Require().NoError(s.manager.Reset(s.ctx, 1.0))

	st := s.manager.Status()
	s.Zero(st.Spent)
	s.InDelta(1.0, st.Remaining, 1e-9)

	entries, err := s.auditor.ListRecent(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().NotEmpty(entries)
	s.Equal(audit.ActionBudgetReset, entries[0].Action)
	s.Equal("0.7", entries[0].Detail["prior_spent"])
}

func (s *ManagerSuite) TestRecommendedEpsilonByCategory() {
	s.InDelta(0.02, s.manager.RecommendedEpsilon(domain.SensitivityLow), 1e-9)
	s.InDelta(0.05, s.manager.RecommendedEpsilon(domain.SensitivityMedium), 1e-9)
	s.InDelta(0.02, s.manager.RecommendedEpsilon("unheard-of"), 1e-9,
		"unknown categories fall back to the most conservative allocation")
}

func TestStateRemainingFloorsAtZero(t *testing.T) {
	require.Zero(t, State{Ceiling: 1, Spent: 1.5}.Remaining())
}

func TestLocalStoreRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	db, err := localstore.Open(localstore.InMemoryConfig(key))
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	store := NewLocalStore(db)

	_, err = store.Load(ctx)
	require.ErrorIs(t, err, sentinel.ErrNotFound)

	want := State{Ceiling: 1.0, Spent: 0.25, Allocations: 3, UpdatedAt: time.Now().UTC()}
	require.NoError(t, store.Save(ctx, want))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	require.InDelta(t, want.Spent, got.Spent, 1e-9)
	require.Equal(t, want.Allocations, got.Allocations)
}
