package budget

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"veil/internal/platform/localstore"
	"veil/pkg/platform/sentinel"
)

// State is the persisted privacy-budget ledger. Spend only ever grows;
// Reset replaces the state wholesale and is audited separately.
type State struct {
	Ceiling     float64   `json:"ceiling"`
	Spent       float64   `json:"spent"`
	Allocations int       `json:"allocations"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Remaining is the budget left under the ceiling, floored at zero.
func (s State) Remaining() float64 {
	if r := s.Ceiling - s.Spent; r > 0 {
		return r
	}
	return 0
}

// Store persists the budget ledger. Load returns sentinel.ErrNotFound when
// no ledger has been written yet.
type Store interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, state State) error
}

// InMemoryStore keeps the ledger in process memory, for tests and for
// ephemeral deployments that accept losing spend history on restart.
type InMemoryStore struct {
	mu    sync.Mutex
	state *State
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Load(_ context.Context) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return State{}, sentinel.ErrNotFound
	}
	return *s.state, nil
}

func (s *InMemoryStore) Save(_ context.Context, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = &state
	return nil
}

const ledgerKey = "budget/ledger"

// LocalStore persists the ledger in the encrypted on-device store so spend
// survives restarts. A restart must never refund budget.
type LocalStore struct {
	db *localstore.DB
}

func NewLocalStore(db *localstore.DB) *LocalStore {
	return &LocalStore{db: db}
}

func (s *LocalStore) Load(ctx context.Context) (State, error) {
	raw, err := s.db.Get(ctx, []byte(ledgerKey))
	if errors.Is(err, sentinel.ErrNotFound) {
		return State{}, sentinel.ErrNotFound
	}
	if err != nil {
		return State{}, err
	}
	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return State{}, err
	}
	return state, nil
}

func (s *LocalStore) Save(ctx context.Context, state State) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.db.Put(ctx, []byte(ledgerKey), raw)
}
