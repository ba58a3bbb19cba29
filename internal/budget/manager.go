// Package budget enforces the lifetime differential-privacy budget. Every
// released event debits epsilon from a single ledger; once the ceiling is
// reached no further allocation succeeds, ever, absent an explicit audited
// reset. Sequential composition makes the total privacy loss the sum of
// debits, so the ledger persists before any allocation commits.
package budget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"veil/internal/audit"
	"veil/internal/platform/metrics"
	"veil/pkg/domain"
	dErrors "veil/pkg/domain-errors"
	"veil/pkg/platform/sentinel"
)

// Status is a point-in-time view of the ledger for the admin surface.
type Status struct {
	Ceiling     float64   `json:"ceiling"`
	Spent       float64   `json:"spent"`
	Remaining   float64   `json:"remaining"`
	Allocations int       `json:"allocations"`
	Exhausted   bool      `json:"exhausted"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Manager owns the budget ledger. Allocations are serialized; the persisted
// copy is written before the in-memory debit commits so a crash can only
// lose an allocation the caller never acted on, never refund one it did.
type Manager struct {
	mu    sync.Mutex
	state State

	floor    float64
	category map[domain.SensitivityCategory]float64

	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	audit   *audit.Publisher
	now     func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mx }
}

func WithAuditPublisher(p *audit.Publisher) Option {
	return func(m *Manager) { m.audit = p }
}

// WithCategoryEpsilon sets the per-sensitivity default allocations.
func WithCategoryEpsilon(table map[domain.SensitivityCategory]float64) Option {
	return func(m *Manager) { m.category = table }
}

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager loads the persisted ledger, or starts a fresh one at the given
// ceiling when none exists. A persisted ceiling wins over the configured
// one so operators cannot silently raise the budget by editing config.
func NewManager(ctx context.Context, store Store, ceiling, floor float64, opts ...Option) (*Manager, error) {
	m := &Manager{
		floor: floor,
		category: map[domain.SensitivityCategory]float64{
			domain.SensitivityLow:    0.02,
			domain.SensitivityMedium: 0.05,
		},
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	state, err := store.Load(ctx)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		state = State{Ceiling: ceiling, UpdatedAt: m.now()}
		if err := store.Save(ctx, state); err != nil {
			return nil, fmt.Errorf("budget: persist initial ledger: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("budget: load ledger: %w", err)
	}
	m.state = state

	if m.metrics != nil {
		m.metrics.EpsilonRemaining.Set(state.Remaining())
	}
	if m.logger != nil {
		m.logger.Info("budget ledger loaded",
			"ceiling", state.Ceiling, "spent", state.Spent, "remaining", state.Remaining())
	}
	return m, nil
}

// RecommendedEpsilon returns the default allocation for an event's
// sensitivity category.
func (m *Manager) RecommendedEpsilon(cat domain.SensitivityCategory) float64 {
	if eps, ok := m.category[cat]; ok {
		return eps
	}
	// Unknown categories get the most conservative known allocation.
	min := 0.0
	for _, eps := range m.category {
		if min == 0 || eps < min {
			min = eps
		}
	}
	if min == 0 {
		min = m.floor
	}
	return min
}

// Allocate debits epsilon from the ledger. The updated ledger persists
// before the debit commits in memory; on persistence failure the ledger is
// unchanged and the allocation is refused.
func (m *Manager) Allocate(ctx context.Context, epsilon float64) error {
	if epsilon < m.floor {
		return dErrors.Newf(dErrors.CodeInvalidInput,
			"epsilon %g below minimum allocation %g", epsilon, m.floor)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if epsilon > m.state.Remaining() {
		if m.audit != nil {
			_ = m.audit.Emit(ctx, audit.Entry{
				Category: audit.CategoryAllocation,
				Action:   audit.ActionAllocationRefused,
				Detail: map[string]string{
					"requested": fmt.Sprintf("%g", epsilon),
					"remaining": fmt.Sprintf("%g", m.state.Remaining()),
				},
			})
		}
		return dErrors.Newf(dErrors.CodeBudgetExhausted,
			"requested %g exceeds remaining budget %g", epsilon, m.state.Remaining())
	}

	next := m.state
	next.Spent += epsilon
	next.Allocations++
	next.UpdatedAt = m.now()

	if err := m.store.Save(ctx, next); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "persist budget ledger")
	}
	m.state = next

	if m.metrics != nil {
		m.metrics.EpsilonSpent.Add(epsilon)
		m.metrics.EpsilonRemaining.Set(next.Remaining())
	}
	if m.audit != nil {
		_ = m.audit.Emit(ctx, audit.Entry{
			Category: audit.CategoryAllocation,
			Action:   audit.ActionEpsilonAllocated,
			Detail: map[string]string{
				"epsilon":   fmt.Sprintf("%g", epsilon),
				"remaining": fmt.Sprintf("%g", next.Remaining()),
			},
		})
	}
	return nil
}

// Exhausted reports whether no further allocation at or above the floor can
// succeed.
func (m *Manager) Exhausted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Remaining() < m.floor
}

// Remaining is the budget left under the ceiling.
func (m *Manager) Remaining() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Remaining()
}

// Ceiling is the lifetime budget ceiling.
func (m *Manager) Ceiling() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Ceiling
}

// Status returns a snapshot of the ledger.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Ceiling:     m.state.Ceiling,
		Spent:       m.state.Spent,
		Remaining:   m.state.Remaining(),
		Allocations: m.state.Allocations,
		Exhausted:   m.state.Remaining() < m.floor,
		UpdatedAt:   m.state.UpdatedAt,
	}
}

// Reset zeroes the ledger at a new ceiling. Operator action only; every
// reset leaves an audit entry recording the discarded spend.
func (m *Manager) Reset(ctx context.Context, ceiling float64) error {
	if ceiling <= 0 {
		return dErrors.Newf(dErrors.CodeInvalidInput, "ceiling must be positive, got %g", ceiling)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	prior := m.state
	next := State{Ceiling: ceiling, UpdatedAt: m.now()}
	if err := m.store.Save(ctx, next); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "persist budget ledger")
	}
	m.state = next

	if m.metrics != nil {
		m.metrics.EpsilonRemaining.Set(next.Remaining())
	}
	if m.audit != nil {
		_ = m.audit.Emit(ctx, audit.Entry{
			Category: audit.CategoryAllocation,
			Action:   audit.ActionBudgetReset,
			Detail: map[string]string{
				"prior_spent":   fmt.Sprintf("%g", prior.Spent),
				"prior_ceiling": fmt.Sprintf("%g", prior.Ceiling),
				"new_ceiling":   fmt.Sprintf("%g", ceiling),
			},
		})
	}
	if m.logger != nil {
		m.logger.WarnContext(ctx, "budget ledger reset",
			"prior_spent", prior.Spent, "new_ceiling", ceiling)
	}
	return nil
}
