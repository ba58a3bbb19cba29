package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Store is the persistence surface for audit entries. Append-only; entries
// are never updated or deleted by the pipeline.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	// ListRecent returns up to limit entries, newest first.
	ListRecent(ctx context.Context, limit int) ([]Entry, error)
}

// Publisher captures structured audit entries. Emission is synchronous so
// that fail-closed paths (blocks, shutdown) have their entry persisted
// before the caller proceeds; fire-and-forget paths go through the Worker.
type Publisher struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger mirrors every entry to the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(p *Publisher) { p.now = now }
}

// NewPublisher constructs a publisher over the given store.
func NewPublisher(store Store, opts ...Option) *Publisher {
	p := &Publisher{store: store, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit persists an entry, filling ID and timestamp when absent.
func (p *Publisher) Emit(ctx context.Context, entry Entry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = p.now()
	}
	if p.logger != nil {
		p.logger.InfoContext(ctx, entry.Action,
			"log_type", "audit",
			"category", string(entry.Category),
			"entry_id", entry.ID,
		)
	}
	return p.store.Append(ctx, entry)
}

// Recent returns up to limit entries, newest first.
func (p *Publisher) Recent(ctx context.Context, limit int) ([]Entry, error) {
	return p.store.ListRecent(ctx, limit)
}
