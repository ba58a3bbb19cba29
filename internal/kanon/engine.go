// Package kanon enforces k-anonymity: events buffer in buckets keyed by
// their generalized identifiers and release only once the bucket's
// estimated distinct-contributor count reaches k. The engine tracks only a
// probabilistic filter per bucket, never raw contributor identifiers,
// trading exactness for unlinkability; the estimate rounds down on any
// uncertainty so ambiguity always favors non-release.
package kanon

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"veil/internal/audit"
	"veil/internal/platform/metrics"
	"veil/pkg/domain"
)

// Outcome reports what Assign did with an event.
type Outcome string

const (
	// OutcomeBuffered: the bucket is still below k; the event waits.
	OutcomeBuffered Outcome = "buffered"
	// OutcomeReleased: the bucket reached k and flushed its whole buffer.
	OutcomeReleased Outcome = "released"
)

// AssignResult carries the released batch when a bucket flushes.
type AssignResult struct {
	Outcome     Outcome
	Released    []PendingEvent
	Cardinality int
}

// Stats is a point-in-time view for the incident detector and admin
// surface.
type Stats struct {
	ActiveBuckets  int
	PendingEvents  int
	TotalFlushes   int
	TotalExpiries  int
	TotalDiscarded int
}

// Engine is the bucket arena. A single mutex serializes assignment and
// sweeps; per-event work under the lock is bounded (hash lookup, filter
// update, slice append), keeping the critical section short.
type Engine struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	k       int
	timeout time.Duration

	totalFlushes   int
	totalExpiries  int
	totalDiscarded int

	logger  *slog.Logger
	metrics *metrics.Metrics
	audit   *audit.Publisher
	now     func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithAuditPublisher(p *audit.Publisher) Option {
	return func(e *Engine) { e.audit = p }
}

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine constructs a bucket arena with the given k threshold and
// bucket timeout.
func NewEngine(k int, timeout time.Duration, opts ...Option) *Engine {
	e := &Engine{
		buckets: make(map[string]*bucket),
		k:       k,
		timeout: timeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Assign routes a generalized event into its bucket, re-estimates the
// bucket's distinct-contributor count, and flushes the buffer the instant
// the estimate reaches k. The contributor key feeds the filter and is
// dropped; it is never retained.
func (e *Engine) Assign(ctx context.Context, ev domain.RawEvent, qi domain.QuasiIdentifiers) (*AssignResult, error) {
	key := BucketKey(qi)

	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := e.buckets[key]
	if !ok {
		b = newBucket(key, qi, e.now())
		e.buckets[key] = b
		if e.metrics != nil {
			e.metrics.ActiveBuckets.Set(float64(len(e.buckets)))
		}
	}

	b.observe(PendingEvent{Event: ev, QuasiIdentifiers: qi}, ev.Attributes.ContributorKey)

	if b.cardinality < e.k {
		return &AssignResult{Outcome: OutcomeBuffered, Cardinality: b.cardinality}, nil
	}

	// Threshold reached on this exact event: flush immediately.
	released := b.pending
	cardinality := b.cardinality
	b.pending = nil
	b.state = StateFlushed
	delete(e.buckets, key)
	e.totalFlushes++

	if e.metrics != nil {
		e.metrics.BucketFlushes.Inc()
		e.metrics.ActiveBuckets.Set(float64(len(e.buckets)))
	}
	if e.logger != nil {
		e.logger.DebugContext(ctx, "bucket flushed",
			"bucket", key, "cardinality", cardinality, "events", len(released))
	}
	return &AssignResult{Outcome: OutcomeReleased, Released: released, Cardinality: cardinality}, nil
}

// Sweep expires every bucket older than the timeout that is still below k,
// destroying its buffered events. This is deliberate data loss, audited,
// and runs off the event hot path. Returns the number of buckets expired.
func (e *Engine) Sweep(ctx context.Context) int {
	deadline := e.now().Add(-e.timeout)

	e.mu.Lock()
	var expired []*bucket
	for key, b := range e.buckets {
		if b.createdAt.Before(deadline) {
			b.state = StateExpired
			expired = append(expired, b)
			delete(e.buckets, key)
		}
	}
	e.totalExpiries += len(expired)
	for _, b := range expired {
		e.totalDiscarded += len(b.pending)
	}
	active := len(e.buckets)
	e.mu.Unlock()

	for _, b := range expired {
		if e.metrics != nil {
			e.metrics.BucketExpiries.Inc()
		}
		if e.audit != nil {
			_ = e.audit.Emit(ctx, audit.Entry{
				Category: audit.CategoryExpiry,
				Action:   audit.ActionBucketExpired,
				Detail: map[string]string{
					"bucket":           b.key,
					"discarded_events": itoa(len(b.pending)),
					"cardinality":      itoa(b.cardinality),
				},
			})
		}
		// Destroy the buffer; expired events are never released.
		b.pending = nil
	}
	if e.metrics != nil {
		e.metrics.ActiveBuckets.Set(float64(active))
	}
	return len(expired)
}

// PurgeAll destroys every buffered event; used by emergency shutdown.
// Returns the number of events destroyed.
func (e *Engine) PurgeAll() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	var destroyed int
	for key, b := range e.buckets {
		destroyed += len(b.pending)
		b.pending = nil
		delete(e.buckets, key)
	}
	e.totalDiscarded += destroyed
	if e.metrics != nil {
		e.metrics.ActiveBuckets.Set(0)
	}
	return destroyed
}

// PendingPayloads serializes up to limit buffered events for the incident
// detector's residual-PHI scan. Serialized copies only; buffers are not
// disturbed.
func (e *Engine) PendingPayloads(limit int) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var payloads []string
	for _, b := range e.buckets {
		for _, pe := range b.pending {
			if limit > 0 && len(payloads) >= limit {
				return payloads
			}
			payloads = append(payloads, serializeFields(pe.Event.Fields))
		}
	}
	return payloads
}

func itoa(n int) string { return strconv.Itoa(n) }

func serializeFields(fields map[string]domain.FieldValue) string {
	raw, err := json.Marshal(fields)
	if err != nil {
		return ""
	}
	return string(raw)
}

// Snapshot returns current counters.
func (e *Engine) Snapshot() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	pending := 0
	for _, b := range e.buckets {
		pending += len(b.pending)
	}
	return Stats{
		ActiveBuckets:  len(e.buckets),
		PendingEvents:  pending,
		TotalFlushes:   e.totalFlushes,
		TotalExpiries:  e.totalExpiries,
		TotalDiscarded: e.totalDiscarded,
	}
}
