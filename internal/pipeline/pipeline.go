// Package pipeline assembles the anonymization stages into the single
// ordered path an event may take off the device: generalize, bucket, budget,
// noise, guarantee check, deliver. Stages never reorder and never bypass;
// an event that cannot finish the path is destroyed, not parked.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"veil/internal/audit"
	"veil/internal/budget"
	"veil/internal/generalize"
	"veil/internal/guarantee"
	"veil/internal/kanon"
	"veil/internal/noise"
	"veil/internal/platform/config"
	"veil/internal/platform/metrics"
	"veil/internal/transport"
	"veil/pkg/domain"
	dErrors "veil/pkg/domain-errors"
	"veil/pkg/platform/sentinel"
)

// State is the pipeline lifecycle position. Transitions only move forward:
// initializing, active, disabled, closed.
type State string

const (
	StateInitializing State = "initializing"
	StateActive       State = "active"
	StateDisabled     State = "disabled"
	StateClosed       State = "closed"
)

// Drop causes, recorded as metric labels.
const (
	dropCauseRejected  = "rejected"
	dropCauseDisabled  = "pipeline_disabled"
	dropCauseOverflow  = "queue_overflow"
	dropCauseLatency   = "latency_ceiling"
	dropCauseBudget    = "budget_exhausted"
	dropCauseNoise     = "noise_failure"
	dropCauseBlocked   = "guarantee_blocked"
	dropCauseTransport = "transport_failure"
)

// DeliveryReporter receives per-delivery health signals. The incident
// detector implements it; the pipeline never inspects transport health
// itself.
type DeliveryReporter interface {
	ReportTransportFailure(ctx context.Context)
	ReportTransportSuccess(ctx context.Context)
}

// Pipeline owns the submission queue, the worker that drains it, and the
// stage collaborators. Construct with New, arm with Start, feed with
// Submit.
type Pipeline struct {
	cfg config.Config

	mu    sync.Mutex
	state State

	queue  chan domain.RawEvent
	wg     sync.WaitGroup
	cancel context.CancelFunc

	engine  *kanon.Engine
	budget  *budget.Manager
	noiser  *noise.Generator
	checker *guarantee.Checker
	sink    transport.Sink

	reporter   DeliveryReporter
	logger     *slog.Logger
	metrics    *metrics.Metrics
	audit      *audit.Publisher
	asyncAudit chan<- audit.Entry
	tracer     trace.Tracer
	now        func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func WithAuditPublisher(pub *audit.Publisher) Option {
	return func(p *Pipeline) { p.audit = pub }
}

// WithAsyncAudit routes operational audit entries through a channel drained
// by an audit.Worker, keeping emission off the submission hot path.
// Fail-closed entries (blocks, shutdown, lifecycle) still emit
// synchronously.
func WithAsyncAudit(inbox chan<- audit.Entry) Option {
	return func(p *Pipeline) { p.asyncAudit = inbox }
}

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New assembles a pipeline in the initializing state.
func New(cfg config.Config, engine *kanon.Engine, budgetMgr *budget.Manager,
	noiser *noise.Generator, checker *guarantee.Checker, sink transport.Sink,
	opts ...Option) *Pipeline {

	p := &Pipeline{
		cfg:     cfg,
		state:   StateInitializing,
		queue:   make(chan domain.RawEvent, cfg.QueueSize),
		engine:  engine,
		budget:  budgetMgr,
		noiser:  noiser,
		checker: checker,
		sink:    sink,
		tracer:  otel.Tracer("veil/pipeline"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetDeliveryReporter wires the incident detector's delivery feedback. Must
// be called before Start; the detector needs the pipeline as its shutdown
// target, so the two are constructed in sequence.
func (p *Pipeline) SetDeliveryReporter(r DeliveryReporter) {
	p.reporter = r
}

// Start arms the pipeline and launches the worker. Returns an error if the
// pipeline already left the initializing state.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StateInitializing {
		state := p.state
		p.mu.Unlock()
		return fmt.Errorf("%w: cannot start pipeline in state %q", sentinel.ErrInvalidState, state)
	}
	p.state = StateActive
	p.mu.Unlock()

	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	p.wg.Add(1)
	go p.run(workerCtx)

	if p.audit != nil {
		_ = p.audit.Emit(ctx, audit.Entry{
			Category: audit.CategoryLifecycle,
			Action:   audit.ActionPipelineStarted,
		})
	}
	if p.logger != nil {
		p.logger.InfoContext(ctx, "pipeline started", "queue_size", p.cfg.QueueSize, "k", p.cfg.K)
	}
	return nil
}

// State returns the current lifecycle position.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Submit enqueues a raw event and returns immediately. The caller learns
// only whether the pipeline accepted the event, never what became of it;
// per-event acknowledgments would leak release decisions back into the
// instrumented app.
func (p *Pipeline) Submit(ctx context.Context, ev domain.RawEvent) error {
	if p.State() != StateActive {
		return dErrors.New(dErrors.CodePipelineDisabled, "pipeline is not accepting events")
	}
	if p.metrics != nil {
		p.metrics.EventsSubmitted.Inc()
	}
	select {
	case p.queue <- ev:
		return nil
	default:
		p.drop(ctx, dropCauseOverflow)
		p.auditOperational(ctx, audit.Entry{
			Category: audit.CategoryViolation,
			Action:   audit.ActionQueueOverflow,
		})
		return nil
	}
}

func (p *Pipeline) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.queue:
			p.processWithDeadline(ctx, ev)
		}
	}
}

// processWithDeadline bounds one event's processing by the latency ceiling.
// A breach aborts the event and is audited as a violation; it never delays
// the queue.
func (p *Pipeline) processWithDeadline(ctx context.Context, ev domain.RawEvent) {
	start := p.now()
	bounded, cancel := context.WithTimeout(ctx, p.cfg.LatencyCeiling)
	defer cancel()

	err := p.process(bounded, ev)
	elapsed := p.now().Sub(start)

	if p.metrics != nil {
		p.metrics.ProcessLatency.Observe(elapsed.Seconds())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		p.drop(ctx, dropCauseLatency)
	}
	// The violation is audited even when a stage that ignores its context
	// finished late instead of aborting.
	if ctx.Err() == nil && elapsed > p.cfg.LatencyCeiling {
		p.auditOperational(ctx, audit.Entry{
			Category: audit.CategoryViolation,
			Action:   audit.ActionLatencyExceeded,
			Detail:   map[string]string{"elapsed": elapsed.String()},
		})
	}
}

// process walks one event through the stages. Released batch members are
// finished independently; one member failing never blocks the others.
func (p *Pipeline) process(ctx context.Context, ev domain.RawEvent) error {
	// Re-checked here because disabling can race events already drained
	// from the queue; a disabled pipeline must not touch buckets or budget.
	if p.State() != StateActive {
		p.drop(ctx, dropCauseDisabled)
		return nil
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.process",
		trace.WithAttributes(attribute.String("event.type", ev.Type.String())))
	defer span.End()

	if !ev.Type.IsValid() {
		p.reject(ctx, "event_type")
		return nil
	}

	qi, err := generalize.Generalize(ev.Attributes)
	if err != nil {
		p.reject(ctx, "attributes")
		return nil
	}

	res, err := p.engine.Assign(ctx, ev, qi)
	if err != nil {
		return err
	}
	if res.Outcome != kanon.OutcomeReleased {
		return nil
	}

	for _, pe := range res.Released {
		if err := p.release(ctx, pe, res.Cardinality); err != nil {
			if ctx.Err() != nil {
				return err
			}
		}
	}
	return nil
}

// release finishes one event from a flushed bucket: budget, noise,
// guarantee check, delivery.
func (p *Pipeline) release(ctx context.Context, pe kanon.PendingEvent, cardinality int) error {
	if err := p.gate(ctx); err != nil {
		return err
	}

	epsilon := p.budget.RecommendedEpsilon(pe.Event.Type.Sensitivity())

	if err := p.budget.Allocate(ctx, epsilon); err != nil {
		p.drop(ctx, dropCauseBudget)
		if dErrors.IsCode(err, dErrors.CodeBudgetExhausted) && p.cfg.DisableOnExhaustion {
			p.Disable(ctx, "budget_exhausted")
		}
		return err
	}

	fields, err := p.noiser.Apply(pe.Event.Fields, epsilon)
	if err != nil {
		// Epsilon stays spent: the allocation was committed and refunds
		// would let failures mint budget.
		p.drop(ctx, dropCauseNoise)
		return err
	}

	anonymized := domain.AnonymizedEvent{
		Type:              pe.Event.Type,
		Fields:            fields,
		QuasiIdentifiers:  pe.QuasiIdentifiers,
		BucketCardinality: cardinality,
		Epsilon:           epsilon,
		// Truncated so the release timestamp cannot correlate with any
		// fine-grained timestamp inside the instrumented app.
		ReleasedAt: p.now().UTC().Truncate(time.Hour),
	}

	if err := p.checker.Check(ctx, anonymized); err != nil {
		p.drop(ctx, dropCauseBlocked)
		return err
	}

	// Guarded again right before transmission: epsilon is already spent,
	// but a disabled pipeline or an expired deadline still withholds the
	// payload.
	if err := p.gate(ctx); err != nil {
		return err
	}

	if err := p.sink.Deliver(ctx, anonymized); err != nil {
		p.drop(ctx, dropCauseTransport)
		if p.reporter != nil {
			p.reporter.ReportTransportFailure(ctx)
		}
		return dErrors.Wrap(err, dErrors.CodeTransportFailure, "deliver event")
	}
	if p.reporter != nil {
		p.reporter.ReportTransportSuccess(ctx)
	}
	if p.metrics != nil {
		p.metrics.EventsReleased.Inc()
	}
	return nil
}

// gate reports whether an event may still move to the next stage.
// Disabling and the latency deadline stop events between stages, not only
// at intake.
func (p *Pipeline) gate(ctx context.Context) error {
	if p.State() != StateActive {
		p.drop(ctx, dropCauseDisabled)
		return dErrors.New(dErrors.CodePipelineDisabled, "pipeline is disabled")
	}
	return ctx.Err()
}

func (p *Pipeline) reject(ctx context.Context, reason string) {
	p.drop(ctx, dropCauseRejected)
	if p.audit != nil {
		_ = p.audit.Emit(ctx, audit.Entry{
			Category: audit.CategoryRejection,
			Action:   audit.ActionEventRejected,
			Detail:   map[string]string{"reason": reason},
		})
	}
}

// auditOperational emits a fire-and-forget entry: through the async inbox
// when one is wired, dropped when the inbox is full, synchronous otherwise.
func (p *Pipeline) auditOperational(ctx context.Context, entry audit.Entry) {
	if p.asyncAudit != nil {
		select {
		case p.asyncAudit <- entry:
		default:
		}
		return
	}
	if p.audit != nil {
		_ = p.audit.Emit(ctx, entry)
	}
}

func (p *Pipeline) drop(_ context.Context, cause string) {
	if p.metrics != nil {
		p.metrics.EventsDropped.WithLabelValues(cause).Inc()
	}
}

// Disable stops event intake while leaving buffers and ledger intact. The
// transition is one-way; a disabled pipeline restarts only with the
// process.
func (p *Pipeline) Disable(ctx context.Context, reason string) {
	p.mu.Lock()
	if p.state != StateActive {
		p.mu.Unlock()
		return
	}
	p.state = StateDisabled
	p.mu.Unlock()

	discarded := p.drainQueue(ctx)

	if p.audit != nil {
		_ = p.audit.Emit(ctx, audit.Entry{
			Category: audit.CategoryLifecycle,
			Action:   audit.ActionPipelineDisabled,
			Detail: map[string]string{
				"reason":           reason,
				"discarded_events": itoa(discarded),
			},
		})
	}
	if p.logger != nil {
		p.logger.WarnContext(ctx, "pipeline disabled",
			"reason", reason, "discarded_events", discarded)
	}
}

// drainQueue discards every submitted event still waiting for the worker.
// The worker itself re-checks state, so an event it drains concurrently is
// discarded there instead.
func (p *Pipeline) drainQueue(ctx context.Context) int {
	discarded := 0
	for {
		select {
		case <-p.queue:
			p.drop(ctx, dropCauseDisabled)
			discarded++
		default:
			return discarded
		}
	}
}

// EmergencyShutdown disables intake and destroys every buffered event. The
// shutdown entry is the terminal audit record; nothing is written after it.
func (p *Pipeline) EmergencyShutdown(ctx context.Context, reason string) {
	p.Disable(ctx, reason)

	destroyed := p.engine.PurgeAll()
	if p.audit != nil {
		_ = p.audit.Emit(ctx, audit.Entry{
			Category: audit.CategoryShutdown,
			Action:   audit.ActionBuffersPurged,
			Detail:   map[string]string{"destroyed_events": itoa(destroyed)},
		})
		_ = p.audit.Emit(ctx, audit.Entry{
			Category: audit.CategoryShutdown,
			Action:   audit.ActionEmergencyShutdown,
			Detail:   map[string]string{"reason": reason},
		})
	}
	if p.logger != nil {
		p.logger.ErrorContext(ctx, "emergency shutdown",
			"reason", reason, "destroyed_events", destroyed)
	}
}

// Close stops the worker and releases the queue. Buffered raw events are
// abandoned; only the durable ledger and audit log survive the process.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.state == StateClosed {
		p.mu.Unlock()
		return
	}
	p.state = StateClosed
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func itoa(n int) string { return strconv.Itoa(n) }
