// Package incident watches the running pipeline for conditions that call
// its privacy guarantees into question and, on the worst of them, orders an
// emergency shutdown. The detector observes through narrow read-only
// interfaces so it can judge the pipeline without being part of it.
package incident

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"veil/internal/audit"
	"veil/internal/guarantee"
	"veil/internal/kanon"
	"veil/internal/platform/metrics"
	"veil/pkg/platform/circuit"
)

// Severity ranks a finding. Critical findings trigger emergency shutdown;
// warnings only leave audit entries.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Finding condition identifiers.
const (
	ConditionQueuedPHI       = "phi_in_buffered_events"
	ConditionBudgetNearEnd   = "budget_near_exhaustion"
	ConditionExpirySurge     = "bucket_expiry_surge"
	ConditionTransportBroken = "transport_circuit_open"
)

// Finding is one detected condition from a scan.
type Finding struct {
	Condition string
	Severity  Severity
	Detail    map[string]string
}

// BucketObserver exposes the bucket arena state the detector inspects.
type BucketObserver interface {
	Snapshot() kanon.Stats
	PendingPayloads(limit int) []string
}

// BudgetObserver exposes the budget state the detector inspects.
type BudgetObserver interface {
	Remaining() float64
	Ceiling() float64
}

// ShutdownTarget is the pipeline surface the detector acts on.
type ShutdownTarget interface {
	EmergencyShutdown(ctx context.Context, reason string)
}

// Detector scans pipeline state on a schedule and tracks transport health
// between scans through a circuit breaker.
type Detector struct {
	buckets BucketObserver
	budget  BudgetObserver
	target  ShutdownTarget
	breaker *circuit.Breaker

	// warnRemaining is the budget fraction below which a warning fires.
	warnRemaining float64
	// expiryThreshold is the per-scan expiry count that signals a surge.
	expiryThreshold int
	// scanLimit caps how many buffered payloads one scan inspects.
	scanLimit int

	mu          sync.Mutex
	lastExpired int
	fired       bool

	logger  *slog.Logger
	metrics *metrics.Metrics
	audit   *audit.Publisher
}

// Option configures a Detector.
type Option func(*Detector)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Detector) { d.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Detector) { d.metrics = m }
}

func WithAuditPublisher(p *audit.Publisher) Option {
	return func(d *Detector) { d.audit = p }
}

// WithBudgetWarnRemaining sets the remaining-budget fraction that fires a
// warning finding.
func WithBudgetWarnRemaining(fraction float64) Option {
	return func(d *Detector) { d.warnRemaining = fraction }
}

// WithExpiryThreshold sets how many expiries between scans count as a
// surge.
func WithExpiryThreshold(n int) Option {
	return func(d *Detector) { d.expiryThreshold = n }
}

// WithTransportFailureThreshold sets how many consecutive delivery failures
// open the transport circuit.
func WithTransportFailureThreshold(n int) Option {
	return func(d *Detector) {
		d.breaker = circuit.New("transport", circuit.WithFailureThreshold(n))
	}
}

// NewDetector constructs a detector over the given observers and shutdown
// target.
func NewDetector(buckets BucketObserver, budget BudgetObserver, target ShutdownTarget, opts ...Option) *Detector {
	d := &Detector{
		buckets:         buckets,
		budget:          budget,
		target:          target,
		breaker:         circuit.New("transport"),
		warnRemaining:   0.05,
		expiryThreshold: 20,
		scanLimit:       256,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ReportTransportFailure records one failed delivery. Crossing the failure
// threshold opens the circuit, which the next scan treats as critical.
func (d *Detector) ReportTransportFailure(ctx context.Context) {
	_, change := d.breaker.RecordFailure()
	if change.Opened {
		if d.logger != nil {
			d.logger.ErrorContext(ctx, "transport circuit opened")
		}
		if d.audit != nil {
			_ = d.audit.Emit(ctx, audit.Entry{
				Category: audit.CategoryViolation,
				Action:   audit.ActionTransportFailed,
				Detail:   map[string]string{"circuit": "opened"},
			})
		}
	}
}

// ReportTransportSuccess records one successful delivery.
func (d *Detector) ReportTransportSuccess(ctx context.Context) {
	_, change := d.breaker.RecordSuccess()
	if change.Closed && d.logger != nil {
		d.logger.InfoContext(ctx, "transport circuit closed")
	}
}

// TransportOpen reports whether the transport circuit is open.
func (d *Detector) TransportOpen() bool {
	return d.breaker.IsOpen()
}

// Scan inspects pipeline state once and returns its findings. Every finding
// is audited; the first critical finding triggers emergency shutdown, at
// most once for the detector's lifetime.
func (d *Detector) Scan(ctx context.Context) []Finding {
	var findings []Finding

	for _, payload := range d.buckets.PendingPayloads(d.scanLimit) {
		if categories := guarantee.DetectPHI(payload); len(categories) > 0 {
			findings = append(findings, Finding{
				Condition: ConditionQueuedPHI,
				Severity:  SeverityCritical,
				Detail: map[string]string{
					"pattern_categories": joinCategories(categories),
				},
			})
			break
		}
	}

	ceiling := d.budget.Ceiling()
	if ceiling > 0 {
		if fraction := d.budget.Remaining() / ceiling; fraction <= d.warnRemaining {
			findings = append(findings, Finding{
				Condition: ConditionBudgetNearEnd,
				Severity:  SeverityWarning,
				Detail: map[string]string{
					"remaining_fraction": fmt.Sprintf("%.3f", fraction),
				},
			})
		}
	}

	stats := d.buckets.Snapshot()
	d.mu.Lock()
	expiredSinceLast := stats.TotalExpiries - d.lastExpired
	d.lastExpired = stats.TotalExpiries
	d.mu.Unlock()
	if expiredSinceLast >= d.expiryThreshold {
		findings = append(findings, Finding{
			Condition: ConditionExpirySurge,
			Severity:  SeverityCritical,
			Detail: map[string]string{
				"expired_since_last_scan": fmt.Sprintf("%d", expiredSinceLast),
			},
		})
	}

	if d.breaker.IsOpen() {
		findings = append(findings, Finding{
			Condition: ConditionTransportBroken,
			Severity:  SeverityCritical,
			Detail:    map[string]string{"circuit": "open"},
		})
	}

	for _, f := range findings {
		detail := map[string]string{
			"condition": f.Condition,
			"severity":  string(f.Severity),
		}
		for k, v := range f.Detail {
			detail[k] = v
		}
		if d.audit != nil {
			_ = d.audit.Emit(ctx, audit.Entry{
				Category: audit.CategoryViolation,
				Action:   audit.ActionIncidentFinding,
				Detail:   detail,
			})
		}
		if d.logger != nil {
			d.logger.WarnContext(ctx, "incident finding",
				"condition", f.Condition, "severity", string(f.Severity))
		}
	}

	for _, f := range findings {
		if f.Severity == SeverityCritical {
			d.shutdownOnce(ctx, f.Condition)
			break
		}
	}
	return findings
}

func (d *Detector) shutdownOnce(ctx context.Context, reason string) {
	d.mu.Lock()
	already := d.fired
	d.fired = true
	d.mu.Unlock()
	if already {
		return
	}
	if d.metrics != nil {
		d.metrics.Shutdowns.Inc()
	}
	d.target.EmergencyShutdown(ctx, reason)
}

func joinCategories(categories []guarantee.PatternCategory) string {
	out := ""
	for i, cat := range categories {
		if i > 0 {
			out += ","
		}
		out += string(cat)
	}
	return out
}
