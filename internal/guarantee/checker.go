// Package guarantee is the final gate before an anonymized event leaves the
// device. It independently re-verifies every privacy property the upstream
// stages claim to have established; the pipeline trusts the checker's
// verdict, not its own bookkeeping. Any doubt blocks the event.
package guarantee

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"veil/internal/audit"
	"veil/internal/platform/metrics"
	"veil/pkg/domain"
	dErrors "veil/pkg/domain-errors"
)

// Block reasons, recorded in audit entries and metrics labels.
const (
	ReasonPHI            = "phi_detected"
	ReasonCardinality    = "cardinality_below_k"
	ReasonEpsilon        = "epsilon_not_applied"
	ReasonMechanism      = "invalid_mechanism"
	ReasonIdentifiers    = "identifier_grammar"
	ReasonPayloadSize    = "payload_size"
	ReasonUnserializable = "unserializable_payload"
)

// Checker verifies release guarantees. Checks run in a fixed order and
// short-circuit on the first failure; the returned error's code tells the
// pipeline which guarantee failed.
type Checker struct {
	k              int
	payloadCeiling int

	logger  *slog.Logger
	metrics *metrics.Metrics
	audit   *audit.Publisher
}

// Option configures a Checker.
type Option func(*Checker)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Checker) { c.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Checker) { c.metrics = m }
}

func WithAuditPublisher(p *audit.Publisher) Option {
	return func(c *Checker) { c.audit = p }
}

// NewChecker constructs a checker enforcing the given k threshold and
// payload size ceiling in bytes.
func NewChecker(k, payloadCeiling int, opts ...Option) *Checker {
	c := &Checker{k: k, payloadCeiling: payloadCeiling}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check verifies every release guarantee against the event. A nil return
// means the event may leave the device; any error means it must not, and
// the event is already audited as blocked.
func (c *Checker) Check(ctx context.Context, ev domain.AnonymizedEvent) error {
	payload, err := ev.Payload()
	if err != nil {
		return c.block(ctx, ReasonUnserializable, nil,
			dErrors.Wrap(err, dErrors.CodeGuaranteeViolation, "serialize payload"))
	}

	if categories := DetectPHI(string(payload)); len(categories) > 0 {
		return c.block(ctx, ReasonPHI, map[string]string{
			"pattern_categories": joinCategories(categories),
		}, dErrors.Newf(dErrors.CodePHIDetected,
			"payload matches %d protected pattern categories", len(categories)))
	}

	if ev.BucketCardinality < c.k {
		return c.block(ctx, ReasonCardinality, map[string]string{
			"cardinality": fmt.Sprintf("%d", ev.BucketCardinality),
			"k":           fmt.Sprintf("%d", c.k),
		}, dErrors.Newf(dErrors.CodeGuaranteeViolation,
			"bucket cardinality %d below k=%d", ev.BucketCardinality, c.k))
	}

	if !(ev.Epsilon > 0) {
		return c.block(ctx, ReasonEpsilon, nil,
			dErrors.New(dErrors.CodeGuaranteeViolation, "event released without an epsilon allocation"))
	}
	for name, field := range ev.Fields {
		switch {
		case field.Value.Kind == domain.FieldNumber && !field.Mechanism.IsValid():
			// A numeric value without a valid mechanism would leave the
			// device un-noised, whatever the generator claims to have done.
			return c.block(ctx, ReasonMechanism, map[string]string{"field": name},
				dErrors.Newf(dErrors.CodeGuaranteeViolation,
					"numeric field %q released without a noise mechanism", name))
		case field.Value.Kind != domain.FieldNumber && field.Mechanism != "" && !field.Mechanism.IsValid():
			return c.block(ctx, ReasonMechanism, map[string]string{"field": name},
				dErrors.Newf(dErrors.CodeGuaranteeViolation,
					"field %q carries unknown noise mechanism %q", name, field.Mechanism))
		}
	}

	if err := ev.QuasiIdentifiers.Validate(); err != nil {
		return c.block(ctx, ReasonIdentifiers, nil,
			dErrors.Wrap(err, dErrors.CodeGuaranteeViolation, "quasi-identifier grammar"))
	}

	if len(payload) > c.payloadCeiling {
		return c.block(ctx, ReasonPayloadSize, map[string]string{
			"bytes":   fmt.Sprintf("%d", len(payload)),
			"ceiling": fmt.Sprintf("%d", c.payloadCeiling),
		}, dErrors.Newf(dErrors.CodeGuaranteeViolation,
			"payload %d bytes exceeds ceiling %d", len(payload), c.payloadCeiling))
	}

	return nil
}

// block audits and counts the rejection, then returns the causal error.
// Detail carries categories and counts only, never payload content.
func (c *Checker) block(ctx context.Context, reason string, detail map[string]string, cause error) error {
	if detail == nil {
		detail = map[string]string{}
	}
	detail["reason"] = reason

	if c.metrics != nil {
		c.metrics.EventsBlocked.WithLabelValues(reason).Inc()
	}
	if c.audit != nil {
		_ = c.audit.Emit(ctx, audit.Entry{
			Category: audit.CategoryBlock,
			Action:   audit.ActionEventBlocked,
			Detail:   detail,
		})
	}
	if c.logger != nil {
		c.logger.WarnContext(ctx, "event blocked before release", "reason", reason)
	}
	return cause
}

func joinCategories(categories []PatternCategory) string {
	parts := make([]string, len(categories))
	for i, cat := range categories {
		parts[i] = string(cat)
	}
	return strings.Join(parts, ",")
}
