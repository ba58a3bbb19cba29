package audit

import (
	"time"

	"github.com/google/uuid"
)

// Category classifies audit entries by what happened to an event or to the
// pipeline. Categories drive retention and the incident detector's scans.
type Category string

const (
	// CategoryAllocation records privacy-budget debits and resets.
	CategoryAllocation Category = "allocation"
	// CategoryBlock records guarantee-checker blocks (PHI, cardinality,
	// epsilon, grammar, payload size).
	CategoryBlock Category = "block"
	// CategoryViolation records detected invariant breaches: latency
	// ceiling overruns, transport failures, incident findings.
	CategoryViolation Category = "violation"
	// CategoryShutdown records emergency shutdown, the terminal entry.
	CategoryShutdown Category = "shutdown"
	// CategoryExpiry records bucket timeouts with destroyed buffers,
	// data loss by design rather than an error.
	CategoryExpiry Category = "expiry"
	// CategoryRejection records events refused at the boundary
	// (unreviewed event type, ungeneralizable attributes).
	CategoryRejection Category = "rejection"
	// CategoryLifecycle records pipeline state transitions.
	CategoryLifecycle Category = "lifecycle"
)

// Entry is an append-only audit record. Retained locally, never transmitted
// verbatim. Detail must never contain raw field values or matched content,
// only categories and counts.
type Entry struct {
	ID        uuid.UUID         `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Category  Category          `json:"category"`
	Action    string            `json:"action"`
	Detail    map[string]string `json:"detail,omitempty"`
}

// Audit actions.
const (
	ActionEpsilonAllocated  = "epsilon_allocated"
	ActionAllocationRefused = "allocation_refused"
	ActionBudgetReset       = "budget_reset"
	ActionEventBlocked      = "event_blocked"
	ActionEventRejected     = "event_rejected"
	ActionBucketExpired     = "bucket_expired"
	ActionBuffersPurged     = "buffers_purged"
	ActionLatencyExceeded   = "latency_ceiling_exceeded"
	ActionQueueOverflow     = "queue_overflow"
	ActionTransportFailed   = "transport_delivery_failed"
	ActionIncidentFinding   = "incident_finding"
	ActionEmergencyShutdown = "emergency_shutdown"
	ActionPipelineDisabled  = "pipeline_disabled"
	ActionPipelineStarted   = "pipeline_started"
)
