package domain

import dErrors "veil/pkg/domain-errors"

// EventType identifies what kind of behavioral event was raised.
// Invariant: the value must be one of the reviewed event types below; the
// pipeline rejects anything else at the boundary.
//
// Usage: construct via ParseEventType at trust boundaries to enforce the
// allowlist; direct casting bypasses validation.
type EventType string

// Reviewed event types. Adding a type requires a sensitivity review so it
// lands in the correct epsilon category.
const (
	EventScreenView     EventType = "screen_view"
	EventFeatureUsed    EventType = "feature_used"
	EventAppLaunch      EventType = "app_launch"
	EventErrorOccurred  EventType = "error_occurred"
	EventSessionEnded   EventType = "session_ended"
	EventEngagementTick EventType = "engagement_tick"
)

// SensitivityCategory drives the default epsilon allocated per event type.
type SensitivityCategory string

const (
	SensitivityLow    SensitivityCategory = "low"
	SensitivityMedium SensitivityCategory = "medium"
)

// eventSensitivity is the single source of truth for valid event types and
// their sensitivity classification.
var eventSensitivity = map[EventType]SensitivityCategory{
	EventScreenView:     SensitivityLow,
	EventFeatureUsed:    SensitivityLow,
	EventAppLaunch:      SensitivityLow,
	EventErrorOccurred:  SensitivityLow,
	EventSessionEnded:   SensitivityMedium,
	EventEngagementTick: SensitivityMedium,
}

// ParseEventType constructs an EventType from external input.
//
// Errors: returns CodeInvalidInput when the value is empty or not in the
// reviewed enumeration.
func ParseEventType(s string) (EventType, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "event type cannot be empty")
	}
	t := EventType(s)
	if !t.IsValid() {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unknown event type %q", s)
	}
	return t, nil
}

// IsValid checks membership in the reviewed enumeration.
func (t EventType) IsValid() bool {
	_, ok := eventSensitivity[t]
	return ok
}

// Sensitivity returns the event type's sensitivity category. Unknown types
// classify as medium so a validation gap never lowers the privacy level.
func (t EventType) Sensitivity() SensitivityCategory {
	if cat, ok := eventSensitivity[t]; ok {
		return cat
	}
	return SensitivityMedium
}

func (t EventType) String() string { return string(t) }
