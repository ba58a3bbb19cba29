package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// FieldKind discriminates the value held by a FieldValue.
type FieldKind string

const (
	FieldNumber FieldKind = "number"
	FieldString FieldKind = "string"
	FieldBool   FieldKind = "bool"
)

// FieldValue is a tagged union over the value types an event field may hold.
// Construct via the Number/String/Bool helpers.
type FieldValue struct {
	Kind FieldKind
	Num  float64
	Str  string
	Bool bool
}

func Number(v float64) FieldValue { return FieldValue{Kind: FieldNumber, Num: v} }
func String(v string) FieldValue  { return FieldValue{Kind: FieldString, Str: v} }
func Bool(v bool) FieldValue      { return FieldValue{Kind: FieldBool, Bool: v} }

// MarshalJSON emits the bare value, so serialized events look like plain
// JSON objects to the transport collaborator.
func (f FieldValue) MarshalJSON() ([]byte, error) {
	switch f.Kind {
	case FieldNumber:
		return json.Marshal(f.Num)
	case FieldBool:
		return json.Marshal(f.Bool)
	default:
		return json.Marshal(f.Str)
	}
}

// UnmarshalJSON accepts any scalar JSON value and tags it by type.
func (f *FieldValue) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case float64:
		*f = Number(t)
	case bool:
		*f = Bool(t)
	case string:
		*f = String(t)
	default:
		// Nested structures flatten to their JSON text; the PHI detector
		// still scans them and the noise generator rejects them.
		*f = String(string(data))
	}
	return nil
}

// ContributorAttributes are the raw, pre-generalization attributes supplied
// by the instrumentation layer. They exist only in memory on the way into
// the generalizer and are never persisted or transmitted.
type ContributorAttributes struct {
	// Age is the contributor's exact age in years; 0 means unknown.
	Age int
	// Location is the coarse location source (jurisdiction hint), e.g. "US",
	// "ca", or "international". Never precise coordinates.
	Location string
	// Platform is the raw platform string, e.g. "iOS".
	Platform string
	// AppVersion is the full version string, e.g. "1.4.2+build17".
	AppVersion string
	// UserAgent optionally carries the client user agent; the generalizer
	// falls back to it when Platform is absent.
	UserAgent string
	// ContributorKey is a stable pseudonymous key used solely to estimate
	// distinct contributors per bucket. It feeds a probabilistic filter and
	// is never stored or transmitted.
	ContributorKey string
}

// RawEvent is an event as raised by the instrumentation collaborator.
// Ephemeral: it lives in the pipeline's in-memory queue and buffers only.
type RawEvent struct {
	ID         uuid.UUID
	Type       EventType
	Fields     map[string]FieldValue
	Attributes ContributorAttributes
	RaisedAt   time.Time
}

// AnonymizedField is a released field value plus the mechanism that noised
// it. Mechanism is empty for non-numeric fields, which pass through the
// noise generator unchanged and rely on the PHI gate.
type AnonymizedField struct {
	Value     FieldValue `json:"value"`
	Mechanism Mechanism  `json:"mechanism,omitempty"`
}

// AnonymizedEvent is the terminal artifact handed to the transport
// collaborator: generalized, bucketed, noised, and guarantee-checked.
// Immutable once constructed and consumed exactly once. It deliberately
// carries no event or contributor identifier.
type AnonymizedEvent struct {
	Type              EventType                  `json:"type"`
	Fields            map[string]AnonymizedField `json:"fields"`
	QuasiIdentifiers  QuasiIdentifiers           `json:"quasi_identifiers"`
	BucketCardinality int                        `json:"bucket_cardinality"`
	Epsilon           float64                    `json:"epsilon"`
	ReleasedAt        time.Time                  `json:"released_at"`
}

// Payload returns the serialized form delivered to the transport
// collaborator. The guarantee checker scans and measures this exact byte
// sequence, so gate and wire can never disagree.
func (e AnonymizedEvent) Payload() ([]byte, error) {
	return json.Marshal(e)
}
