package noise

import "veil/pkg/domain"

// fieldClass selects the mechanism applied to a numeric field.
type fieldClass int

const (
	classCount fieldClass = iota
	classContinuous
)

// fieldSpec is a reviewed, fixed sensitivity bound for one field. Bounds
// are worst-case a-priori limits on one contributor's influence (e.g. the
// maximum plausible session length), never derived from observed values —
// data-dependent sensitivity voids the mechanism's guarantee.
type fieldSpec struct {
	class       fieldClass
	sensitivity float64
	mechanism   domain.Mechanism
}

// sensitivityTable is the single source of truth for noiseable numeric
// fields. A numeric field absent from this table cannot be released at all.
var sensitivityTable = map[string]fieldSpec{
	// Count-valued fields: Laplace.
	"screen_count":  {classCount, 50, domain.MechanismLaplace},
	"tap_count":     {classCount, 500, domain.MechanismLaplace},
	"error_count":   {classCount, 20, domain.MechanismLaplace},
	"feature_uses":  {classCount, 100, domain.MechanismLaplace},
	"launch_count":  {classCount, 10, domain.MechanismLaplace},
	"retry_count":   {classCount, 25, domain.MechanismLaplace},

	// Continuous fields: Gaussian. Session-length bounds assume a hard
	// 4-hour cap enforced by the app.
	"duration_seconds":   {classContinuous, 14400, domain.MechanismGaussian},
	"engagement_seconds": {classContinuous, 14400, domain.MechanismGaussian},
	"latency_ms":         {classContinuous, 10000, domain.MechanismGaussian},
	"scroll_depth":       {classContinuous, 1, domain.MechanismGaussian},
}

// SensitivityFor exposes the declared bound for a field, mainly for tests
// and the admin surface. Returns false for undeclared fields.
func SensitivityFor(field string) (float64, domain.Mechanism, bool) {
	spec, ok := sensitivityTable[field]
	if !ok {
		return 0, "", false
	}
	return spec.sensitivity, spec.mechanism, true
}
