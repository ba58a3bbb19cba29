// Package noise implements the calibrated noise mechanisms that make
// released numeric fields differentially private: Laplace for count-valued
// fields and Gaussian for continuous ones. Sensitivity always comes from
// the reviewed a-priori table in sensitivity.go, never from observed data.
package noise

import (
	"math"

	dErrors "veil/pkg/domain-errors"
)

// delta is the fixed failure probability of the Gaussian mechanism's
// (ε, δ) guarantee.
const delta = 1e-5

// continuousPrecision bounds decimals on Gaussian output. Post-processing
// cannot weaken the guarantee, and coarse output avoids releasing values
// precise enough to look like coordinates or raw measurements.
const continuousPrecision = 100

// laplaceCount adds Laplace noise with scale sensitivity/epsilon to a
// count, using inverse-transform sampling from the secure uniform source.
// The result is rounded to an integer and clamped non-negative, both
// allowed post-processing steps.
func laplaceCount(value, sensitivity, epsilon float64) (int64, error) {
	if err := checkArgs(sensitivity, epsilon); err != nil {
		return 0, err
	}
	u, err := uniformOpen()
	if err != nil {
		return 0, err
	}
	scale := sensitivity / epsilon

	// Inverse CDF of the Laplace distribution, centered at zero.
	p := u - 0.5
	var sample float64
	if p < 0 {
		sample = scale * math.Log(1+2*p)
	} else {
		sample = -scale * math.Log(1-2*p)
	}

	noised := int64(math.Round(value + sample))
	if noised < 0 {
		noised = 0
	}
	return noised, nil
}

// gaussianContinuous adds Gaussian noise with
// σ = sensitivity·√(2·ln(1.25/δ))/ε to a continuous value, sampling via the
// Box–Muller transform over the secure uniform source.
func gaussianContinuous(value, sensitivity, epsilon float64) (float64, error) {
	if err := checkArgs(sensitivity, epsilon); err != nil {
		return 0, err
	}
	u1, err := uniformOpen()
	if err != nil {
		return 0, err
	}
	u2, err := uniformOpen()
	if err != nil {
		return 0, err
	}
	sigma := sensitivity * math.Sqrt(2*math.Log(1.25/delta)) / epsilon
	z := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)

	noised := value + sigma*z
	return math.Round(noised*continuousPrecision) / continuousPrecision, nil
}

func checkArgs(sensitivity, epsilon float64) error {
	if sensitivity <= 0 || math.IsInf(sensitivity, 0) || math.IsNaN(sensitivity) {
		return dErrors.Newf(dErrors.CodeInvalidInput, "sensitivity must be a positive finite number, got %g", sensitivity)
	}
	if epsilon <= 0 || math.IsInf(epsilon, 0) || math.IsNaN(epsilon) {
		return dErrors.Newf(dErrors.CodeInvalidInput, "epsilon must be a positive finite number, got %g", epsilon)
	}
	return nil
}
