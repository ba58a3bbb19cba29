package domain

// Mechanism names the differential-privacy noise mechanism that produced a
// noised field. Released records carry it so downstream aggregation can
// account for the noise distribution.
type Mechanism string

const (
	MechanismLaplace  Mechanism = "laplace"
	MechanismGaussian Mechanism = "gaussian"
)

// IsValid checks if the mechanism is one of the supported enum values.
func (m Mechanism) IsValid() bool {
	return m == MechanismLaplace || m == MechanismGaussian
}

func (m Mechanism) String() string { return string(m) }
