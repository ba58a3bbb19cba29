package noise

import (
	"log/slog"

	"veil/pkg/domain"
	dErrors "veil/pkg/domain-errors"
)

// Generator applies the per-field noise mechanisms to an event's fields
// under one allocated epsilon.
type Generator struct {
	logger *slog.Logger
}

// Option configures a Generator.
type Option func(*Generator)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) { g.logger = logger }
}

func NewGenerator(opts ...Option) *Generator {
	g := &Generator{}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Apply noises every numeric field using its declared sensitivity bound and
// the allocated epsilon. Non-numeric fields pass through unnoised and are
// left to the PHI gate. A numeric field without a declared bound fails the
// whole event: without an a-priori sensitivity there is no valid
// calibration, so nothing may be released.
func (g *Generator) Apply(fields map[string]domain.FieldValue, epsilon float64) (map[string]domain.AnonymizedField, error) {
	out := make(map[string]domain.AnonymizedField, len(fields))
	for name, value := range fields {
		if value.Kind != domain.FieldNumber {
			out[name] = domain.AnonymizedField{Value: value}
			continue
		}
		spec, ok := sensitivityTable[name]
		if !ok {
			return nil, dErrors.Newf(dErrors.CodeGuaranteeViolation, "field %q has no declared sensitivity bound", name)
		}
		switch spec.class {
		case classCount:
			noised, err := laplaceCount(value.Num, spec.sensitivity, epsilon)
			if err != nil {
				return nil, err
			}
			out[name] = domain.AnonymizedField{
				Value:     domain.Number(float64(noised)),
				Mechanism: domain.MechanismLaplace,
			}
		default:
			noised, err := gaussianContinuous(value.Num, spec.sensitivity, epsilon)
			if err != nil {
				return nil, err
			}
			out[name] = domain.AnonymizedField{
				Value:     domain.Number(noised),
				Mechanism: domain.MechanismGaussian,
			}
		}
	}
	return out, nil
}
