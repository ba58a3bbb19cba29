package domain

import (
	"fmt"
	"regexp"

	dErrors "veil/pkg/domain-errors"
)

// appVersionGrammar is the generalization grammar for app versions:
// major.minor only, no patch, build metadata, or pre-release tags.
var appVersionGrammar = regexp.MustCompile(`^[0-9]+\.[0-9]+$`)

// QuasiIdentifiers is the immutable set of generalized contributor
// attributes a released record is allowed to carry. Every field must match
// its generalization grammar; a value more precise than the grammar allows
// is a contract violation, not recoverable input.
type QuasiIdentifiers struct {
	AgeRange   AgeRange `json:"age_range"`
	Region     Region   `json:"region"`
	Platform   Platform `json:"platform"`
	AppVersion string   `json:"app_version"`
}

// Validate enforces the generalization grammar on every field. It is called
// both when identifiers are produced and again by the guarantee checker, so
// a generalization bug cannot release an over-precise record.
func (q QuasiIdentifiers) Validate() error {
	if !q.AgeRange.IsValid() {
		return dErrors.Newf(dErrors.CodeGuaranteeViolation, "age range %q outside fixed bands", q.AgeRange)
	}
	if !q.Region.IsValid() {
		return dErrors.Newf(dErrors.CodeGuaranteeViolation, "region %q is not a 2-letter jurisdiction code", q.Region)
	}
	if !q.Platform.IsValid() {
		return dErrors.Newf(dErrors.CodeGuaranteeViolation, "platform %q outside fixed enumeration", q.Platform)
	}
	if !appVersionGrammar.MatchString(q.AppVersion) {
		return dErrors.Newf(dErrors.CodeGuaranteeViolation, "app version %q is more precise than major.minor", q.AppVersion)
	}
	return nil
}

// Canonical returns the deterministic textual form used for bucket keying.
// Field order is fixed; changing it changes every bucket key.
func (q QuasiIdentifiers) Canonical() string {
	return fmt.Sprintf("%s|%s|%s|%s", q.AgeRange, q.Region, q.Platform, q.AppVersion)
}
