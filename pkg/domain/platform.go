package domain

import (
	"strings"

	dErrors "veil/pkg/domain-errors"
)

// Platform is the generalized client platform, one of a fixed enumeration.
// Finer-grained platform detail (device model, OS build) never leaves the
// generalizer.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformWeb     Platform = "web"
	PlatformDesktop Platform = "desktop"
)

var validPlatforms = map[Platform]bool{
	PlatformIOS:     true,
	PlatformAndroid: true,
	PlatformWeb:     true,
	PlatformDesktop: true,
}

// ParsePlatform constructs a Platform from external input, case-insensitive.
//
// Errors: returns CodeInvalidInput when the value is empty or unsupported.
func ParsePlatform(s string) (Platform, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "platform cannot be empty")
	}
	p := Platform(strings.ToLower(s))
	if !p.IsValid() {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unsupported platform %q", s)
	}
	return p, nil
}

// IsValid checks if the platform is one of the supported enum values.
func (p Platform) IsValid() bool {
	return validPlatforms[p]
}

func (p Platform) String() string { return string(p) }
