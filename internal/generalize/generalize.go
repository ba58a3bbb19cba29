// Package generalize maps raw contributor attributes onto the coarse,
// low-cardinality quasi-identifier grammar. Everything here is a pure
// function of its input: no state, no side effects, so the same attribute
// set always yields the same identifiers.
package generalize

import (
	"regexp"
	"strings"

	"github.com/mssola/useragent"

	"veil/pkg/domain"
	dErrors "veil/pkg/domain-errors"
)

// maxPlausibleAge rejects clearly corrupt age attributes instead of
// silently top-coding them.
const maxPlausibleAge = 120

var versionPrefix = regexp.MustCompile(`^v?([0-9]+)\.([0-9]+)`)

// Generalize produces the QuasiIdentifiers for a raw attribute set, or
// fails with CodeUngeneralizable when an attribute is missing the precision
// the grammar requires. An ungeneralizable event is dropped by the caller;
// it never proceeds with partial identifiers.
func Generalize(attrs domain.ContributorAttributes) (domain.QuasiIdentifiers, error) {
	var zero domain.QuasiIdentifiers

	if attrs.Age <= 0 {
		return zero, dErrors.New(dErrors.CodeUngeneralizable, "age attribute missing")
	}
	if attrs.Age > maxPlausibleAge {
		return zero, dErrors.Newf(dErrors.CodeUngeneralizable, "implausible age %d", attrs.Age)
	}

	platform, err := generalizePlatform(attrs)
	if err != nil {
		return zero, err
	}

	version, err := generalizeVersion(attrs.AppVersion)
	if err != nil {
		return zero, err
	}

	qi := domain.QuasiIdentifiers{
		AgeRange:   domain.AgeRangeFromAge(attrs.Age),
		Region:     generalizeRegion(attrs.Location),
		Platform:   platform,
		AppVersion: version,
	}
	if err := qi.Validate(); err != nil {
		// Grammar violation out of this function is a bug, not bad input,
		// but the caller still drops the event rather than releasing it.
		return zero, dErrors.Wrap(err, dErrors.CodeUngeneralizable, "generalized identifiers failed grammar")
	}
	return qi, nil
}

// generalizeRegion reverse-maps a coarse location source onto a 2-letter
// jurisdiction code or one of the two sentinels. Subdivision forms such as
// "US-CA" generalize to the country code; anything unmappable is unknown,
// never passed through.
func generalizeRegion(location string) domain.Region {
	loc := strings.ToUpper(strings.TrimSpace(location))
	switch {
	case loc == "":
		return domain.RegionUnknown
	case loc == "INTERNATIONAL" || loc == "INTL":
		return domain.RegionInternational
	}
	if i := strings.IndexAny(loc, "-_"); i > 0 {
		loc = loc[:i]
	}
	r := domain.Region(loc)
	if !r.IsValid() {
		return domain.RegionUnknown
	}
	return r
}

func generalizePlatform(attrs domain.ContributorAttributes) (domain.Platform, error) {
	if attrs.Platform != "" {
		p, err := domain.ParsePlatform(attrs.Platform)
		if err != nil {
			return "", dErrors.Wrap(err, dErrors.CodeUngeneralizable, "unrecognized platform attribute")
		}
		return p, nil
	}
	if attrs.UserAgent != "" {
		if p, ok := platformFromUserAgent(attrs.UserAgent); ok {
			return p, nil
		}
	}
	return "", dErrors.New(dErrors.CodeUngeneralizable, "platform attribute missing")
}

// platformFromUserAgent derives the generalized platform from a client user
// agent. Only the platform family is extracted; OS versions and device
// models are discarded.
func platformFromUserAgent(raw string) (domain.Platform, bool) {
	ua := useragent.New(raw)
	os := ua.OSInfo().FullName
	switch {
	case strings.Contains(os, "iPhone") || strings.Contains(os, "iOS") || strings.Contains(os, "CPU OS"):
		return domain.PlatformIOS, true
	case strings.Contains(os, "Android"):
		return domain.PlatformAndroid, true
	}
	if name, _ := ua.Browser(); name != "" && !ua.Mobile() {
		return domain.PlatformWeb, true
	}
	switch {
	case strings.Contains(os, "Windows"), strings.Contains(os, "Mac"), strings.Contains(os, "Linux"):
		return domain.PlatformDesktop, true
	}
	return "", false
}

// generalizeVersion truncates a version string to major.minor, discarding
// patch level and build metadata. A version without both components lacks
// the precision the grammar requires.
func generalizeVersion(version string) (string, error) {
	v := strings.TrimSpace(version)
	if v == "" {
		return "", dErrors.New(dErrors.CodeUngeneralizable, "app version attribute missing")
	}
	m := versionPrefix.FindStringSubmatch(v)
	if m == nil {
		return "", dErrors.Newf(dErrors.CodeUngeneralizable, "app version %q lacks major.minor", v)
	}
	return m[1] + "." + m[2], nil
}
