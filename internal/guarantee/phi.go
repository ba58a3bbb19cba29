package guarantee

import "regexp"

// PatternCategory names a class of protected-health-information pattern.
// Only the category ever reaches logs or audit entries; matched content
// never leaves the detector.
type PatternCategory string

const (
	CategoryDirectIdentifier     PatternCategory = "direct_identifier"
	CategoryClinicalTerm         PatternCategory = "clinical_term"
	CategoryPersistentIdentifier PatternCategory = "persistent_identifier"
	CategoryPreciseCoordinates   PatternCategory = "precise_coordinates"
	CategoryMillisecondTimestamp PatternCategory = "millisecond_timestamp"
)

type phiPattern struct {
	category PatternCategory
	re       *regexp.Regexp
}

// phiPatterns covers identifier shapes and clinical vocabulary that must
// never ride along in a released payload. Matching is intentionally
// aggressive; a false positive blocks one event, a false negative leaks.
var phiPatterns = []phiPattern{
	// Social security numbers, with or without separators.
	{CategoryDirectIdentifier, regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	// Email addresses.
	{CategoryDirectIdentifier, regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)},
	// North American phone numbers.
	{CategoryDirectIdentifier, regexp.MustCompile(`\b(?:\+?1[-. ]?)?\(?\d{3}\)?[-. ]\d{3}[-. ]\d{4}\b`)},
	// Screening instruments and their scores.
	{CategoryClinicalTerm, regexp.MustCompile(`(?i)\b(?:PHQ-?9|GAD-?7|AUDIT-?C|C-?SSRS)\b`)},
	// ICD-10 diagnosis codes.
	{CategoryClinicalTerm, regexp.MustCompile(`\b[A-TV-Z]\d{2}(?:\.\d{1,4})?\b`)},
	// Clinical vocabulary that marks a payload as health data.
	{CategoryClinicalTerm, regexp.MustCompile(`(?i)\b(?:diagnos(?:is|ed)|prescri(?:bed|ption)|medication|psychiatr|antidepressant|suicid)\w*\b`)},
	// UUIDs surviving into a payload re-identify a contributor.
	{CategoryPersistentIdentifier, regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`)},
	// Long hex tokens (device ids, hashes used as stable identifiers).
	{CategoryPersistentIdentifier, regexp.MustCompile(`\b[0-9a-fA-F]{32,}\b`)},
	// Latitude/longitude with four or more decimals pins a street address.
	{CategoryPreciseCoordinates, regexp.MustCompile(`-?\d{1,3}\.\d{4,}\s*,\s*-?\d{1,3}\.\d{4,}`)},
	// Millisecond epoch timestamps are fine-grained enough to correlate.
	{CategoryMillisecondTimestamp, regexp.MustCompile(`\b1[5-9]\d{11}\b`)},
}

// DetectPHI scans text for protected-health-information patterns and
// returns the categories found, in pattern order, deduplicated.
func DetectPHI(text string) []PatternCategory {
	var found []PatternCategory
	seen := make(map[PatternCategory]bool)
	for _, p := range phiPatterns {
		if seen[p.category] {
			continue
		}
		if p.re.MatchString(text) {
			found = append(found, p.category)
			seen[p.category] = true
		}
	}
	return found
}
