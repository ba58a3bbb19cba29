package domain

// AgeRange is a fixed 10-year age band. The lowest band absorbs every age
// below the minimum supported age and the highest band is top-coded, so an
// exact age can never be recovered from a released record.
type AgeRange string

const (
	AgeRange18to27 AgeRange = "18-27"
	AgeRange28to37 AgeRange = "28-37"
	AgeRange38to47 AgeRange = "38-47"
	AgeRange48to57 AgeRange = "48-57"
	AgeRange58to67 AgeRange = "58-67"
	AgeRange68Plus AgeRange = "68+"
)

// MinimumAge is the app's minimum supported age. Ages below it still map to
// the lowest band rather than failing, so under-age sign-up bugs cannot leak
// a finer-grained age.
const MinimumAge = 18

var validAgeRanges = map[AgeRange]bool{
	AgeRange18to27: true,
	AgeRange28to37: true,
	AgeRange38to47: true,
	AgeRange48to57: true,
	AgeRange58to67: true,
	AgeRange68Plus: true,
}

// AgeRangeFromAge maps an exact age onto its band. Callers validate that the
// age is plausible before calling; this function only buckets.
func AgeRangeFromAge(age int) AgeRange {
	switch {
	case age < 28: // includes everything below MinimumAge
		return AgeRange18to27
	case age < 38:
		return AgeRange28to37
	case age < 48:
		return AgeRange38to47
	case age < 58:
		return AgeRange48to57
	case age < 68:
		return AgeRange58to67
	default:
		return AgeRange68Plus
	}
}

// IsValid checks if the band is one of the fixed enumeration values.
func (a AgeRange) IsValid() bool {
	return validAgeRanges[a]
}

func (a AgeRange) String() string { return string(a) }
