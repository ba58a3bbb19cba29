package domain

// Region is a 2-letter jurisdiction code, or one of two sentinels. The
// sentinels use ISO 3166 user-assigned codes so they can never collide with
// a real jurisdiction.
type Region string

const (
	// RegionInternational marks contributors outside any mapped jurisdiction.
	RegionInternational Region = "XX"
	// RegionUnknown marks contributors whose location source was absent or
	// could not be mapped.
	RegionUnknown Region = "ZZ"
)

// IsValid reports whether the region matches the generalization grammar:
// exactly two ASCII uppercase letters. Both sentinels satisfy the grammar.
func (r Region) IsValid() bool {
	if len(r) != 2 {
		return false
	}
	for i := 0; i < 2; i++ {
		if r[i] < 'A' || r[i] > 'Z' {
			return false
		}
	}
	return true
}

// IsSentinel reports whether the region is one of the two sentinels.
func (r Region) IsSentinel() bool {
	return r == RegionInternational || r == RegionUnknown
}

func (r Region) String() string { return string(r) }
