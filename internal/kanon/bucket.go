package kanon

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/bits-and-blooms/bloom/v3"

	"veil/pkg/domain"
)

// BucketState is the lifecycle position of an anonymization bucket.
type BucketState string

const (
	// StateAccumulating: the bucket holds buffered events and is below k.
	StateAccumulating BucketState = "accumulating"
	// StateFlushed: the bucket reached k and released its buffer.
	StateFlushed BucketState = "flushed"
	// StateExpired: the bucket timed out below k and its buffer was
	// destroyed.
	StateExpired BucketState = "expired"
)

// Bloom filter dimensioning for the per-bucket contributor filter. False
// positives can only suppress an increment, so the estimate is a lower
// bound on true distinct contributors by construction.
const (
	filterCapacity = 10000
	filterFPRate   = 0.01
)

// PendingEvent is a generalized event buffered while its bucket
// accumulates.
type PendingEvent struct {
	Event            domain.RawEvent
	QuasiIdentifiers domain.QuasiIdentifiers
}

// bucket owns the buffered events and the cardinality estimate for one
// quasi-identifier combination. All access is serialized by the engine.
type bucket struct {
	key          string
	identifiers  domain.QuasiIdentifiers
	createdAt    time.Time
	state        BucketState
	cardinality  int
	contributors *bloom.BloomFilter
	pending      []PendingEvent
}

func newBucket(key string, qi domain.QuasiIdentifiers, now time.Time) *bucket {
	return &bucket{
		key:          key,
		identifiers:  qi,
		createdAt:    now,
		state:        StateAccumulating,
		contributors: bloom.NewWithEstimates(filterCapacity, filterFPRate),
	}
}

// observe buffers the event and re-estimates distinct contributors. The
// counter increments only when the filter has definitely not seen the
// contributor key before; on any ambiguity the estimate stays put, so it
// rounds down near the threshold.
func (b *bucket) observe(pe PendingEvent, contributorKey string) {
	b.pending = append(b.pending, pe)
	if contributorKey == "" {
		// No contributor key means distinctness cannot be established;
		// the event still buffers but contributes nothing to the estimate.
		return
	}
	if !b.contributors.TestAndAddString(contributorKey) {
		b.cardinality++
	}
}

// BucketKey derives the deterministic arena key for a quasi-identifier
// combination.
func BucketKey(qi domain.QuasiIdentifiers) string {
	sum := sha256.Sum256([]byte(qi.Canonical()))
	return hex.EncodeToString(sum[:16])
}
