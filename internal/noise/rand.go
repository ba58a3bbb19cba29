package noise

import (
	"bufio"
	cryptorand "crypto/rand"
	"encoding/binary"
	"io"
	"sync"

	dErrors "veil/pkg/domain-errors"
)

// Uniform randomness for the noise mechanisms comes exclusively from the
// operating system CSPRNG, buffered to amortize syscall cost. A
// non-cryptographic generator is never acceptable here: predictable noise
// can be subtracted back out, voiding the differential-privacy guarantee.
var (
	randBufMu sync.Mutex
	randBuf   io.Reader = bufio.NewReaderSize(cryptorand.Reader, 8192)
)

func secureUint64() (uint64, error) {
	randBufMu.Lock()
	defer randBufMu.Unlock()

	var b [8]byte
	if _, err := io.ReadFull(randBuf, b[:]); err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeUnavailable, "secure randomness unavailable")
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// uniformOpen returns a uniform sample from the open interval (0, 1).
// The top 53 bits of a secure uint64 give a lattice of 2^53 points; the
// half-step offset keeps both endpoints unreachable so callers can take
// logarithms safely.
func uniformOpen() (float64, error) {
	u, err := secureUint64()
	if err != nil {
		return 0, err
	}
	return (float64(u>>11) + 0.5) / (1 << 53), nil
}
