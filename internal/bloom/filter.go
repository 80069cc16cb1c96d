// Package bloom provides probabilistic device membership filters for
// archived segments. A filter answers "might this segment hold records
// for this device" without downloading the segment.
package bloom

import (
	"math"
	"sync"

	"github.com/spaolacci/murmur3"
)

// Filter is a bloom filter keyed by device ID. It guarantees no false
// negatives: if a device was added, MightContain always returns true.
type Filter struct {
	mu        sync.RWMutex
	bits      []uint64
	numBits   uint64
	numHashes uint64
	count     uint64 // number of devices added
}

// New creates a Filter with the specified number of bits and hash functions.
func New(numBits, numHashes int) *Filter {
	if numBits <= 0 {
		numBits = 1024
	}
	if numHashes <= 0 {
		numHashes = 7
	}

	// Round up to whole 64-bit words.
	numWords := (numBits + 63) / 64
	return &Filter{
		bits:      make([]uint64, numWords),
		numBits:   uint64(numWords * 64),
		numHashes: uint64(numHashes),
	}
}

// NewWithEstimates creates a Filter sized for the expected number of
// devices and target false positive rate.
func NewWithEstimates(expectedDevices int, targetFPR float64) *Filter {
	numBits, numHashes := OptimalParameters(expectedDevices, targetFPR)
	return New(numBits, numHashes)
}

// OptimalParameters calculates bit and hash counts for a given expected
// device count and target false positive rate.
//
// The formulas are:
//   - m = -n * ln(p) / (ln(2)^2)  where m = bits, n = items, p = FPR
//   - k = (m/n) * ln(2)           where k = hash functions
func OptimalParameters(expectedDevices int, targetFPR float64) (numBits, numHashes int) {
	if expectedDevices <= 0 {
		expectedDevices = 1000
	}
	if targetFPR <= 0 || targetFPR >= 1 {
		targetFPR = 0.01
	}

	n := float64(expectedDevices)
	ln2 := math.Ln2

	m := -n * math.Log(targetFPR) / (ln2 * ln2)
	numBits = int(math.Ceil(m))
	numHashes = int(math.Ceil((m / n) * ln2))

	if numBits < 64 {
		numBits = 64
	}
	if numHashes < 1 {
		numHashes = 1
	}
	return numBits, numHashes
}

// Add records a device in the filter.
func (f *Filter) Add(deviceID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	h1, h2 := hash128(deviceID)
	for i := uint64(0); i < f.numHashes; i++ {
		// Double hashing: h(i) = h1 + i*h2
		pos := (h1 + i*h2) % f.numBits
		f.bits[pos/64] |= 1 << (pos % 64)
	}
	f.count++
}

// MightContain tests whether the segment may hold records for the device.
// A false result is definitive; a true result may be a false positive.
func (f *Filter) MightContain(deviceID string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	h1, h2 := hash128(deviceID)
	for i := uint64(0); i < f.numHashes; i++ {
		pos := (h1 + i*h2) % f.numBits
		if f.bits[pos/64]&(1<<(pos%64)) == 0 {
			return false
		}
	}
	return true
}

// hash128 computes a murmur3 128-bit hash as two 64-bit values.
func hash128(deviceID string) (uint64, uint64) {
	h := murmur3.New128()
	h.Write([]byte(deviceID))
	return h.Sum128()
}

// NumBits returns the number of bits in the filter.
func (f *Filter) NumBits() uint {
	return uint(f.numBits)
}

// NumHashes returns the number of hash functions used.
func (f *Filter) NumHashes() uint {
	return uint(f.numHashes)
}

// Count returns the number of devices added to the filter.
func (f *Filter) Count() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.count
}

// FalsePositiveRate estimates the current false positive rate from the
// fill level: (1 - e^(-k*n/m))^k.
func (f *Filter) FalsePositiveRate() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.count == 0 {
		return 0
	}
	k := float64(f.numHashes)
	n := float64(f.count)
	m := float64(f.numBits)
	return math.Pow(1-math.Exp(-k*n/m), k)
}
