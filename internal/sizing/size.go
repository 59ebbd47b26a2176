// Package sizing provides safe size arithmetic for on-disk uint32 fields.
package sizing

import (
	"math"
)

// ToInt converts a uint64 to int, returning overflowErr if it doesn't fit.
func ToInt(size uint64, overflowErr error) (int, error) {
	if size > uint64(math.MaxInt) {
		return 0, overflowErr
	}
	return int(size), nil
}

// ToUint32 converts an int to uint32, returning overflowErr if it is
// negative or doesn't fit.
func ToUint32(n int, overflowErr error) (uint32, error) {
	if n < 0 || uint64(n) > math.MaxUint32 {
		return 0, overflowErr
	}
	return uint32(n), nil
}

// AddUint32 adds two uint32 values, returning (result, false) on overflow.
func AddUint32(a, b uint32) (uint32, bool) {
	sum := a + b
	if sum < a {
		return 0, false
	}
	return sum, true
}

// Within reports whether [off, off+n) lies inside [0, size).
func Within(off, n uint32, size int64) bool {
	end, ok := AddUint32(off, n)
	if !ok {
		return int64(off)+int64(n) <= size
	}
	return int64(end) <= size
}
