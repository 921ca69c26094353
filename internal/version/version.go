// Package version generates the monotonically non-decreasing version tags
// every meta record carries (spec.md §3.2 invariant 2: "initialized from
// a monotonically non-decreasing source — wall-clock seconds is
// acceptable provided ties are broken by a counter").
package version

import (
	"sync/atomic"
	"time"
)

var last atomic.Uint64

// Next returns the next version tag: the current wall-clock second,
// bumped past the previously returned value when two calls land in the
// same second. Safe for concurrent use.
func Next() uint64 {
	for {
		prev := last.Load()
		next := uint64(time.Now().Unix())
		if next <= prev {
			next = prev + 1
		}
		if last.CompareAndSwap(prev, next) {
			return next
		}
	}
}

// Next32 truncates Next to 32 bits, for the four meta layouts whose
// version field is 4 bytes wide (spec.md §4.1: hashes, sets, sorted
// sets). Lists uses the full 64-bit Next directly.
func Next32() uint32 {
	return uint32(Next())
}
