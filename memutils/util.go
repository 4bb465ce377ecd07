package memutils

import (
	"math/bits"

	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

const (
	// PageShift is log2(PageSize)
	PageShift = 12
	// PageSize is the size of a page in bytes. Heap bases must be aligned to it, and allocation
	// alignments may not exceed it.
	PageSize = 1 << PageShift
)

type Number interface {
	constraints.Integer
}

// IsPow2 returns true if number is a positive power of two
func IsPow2[T Number](number T) bool {
	return number > 0 && number&(number-1) == 0
}

func CheckPow2[T Number](number T, name string) error {
	if !IsPow2(number) {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// NextPow2 returns the smallest power of two that is greater than or equal to number. The number
// must be at least 1.
func NextPow2[T Number](number T) T {
	if number < 1 {
		panic(cerrors.AssertionFailedf("NextPow2 is undefined for %d", number))
	}
	if IsPow2(number) {
		return number
	}

	return T(1) << bits.Len64(uint64(number-1))
}

// Log2 returns the exact base-2 logarithm of number, which must be a power of two.
func Log2[T Number](number T) int {
	if !IsPow2(number) {
		panic(cerrors.AssertionFailedf("Log2 requires a power of two, received %d", number))
	}

	return bits.TrailingZeros64(uint64(number))
}

func AlignUp(value uintptr, alignment uintptr) uintptr {
	return (value + alignment - 1) &^ (alignment - 1)
}

func AlignDown(value uintptr, alignment uintptr) uintptr {
	return value &^ (alignment - 1)
}

// IsAligned returns true if value is a multiple of alignment, which must be a power of two
func IsAligned(value uintptr, alignment uintptr) bool {
	return value&(alignment-1) == 0
}
