package kheap

import (
	"math/bits"

	"github.com/cockroachdb/errors"
	"github.com/sos-kernel/kalloc/bootparams"
	"github.com/sos-kernel/kalloc/memutils"
	"github.com/sos-kernel/kalloc/memutils/freelist"
)

const (
	// DefaultOrderCount is the number of orders used when Options.OrderCount is 0, reduced if the heap is
	// too small for the minimum block to hold a free block header
	DefaultOrderCount = 16
)

func resolveOrderCount(heapSize int, requested int) int {
	if requested > 0 {
		return requested
	}

	orderCount := DefaultOrderCount
	for orderCount > 1 && heapSize>>(orderCount-1) < freelist.HeaderSize {
		orderCount--
	}

	return orderCount
}

// largestPow2 returns the largest power of two no greater than size, which must be positive
func largestPow2(size uintptr) uintptr {
	return uintptr(1) << (bits.Len64(uint64(size)) - 1)
}

// Geometry decides where the heap goes, given the heap range the boot process set aside. The heap
// starts at the first page boundary at or above HeapBase and is the largest power of two that ends at or
// before HeapTop. It must not overlap the kernel image or stack, and when the memory map is populated it
// must lie entirely inside a single usable area.
//
// orderCount may be 0 to request DefaultOrderCount orders. The number of orders actually used is
// returned alongside the heap's base and size.
func Geometry(params *bootparams.InitParams, orderCount int) (base uintptr, size int, orders int, err error) {
	err = params.Validate()
	if err != nil {
		return 0, 0, 0, errors.Wrap(err, "invalid boot parameters")
	}

	base = memutils.AlignUp(params.HeapBase, memutils.PageSize)
	if base == 0 || base > params.HeapTop || base < params.HeapBase {
		return 0, 0, 0, errors.Newf("heap range [%#x, %#x] does not contain a usable page boundary", params.HeapBase, params.HeapTop)
	}

	heapSize := largestPow2(params.HeapTop - base + 1)
	end := base + heapSize

	if rangesOverlap(base, end, params.KernelBase, params.KernelTop) {
		return 0, 0, 0, errors.Newf("heap [%#x, %#x) overlaps the kernel image [%#x, %#x]", base, end, params.KernelBase, params.KernelTop)
	}

	if rangesOverlap(base, end, params.StackBase, params.StackTop) {
		return 0, 0, 0, errors.Newf("heap [%#x, %#x) overlaps the kernel stack [%#x, %#x]", base, end, params.StackBase, params.StackTop)
	}

	if params.MemoryMap.Len() > 0 {
		usable := false
		params.MemoryMap.VisitAreas(func(area bootparams.Area) bool {
			usable = area.Kind == bootparams.MemoryUsable && area.ContainsRange(base, end)
			return !usable
		})

		if !usable {
			return 0, 0, 0, errors.Newf("heap [%#x, %#x) does not lie inside a usable memory area", base, end)
		}
	}

	size = int(heapSize)
	orders = resolveOrderCount(size, orderCount)
	if size>>(orders-1) < freelist.HeaderSize {
		return 0, 0, 0, errors.Wrapf(memutils.ErrContractViolation, "a %d byte heap cannot be split into %d orders", size, orders)
	}

	return base, size, orders, nil
}

// rangesOverlap compares the half-open range [start, end) with the inclusive range [base, top]. An
// all-zero inclusive range is treated as absent.
func rangesOverlap(start, end, base, top uintptr) bool {
	if base == 0 && top == 0 {
		return false
	}

	return start <= top && base < end
}
