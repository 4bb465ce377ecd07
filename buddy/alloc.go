package buddy

import (
	"github.com/cockroachdb/errors"
	"github.com/sos-kernel/kalloc/memutils"
	"golang.org/x/exp/slog"
)

// AllocSize computes the block size needed to satisfy a request of size bytes aligned to align.
// The result is the next power of two above the largest of size, align, and the minimum block size.
//
// An alignment that is not a power of two, or that is larger than a page, returns an error marked with
// memutils.ErrInvalidRequest regardless of size. A request whose block size would exceed the heap
// returns an error marked with memutils.ErrOutOfMemory.
func (h *HeapAllocator) AllocSize(size int, align int) (int, error) {
	if !memutils.IsPow2(align) || align > memutils.PageSize {
		return 0, errors.Wrapf(memutils.ErrInvalidRequest, "alignment %d must be a power of two no greater than %d", align, memutils.PageSize)
	}

	if size < 0 {
		return 0, errors.Wrapf(memutils.ErrInvalidRequest, "size %d must not be negative", size)
	}

	allocSize := size
	if h.minBlockSize > allocSize {
		allocSize = h.minBlockSize
	}
	if align > allocSize {
		allocSize = align
	}

	// Checked before rounding so the rounding can't overflow
	if allocSize > h.heapSize {
		return 0, errors.Wrapf(memutils.ErrOutOfMemory, "request for %d bytes is larger than the %d byte heap", size, h.heapSize)
	}

	return memutils.NextPow2(allocSize), nil
}

// AllocOrder computes the order of the block needed to satisfy a request of size bytes aligned to align.
// It fails under the same conditions as AllocSize.
func (h *HeapAllocator) AllocOrder(size int, align int) (int, error) {
	allocSize, err := h.AllocSize(size, align)
	if err != nil {
		return 0, err
	}

	memutils.DebugCheckPow2(allocSize, "allocation size")
	return memutils.Log2(allocSize) - h.minBlockShift, nil
}

// Allocate reserves a block large enough for size bytes aligned to align and returns its address.
// The block's order is AllocOrder(size, align), and the block must eventually be returned with
// Deallocate using that same order.
//
// If no free block of the needed order exists, the smallest larger free block is split in half
// repeatedly. The upper halves are kept as free blocks and the lowest one is returned. When no block at
// or above the needed order is free, the returned error is marked with memutils.ErrOutOfMemory and the
// heap is unchanged.
func (h *HeapAllocator) Allocate(size int, align int) (uintptr, error) {
	memutils.DebugValidate(h)

	order, err := h.AllocOrder(size, align)
	if err != nil {
		return 0, err
	}

	foundOrder := -1
	for o := order; o < len(h.freeLists); o++ {
		if !h.freeLists[o].Empty() {
			foundOrder = o
			break
		}
	}

	if foundOrder < 0 {
		h.logger.Debug("HeapAllocator::Allocate out of memory", slog.Int("Size", size), slog.Int("Order", order))
		return 0, errors.Wrapf(memutils.ErrOutOfMemory, "no free block of order %d or greater for a request of %d bytes", order, size)
	}

	addr, _ := h.freeLists[foundOrder].Pop()

	if foundOrder > order {
		h.logger.Debug("HeapAllocator::Allocate splitting block",
			slog.Uint64("Address", uint64(addr)),
			slog.Int("FromOrder", foundOrder),
			slog.Int("ToOrder", order))
	}

	for foundOrder > order {
		foundOrder--
		h.freeLists[foundOrder].Push(addr + uintptr(h.BlockSize(foundOrder)))
	}

	h.allocCounts[order]++
	return addr, nil
}

// Deallocate returns the block at addr, of the provided order, to the heap. While the block's buddy is
// also free, the two are merged into their parent and the process repeats one order up.
//
// addr and order must come from an earlier call to Allocate whose block has not already been
// deallocated. Addresses outside the heap, addresses not aligned to the order's block size, and orders
// out of range cause a panic. Freeing a block twice is not detected unless memutils is built with the
// debug_mem_utils tag, and otherwise corrupts the free lists.
func (h *HeapAllocator) Deallocate(addr uintptr, order int) {
	memutils.DebugValidate(h)

	if order < 0 || order >= len(h.freeLists) {
		panic(errors.AssertionFailedf("attempted to deallocate a block with order %d, but the heap only has orders 0 through %d", order, h.topOrder()))
	}

	if !h.Contains(addr) {
		panic(errors.AssertionFailedf("attempted to deallocate address %#x, which is outside the heap [%#x, %#x)", addr, h.start, h.end()))
	}

	if !memutils.IsAligned(addr-h.start, uintptr(h.BlockSize(order))) {
		panic(errors.AssertionFailedf("attempted to deallocate address %#x as order %d, but it is not on a %d byte block boundary", addr, order, h.BlockSize(order)))
	}

	if h.allocCounts[order] == 0 {
		panic(errors.AssertionFailedf("attempted to deallocate address %#x as order %d, but no blocks of that order are allocated", addr, order))
	}
	h.allocCounts[order]--

	for order < h.topOrder() {
		buddy := h.buddyOf(addr, order)
		if !h.freeLists[order].Remove(buddy) {
			break
		}

		h.logger.Debug("HeapAllocator::Deallocate merging buddies",
			slog.Uint64("Address", uint64(addr)),
			slog.Uint64("Buddy", uint64(buddy)),
			slog.Int("Order", order))

		if buddy < addr {
			addr = buddy
		}
		order++
	}

	h.freeLists[order].Push(addr)
}

// buddyOf returns the address of the other half of the order+1 block that contains the order block at addr
func (h *HeapAllocator) buddyOf(addr uintptr, order int) uintptr {
	return h.start + ((addr - h.start) ^ uintptr(h.BlockSize(order)))
}
