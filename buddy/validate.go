package buddy

import (
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/sos-kernel/kalloc/memutils"
)

// Validate performs internal consistency checks on the heap: every free list must be well formed, every
// free block must lie inside the heap on a boundary of its own size, no free block may overlap another
// or sit unmerged beside its free buddy, and the free blocks plus live allocations must add up to the
// whole heap. It walks every free list, so it is expensive.
func (h *HeapAllocator) Validate() error {
	var freeCount int
	for order := range h.freeLists {
		err := h.freeLists[order].Validate()
		if err != nil {
			return errors.Wrapf(err, "free list for order %d is corrupt", order)
		}
		freeCount += h.freeLists[order].Len()
	}

	freeBlocks := swiss.NewMap[uintptr, int](uint32(freeCount + 1))
	freeBytes := 0

	for order := range h.freeLists {
		blockSize := h.BlockSize(order)

		it := h.freeLists[order].Iter()
		for addr, ok := it.Next(); ok; addr, ok = it.Next() {
			if !h.Contains(addr) {
				return errors.Newf("free block at %#x of order %d is outside the heap [%#x, %#x)", addr, order, h.start, h.end())
			}

			if !memutils.IsAligned(addr-h.start, uintptr(blockSize)) {
				return errors.Newf("free block at %#x of order %d is not on a %d byte block boundary", addr, order, blockSize)
			}

			otherOrder, listed := freeBlocks.Get(addr)
			if listed {
				return errors.Newf("free block at %#x is listed at both order %d and order %d", addr, otherOrder, order)
			}

			freeBlocks.Put(addr, order)
			freeBytes += blockSize
		}
	}

	var err error
	freeBlocks.Iter(func(addr uintptr, order int) (stop bool) {
		if order < h.topOrder() {
			buddy := h.buddyOf(addr, order)
			buddyOrder, free := freeBlocks.Get(buddy)
			if free && buddyOrder == order {
				err = errors.Newf("free block at %#x and its buddy at %#x are both free at order %d but were not merged", addr, buddy, order)
				return true
			}
		}

		for parentOrder := order + 1; parentOrder < len(h.freeLists); parentOrder++ {
			parent := h.start + memutils.AlignDown(addr-h.start, uintptr(h.BlockSize(parentOrder)))
			listedOrder, free := freeBlocks.Get(parent)
			if free && listedOrder == parentOrder {
				err = errors.Newf("free block at %#x of order %d overlaps the free block at %#x of order %d", addr, order, parent, parentOrder)
				return true
			}
		}

		return false
	})
	if err != nil {
		return err
	}

	var allocatedBytes int
	for order, count := range h.allocCounts {
		allocatedBytes += count * h.BlockSize(order)
	}

	if freeBytes+allocatedBytes != h.heapSize {
		return errors.Newf("the heap is %d bytes, but free blocks (%d bytes) and allocations (%d bytes) add up to %d", h.heapSize, freeBytes, allocatedBytes, freeBytes+allocatedBytes)
	}

	return nil
}
