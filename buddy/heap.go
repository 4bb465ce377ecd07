// Package buddy implements a binary buddy allocator over a single contiguous, page-aligned heap.
//
// The heap is divided into size classes called orders. A block of order k is MinBlockSize() << k bytes,
// and the block of the highest order spans the entire heap. Free blocks of each order are kept in an
// intrusive freelist.FreeList whose headers live inside the free blocks themselves, so the allocator
// keeps no metadata outside the heap beyond one list head per order.
//
// HeapAllocator is not safe for concurrent use. Callers that share one between goroutines must provide
// their own mutual exclusion.
package buddy

import (
	"github.com/cockroachdb/errors"
	"github.com/sos-kernel/kalloc/memutils"
	"github.com/sos-kernel/kalloc/memutils/freelist"
	"golang.org/x/exp/slog"
)

// HeapAllocator hands out power-of-two sized blocks from a heap, splitting larger blocks on allocation
// and merging buddies back together on deallocation.
type HeapAllocator struct {
	logger *slog.Logger

	// start is the address of the first byte of the heap and is page aligned
	start     uintptr
	freeLists []freelist.FreeList
	heapSize  int

	minBlockSize  int
	minBlockShift int

	// live allocation counts per order
	allocCounts []int
}

var _ memutils.Validatable = &HeapAllocator{}

// New creates a HeapAllocator managing heapSize bytes starting at start. The number of orders is
// len(freeLists), and the minimum block size is heapSize >> (len(freeLists)-1). The free lists must be
// empty; the allocator owns them from this point on and seeds the top order with the whole heap.
//
// The memory in [start, start+heapSize) must be readable and writable for the lifetime of the
// allocator. Every error returned from New is marked with memutils.ErrContractViolation.
func New(logger *slog.Logger, start uintptr, freeLists []freelist.FreeList, heapSize int) (*HeapAllocator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if start == 0 {
		return nil, contractViolation(errors.New("heap start address cannot be null"))
	}

	if len(freeLists) == 0 {
		return nil, contractViolation(errors.New("allocator must have at least one free list"))
	}

	if !memutils.IsAligned(start, memutils.PageSize) {
		return nil, contractViolation(errors.Newf("heap start address %#x must be aligned on a %d byte boundary", start, memutils.PageSize))
	}

	err := memutils.CheckPow2(heapSize, "heapSize")
	if err != nil {
		return nil, contractViolation(err)
	}

	if start+uintptr(heapSize) < start {
		return nil, contractViolation(errors.Newf("heap of %d bytes at %#x overflows the address space", heapSize, start))
	}

	minBlockSize := heapSize >> (len(freeLists) - 1)
	if minBlockSize < 1 || heapSize < minBlockSize {
		return nil, contractViolation(errors.Newf("heap of %d bytes is too small to be split into %d orders", heapSize, len(freeLists)))
	}

	if minBlockSize < freelist.HeaderSize {
		return nil, contractViolation(errors.Newf("minimum block size %d must be large enough to contain the %d byte free block header", minBlockSize, freelist.HeaderSize))
	}

	for order := range freeLists {
		if !freeLists[order].Empty() {
			return nil, contractViolation(errors.Newf("free list for order %d was not empty", order))
		}
	}

	heap := &HeapAllocator{
		logger:        logger,
		start:         start,
		freeLists:     freeLists,
		heapSize:      heapSize,
		minBlockSize:  minBlockSize,
		minBlockShift: memutils.Log2(minBlockSize),
		allocCounts:   make([]int, len(freeLists)),
	}
	heap.freeLists[heap.topOrder()].Push(start)

	logger.Debug("HeapAllocator::New",
		slog.Uint64("Start", uint64(start)),
		slog.Int("HeapSize", heapSize),
		slog.Int("MinBlockSize", minBlockSize),
		slog.Int("OrderCount", len(freeLists)))

	return heap, nil
}

// MustNew is New, but panics on any contract violation
func MustNew(logger *slog.Logger, start uintptr, freeLists []freelist.FreeList, heapSize int) *HeapAllocator {
	heap, err := New(logger, start, freeLists, heapSize)
	if err != nil {
		panic(err)
	}

	return heap
}

func contractViolation(err error) error {
	return errors.Mark(err, memutils.ErrContractViolation)
}

// Start returns the address of the first byte of the heap
func (h *HeapAllocator) Start() uintptr { return h.start }

// HeapSize returns the size of the heap in bytes
func (h *HeapAllocator) HeapSize() int { return h.heapSize }

// MinBlockSize returns the size in bytes of an order 0 block
func (h *HeapAllocator) MinBlockSize() int { return h.minBlockSize }

// OrderCount returns the number of size classes in the heap
func (h *HeapAllocator) OrderCount() int { return len(h.freeLists) }

// BlockSize returns the size in bytes of a block of the provided order
func (h *HeapAllocator) BlockSize(order int) int {
	return h.minBlockSize << order
}

// FreeBlockCount returns the number of free blocks of the provided order
func (h *HeapAllocator) FreeBlockCount(order int) int {
	return h.freeLists[order].Len()
}

// SumFreeSize returns the number of bytes in all free blocks
func (h *HeapAllocator) SumFreeSize() int {
	var sum int
	for order := range h.freeLists {
		sum += h.freeLists[order].Len() * h.BlockSize(order)
	}

	return sum
}

// AllocationCount returns the number of allocations that have not been deallocated
func (h *HeapAllocator) AllocationCount() int {
	var count int
	for _, orderCount := range h.allocCounts {
		count += orderCount
	}

	return count
}

// IsEmpty returns true if there are no live allocations in the heap
func (h *HeapAllocator) IsEmpty() bool {
	return h.AllocationCount() == 0
}

// Contains returns true if addr lies inside the heap
func (h *HeapAllocator) Contains(addr uintptr) bool {
	return addr >= h.start && addr < h.end()
}

func (h *HeapAllocator) end() uintptr {
	return h.start + uintptr(h.heapSize)
}

func (h *HeapAllocator) topOrder() int {
	return len(h.freeLists) - 1
}

// Reset instantly frees every allocation, leaving the heap as a single free block of the top order
func (h *HeapAllocator) Reset() {
	for order := range h.freeLists {
		h.freeLists[order].Clear()
		h.allocCounts[order] = 0
	}

	h.freeLists[h.topOrder()].Push(h.start)
}
