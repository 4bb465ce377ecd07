// Package kheap wires a buddy.HeapAllocator to the memory backing it, the way the kernel uses it: the heap
// geometry comes from the boot parameters, allocation requests are expressed as size and alignment, and
// callers that share the heap get a mutex unless they promise to synchronize externally.
package kheap

import (
	"math/bits"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/sos-kernel/kalloc/bootparams"
	"github.com/sos-kernel/kalloc/buddy"
	"github.com/sos-kernel/kalloc/internal/utils"
	"github.com/sos-kernel/kalloc/memutils"
	"github.com/sos-kernel/kalloc/memutils/freelist"
	"github.com/sos-kernel/kalloc/memutils/region"
	"golang.org/x/exp/slog"
)

//go:generate mockgen -source=heap.go -destination=./mocks/backing.go -package=mock_kheap

// Backing is the memory a Heap manages. Base must be page aligned and the memory in [Base, Base+Size)
// must stay readable and writable until Close is called.
type Backing interface {
	Base() uintptr
	Size() int
	Close() error
}

// FixedBacking is memory that is already mapped and never released, such as the identity-mapped heap
// range a kernel reserves at boot
type FixedBacking struct {
	base uintptr
	size int
}

// NewFixedBacking describes size bytes of already-mapped memory starting at base
func NewFixedBacking(base uintptr, size int) FixedBacking {
	return FixedBacking{base: base, size: size}
}

func (b FixedBacking) Base() uintptr { return b.base }
func (b FixedBacking) Size() int     { return b.size }
func (b FixedBacking) Close() error  { return nil }

var _ Backing = FixedBacking{}
var _ Backing = &region.Region{}

// Options contains optional settings when creating a Heap
type Options struct {
	// OrderCount is the number of size classes in the heap. If it is 0, DefaultOrderCount is used,
	// reduced as needed for small heaps.
	OrderCount int
	// ExternallySynchronized disables the heap's internal mutex. The consumer must guarantee that the
	// Heap is only used by one goroutine at a time.
	ExternallySynchronized bool
}

// Heap is a buddy allocator together with the memory it manages
type Heap struct {
	logger    *slog.Logger
	mutex     utils.OptionalMutex
	backing   Backing
	allocator *buddy.HeapAllocator
	closed    bool
}

// New creates a Heap over backing. The heap is the largest power of two that fits in the backing.
// The backing is not closed if New fails.
func New(logger *slog.Logger, backing Backing, options Options) (*Heap, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if backing.Size() < 1 {
		return nil, errors.Wrapf(memutils.ErrContractViolation, "backing memory must have a positive size, received %d", backing.Size())
	}

	heapSize := 1 << (bits.Len(uint(backing.Size())) - 1)
	orderCount := resolveOrderCount(heapSize, options.OrderCount)

	allocator, err := buddy.New(logger, backing.Base(), make([]freelist.FreeList, orderCount), heapSize)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create heap allocator")
	}

	logger.Info("Heap::New",
		slog.Uint64("Base", uint64(backing.Base())),
		slog.Int("HeapSize", heapSize),
		slog.Int("OrderCount", orderCount),
		slog.Int("MinBlockSize", allocator.MinBlockSize()),
		slog.Bool("ExternallySynchronized", options.ExternallySynchronized))

	return &Heap{
		logger:    logger,
		mutex:     utils.OptionalMutex{UseMutex: !options.ExternallySynchronized},
		backing:   backing,
		allocator: allocator,
	}, nil
}

// NewFromRegion reserves a fresh region of size bytes and creates a Heap over it. Closing the Heap
// releases the region.
func NewFromRegion(logger *slog.Logger, size int, options Options) (*Heap, error) {
	reserved, err := region.New(size)
	if err != nil {
		return nil, err
	}

	heap, err := New(logger, reserved, options)
	if err != nil {
		return nil, errors.CombineErrors(err, reserved.Close())
	}

	return heap, nil
}

// NewFromParams creates a Heap over the heap range described by the boot parameters. The range must
// already be mapped; see Geometry for how the heap is placed inside it.
func NewFromParams(logger *slog.Logger, params *bootparams.InitParams, options Options) (*Heap, error) {
	base, size, orderCount, err := Geometry(params, options.OrderCount)
	if err != nil {
		return nil, err
	}

	options.OrderCount = orderCount
	return New(logger, NewFixedBacking(base, size), options)
}

// Allocator returns the underlying allocator. It is not protected by the Heap's mutex.
func (h *Heap) Allocator() *buddy.HeapAllocator {
	return h.allocator
}

// Alloc reserves memory for size bytes aligned to align and returns its address
func (h *Heap) Alloc(size int, align int) (uintptr, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.closed {
		return 0, errors.New("attempted to allocate from a closed heap")
	}

	return h.allocator.Allocate(size, align)
}

// Free returns memory obtained from Alloc. size and align must be the values passed to Alloc.
func (h *Heap) Free(addr uintptr, size int, align int) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.closed {
		return errors.New("attempted to free memory to a closed heap")
	}

	order, err := h.allocator.AllocOrder(size, align)
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "size %d and alignment %d could not have been allocated", size, align), memutils.ErrContractViolation)
	}

	h.allocator.Deallocate(addr, order)
	return nil
}

// Bytes returns a view of size bytes at addr, which must lie inside the heap. The view must not be
// used after the heap is closed.
func (h *Heap) Bytes(addr uintptr, size int) ([]byte, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.closed {
		return nil, errors.New("attempted to access memory of a closed heap")
	}

	if size < 0 || !h.allocator.Contains(addr) || addr+uintptr(size) > h.allocator.Start()+uintptr(h.allocator.HeapSize()) {
		return nil, errors.Newf("range of %d bytes at %#x is not inside the heap", size, addr)
	}

	return freelist.Bytes(addr, size), nil
}

// Validate checks the consistency of the underlying allocator
func (h *Heap) Validate() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.allocator.Validate()
}

// Statistics returns the heap's current usage
func (h *Heap) Statistics() memutils.DetailedStatistics {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	var stats memutils.DetailedStatistics
	stats.Clear()
	h.allocator.AddDetailedStatistics(&stats)
	return stats
}

// BuildStatsString returns a json document describing the heap and its backing memory
func (h *Heap) BuildStatsString(detailedMap bool) string {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	writer := jwriter.NewWriter()
	obj := writer.Object()
	obj.Name("BackingBase").Int(int(h.backing.Base()))
	obj.Name("BackingSize").Int(h.backing.Size())
	obj.Name("Closed").Bool(h.closed)

	heapObj := obj.Name("Heap").Object()
	if detailedMap {
		h.allocator.PrintDetailedMap(&heapObj)
	} else {
		var stats memutils.Statistics
		h.allocator.AddStatistics(&stats)
		heapObj.Name("TotalBytes").Int(stats.HeapBytes)
		heapObj.Name("UnusedBytes").Int(stats.FreeBytes())
		heapObj.Name("Allocations").Int(stats.AllocationCount)
	}
	heapObj.End()

	obj.End()
	return string(writer.Bytes())
}

// Close releases the backing memory. Every address handed out by the heap becomes invalid.
func (h *Heap) Close() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.closed {
		return errors.New("heap is already closed")
	}
	h.closed = true

	if !h.allocator.IsEmpty() {
		h.logger.Debug("Heap::Close with live allocations", slog.Int("AllocationCount", h.allocator.AllocationCount()))
	}

	err := h.backing.Close()
	if err != nil {
		h.logger.Error("error attempting to release heap backing memory", slog.Any("error", err))
		return errors.Wrap(err, "failed to release heap backing memory")
	}

	return nil
}
