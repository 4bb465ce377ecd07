package buddy

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/sos-kernel/kalloc/memutils"
)

// AddStatistics sums this heap's totals into stats
func (h *HeapAllocator) AddStatistics(stats *memutils.Statistics) {
	stats.HeapCount++
	stats.HeapBytes += h.heapSize
	stats.AllocationCount += h.AllocationCount()
	stats.AllocationBytes += h.heapSize - h.SumFreeSize()
}

// AddDetailedStatistics sums this heap's totals and block size ranges into stats
func (h *HeapAllocator) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.HeapCount++
	stats.HeapBytes += h.heapSize

	for order := range h.freeLists {
		blockSize := h.BlockSize(order)

		for i := 0; i < h.freeLists[order].Len(); i++ {
			stats.AddFreeBlock(blockSize)
		}

		for i := 0; i < h.allocCounts[order]; i++ {
			stats.AddAllocation(blockSize)
		}
	}
}

// VisitFreeBlocks calls visit once for each free block in the heap, in order from smallest to largest
// order and most recently freed first within an order. The first error returned by visit stops the walk
// and is returned. visit must not allocate from or deallocate to the heap.
func (h *HeapAllocator) VisitFreeBlocks(visit func(addr uintptr, order int) error) error {
	for order := range h.freeLists {
		it := h.freeLists[order].Iter()
		for addr, ok := it.Next(); ok; addr, ok = it.Next() {
			err := visit(addr, order)
			if err != nil {
				return err
			}
		}
	}

	return nil
}

// PrintDetailedMap populates a json object with information about this heap and each of its orders.
// Free blocks are reported as offsets from the start of the heap.
func (h *HeapAllocator) PrintDetailedMap(json *jwriter.ObjectState) {
	var stats memutils.DetailedStatistics
	stats.Clear()
	h.AddDetailedStatistics(&stats)

	json.Name("TotalBytes").Int(h.heapSize)
	json.Name("UnusedBytes").Int(stats.FreeBytes())
	json.Name("Allocations").Int(stats.AllocationCount)
	json.Name("UnusedRanges").Int(stats.FreeBlockCount)
	json.Name("MinBlockSize").Int(h.minBlockSize)

	orders := json.Name("Orders").Array()
	defer orders.End()

	for order := range h.freeLists {
		o := orders.Object()
		o.Name("Order").Int(order)
		o.Name("BlockSize").Int(h.BlockSize(order))
		o.Name("Allocations").Int(h.allocCounts[order])

		offsets := o.Name("FreeBlockOffsets").Array()
		it := h.freeLists[order].Iter()
		for addr, ok := it.Next(); ok; addr, ok = it.Next() {
			offsets.Int(int(addr - h.start))
		}
		offsets.End()

		o.End()
	}
}

// BuildStatsString returns a json document describing the heap. If detailedMap is true, the free
// blocks of every order are included.
func (h *HeapAllocator) BuildStatsString(detailedMap bool) string {
	writer := jwriter.NewWriter()
	obj := writer.Object()

	var stats memutils.DetailedStatistics
	stats.Clear()
	h.AddDetailedStatistics(&stats)

	total := obj.Name("Total").Object()
	total.Name("HeapCount").Int(stats.HeapCount)
	total.Name("HeapBytes").Int(stats.HeapBytes)
	total.Name("AllocationCount").Int(stats.AllocationCount)
	total.Name("AllocationBytes").Int(stats.AllocationBytes)
	total.Name("FreeBlockCount").Int(stats.FreeBlockCount)
	total.Name("Fragmentation").Float64(stats.Fragmentation())
	total.End()

	if detailedMap {
		detailed := obj.Name("DetailedMap").Object()
		h.PrintDetailedMap(&detailed)
		detailed.End()
	}

	obj.End()
	return string(writer.Bytes())
}
