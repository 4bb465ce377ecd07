package buddy_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/sos-kernel/kalloc/buddy"
	"github.com/sos-kernel/kalloc/memutils"
	"github.com/sos-kernel/kalloc/memutils/freelist"
	"github.com/sos-kernel/kalloc/memutils/region"
	"github.com/stretchr/testify/require"
)

func newTestRegion(t *testing.T, size int) *region.Region {
	t.Helper()

	reg, err := region.New(size)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, reg.Close())
	})

	return reg
}

func newTestHeap(t *testing.T, heapSize int, orderCount int) *buddy.HeapAllocator {
	t.Helper()

	reg := newTestRegion(t, heapSize)
	heap, err := buddy.New(nil, reg.Base(), make([]freelist.FreeList, orderCount), heapSize)
	require.NoError(t, err)

	return heap
}

func requireSingleTopBlock(t *testing.T, heap *buddy.HeapAllocator) {
	t.Helper()

	top := heap.OrderCount() - 1
	for order := 0; order < top; order++ {
		require.Equal(t, 0, heap.FreeBlockCount(order), "order %d", order)
	}
	require.Equal(t, 1, heap.FreeBlockCount(top))
	require.Equal(t, heap.HeapSize(), heap.SumFreeSize())
	require.True(t, heap.IsEmpty())
	require.NoError(t, heap.Validate())
}

func TestNewContractViolations(t *testing.T) {
	reg := newTestRegion(t, memutils.PageSize)

	nonEmpty := make([]freelist.FreeList, 5)
	nonEmpty[2].Push(reg.Base() + 2048)

	testCases := map[string]struct {
		Start     uintptr
		FreeLists []freelist.FreeList
		HeapSize  int
	}{
		"NullStart":          {0, make([]freelist.FreeList, 5), 1024},
		"NoFreeLists":        {reg.Base(), nil, 1024},
		"MisalignedStart":    {reg.Base() + 64, make([]freelist.FreeList, 5), 1024},
		"HeapNotPowerOfTwo":  {reg.Base(), make([]freelist.FreeList, 5), 1000},
		"NegativeHeapSize":   {reg.Base(), make([]freelist.FreeList, 5), -1024},
		"TooManyOrders":      {reg.Base(), make([]freelist.FreeList, 12), 1024},
		"BlockSmallerThanHd": {reg.Base(), make([]freelist.FreeList, 9), 1024},
		"NonEmptyFreeList":   {reg.Base(), nonEmpty, 1024},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			heap, err := buddy.New(nil, testCase.Start, testCase.FreeLists, testCase.HeapSize)
			require.Error(t, err)
			require.Nil(t, heap)
			require.True(t, errors.Is(err, memutils.ErrContractViolation), err.Error())

			require.Panics(t, func() {
				buddy.MustNew(nil, testCase.Start, testCase.FreeLists, testCase.HeapSize)
			})
		})
	}
}

func TestNewHeapSizeNotPowerOfTwo(t *testing.T) {
	reg := newTestRegion(t, memutils.PageSize)

	_, err := buddy.New(nil, reg.Base(), make([]freelist.FreeList, 3), 3000)
	require.True(t, errors.Is(err, memutils.PowerOfTwoError))
	require.True(t, errors.Is(err, memutils.ErrContractViolation))
}

func TestNewSeedsTopOrder(t *testing.T) {
	heap := newTestHeap(t, 1024, 5)

	require.Equal(t, 64, heap.MinBlockSize())
	require.Equal(t, 1024, heap.HeapSize())
	require.Equal(t, 5, heap.OrderCount())
	require.Equal(t, []int{64, 128, 256, 512, 1024}, []int{
		heap.BlockSize(0), heap.BlockSize(1), heap.BlockSize(2), heap.BlockSize(3), heap.BlockSize(4),
	})

	requireSingleTopBlock(t, heap)

	var visited []uintptr
	err := heap.VisitFreeBlocks(func(addr uintptr, order int) error {
		require.Equal(t, 4, order)
		visited = append(visited, addr)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []uintptr{heap.Start()}, visited)
}

func TestSingleOrderHeap(t *testing.T) {
	heap := newTestHeap(t, memutils.PageSize, 1)
	require.Equal(t, memutils.PageSize, heap.MinBlockSize())

	addr, err := heap.Allocate(1, 1)
	require.NoError(t, err)
	require.Equal(t, heap.Start(), addr)

	_, err = heap.Allocate(1, 1)
	require.True(t, errors.Is(err, memutils.ErrOutOfMemory))

	heap.Deallocate(addr, 0)
	requireSingleTopBlock(t, heap)
}

func TestAllocSizeAndOrder(t *testing.T) {
	heap := newTestHeap(t, 1024, 5)

	testCases := map[string]struct {
		Size          int
		Align         int
		ExpectedSize  int
		ExpectedOrder int
		ExpectedErr   error
	}{
		"MinBlock":            {Size: 64, Align: 8, ExpectedSize: 64, ExpectedOrder: 0},
		"RoundsUp":            {Size: 100, Align: 8, ExpectedSize: 128, ExpectedOrder: 1},
		"ZeroSize":            {Size: 0, Align: 1, ExpectedSize: 64, ExpectedOrder: 0},
		"TinySize":            {Size: 1, Align: 1, ExpectedSize: 64, ExpectedOrder: 0},
		"JustOverBlock":       {Size: 65, Align: 1, ExpectedSize: 128, ExpectedOrder: 1},
		"AlignmentDominates":  {Size: 1, Align: 256, ExpectedSize: 256, ExpectedOrder: 2},
		"WholeHeap":           {Size: 1024, Align: 1, ExpectedSize: 1024, ExpectedOrder: 4},
		"LargerThanHeap":      {Size: 1025, Align: 1, ExpectedErr: memutils.ErrOutOfMemory},
		"PageAlignTooLarge":   {Size: 1, Align: memutils.PageSize, ExpectedErr: memutils.ErrOutOfMemory},
		"AlignNotPowerOfTwo":  {Size: 10, Align: 3, ExpectedErr: memutils.ErrInvalidRequest},
		"AlignZero":           {Size: 10, Align: 0, ExpectedErr: memutils.ErrInvalidRequest},
		"AlignAbovePage":      {Size: 10, Align: 2 * memutils.PageSize, ExpectedErr: memutils.ErrInvalidRequest},
		"NegativeSize":        {Size: -1, Align: 8, ExpectedErr: memutils.ErrInvalidRequest},
		"BadAlignHugeRequest": {Size: 1 << 30, Align: 3, ExpectedErr: memutils.ErrInvalidRequest},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			size, err := heap.AllocSize(testCase.Size, testCase.Align)
			order, orderErr := heap.AllocOrder(testCase.Size, testCase.Align)

			if testCase.ExpectedErr != nil {
				require.True(t, errors.Is(err, testCase.ExpectedErr), "%+v", err)
				require.True(t, errors.Is(orderErr, testCase.ExpectedErr), "%+v", orderErr)
				return
			}

			require.NoError(t, err)
			require.NoError(t, orderErr)
			require.Equal(t, testCase.ExpectedSize, size)
			require.Equal(t, testCase.ExpectedOrder, order)
		})
	}
}

func TestAllocateSplitsAndCoalesces(t *testing.T) {
	heap := newTestHeap(t, 1024, 5)
	start := heap.Start()

	first, err := heap.Allocate(64, 8)
	require.NoError(t, err)
	require.Equal(t, start, first)

	// The whole heap was split down to order 0, leaving one upper half at each order below the top
	for order := 0; order < 4; order++ {
		require.Equal(t, 1, heap.FreeBlockCount(order), "order %d", order)
	}
	require.Equal(t, 0, heap.FreeBlockCount(4))
	require.NoError(t, heap.Validate())

	second, err := heap.Allocate(64, 8)
	require.NoError(t, err)
	require.Equal(t, start+64, second)

	third, err := heap.Allocate(64, 8)
	require.NoError(t, err)
	require.Equal(t, start+128, third)

	order, err := heap.AllocOrder(100, 8)
	require.NoError(t, err)
	require.Equal(t, 1, order)

	fourth, err := heap.Allocate(100, 8)
	require.NoError(t, err)
	require.Equal(t, start+256, fourth)
	require.Equal(t, 4, heap.AllocationCount())
	require.NoError(t, heap.Validate())

	heap.Deallocate(first, 0)
	heap.Deallocate(second, 0)
	heap.Deallocate(third, 0)
	heap.Deallocate(fourth, 1)

	requireSingleTopBlock(t, heap)
}

func TestWholeHeapAllocation(t *testing.T) {
	heap := newTestHeap(t, 1024, 5)

	addr, err := heap.Allocate(1024, 8)
	require.NoError(t, err)
	require.Equal(t, heap.Start(), addr)
	require.Equal(t, 0, heap.SumFreeSize())

	_, err = heap.Allocate(1024, 8)
	require.Error(t, err)
	require.True(t, errors.Is(err, memutils.ErrOutOfMemory))
	require.False(t, errors.Is(err, memutils.ErrInvalidRequest))

	_, err = heap.Allocate(1, 1)
	require.True(t, errors.Is(err, memutils.ErrOutOfMemory))

	heap.Deallocate(addr, 4)
	requireSingleTopBlock(t, heap)

	addr, err = heap.Allocate(1024, 8)
	require.NoError(t, err)
	require.Equal(t, heap.Start(), addr)
}

func TestBadAlignmentIsNeverOutOfMemory(t *testing.T) {
	heap := newTestHeap(t, 1024, 5)

	full, err := heap.Allocate(1024, 1)
	require.NoError(t, err)

	for _, size := range []int{0, 1, 64, 1024, 1 << 20} {
		_, err := heap.Allocate(size, 3)
		require.True(t, errors.Is(err, memutils.ErrInvalidRequest), "size %d", size)
		require.False(t, errors.Is(err, memutils.ErrOutOfMemory), "size %d", size)
	}

	heap.Deallocate(full, 4)
	requireSingleTopBlock(t, heap)
}

func TestOutOfMemoryLeavesHeapUsable(t *testing.T) {
	heap := newTestHeap(t, 1024, 5)

	var addrs []uintptr
	for i := 0; i < 16; i++ {
		addr, err := heap.Allocate(1, 1)
		require.NoError(t, err)
		addrs = append(addrs, addr)
	}

	_, err := heap.Allocate(1, 1)
	require.True(t, errors.Is(err, memutils.ErrOutOfMemory))
	require.NoError(t, heap.Validate())
	require.Equal(t, 16, heap.AllocationCount())

	heap.Deallocate(addrs[5], 0)
	addr, err := heap.Allocate(1, 1)
	require.NoError(t, err)
	require.Equal(t, addrs[5], addr)

	for _, addr := range addrs {
		heap.Deallocate(addr, 0)
	}

	requireSingleTopBlock(t, heap)
}

func TestDeallocateInSameOrderRestoresHeap(t *testing.T) {
	heap := newTestHeap(t, 4096, 7)

	type allocation struct {
		addr  uintptr
		order int
	}

	sizes := []int{1, 200, 64, 500, 33, 1000, 64, 128, 8, 300}
	var allocations []allocation
	for _, size := range sizes {
		order, err := heap.AllocOrder(size, 8)
		require.NoError(t, err)

		addr, err := heap.Allocate(size, 8)
		require.NoError(t, err)
		allocations = append(allocations, allocation{addr: addr, order: order})
	}
	require.NoError(t, heap.Validate())

	for _, alloc := range allocations {
		heap.Deallocate(alloc.addr, alloc.order)
		require.NoError(t, heap.Validate())
	}

	requireSingleTopBlock(t, heap)
}

func TestDeallocateContractViolations(t *testing.T) {
	heap := newTestHeap(t, 1024, 5)

	addr, err := heap.Allocate(100, 8)
	require.NoError(t, err)

	require.Panics(t, func() { heap.Deallocate(addr, -1) })
	require.Panics(t, func() { heap.Deallocate(addr, 5) })
	require.Panics(t, func() { heap.Deallocate(heap.Start()-64, 0) })
	require.Panics(t, func() { heap.Deallocate(heap.Start()+1024, 0) })
	require.Panics(t, func() { heap.Deallocate(addr+64, 1) })
	require.Panics(t, func() { heap.Deallocate(addr, 0) })

	// None of the rejected calls touched the heap
	require.NoError(t, heap.Validate())
	heap.Deallocate(addr, 1)
	requireSingleTopBlock(t, heap)
}

func TestReset(t *testing.T) {
	heap := newTestHeap(t, 2048, 6)

	for i := 0; i < 5; i++ {
		_, err := heap.Allocate(40*(i+1), 8)
		require.NoError(t, err)
	}
	require.False(t, heap.IsEmpty())

	heap.Reset()
	requireSingleTopBlock(t, heap)

	addr, err := heap.Allocate(2048, 1)
	require.NoError(t, err)
	require.Equal(t, heap.Start(), addr)
}

func TestDoubleFreePanicsInDebugBuilds(t *testing.T) {
	if !memutils.DebugEnabled {
		t.Skip("double frees are only detected with the debug_mem_utils build tag")
	}

	heap := newTestHeap(t, 1024, 5)

	first, err := heap.Allocate(64, 8)
	require.NoError(t, err)
	_, err = heap.Allocate(64, 8)
	require.NoError(t, err)

	heap.Deallocate(first, 0)
	heap.Deallocate(first, 0)

	require.Panics(t, func() {
		_, _ = heap.Allocate(64, 8)
	})
}
