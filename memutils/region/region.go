// Package region provides page-aligned memory for a heap to manage
package region

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/sos-kernel/kalloc/memutils"
)

// Region is a page-aligned range of memory that lives outside any allocator using it. The memory
// stays valid until Close is called.
type Region struct {
	data []byte
	base uintptr
	size int
}

// New reserves at least size bytes of page-aligned memory. The size is rounded up to a whole number
// of pages.
func New(size int) (*Region, error) {
	if size < 1 {
		return nil, errors.Newf("region size must be a positive integer, received %d", size)
	}

	mappedSize := int(memutils.AlignUp(uintptr(size), memutils.PageSize))
	data, offset, err := mapMemory(mappedSize)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to reserve %d bytes for region", mappedSize)
	}

	base := uintptr(unsafe.Pointer(&data[offset]))
	if !memutils.IsAligned(base, memutils.PageSize) {
		_ = unmapMemory(data)
		return nil, errors.AssertionFailedf("reserved memory at %#x is not page aligned", base)
	}

	return &Region{
		data: data,
		base: base,
		size: mappedSize,
	}, nil
}

// Base returns the address of the first byte in the region
func (r *Region) Base() uintptr { return r.base }

// Size returns the number of bytes in the region
func (r *Region) Size() int { return r.size }

// Contains returns true if addr lies inside the region
func (r *Region) Contains(addr uintptr) bool {
	return r.data != nil && addr >= r.base && addr < r.base+uintptr(r.size)
}

// Close releases the region's memory. Addresses inside the region must not be used afterward.
func (r *Region) Close() error {
	if r.data == nil {
		return errors.New("region is already closed")
	}

	err := unmapMemory(r.data)
	r.data = nil
	return err
}
