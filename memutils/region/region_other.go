//go:build !unix

package region

import (
	"unsafe"

	"github.com/bytedance/gopkg/lang/dirtmake"
	"github.com/sos-kernel/kalloc/memutils"
)

// Without mmap, over-allocate by one page and start at the first page boundary. The buffer is not
// zeroed, so callers must not assume memory handed out by a heap over it starts zeroed.
func mapMemory(size int) ([]byte, int, error) {
	data := dirtmake.Bytes(size+memutils.PageSize, size+memutils.PageSize)
	start := uintptr(unsafe.Pointer(&data[0]))
	offset := int(memutils.AlignUp(start, memutils.PageSize) - start)

	return data, offset, nil
}

func unmapMemory(data []byte) error {
	return nil
}
