//go:build unix

package region

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// mmap always hands back page-aligned memory, so no offset is needed
func mapMemory(size int) ([]byte, int, error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, 0, errors.Wrap(err, "mmap")
	}

	return data, 0, nil
}

func unmapMemory(data []byte) error {
	return errors.Wrap(unix.Munmap(data), "munmap")
}
