//go:build linux

package iomgr

import (
	"log/slog"

	"golang.org/x/sys/unix"
)

const MMAP_MODE   	= unix.MAP_ANON  | unix.MAP_PRIVATE
const MMAP_PROT   	= unix.PROT_READ | unix.PROT_WRITE

// For large aligned buffers. The allocation is aligned to the system page size (check using:
// `getconf PAGESIZE`. This will basically always be 0x1000 (4096)), which covers any device
// block size up to that. Not garbage collected - pair with DeallocSlab.
func AllocSlab(size int) ([]byte, error) {
	raw, err := unix.Mmap(-1, 0, int(size), MMAP_PROT, MMAP_MODE)
	if err != nil {
		slog.Error("AllocSlab", "err", err)
	}
	return raw, err
}

func DeallocSlab(ptr []byte) error {
	err := unix.Munmap(ptr)
	if err != nil {
		slog.Error("DeallocSlab", "err", err)
	}
	return err
}
