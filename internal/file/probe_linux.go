//go:build linux

package file

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"

	"blkio/internal/iomgr"

	"golang.org/x/sys/unix"
)

// ProbeDirect reports whether O_DIRECT works for files in dir, by writing one page-aligned
// page to a scratch file. tmpfs and some virtualized filesystems refuse it.
func ProbeDirect(dir string) (bool, error) {
	path := filepath.Join(dir, fmt.Sprintf(".odirect_probe%016x", rand.Uint64()))

	fd, err := unix.Open(path, unix.O_RDWR | unix.O_CREAT | unix.O_EXCL | unix.O_DIRECT, F_OPEN_PERM)
	if errors.Is(err, unix.EINVAL) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer os.Remove(path)
	defer unix.Close(fd)

	pageSize := os.Getpagesize()
	buf, err := iomgr.AllocSlab(pageSize)
	if err != nil {
		return false, err
	}
	defer iomgr.DeallocSlab(buf)

	n, err := unix.Pwrite(fd, buf, 0)
	if errors.Is(err, unix.EINVAL) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return n == pageSize, nil
}
