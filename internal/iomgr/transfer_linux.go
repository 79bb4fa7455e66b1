//go:build linux

package iomgr

import (
	"log/slog"

	"golang.org/x/sys/unix"
)

// Transfer does one blocking positioned read or write of exactly len(buf) bytes. An
// interrupted call is retried; any error or short transfer is fatal.
func Transfer(fd int, opcode OpCode, buf []byte, offset uint64) {
	for {
		var n int
		var err error

		switch opcode {
		case OpRead:
			n, err = unix.Pread(fd, buf, int64(offset))
		case OpWrite:
			n, err = unix.Pwrite(fd, buf, int64(offset))
		default:
			fatalf(slog.Default(), "invalid opcode", "opcode", opcode)
		}

		if err == unix.EINTR {
			continue
		}
		if err != nil {
			fatalf(slog.Default(), "blocking io failed", "op", opcode, "fd", fd, "off", offset, "err", err)
		}
		if n != len(buf) {
			fatalf(slog.Default(), "short transfer", "op", opcode, "fd", fd, "off", offset, 
				"len", len(buf), "n", n)
		}
		return
	}
}
