//go:build linux

// Package file owns a database file or block device opened for direct I/O, keeps its size
// straight, and is the single alignment gate in front of the disk manager.
package file

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"unsafe"

	c "blkio/internal"
	"blkio/internal/iomgr"

	"golang.org/x/sys/unix"
)

var (
	ErrBadMode			= errors.New("bad file access mode")
	ErrInaccessible		= errors.New("inaccessible database file")
	ErrBadBlockSize		= errors.New("block size must be a power of two >= 512")
)

const F_OPEN_PERM = 0b_000_110_100_100

type Mode uint8
const (
	ModeRead	Mode = 1 << iota
	ModeWrite
	ModeCreate
)

type Options struct {
	Direct		bool   // O_DIRECT. Off only for filesystems that refuse it (tmpfs)
	BlockSize	uint64 // alignment unit, 0 means c.DEVICE_BLOCK_SIZE

	// Owning execution context for async io. Without one the file only does blocking io.
	Loop		iomgr.Poster
	Disk		iomgr.Options
}

func DefaultOptions() Options {
	return Options{
		Direct:		true,
		BlockSize:	c.DEVICE_BLOCK_SIZE,
		Disk:		iomgr.DefaultOptions(),
	}
}

type File struct {
	log			*slog.Logger
	path		string
	fd			int
	exists		bool
	isBlock		bool
	size		uint64
	blockSize	uint64
	diskmgr		*iomgr.DiskManager
}

// Open stats path, opens it for direct io and measures it. A missing file without
// ModeCreate is not an error: the returned File just reports !Exists().
func Open(path string, mode Mode, opts Options) (*File, error) {
	log := slog.With("src", "File", "path", path)

	if opts.BlockSize == 0 { opts.BlockSize = c.DEVICE_BLOCK_SIZE }
	if !c.IsPow2(opts.BlockSize) || opts.BlockSize < c.MIN_BLOCK_SIZE {
		return nil, fmt.Errorf("%w: %d", ErrBadBlockSize, opts.BlockSize)
	}

	flags := unix.O_CREAT | unix.O_LARGEFILE
	if opts.Direct { flags |= unix.O_DIRECT }

	f := &File{
		log:		log,
		path:		path,
		fd:			-1,
		blockSize:	opts.BlockSize,
	}

	var st unix.Stat_t
	err := unix.Stat(path, &st)
	switch {
	case errors.Is(err, unix.ENOENT):
		if mode & ModeCreate == 0 {
			log.Debug("does not exist")
			return f, nil
		}
		f.isBlock = false
	case err != nil:
		return nil, fmt.Errorf("%w: stat %q: %w", ErrInaccessible, path, err)
	default:
		f.isBlock = st.Mode & unix.S_IFMT == unix.S_IFBLK
	}

	switch {
	case mode & ModeRead != 0 && mode & ModeWrite != 0:
		flags |= unix.O_RDWR
	case mode & ModeWrite != 0:
		flags |= unix.O_WRONLY
	case mode & ModeRead != 0:
		flags |= unix.O_RDONLY
	default:
		return nil, fmt.Errorf("%w: %03b", ErrBadMode, mode)
	}

	// O_NOATIME needs ownership (or root). Assume we own regular files but not devices.
	if !f.isBlock { flags |= unix.O_NOATIME }

	fd, err := unix.Open(path, flags, F_OPEN_PERM)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInaccessible, path, err)
	}
	f.fd = fd
	f.exists = true

	if f.isBlock {
		f.size, err = blockDeviceSize(fd)
	} else {
		f.size, err = regularFileSize(fd)
	}
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	if opts.Loop != nil {
		f.diskmgr, err = iomgr.CreateDiskManager(opts.Loop, opts.Disk)
		if err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("create disk manager: %w", err)
		}
	}

	log.Debug("Open", "block", f.isBlock, "size", f.size, "direct", opts.Direct, 
		"async", f.diskmgr != nil)
	return f, nil
}

func blockDeviceSize(fd int) (uint64, error) {
	var size uint64
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), unix.BLKGETSIZE64, 
		uintptr(unsafe.Pointer(&size)))
	if errno != 0 {
		return 0, fmt.Errorf("could not determine block device size: %w", errno)
	}
	return size, nil
}

func regularFileSize(fd int) (uint64, error) {
	size, err := unix.Seek(fd, 0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("could not determine file size: %w", err)
	}
	if _, err = unix.Seek(fd, 0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("could not reset file position: %w", err)
	}
	return uint64(size), nil
}

func (f *File) Exists() bool			{ return f.exists }
func (f *File) IsBlockDevice() bool		{ return f.isBlock }
func (f *File) Size() uint64			{ return f.size }
func (f *File) BlockSize() uint64		{ return f.blockSize }
func (f *File) Fd() int					{ return f.fd }

// nil if the file was opened without a loop
func (f *File) DiskManager() *iomgr.DiskManager { return f.diskmgr }

// Truncates or extends a regular file to exactly size bytes. Callers keep size block aligned.
func (f *File) SetSize(size uint64) error {
	if f.isBlock {
		f.fatalf("SetSize on a block device", "size", size)
	}
	if err := unix.Ftruncate(f.fd, int64(size)); err != nil {
		return fmt.Errorf("could not ftruncate %q to %d: %w", f.path, size, err)
	}
	f.size = size
	return nil
}

// Makes sure the file is at least size bytes. Regular files grow in chunks of GROWTH_BLOCKS
// blocks; devices can't grow at all, so asking for more than a device has is a bug.
func (f *File) SetSizeAtLeast(size uint64) error {
	if f.isBlock {
		if f.size < size {
			f.fatalf("block device too small", "size", f.size, "want", size)
		}
		return nil
	}
	if f.size >= size {
		return nil
	}
	// TODO: make the growth chunk configurable per file
	return f.SetSize(c.CeilAligned(size, f.blockSize * c.GROWTH_BLOCKS))
}

// Queues a read of len(buf) bytes at offset. cb runs on the owning loop once buf is filled.
func (f *File) ReadAsync(offset uint64, buf []byte, cb iomgr.Callback) {
	f.verify(offset, buf)
	f.mustDiskmgr().SubmitRead(f.fd, buf, offset, cb)
}

// Queues a write of buf at offset. buf must not change until cb runs.
func (f *File) WriteAsync(offset uint64, buf []byte, cb iomgr.Callback) {
	f.verify(offset, buf)
	f.mustDiskmgr().SubmitWrite(f.fd, buf, offset, cb)
}

func (f *File) ReadBlocking(offset uint64, buf []byte) {
	f.verify(offset, buf)
	iomgr.Transfer(f.fd, iomgr.OpRead, buf, offset)
}

func (f *File) WriteBlocking(offset uint64, buf []byte) {
	f.verify(offset, buf)
	iomgr.Transfer(f.fd, iomgr.OpWrite, buf, offset)
}

// Refuses while async io is outstanding. Closing a file that never existed is a no-op.
func (f *File) Close() error {
	if !f.exists {
		return nil
	}
	if f.diskmgr != nil {
		if err := f.diskmgr.Close(); err != nil {
			return err
		}
		f.diskmgr = nil
	}
	err := unix.Close(f.fd)
	f.fd = -1
	f.exists = false
	return err
}

func (f *File) mustDiskmgr() *iomgr.DiskManager {
	if f.diskmgr == nil {
		f.fatalf("async io on a file opened without a loop")
	}
	return f.diskmgr
}

// Every io entry point goes through here. Anything off is a caller bug.
func (f *File) verify(offset uint64, buf []byte) {
	length := uint64(len(buf))
	if length == 0 {
		f.fatalf("empty buffer", "off", offset)
	}
	if offset > f.size || length > f.size - offset {
		f.fatalf("io past end of file", "off", offset, "len", length, "size", f.size)
	}

	addr := uint64(uintptr(unsafe.Pointer(unsafe.SliceData(buf))))
	switch {
	case !c.IsAligned(addr, f.blockSize):
		f.fatalf("unaligned buffer", "addr", fmt.Sprintf("0x%x", addr), "bs", f.blockSize)
	case !c.IsAligned(offset, f.blockSize):
		f.fatalf("unaligned offset", "off", offset, "bs", f.blockSize)
	case !c.IsAligned(length, f.blockSize):
		f.fatalf("unaligned length", "len", length, "bs", f.blockSize)
	}
}

func (f *File) fatalf(msg string, args ...any) {
	f.log.Error(msg, args...)
	panic(fmt.Sprintf("file %q: %s", f.path, msg))
}
