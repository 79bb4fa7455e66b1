package iomgr

import (
	"errors"
	"fmt"
	"strings"

	"blkio/internal/workers"
)

// Backend executes actions that the conflict resolver has cleared. Completion is reported
// through the done hook handed to the backend at construction, always from the owning loop
// and never from inside Submit.
type Backend interface {
	Submit(a *Action)
	Close() error
}

// Poster is the owning execution context as seen from a backend.
type Poster interface {
	Post(fn func())
}

const RING_ENTRIES	= 0x100
const POOL_WORKERS	= 4

type BackendKind int
const (
	BackendUring BackendKind = iota // native async
	BackendPool                     // blocking calls on a worker pool
)

var ErrUnknownBackend = errors.New("unknown io backend")

func (k BackendKind) String() string {
	switch k {
	case BackendUring:	return "uring"
	case BackendPool:	return "pool"
	default:			return fmt.Sprintf("BackendKind(%d)", int(k))
	}
}

func ParseBackendKind(s string) (BackendKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "uring", "io_uring", "native", "aio":
		return BackendUring, nil
	case "pool", "threadpool", "emulated":
		return BackendPool, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownBackend, s)
	}
}

type Options struct {
	Backend		BackendKind

	RingEntries	uint32 // uring, power of two
	RingCPU		int    // uring, < 0 to leave unpinned

	Workers		*workers.Pool // pool, shared. nil starts a private pool
	PoolWorkers	int           // pool, size of the private pool

	Sink		StatsSink // nil means a fresh Counters
	DumpWrites	bool      // log every write payload at debug
}

func DefaultOptions() Options {
	return Options{
		Backend:		BackendUring,
		RingEntries:	RING_ENTRIES,
		RingCPU:		-1,
		PoolWorkers:	POOL_WORKERS,
	}
}
