//go:build linux

package iomgr

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"blkio/internal/util"

	"github.com/cespare/xxhash"
)

var (
	ErrOutstanding	= errors.New("io still outstanding")
)

const DUMP_BYTES = 0x40

// DiskManager is the entry point of the pipeline:
//
//	submit: DiskManager -> Stats -> ConflictResolver -> Backend -> (kernel / worker)
//	done:   Backend -> ConflictResolver -> Stats -> DiskManager -> Callback
//
// Submit* may be called from any goroutine and never block; every stage runs on the loop
// the manager was created with, and so does every callback.
type DiskManager struct {
	log			*slog.Logger
	loop		Poster

	backend		Backend
	resolver	*ConflictResolver
	stats		*Stats
	sink		StatsSink

	outstanding	atomic.Int64
	dumpWrites	bool
}

func CreateDiskManager(loop Poster, opts Options) (*DiskManager, error) {
	return createDiskManager(loop, opts, func(done func(*Action)) (Backend, error) {
		switch opts.Backend {
		case BackendUring:
			return CreateUringBackend(loop, done, opts.RingEntries, opts.RingCPU)
		case BackendPool:
			return CreatePoolBackend(loop, done, opts.Workers, opts.PoolWorkers), nil
		default:
			return nil, fmt.Errorf("%w: %v", ErrUnknownBackend, opts.Backend)
		}
	})
}

func createDiskManager(loop Poster, opts Options, 
	mkBackend func(done func(*Action)) (Backend, error)) (*DiskManager, error) {

	m := &DiskManager{
		log:		slog.With("src", "DiskManager"),
		loop:		loop,
		sink:		opts.Sink,
		dumpWrites:	opts.DumpWrites,
	}
	if m.sink == nil {
		m.sink = CreateCounters()
	}

	backend, err := mkBackend(func(a *Action) { m.resolver.Done(a) })
	if err != nil { return nil, err }

	m.backend = backend
	m.resolver = CreateConflictResolver(backend, func(a *Action) { m.stats.Done(a) })
	m.stats = CreateStats(m.sink, m.resolver, m.done)

	m.log.Debug("CreateDiskManager", "backend", opts.Backend)
	return m, nil
}

func (m *DiskManager) SubmitRead(fd int, buf []byte, offset uint64, cb Callback) {
	m.submit(newAction(fd, OpRead, buf, offset, cb))
}

func (m *DiskManager) SubmitWrite(fd int, buf []byte, offset uint64, cb Callback) {
	if m.dumpWrites {
		m.log.Debug("write", "fd", fd, "off", offset, "len", len(buf), "xxh64", xxhash.Sum64(buf))
		m.log.Debug("write head\n" + util.PrettyPrintBlock(buf, DUMP_BYTES))
	}
	m.submit(newAction(fd, OpWrite, buf, offset, cb))
}

func (m *DiskManager) submit(a *Action) {
	if a.cb == nil {
		fatalf(m.log, "submit without a callback", "action", a)
	}
	m.outstanding.Add(1)
	m.loop.Post(func() { m.stats.Submit(a) })
}

// last stage. The only place an action is released.
func (m *DiskManager) done(a *Action) {
	cb := a.cb
	m.outstanding.Add(-1)
	cb.OnIOComplete()
	a.release()
}

// Submitted but not yet called back.
func (m *DiskManager) Outstanding() int64 {
	return m.outstanding.Load()
}

// Resolver counts. Loop only.
func (m *DiskManager) Pending() int { return m.resolver.Pending() }
func (m *DiskManager) Blocked() int { return m.resolver.Blocked() }

// The counters snapshot, if stats go to the default sink.
func (m *DiskManager) Snapshot() (StatsSnapshot, bool) {
	c, ok := m.sink.(*Counters)
	if !ok { return StatsSnapshot{}, false }
	return c.Snapshot(), true
}

func (m *DiskManager) Close() error {
	if n := m.outstanding.Load(); n > 0 {
		return fmt.Errorf("%w: %d actions", ErrOutstanding, n)
	}
	return m.backend.Close()
}
