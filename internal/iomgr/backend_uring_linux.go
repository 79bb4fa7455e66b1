//go:build linux

package iomgr

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"syscall"
	"unsafe"

	"blkio/internal/util"

	"github.com/aethne0/giouring"
	"github.com/negrel/assert"
	"golang.org/x/sys/unix"
)

// PERF:
// 1. read/write fixed
// 2. register buffer
// 3. register file
// The ring goroutine polls with a 1ms timeout while anything is in flight, so a submission
// that lands mid-wait can sit for up to that long before it reaches the kernel.

const RING_WAIT_NS	= 1_000_000
const OVERFLOW_Q	= 0x100

// UringBackend runs actions through a private io_uring. One goroutine (locked to its OS
// thread) owns the ring: it drains submissions, prepares SQEs, submits, and reaps CQEs.
//
// In-flight actions live in a ticket table; the ticket is the SQE user_data, which keeps
// Go pointers out of the kernel. When the SQ or the ticket table is full, actions wait in
// an overflow queue and are retried after the next reap.
type UringBackend struct {
	log			*slog.Logger
	loop		Poster
	done		func(*Action)
	ring 		*giouring.Ring
	cpu			int
	entries		int

	mu			sync.Mutex
	incoming	[]*Action
	spare		[]*Action

	wake		chan struct{}
	stop		chan struct{}
	stopped		chan struct{}

	// owned by the ring goroutine
	overflow	util.Queue[*Action]
	tickets		util.TicketQueue[*Action]
}

// entries must be a power of two. cpu < 0 leaves the ring thread unpinned.
func CreateUringBackend(loop Poster, done func(*Action), entries uint32, cpu int) (*UringBackend, error) {
	log := slog.With("src", "UringBackend")

	if entries == 0 { entries = RING_ENTRIES }
	ring, err := giouring.CreateRing(entries)
	if err != nil { return nil, fmt.Errorf("create ring (%d entries): %w", entries, err) }

	b := &UringBackend {
		log: 		log,
		loop:		loop,
		done:		done,
		ring: 		ring,
		cpu:		cpu,
		entries:	int(entries),
		wake:		make(chan struct{}, 1),
		stop:		make(chan struct{}),
		stopped:	make(chan struct{}),
		overflow:	util.CreateGrowQueue[*Action](OVERFLOW_Q),
		tickets:	util.CreateTicketQueue[*Action](int(entries)),
	}

	log.Debug("CreateUringBackend", "entries", entries, "cpu", cpu)
	go b.ringlord()
	return b, nil
}

// Never blocks.
func (b *UringBackend) Submit(a *Action) {
	b.mu.Lock()
	b.incoming = append(b.incoming, a)
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Must only be called once nothing is outstanding.
func (b *UringBackend) Close() error {
	close(b.stop)
	<- b.stopped
	b.ring.QueueExit()
	return nil
}

func (b *UringBackend) inflight() int {
	return b.entries - b.tickets.Free()
}

// moves everything Submit has handed over into the overflow queue
func (b *UringBackend) collect() {
	b.mu.Lock()
	batch := b.incoming
	b.incoming = b.spare[:0]
	b.mu.Unlock()

	for i, a := range batch {
		b.overflow.Push(a)
		batch[i] = nil
	}
	b.spare = batch
}

// prepares SQEs for as many queued actions as the SQ and the ticket table allow
func (b *UringBackend) prepSQEs() int {
	prepared := 0
	for !b.overflow.Empty() && b.tickets.Free() > 0 {
		sqe := b.ring.GetSQE()
		if sqe == nil {
			// SQ full, try again after the next submit
			break
		}

		a := b.overflow.Pop()
		ticket := b.tickets.Acq(a)
		bufptr := uintptr(unsafe.Pointer(unsafe.SliceData(a.Buf)))

		switch a.Opcode {
		case OpRead:
			sqe.PrepareRead(a.Fd, bufptr, uint32(len(a.Buf)), a.Offset)
		case OpWrite:
			sqe.PrepareWrite(a.Fd, bufptr, uint32(len(a.Buf)), a.Offset)
		default:
			fatalf(b.log, "invalid opcode", "action", a)
		}
		sqe.UserData = uint64(ticket)
		prepared++
	}
	return prepared
}

func (b *UringBackend) complete(a *Action, res int32) {
	if res < 0 {
		errno := unix.Errno(-res)
		if errno == unix.EINTR || errno == unix.EAGAIN {
			a.retries++
			b.log.Debug("retrying", "action", a, "errno", errno)
			b.overflow.Push(a)
			return
		}
		fatalf(b.log, "io failed", "action", a, "err", errno)
	}
	if int(res) != len(a.Buf) {
		fatalf(b.log, "short transfer", "action", a, "res", res)
	}

	b.loop.Post(func() { b.done(a) })
}

func (b *UringBackend) reap() {
	for b.inflight() > 0 {
		cqe, err := b.ring.PeekCQE()
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			break
		} else if err != nil {
			fatalf(b.log, "PeekCQE", "err", err)
		}
		if cqe == nil {
			break
		}

		ticket := int(cqe.UserData)
		res := cqe.Res
		b.ring.CQESeen(cqe)

		b.complete(b.tickets.Rel(ticket), res)
	}
}

func (b *UringBackend) idle() bool {
	if b.inflight() > 0 || !b.overflow.Empty() { return false }
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.incoming) == 0
}

// "Those who sow the good seed
// Shall surely reap"
func (b *UringBackend) ringlord() {
	defer close(b.stopped)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if b.cpu >= 0 && b.cpu < runtime.NumCPU() {
		var cpuSet unix.CPUSet
		cpuSet.Zero()
		cpuSet.Set(b.cpu)
		err := unix.SchedSetaffinity(0, &cpuSet)
		if err != nil { b.log.Warn("Couldn't set core affinity for ring", "cpu", b.cpu, "err", err) }
	}

	stime := syscall.Timespec { Sec: 0, Nsec: RING_WAIT_NS }
	var sigset unix.Sigset_t

	for {
		b.collect()
		b.prepSQEs()

		if b.inflight() == 0 {
			// nothing to reap. either everything got resubmitted above or we're idle
			if b.idle() {
				select {
				case <- b.wake:
				case <- b.stop:
					if b.idle() { return }
				}
			}
			continue
		}
		assert.LessOrEqual(b.inflight(), b.entries, "more in flight than tickets")

		_, err := b.ring.SubmitAndWaitTimeout(1, &stime, &sigset)
		if err != nil && !errors.Is(err, unix.ETIME) && !errors.Is(err, unix.EINTR) {
			b.log.Error("SubmitAndWaitTimeout", "err", err)
			runtime.Gosched()
		}

		b.reap()
	}
}
