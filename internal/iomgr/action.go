package iomgr

import (
	"fmt"
	"strings"
	"time"
	"unsafe"
)

type OpCode uint16
const (
	OpNop 	OpCode = iota
	OpWrite
	OpRead
)

func (o OpCode) String() string {
	switch o {
	case OpNop:		return "NOP"
	case OpWrite:	return "WRITE"
	case OpRead:	return "READ"
	default:		return fmt.Sprintf("OpCode(%d)", uint16(o))
	}
}

// Callback is implemented by whoever submits I/O. OnIOComplete is called exactly once per
// submitted request, on the disk manager's loop, after the transfer has happened.
type Callback interface {
	OnIOComplete()
}

type CallbackFunc func()

func (f CallbackFunc) OnIOComplete() { f() }

// Action is one read or write moving through the pipeline. It is owned by exactly one
// stage at a time; each stage only touches its own section of fields.
//
// The buffer must stay valid (and, for reads, untouched) until the callback runs.
type Action struct {
	Fd		int
	Opcode	OpCode
	Buf		[]byte
	Offset	uint64

	cb		Callback

	// stats
	submitted	time.Time

	// conflict resolver
	seq			uint64
	waits		int
	waiters		[]*Action
	inflight	bool

	// backend
	retries		int

	released	bool
}

func newAction(fd int, opcode OpCode, buf []byte, offset uint64, cb Callback) *Action {
	return &Action{
		Fd:		fd,
		Opcode:	opcode,
		Buf:	buf,
		Offset:	offset,
		cb:		cb,
	}
}

func (a *Action) Count() int {
	return len(a.Buf)
}

// one past the last byte touched
func (a *Action) End() uint64 {
	return a.Offset + uint64(len(a.Buf))
}

// Same fd and intersecting [Offset, End) ranges.
func (a *Action) Overlaps(b *Action) bool {
	return a.Fd == b.Fd && a.Offset < b.End() && b.Offset < a.End()
}

// drops every reference the action holds. Releasing twice is a pipeline bug.
func (a *Action) release() {
	if a.released {
		panic(fmt.Sprintf("iomgr: action released twice: %v", a))
	}
	a.released = true
	a.Buf = nil
	a.cb = nil
	a.waiters = nil
}

func (a *Action) String() string {
	if a == nil {
		return "<nil>"
	}

	var b strings.Builder
	var bufptr uintptr
	if len(a.Buf) > 0 {
		bufptr = uintptr(unsafe.Pointer(unsafe.SliceData(a.Buf)))
	}
	fmt.Fprintf(&b, "Action | %-5v Fd: %d [ Buf: @0x%x | Len: 0x%08x | Off: 0x%08x ] Seq: %d",
		a.Opcode, a.Fd, bufptr, len(a.Buf), a.Offset, a.seq)
	if a.inflight {
		b.WriteString(" inflight")
	} else if a.waits > 0 {
		fmt.Fprintf(&b, " blocked(%d)", a.waits)
	}
	if a.retries > 0 {
		fmt.Fprintf(&b, " retries: %d", a.retries)
	}
	if a.released {
		b.WriteString(" released")
	}
	return b.String()
}
