// Package loop is the single execution context that owns a disk manager's pipeline state.
// Everything posted to a Loop runs on one goroutine, in posting order.
package loop

import (
	"log/slog"
	"sync"

	"blkio/internal/util"
)

const TASK_Q_SIZE = 0x100

type Loop struct {
	log		*slog.Logger

	mu		sync.Mutex
	tasks	util.Queue[func()]
	closed	bool

	wake	chan struct{}
	stopped	chan struct{}
}

func CreateLoop() *Loop {
	l := &Loop{
		log:		slog.With("src", "Loop"),
		tasks:		util.CreateGrowQueue[func()](TASK_Q_SIZE),
		wake:		make(chan struct{}, 1),
		stopped:	make(chan struct{}),
	}
	go l.run()
	return l
}

// Post never blocks. Posting to a closed loop panics, it means something is still
// completing I/O against a context that has already been torn down.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		panic("loop: post after close")
	}
	l.tasks.Push(fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Sync blocks until everything posted before it has run. Must not be called from the
// loop itself.
func (l *Loop) Sync() {
	ch := make(chan struct{})
	l.Post(func() { close(ch) })
	<- ch
}

// Close runs whatever is already queued, then stops the loop goroutine.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	<- l.stopped
}

func (l *Loop) run() {
	defer close(l.stopped)

	for {
		l.mu.Lock()
		if l.tasks.Empty() {
			closed := l.closed
			l.mu.Unlock()
			if closed {
				l.log.Debug("stopped")
				return
			}
			<- l.wake
			continue
		}
		fn := l.tasks.Pop()
		l.mu.Unlock()

		fn()
	}
}
