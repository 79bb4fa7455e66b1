// Package workers is a small fixed-size goroutine pool with an unbounded job queue, used to
// run blocking system calls off the owning loop.
package workers

import (
	"log/slog"
	"sync"

	"blkio/internal/util"
)

const JOB_Q_SIZE = 0x100

type Pool struct {
	log		*slog.Logger

	mu		sync.Mutex
	cond	*sync.Cond
	jobs	util.Queue[func()]
	closed	bool

	wg		sync.WaitGroup
}

func CreatePool(size int) *Pool {
	if size < 1 { size = 1 }

	p := &Pool{
		log:	slog.With("src", "Workers"),
		jobs:	util.CreateGrowQueue[func()](JOB_Q_SIZE),
	}
	p.cond = sync.NewCond(&p.mu)

	for i := range size {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.log.Debug("CreatePool", "workers", size)
	return p
}

// Submit never blocks.
func (p *Pool) Submit(job func()) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		panic("workers: submit after close")
	}
	p.jobs.Push(job)
	p.mu.Unlock()
	p.cond.Signal()
}

// Close lets the workers finish every queued job and waits for them.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()
	p.wg.Wait()
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		for p.jobs.Empty() && !p.closed {
			p.cond.Wait()
		}
		if p.jobs.Empty() {
			p.mu.Unlock()
			p.log.Debug("worker exit", "id", id)
			return
		}
		job := p.jobs.Pop()
		p.mu.Unlock()

		job()
	}
}
