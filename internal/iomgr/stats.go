package iomgr

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/negrel/assert"
)

// StatsSink receives submission and completion events. Implementations must be safe for
// concurrent readers, events themselves always arrive from the owning loop.
type StatsSink interface {
	Submitted(op OpCode, bytes int)
	Completed(op OpCode, bytes int, latency time.Duration)
}

type NopSink struct{}

func (NopSink) Submitted(OpCode, int)                  {}
func (NopSink) Completed(OpCode, int, time.Duration)   {}

type StatsSnapshot struct {
	Reads			uint64
	Writes			uint64
	BytesRead		uint64
	BytesWritten	uint64
	Outstanding		int64
	TotalLatency	time.Duration
	MaxLatency		time.Duration
}

func (s StatsSnapshot) Completed() uint64 {
	return s.Reads + s.Writes
}

func (s StatsSnapshot) MeanLatency() time.Duration {
	if s.Completed() == 0 { return 0 }
	return s.TotalLatency / time.Duration(s.Completed())
}

// Counters is a StatsSink that just keeps running totals.
type Counters struct {
	reads			atomic.Uint64
	writes			atomic.Uint64
	bytesRead		atomic.Uint64
	bytesWritten	atomic.Uint64
	outstanding		atomic.Int64
	totalLatency	atomic.Int64
	maxLatency		atomic.Int64
}

func CreateCounters() *Counters {
	return &Counters{}
}

func (c *Counters) Submitted(op OpCode, bytes int) {
	c.outstanding.Add(1)
}

func (c *Counters) Completed(op OpCode, bytes int, latency time.Duration) {
	out := c.outstanding.Add(-1)
	assert.GreaterOrEqual(out, int64(0), "more completions than submissions")

	switch op {
	case OpRead:
		c.reads.Add(1)
		c.bytesRead.Add(uint64(bytes))
	case OpWrite:
		c.writes.Add(1)
		c.bytesWritten.Add(uint64(bytes))
	}

	c.totalLatency.Add(int64(latency))
	for {
		cur := c.maxLatency.Load()
		if int64(latency) <= cur || c.maxLatency.CompareAndSwap(cur, int64(latency)) {
			break
		}
	}
}

func (c *Counters) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Reads:			c.reads.Load(),
		Writes:			c.writes.Load(),
		BytesRead:		c.bytesRead.Load(),
		BytesWritten:	c.bytesWritten.Load(),
		Outstanding:	c.outstanding.Load(),
		TotalLatency:	time.Duration(c.totalLatency.Load()),
		MaxLatency:		time.Duration(c.maxLatency.Load()),
	}
}

// stage is anything an action can be handed down to.
type stage interface {
	Submit(a *Action)
}

// Stats is the first pipeline stage. It never changes, drops or reorders an action and a
// misbehaving sink never fails a request.
type Stats struct {
	log		*slog.Logger
	sink	StatsSink
	next	stage
	done	func(*Action)
	now		func() time.Time
}

func CreateStats(sink StatsSink, next stage, done func(*Action)) *Stats {
	if sink == nil { sink = NopSink{} }
	return &Stats{
		log:	slog.With("src", "Stats"),
		sink:	sink,
		next:	next,
		done:	done,
		now:	time.Now,
	}
}

func (s *Stats) Submit(a *Action) {
	a.submitted = s.now()
	s.record(func() { s.sink.Submitted(a.Opcode, len(a.Buf)) })
	s.next.Submit(a)
}

func (s *Stats) Done(a *Action) {
	latency := s.now().Sub(a.submitted)
	s.record(func() { s.sink.Completed(a.Opcode, len(a.Buf), latency) })
	s.done(a)
}

func (s *Stats) record(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Warn("stats sink failed", "err", r)
		}
	}()
	fn()
}
