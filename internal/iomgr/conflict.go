package iomgr

import (
	"log/slog"

	"github.com/google/btree"
)

const BTREE_DEGREE = 32

// per-fd index of every pending (in-flight or blocked) action, ordered by (offset, seq).
// maxLen is the longest range ever inserted since the index was last empty; it bounds how
// far left of a query range an overlapping action can start.
type fdIndex struct {
	tree	*btree.BTreeG[*Action]
	maxLen	uint64
}

func lessAction(a, b *Action) bool {
	if a.Offset != b.Offset { return a.Offset < b.Offset }
	return a.seq < b.seq
}

// ConflictResolver makes sure actions with overlapping ranges on the same fd run one at a
// time, in submission order. Anything else passes straight through to the next stage.
//
// An action conflicts with every earlier action that is still pending on an overlapping
// range, whether that one is already in flight or itself still blocked. Reads conflict with
// reads too.
//
// Not safe for concurrent use, it belongs to the owning loop. The next stage must not call
// Done from inside Submit.
type ConflictResolver struct {
	log		*slog.Logger
	next	stage
	done	func(*Action)

	seq		uint64
	fds		map[int]*fdIndex

	pending	int
	blocked	int
}

func CreateConflictResolver(next stage, done func(*Action)) *ConflictResolver {
	return &ConflictResolver{
		log:	slog.With("src", "ConflictResolver"),
		next:	next,
		done:	done,
		fds:	make(map[int]*fdIndex),
	}
}

// in flight + blocked
func (r *ConflictResolver) Pending() int { return r.pending }
func (r *ConflictResolver) Blocked() int { return r.blocked }

func (r *ConflictResolver) index(fd int) *fdIndex {
	idx, ok := r.fds[fd]
	if !ok {
		idx = &fdIndex{ tree: btree.NewG[*Action](BTREE_DEGREE, lessAction) }
		r.fds[fd] = idx
	}
	return idx
}

func (r *ConflictResolver) Submit(a *Action) {
	r.seq++
	a.seq = r.seq
	a.waits = 0
	a.waiters = nil
	a.inflight = false

	idx := r.index(a.Fd)
	r.forEachOverlap(idx, a, func(p *Action) {
		p.waiters = append(p.waiters, a)
		a.waits++
	})

	idx.tree.ReplaceOrInsert(a)
	idx.maxLen = max(idx.maxLen, uint64(len(a.Buf)))
	r.pending++

	if a.waits > 0 {
		r.blocked++
		r.log.Debug("blocked", "action", a)
		return
	}

	a.inflight = true
	r.next.Submit(a)
}

func (r *ConflictResolver) Done(a *Action) {
	if !a.inflight {
		fatalf(r.log, "done for an action that is not in flight", "action", a)
	}

	idx, ok := r.fds[a.Fd]
	if !ok {
		fatalf(r.log, "done for an action on an fd with nothing pending", "action", a)
	}
	if _, found := idx.tree.Delete(a); !found {
		fatalf(r.log, "done for an action missing from the index", "action", a)
	}
	if idx.tree.Len() == 0 {
		delete(r.fds, a.Fd)
	}

	a.inflight = false
	r.pending--

	// waiters were appended in submission order, so promotion is first blocked first out
	waiters := a.waiters
	a.waiters = nil
	for _, w := range waiters {
		w.waits--
		if w.waits == 0 {
			w.inflight = true
			r.blocked--
			r.log.Debug("promoted", "action", w)
			r.next.Submit(w)
		}
	}

	r.done(a)
}

func (r *ConflictResolver) forEachOverlap(idx *fdIndex, a *Action, fn func(*Action)) {
	if idx.tree.Len() == 0 { return }

	// p overlaps a iff p.Offset < a.End() && p.End() > a.Offset, and p.End() <= p.Offset + maxLen
	var lo uint64
	if a.Offset + 1 > idx.maxLen {
		lo = a.Offset + 1 - idx.maxLen
	}
	from := &Action{ Offset: lo }
	to := &Action{ Offset: a.End() }

	idx.tree.AscendRange(from, to, func(p *Action) bool {
		if p.End() > a.Offset {
			fn(p)
		}
		return true
	})
}
