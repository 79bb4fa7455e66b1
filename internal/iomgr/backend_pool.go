//go:build linux

package iomgr

import (
	"log/slog"

	"blkio/internal/workers"
)

// PoolBackend fakes asynchrony by running blocking pread/pwrite on a worker pool, then
// posting the completion back to the owning loop.
type PoolBackend struct {
	log		*slog.Logger
	loop	Poster
	done	func(*Action)
	pool	*workers.Pool
	ownPool	bool
}

// A nil pool makes the backend start (and later close) its own with nworkers workers.
func CreatePoolBackend(loop Poster, done func(*Action), pool *workers.Pool, nworkers int) *PoolBackend {
	log := slog.With("src", "PoolBackend")

	ownPool := pool == nil
	if ownPool {
		if nworkers <= 0 { nworkers = POOL_WORKERS }
		pool = workers.CreatePool(nworkers)
	}
	log.Debug("CreatePoolBackend", "shared", !ownPool)

	return &PoolBackend{
		log:		log,
		loop:		loop,
		done:		done,
		pool:		pool,
		ownPool:	ownPool,
	}
}

func (b *PoolBackend) Submit(a *Action) {
	b.pool.Submit(func() {
		Transfer(a.Fd, a.Opcode, a.Buf, a.Offset)
		b.loop.Post(func() { b.done(a) })
	})
}

func (b *PoolBackend) Close() error {
	if b.ownPool {
		b.pool.Close()
	}
	return nil
}
