//go:build linux

package iomgr

import (
	"sync"
	"testing"

	"blkio/internal/loop"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// completes every action on the loop as soon as it's submitted
type echoBackend struct {
	loop	Poster
	done	func(*Action)
	order	[]*Action
	closed	bool
}

func (b *echoBackend) Submit(a *Action) {
	b.order = append(b.order, a)
	b.loop.Post(func() { b.done(a) })
}
func (b *echoBackend) Close() error { b.closed = true; return nil }

func createEchoManager(t *testing.T) (*DiskManager, *echoBackend, *loop.Loop) {
	l := loop.CreateLoop()
	t.Cleanup(l.Close)

	var be *echoBackend
	m, err := createDiskManager(l, DefaultOptions(), func(done func(*Action)) (Backend, error) {
		be = &echoBackend{ loop: l, done: done }
		return be, nil
	})
	require.NoError(t, err)
	return m, be, l
}

func Test_DiskManager_ExactlyOnce(t *testing.T) {
	m, _, l := createEchoManager(t)

	const N = 500
	calls := make([]int, N) // only touched on the loop
	var wg sync.WaitGroup
	wg.Add(N)

	for i := range N {
		buf := make([]byte, BS)
		cb := CallbackFunc(func() {
			calls[i]++
			wg.Done()
		})
		off := uint64(i % 7) * BS // plenty of conflicts
		if i % 2 == 0 {
			m.SubmitWrite(5, buf, off, cb)
		} else {
			m.SubmitRead(5, buf, off, cb)
		}
	}
	wg.Wait()
	l.Sync()

	for i := range calls {
		assert.Equal(t, 1, calls[i], "callback %d", i)
	}
	assert.Equal(t, int64(0), m.Outstanding())

	snap, ok := m.Snapshot()
	require.True(t, ok)
	assert.Equal(t, uint64(N), snap.Completed())
	assert.Equal(t, uint64(N/2), snap.Writes)
	assert.Equal(t, int64(0), snap.Outstanding)
}

func Test_DiskManager_ReleasesAfterCallback(t *testing.T) {
	m, be, l := createEchoManager(t)

	done := make(chan struct{})
	buf := make([]byte, BS)
	m.SubmitWrite(1, buf, 0, CallbackFunc(func() { close(done) }))
	<- done
	l.Sync()

	require.Len(t, be.order, 1)
	a := be.order[0]
	assert.True(t, a.released)
	assert.Nil(t, a.Buf)
	assert.Panics(t, func() { a.release() })
}

func Test_DiskManager_CloseOutstanding(t *testing.T) {
	l := loop.CreateLoop()
	defer l.Close()

	be := &fakeBackend{}
	m, err := createDiskManager(l, DefaultOptions(), func(done func(*Action)) (Backend, error) {
		return be, nil
	})
	require.NoError(t, err)

	m.SubmitRead(1, make([]byte, BS), 0, CallbackFunc(func() {}))
	l.Sync()

	assert.ErrorIs(t, m.Close(), ErrOutstanding)
	assert.False(t, be.closed)

	// complete it by hand, on the loop
	l.Post(func() { m.resolver.Done(be.submitted[0]) })
	l.Sync()

	assert.NoError(t, m.Close())
	assert.True(t, be.closed)
}

func Test_DiskManager_UnknownBackend(t *testing.T) {
	l := loop.CreateLoop()
	defer l.Close()

	opts := DefaultOptions()
	opts.Backend = BackendKind(42)
	_, err := CreateDiskManager(l, opts)
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func Test_ParseBackendKind(t *testing.T) {
	k, err := ParseBackendKind("uring")
	assert.NoError(t, err)
	assert.Equal(t, BackendUring, k)

	k, err = ParseBackendKind(" Pool ")
	assert.NoError(t, err)
	assert.Equal(t, BackendPool, k)

	_, err = ParseBackendKind("libaio2")
	assert.ErrorIs(t, err, ErrUnknownBackend)

	assert.Equal(t, "pool", BackendPool.String())
}

func Test_DiskManager_PendingBlocked(t *testing.T) {
	l := loop.CreateLoop()
	t.Cleanup(l.Close)

	be := &fakeBackend{}
	var done func(*Action)
	m, err := createDiskManager(l, DefaultOptions(), func(d func(*Action)) (Backend, error) {
		done = d
		return be, nil
	})
	require.NoError(t, err)

	calls := 0
	cb := CallbackFunc(func() { calls++ })
	for range 3 {
		m.SubmitWrite(5, make([]byte, BS), 0, cb)
	}
	l.Sync()
	assert.Equal(t, 3, m.Pending())
	assert.Equal(t, 2, m.Blocked())
	require.Len(t, be.submitted, 1)

	// each completion lets exactly the next one through
	for i := range 3 {
		a := be.submitted[i]
		l.Post(func() { done(a) })
		l.Sync()
		assert.Equal(t, 2 - i, m.Pending())
		assert.Equal(t, max(0, 1 - i), m.Blocked())
	}
	assert.Equal(t, 3, calls)
	assert.Equal(t, int64(0), m.Outstanding())
	assert.NoError(t, m.Close())
}
