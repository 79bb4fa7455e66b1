//go:build linux

package iomgr

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"sync"
	"testing"

	"blkio/internal/loop"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/ncw/directio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

const F_OPEN_PERM = 0b_000_110_100_000

// opens a fresh file of size bytes, with O_DIRECT if the filesystem takes it (tmpfs doesn't)
func tempfile(t *testing.T, size int64) int {
	fp := filepath.Join(t.TempDir(), fmt.Sprintf("testfile%016x.blk", rand.Uint64()))

	fd, err := unix.Open(fp, unix.O_RDWR | unix.O_CREAT | unix.O_EXCL | unix.O_DIRECT, F_OPEN_PERM)
	if errors.Is(err, unix.EINVAL) {
		t.Log("O_DIRECT not supported here, falling back to buffered io")
		fd, err = unix.Open(fp, unix.O_RDWR | unix.O_CREAT, F_OPEN_PERM)
	}
	require.NoError(t, err)
	t.Cleanup(func() { unix.Close(fd) })

	require.NoError(t, unix.Ftruncate(fd, size))
	return fd
}

// The same suite has to pass against every backend.
func forEachBackend(t *testing.T, fn func(t *testing.T, m *DiskManager, l *loop.Loop)) {
	for _, kind := range []BackendKind{BackendUring, BackendPool} {
		t.Run(kind.String(), func(t *testing.T) {
			l := loop.CreateLoop()
			defer l.Close()

			opts := DefaultOptions()
			opts.Backend = kind
			opts.RingEntries = 0x10 // small, so the overflow path gets used
			m, err := CreateDiskManager(l, opts)
			if err != nil && kind == BackendUring {
				t.Skipf("io_uring unavailable: %v", err)
			}
			require.NoError(t, err)
			defer func() { assert.NoError(t, m.Close()) }()

			fn(t, m, l)
		})
	}
}

func Test_Contract_RoundTrip(t *testing.T) {
	forEachBackend(t, func(t *testing.T, m *DiskManager, l *loop.Loop) {
		const LEN = 16 * BS
		fd := tempfile(t, 64 * BS)

		seed := [32]byte{1}
		faker := gofakeit.NewFaker(rand.NewChaCha8(seed), true)
		wbuf := directio.AlignedBlock(LEN)
		for i := range wbuf {
			wbuf[i] = faker.Uint8()
		}

		done := make(chan struct{})
		m.SubmitWrite(fd, wbuf, 8 * BS, CallbackFunc(func() { close(done) }))
		<- done

		rbuf := directio.AlignedBlock(LEN)
		done = make(chan struct{})
		m.SubmitRead(fd, rbuf, 8 * BS, CallbackFunc(func() { close(done) }))
		<- done

		assert.True(t, bytes.Equal(wbuf, rbuf), "read-back data didnt match")
	})
}

func Test_Contract_ManyDisjoint(t *testing.T) {
	forEachBackend(t, func(t *testing.T, m *DiskManager, l *loop.Loop) {
		const N = 100
		fd := tempfile(t, N * BS)

		slab, err := AllocSlab(2 * N * BS)
		require.NoError(t, err)
		defer DeallocSlab(slab)
		wslab, rslab := slab[:N*BS], slab[N*BS:]

		for i := range N {
			blk := wslab[i*BS : (i+1)*BS]
			for j := range blk {
				blk[j] = byte(i + j)
			}
		}

		calls := make([]int, N)
		var wg sync.WaitGroup
		wg.Add(N)
		for i := range N {
			m.SubmitWrite(fd, wslab[i*BS:(i+1)*BS], uint64(i) * BS, CallbackFunc(func() {
				calls[i]++
				wg.Done()
			}))
		}
		wg.Wait()

		wg.Add(N)
		for i := range N {
			m.SubmitRead(fd, rslab[i*BS:(i+1)*BS], uint64(i) * BS, CallbackFunc(func() {
				calls[i]++
				wg.Done()
			}))
		}
		wg.Wait()
		l.Sync()

		for i := range calls {
			assert.Equal(t, 2, calls[i], "block %d", i)
		}
		assert.True(t, bytes.Equal(wslab, rslab), "read-back data didnt match")
		assert.Equal(t, int64(0), m.Outstanding())
	})
}

func Test_Contract_ConflictingWritesInOrder(t *testing.T) {
	forEachBackend(t, func(t *testing.T, m *DiskManager, l *loop.Loop) {
		const N = 32
		fd := tempfile(t, 4 * BS)

		var order []int // appended on the loop
		var wg sync.WaitGroup
		wg.Add(N)
		for i := range N {
			buf := directio.AlignedBlock(2 * BS)
			for j := range buf {
				buf[j] = byte(i)
			}
			// alternate between two overlapping ranges
			off := uint64(i % 2) * BS
			m.SubmitWrite(fd, buf, off, CallbackFunc(func() {
				order = append(order, i)
				wg.Done()
			}))
		}
		wg.Wait()
		l.Sync()

		for i := range order {
			assert.Equal(t, i, order[i])
		}

		rbuf := directio.AlignedBlock(3 * BS)
		done := make(chan struct{})
		m.SubmitRead(fd, rbuf, 0, CallbackFunc(func() { close(done) }))
		<- done

		// last write (N-1, odd) covers [BS, 3BS), the last even one covers [0, BS)
		assert.Equal(t, byte(N-2), rbuf[0])
		assert.Equal(t, byte(N-1), rbuf[BS])
		assert.Equal(t, byte(N-1), rbuf[3*BS-1])
	})
}
