package workers

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func Test_Pool_RunsEverything(t *testing.T) {
	p := CreatePool(4)

	var n atomic.Int64
	for range 10_000 {
		p.Submit(func() { n.Add(1) })
	}
	p.Close()

	assert.Equal(t, int64(10_000), n.Load())
}

func Test_Pool_Concurrent(t *testing.T) {
	p := CreatePool(4)
	defer p.Close()

	// 4 jobs that all wait on each other can only finish if they run at the same time
	var wg sync.WaitGroup
	wg.Add(4)
	done := make(chan struct{})
	for range 4 {
		p.Submit(func() {
			wg.Done()
			wg.Wait()
		})
	}
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("workers did not run concurrently")
	}
}

func Test_Pool_SubmitAfterClose(t *testing.T) {
	p := CreatePool(0)
	p.Close()
	assert.Panics(t, func() { p.Submit(func() {}) })
}
