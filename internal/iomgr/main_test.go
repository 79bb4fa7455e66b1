package iomgr

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/lmittmann/tint"
)

func TestMain(m *testing.M) {
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.TimeOnly,
		AddSource:  true,
	})))
	os.Exit(m.Run())
}

const BS = 0x1000

// records submissions, completes nothing on its own
type fakeBackend struct {
	submitted	[]*Action
	closed		bool
}

func (f *fakeBackend) Submit(a *Action) { f.submitted = append(f.submitted, a) }
func (f *fakeBackend) Close() error { f.closed = true; return nil }

func act(fd int, op OpCode, off uint64, n uint64) *Action {
	return newAction(fd, op, make([]byte, n), off, nil)
}
