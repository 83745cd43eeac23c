package background

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRunner(base context.Context, opts ...RunnerOption) *Runner {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRunner(base, append([]RunnerOption{WithRunnerLogger(logger)}, opts...)...)
}

func TestRunner_RunsDetachedFromParentCancellation(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	r := newTestRunner(parent)
	cancel()

	var ran atomic.Bool
	r.Go("record", func(ctx context.Context) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ran.Store(true)
		return nil
	})

	require.NoError(t, r.Wait(context.Background()))
	assert.True(t, ran.Load())
}

func TestRunner_ReportsErrors(t *testing.T) {
	r := newTestRunner(context.Background())

	r.Go("record-exchange", func(ctx context.Context) error {
		return errors.New("insert failed")
	})
	require.NoError(t, r.Wait(context.Background()))

	select {
	case taskErr := <-r.Errors():
		assert.Equal(t, "record-exchange", taskErr.Name)
		assert.Contains(t, taskErr.Error(), "insert failed")
	case <-time.After(time.Second):
		t.Fatal("expected task error")
	}
}

func TestRunner_RecoversPanics(t *testing.T) {
	r := newTestRunner(context.Background())

	r.Go("boom", func(ctx context.Context) error {
		panic("nil map")
	})
	require.NoError(t, r.Wait(context.Background()))

	taskErr := <-r.Errors()
	assert.Contains(t, taskErr.Err.Error(), "panic: nil map")
}

func TestRunner_TaskTimeout(t *testing.T) {
	r := newTestRunner(context.Background(), WithTaskTimeout(10*time.Millisecond))

	r.Go("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, r.Wait(context.Background()))

	taskErr := <-r.Errors()
	assert.ErrorIs(t, taskErr.Err, context.DeadlineExceeded)
}

func TestRunner_WaitHonoursContext(t *testing.T) {
	r := newTestRunner(context.Background())
	release := make(chan struct{})
	r.Go("blocked", func(ctx context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Wait(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, r.Wait(context.Background()))
}
