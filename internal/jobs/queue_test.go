package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exam-flash/internal/apperr"
)

func newQueue(t *testing.T, opts Options) *Queue {
	t.Helper()
	if opts.Backoff == nil {
		opts.Backoff = func(int) time.Duration { return time.Millisecond }
	}
	q := New(opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = q.Close(ctx)
	})
	return q
}

func waitFor(t *testing.T, q *Queue, id string, status Status) Snapshot {
	t.Helper()
	var snap Snapshot
	require.Eventually(t, func() bool {
		var ok bool
		snap, ok = q.Get(id)
		return ok && snap.Status == status
	}, 2*time.Second, 5*time.Millisecond, "job %s never reached %s", id, status)
	return snap
}

func TestBackoffIsBounded(t *testing.T) {
	tests := []struct {
		attempt int
		base    time.Duration
	}{
		{-3, time.Second},
		{0, time.Second},
		{1, 2 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{33, 30 * time.Second},
		{34, 30 * time.Second},
		{63, 30 * time.Second},
		{1000, 30 * time.Second},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.attempt), func(t *testing.T) {
			require.NotPanics(t, func() {
				d := Backoff(tt.attempt)
				assert.GreaterOrEqual(t, d, tt.base)
				assert.Less(t, d, tt.base+tt.base/2)
			})
		})
	}
}

func TestSubmitRunsToCompletion(t *testing.T) {
	q := newQueue(t, Options{Workers: 2})
	q.Start()

	snap, err := q.Submit("generate", func(ctx context.Context, progress ProgressFunc) (any, error) {
		progress("chunking", "chunked", 1, 4)
		return map[string]int{"cards": 3}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, snap.Status)
	assert.NotEmpty(t, snap.ID)

	done := waitFor(t, q, snap.ID, StatusComplete)
	assert.Equal(t, map[string]int{"cards": 3}, done.Result)
	assert.Equal(t, 1, done.Attempts)
	assert.Equal(t, 100, done.Progress.Percent)
	assert.Empty(t, done.Error)
}

func TestProgressIsVisibleWhileRunning(t *testing.T) {
	q := newQueue(t, Options{Workers: 1})
	q.Start()
	release := make(chan struct{})

	snap, err := q.Submit("exam", func(ctx context.Context, progress ProgressFunc) (any, error) {
		progress("aligning", "aligned 3 questions", 1, 4)
		<-release
		return nil, nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s, _ := q.Get(snap.ID)
		return s.Progress.Step == "aligning"
	}, time.Second, 5*time.Millisecond)
	s, _ := q.Get(snap.ID)
	assert.Equal(t, StatusProcessing, s.Status)
	assert.Equal(t, 25, s.Progress.Percent)
	close(release)
	waitFor(t, q, snap.ID, StatusComplete)
}

func TestUpstreamFailuresAreRetried(t *testing.T) {
	q := newQueue(t, Options{Workers: 1, MaxRetries: 2})
	q.Start()
	var calls atomic.Int32

	snap, err := q.Submit("generate", func(ctx context.Context, progress ProgressFunc) (any, error) {
		if calls.Add(1) < 3 {
			return nil, apperr.Upstream(errors.New("connection reset"), "notes.md", "draft cards")
		}
		return "ok", nil
	})
	require.NoError(t, err)

	done := waitFor(t, q, snap.ID, StatusComplete)
	assert.Equal(t, 3, done.Attempts)
	assert.Equal(t, "ok", done.Result)
}

func TestRetriesAreExhausted(t *testing.T) {
	q := newQueue(t, Options{Workers: 1, MaxRetries: 1})
	q.Start()

	snap, err := q.Submit("generate", func(ctx context.Context, progress ProgressFunc) (any, error) {
		return nil, apperr.Upstream(errors.New("503"), "notes.md", "draft cards")
	})
	require.NoError(t, err)

	done := waitFor(t, q, snap.ID, StatusFailed)
	assert.Equal(t, 2, done.Attempts)
	assert.Equal(t, string(apperr.UpstreamFailure), done.ErrorKind)
	assert.Contains(t, done.Error, "notes.md")
}

func TestInvalidInputIsNotRetried(t *testing.T) {
	q := newQueue(t, Options{Workers: 1, MaxRetries: 3})
	q.Start()
	var calls atomic.Int32

	snap, err := q.Submit("generate", func(ctx context.Context, progress ProgressFunc) (any, error) {
		calls.Add(1)
		return nil, apperr.New(apperr.InvalidInput, "num_cards must be positive")
	})
	require.NoError(t, err)

	done := waitFor(t, q, snap.ID, StatusFailed)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, string(apperr.InvalidInput), done.ErrorKind)
}

func TestCancelRunningJob(t *testing.T) {
	q := newQueue(t, Options{Workers: 1})
	q.Start()
	started := make(chan struct{})

	snap, err := q.Submit("exam", func(ctx context.Context, progress ProgressFunc) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.NoError(t, err)
	<-started
	waitFor(t, q, snap.ID, StatusProcessing)

	_, err = q.Cancel(snap.ID)
	require.NoError(t, err)
	waitFor(t, q, snap.ID, StatusCancelled)
}

func TestCancelPendingJobNeverRuns(t *testing.T) {
	q := newQueue(t, Options{Workers: 1})
	q.Start()
	release := make(chan struct{})
	var ran atomic.Bool

	blocker, err := q.Submit("blocker", func(ctx context.Context, progress ProgressFunc) (any, error) {
		<-release
		return nil, nil
	})
	require.NoError(t, err)
	waitFor(t, q, blocker.ID, StatusProcessing)

	pending, err := q.Submit("pending", func(ctx context.Context, progress ProgressFunc) (any, error) {
		ran.Store(true)
		return nil, nil
	})
	require.NoError(t, err)

	snap, err := q.Cancel(pending.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, snap.Status)

	close(release)
	waitFor(t, q, blocker.ID, StatusComplete)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, q.Close(ctx))
	assert.False(t, ran.Load())
	s, _ := q.Get(pending.ID)
	assert.Equal(t, StatusCancelled, s.Status)
}

func TestCancelUnknownJob(t *testing.T) {
	q := newQueue(t, Options{})
	_, err := q.Cancel("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSubmitWhenFull(t *testing.T) {
	q := newQueue(t, Options{Workers: 1, QueueSize: 1})
	noop := func(ctx context.Context, progress ProgressFunc) (any, error) { return nil, nil }

	_, err := q.Submit("first", noop)
	require.NoError(t, err)
	_, err = q.Submit("second", noop)
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestSubmitAfterClose(t *testing.T) {
	q := newQueue(t, Options{Workers: 1})
	q.Start()
	require.NoError(t, q.Close(context.Background()))

	_, err := q.Submit("late", func(ctx context.Context, progress ProgressFunc) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCloseDrainsQueuedJobs(t *testing.T) {
	q := newQueue(t, Options{Workers: 1, QueueSize: 8})
	var done atomic.Int32
	for range 5 {
		_, err := q.Submit("work", func(ctx context.Context, progress ProgressFunc) (any, error) {
			done.Add(1)
			return nil, nil
		})
		require.NoError(t, err)
	}
	q.Start()

	require.NoError(t, q.Close(context.Background()))
	assert.Equal(t, int32(5), done.Load())
}

func TestCloseTimeoutCancelsRunningJobs(t *testing.T) {
	q := newQueue(t, Options{Workers: 1})
	q.Start()

	snap, err := q.Submit("slow", func(ctx context.Context, progress ProgressFunc) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.NoError(t, err)
	waitFor(t, q, snap.ID, StatusProcessing)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Close(ctx), context.DeadlineExceeded)
	s, _ := q.Get(snap.ID)
	assert.Equal(t, StatusCancelled, s.Status)
}

func TestJobTimeoutFails(t *testing.T) {
	q := newQueue(t, Options{Workers: 1, Timeout: 20 * time.Millisecond})
	q.Start()

	snap, err := q.Submit("slow", func(ctx context.Context, progress ProgressFunc) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.NoError(t, err)
	done := waitFor(t, q, snap.ID, StatusFailed)
	assert.Contains(t, done.Error, "deadline exceeded")
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 0, percent(0, 0))
	assert.Equal(t, 40, percent(40, 0))
	assert.Equal(t, 100, percent(140, 0))
	assert.Equal(t, 50, percent(2, 4))
	assert.Equal(t, 100, percent(5, 4))
}

func TestPruneDropsFinishedJobs(t *testing.T) {
	q := newQueue(t, Options{Workers: 1, TTL: 20 * time.Millisecond})
	q.Start()

	snap, err := q.Submit("short", func(ctx context.Context, progress ProgressFunc) (any, error) { return nil, nil })
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := q.Get(snap.ID)
		return !ok
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, q.Close(ctx))
}
