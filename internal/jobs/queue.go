package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"exam-flash/internal/apperr"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Final reports whether a job in this status will not change again.
func (s Status) Final() bool {
	return s == StatusComplete || s == StatusFailed || s == StatusCancelled
}

var (
	ErrClosed    = errors.New("job queue is closed")
	ErrQueueFull = errors.New("job queue is full")
	ErrNotFound  = errors.New("job not found")
)

// ProgressFunc receives progress updates from a running job.
type ProgressFunc func(step, message string, current, total int)

// Func is the work a job performs. The context is cancelled when the job is
// cancelled, times out or the queue shuts down.
type Func func(ctx context.Context, progress ProgressFunc) (any, error)

type Progress struct {
	Step    string `json:"step,omitempty"`
	Message string `json:"message,omitempty"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Percent int    `json:"percent"`
}

// Snapshot is a point in time copy of a job, safe to hand to callers.
type Snapshot struct {
	ID        string    `json:"jobId"`
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Attempts  int       `json:"attempts"`
	Progress  Progress  `json:"progress"`
	Result    any       `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	ErrorKind string    `json:"errorKind,omitempty"`
}

type Options struct {
	Workers    int
	QueueSize  int
	MaxRetries int
	// Timeout bounds one job across all attempts; zero means no limit.
	Timeout time.Duration
	// TTL prunes finished jobs after this long; zero keeps them.
	TTL time.Duration
	// Backoff overrides the delay before retry attempt n (0-indexed).
	Backoff func(attempt int) time.Duration
}

type job struct {
	snap   Snapshot
	fn     Func
	cancel context.CancelFunc
}

// Queue runs submitted jobs on a bounded worker pool. It must be started
// with Start and shut down with Close.
type Queue struct {
	opts Options
	log  *slog.Logger

	mu     sync.RWMutex
	jobs   map[string]*job
	queue  chan *job
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func New(opts Options, log *slog.Logger) *Queue {
	if log == nil {
		log = slog.Default()
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Backoff == nil {
		opts.Backoff = Backoff
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		opts:   opts,
		log:    log,
		jobs:   make(map[string]*job),
		queue:  make(chan *job, opts.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

const maxBackoff = 30 * time.Second

// Backoff returns a duration for attempt n (0-indexed) with jitter. The base
// doubles from one second and is capped at maxBackoff.
func Backoff(attempt int) time.Duration {
	attempt = max(attempt, 0)
	base := maxBackoff
	if attempt < 5 {
		base = time.Duration(1<<attempt) * time.Second
	}
	jitter := time.Duration(rand.Int64N(int64(base) / 2))
	return base + jitter
}

// Start launches the workers. Calling it more than once has no effect.
func (q *Queue) Start() {
	q.once.Do(func() {
		for range q.opts.Workers {
			q.wg.Add(1)
			go func() {
				defer q.wg.Done()
				for j := range q.queue {
					q.run(j)
				}
			}()
		}
		if q.opts.TTL > 0 {
			go q.prune()
		}
		q.log.Info("job queue started", "workers", q.opts.Workers, "queue_size", q.opts.QueueSize)
	})
}

// Close stops accepting jobs and waits for queued and running jobs to finish.
// When ctx expires first, running jobs are cancelled and ctx.Err is returned.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.queue)
	}
	q.mu.Unlock()
	q.Start()

	done := make(chan struct{})
	go func() {
		defer close(done)
		q.wg.Wait()
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}

// Submit queues fn and returns the pending job.
func (q *Queue) Submit(name string, fn Func) (Snapshot, error) {
	now := time.Now().UTC()
	j := &job{
		snap: Snapshot{
			ID:        uuid.NewString(),
			Name:      name,
			Status:    StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		},
		fn: fn,
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return Snapshot{}, ErrClosed
	}
	select {
	case q.queue <- j:
	default:
		return Snapshot{}, fmt.Errorf("%w (%d)", ErrQueueFull, q.opts.QueueSize)
	}
	q.jobs[j.snap.ID] = j
	q.log.Info("job submitted", "job_id", j.snap.ID, "name", name)
	return j.snap, nil
}

func (q *Queue) Get(id string) (Snapshot, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	j, ok := q.jobs[id]
	if !ok {
		return Snapshot{}, false
	}
	return j.snap, true
}

// Cancel stops a pending or running job. Finished jobs are left untouched.
func (q *Queue) Cancel(id string) (Snapshot, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	switch j.snap.Status {
	case StatusPending:
		j.snap.Status = StatusCancelled
		j.snap.UpdatedAt = time.Now().UTC()
	case StatusProcessing:
		if j.cancel != nil {
			j.cancel()
		}
	}
	return j.snap, nil
}

// Len returns the number of queued jobs not yet picked up.
func (q *Queue) Len() int {
	return len(q.queue)
}

func (q *Queue) run(j *job) {
	log := q.log.With("job_id", j.snap.ID, "name", j.snap.Name)

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if q.opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(q.ctx, q.opts.Timeout)
	} else {
		ctx, cancel = context.WithCancel(q.ctx)
	}
	defer cancel()

	started := q.withJob(j, func(s *Snapshot) bool {
		if s.Status != StatusPending {
			return false
		}
		s.Status = StatusProcessing
		j.cancel = cancel
		return true
	})
	if !started {
		log.Info("skipping cancelled job")
		return
	}

	progress := func(step, message string, current, total int) {
		q.withJob(j, func(s *Snapshot) bool {
			s.Progress = Progress{Step: step, Message: message, Current: current, Total: total, Percent: percent(current, total)}
			return true
		})
	}

	for attempt := 0; ; attempt++ {
		q.withJob(j, func(s *Snapshot) bool {
			s.Attempts = attempt + 1
			return true
		})

		result, err := j.fn(ctx, progress)
		if err == nil {
			q.finish(j, StatusComplete, result, nil)
			log.Info("job complete", "attempts", attempt+1)
			return
		}
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
			q.finish(j, StatusCancelled, nil, err)
			log.Info("job cancelled", "attempts", attempt+1)
			return
		}
		if apperr.KindOf(err) != apperr.UpstreamFailure || attempt >= q.opts.MaxRetries {
			q.finish(j, StatusFailed, nil, err)
			log.Error("job failed", "attempts", attempt+1, "kind", apperr.KindOf(err), "error", err)
			return
		}

		wait := q.opts.Backoff(attempt)
		log.Warn("retryable job error", "attempt", attempt+1, "retry_in", wait, "error", err)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			status := StatusFailed
			if errors.Is(ctx.Err(), context.Canceled) {
				status = StatusCancelled
			}
			q.finish(j, status, nil, err)
			return
		}
	}
}

func (q *Queue) finish(j *job, status Status, result any, err error) {
	q.withJob(j, func(s *Snapshot) bool {
		s.Status = status
		s.Result = result
		if err != nil {
			s.Error = strings.TrimSpace(err.Error())
			s.ErrorKind = string(apperr.KindOf(err))
		}
		if status == StatusComplete {
			s.Progress.Current, s.Progress.Total, s.Progress.Percent = 100, 100, 100
		}
		j.cancel = nil
		return true
	})
}

func (q *Queue) withJob(j *job, fn func(s *Snapshot) bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !fn(&j.snap) {
		return false
	}
	j.snap.UpdatedAt = time.Now().UTC()
	return true
}

// prune runs until Close cancels the queue context.
func (q *Queue) prune() {
	ticker := time.NewTicker(q.opts.TTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-q.opts.TTL)
			q.mu.Lock()
			for id, j := range q.jobs {
				if j.snap.Status.Final() && j.snap.UpdatedAt.Before(cutoff) {
					delete(q.jobs, id)
				}
			}
			q.mu.Unlock()
		}
	}
}

func percent(current, total int) int {
	if total <= 0 {
		if current <= 0 {
			return 0
		}
		if current > 100 {
			return 100
		}
		return current
	}
	if current <= 0 {
		return 0
	}
	if current >= total {
		return 100
	}
	return int((float64(current) / float64(total)) * 100)
}
