package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrQueueStarted    = errors.New("queue: already started")
	ErrQueueStopped    = errors.New("queue: stopped")
	ErrEnqueueCanceled = errors.New("queue: enqueue canceled")
)

// Job is one unit of dispatch work. There is no automatic retry: a
// failed job stays failed, and re-running is an explicit new job.
type Job struct {
	ID      string
	Timeout time.Duration
	Run     func(context.Context) error
}

// Queue is a bounded in-process work queue with a fixed worker pool.
// Each inbound event becomes at most one job, so backpressure applies
// at enqueue time when the buffer fills.
type Queue struct {
	mu        sync.Mutex
	jobs      chan Job
	started   bool
	stopping  bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	nextID    atomic.Uint64
	inFlight  atomic.Int64
	enqueued  atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
}

type Stats struct {
	Started   bool   `json:"started"`
	Depth     int    `json:"depth"`
	Capacity  int    `json:"capacity"`
	Enqueued  uint64 `json:"enqueued"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
}

func New(buffer int) *Queue {
	if buffer <= 0 {
		buffer = 64
	}
	return &Queue{jobs: make(chan Job, buffer)}
}

func (q *Queue) Enqueue(job Job) (string, error) {
	return q.EnqueueContext(context.Background(), job)
}

func (q *Queue) EnqueueContext(ctx context.Context, job Job) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if job.Run == nil {
		return "", errors.New("queue: job run callback is required")
	}
	if job.Timeout < 0 {
		return "", errors.New("queue: job timeout cannot be negative")
	}
	if job.ID == "" {
		job.ID = fmt.Sprintf("q-%d", q.nextID.Add(1))
	}

	q.mu.Lock()
	jobs := q.jobs
	stopping := q.stopping
	q.mu.Unlock()
	if stopping {
		return "", ErrQueueStopped
	}

	select {
	case jobs <- job:
		q.enqueued.Add(1)
		return job.ID, nil
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %w", ErrEnqueueCanceled, ctx.Err())
	}
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	started := q.started
	q.mu.Unlock()

	return Stats{
		Started:   started,
		Depth:     len(q.jobs),
		Capacity:  cap(q.jobs),
		Enqueued:  q.enqueued.Load(),
		Completed: q.completed.Load(),
		Failed:    q.failed.Load(),
	}
}

func (q *Queue) Start(parent context.Context, workers int) error {
	if workers <= 0 {
		workers = 1
	}

	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return ErrQueueStarted
	}
	ctx, cancel := context.WithCancel(parent)
	q.cancel = cancel
	q.started = true
	q.stopping = false
	q.mu.Unlock()

	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
	return nil
}

// Stop drains queued jobs and waits for in-flight work, up to timeout.
// A timeout of zero waits indefinitely.
func (q *Queue) Stop(timeout time.Duration) error {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return nil
	}
	cancel := q.cancel
	q.cancel = nil
	q.started = false
	q.stopping = true
	q.mu.Unlock()

	timedOut := false
	if timeout <= 0 {
		for {
			if len(q.jobs) == 0 && q.inFlight.Load() == 0 {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}
		cancel()
		q.wg.Wait()
	} else {
		deadline := time.NewTimer(timeout)
		ticker := time.NewTicker(5 * time.Millisecond)
	drainLoop:
		for {
			if len(q.jobs) == 0 && q.inFlight.Load() == 0 {
				cancel()
				done := make(chan struct{})
				go func() {
					defer close(done)
					q.wg.Wait()
				}()
				select {
				case <-done:
				case <-deadline.C:
					timedOut = true
				}
				break drainLoop
			}
			select {
			case <-deadline.C:
				timedOut = true
				cancel()
				break drainLoop
			case <-ticker.C:
			}
		}
		deadline.Stop()
		ticker.Stop()
	}

	q.mu.Lock()
	q.stopping = false
	q.mu.Unlock()

	if timedOut {
		return fmt.Errorf("queue: stop timeout after %s", timeout)
	}
	return nil
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-q.jobs:
			q.inFlight.Add(1)
			q.runOnce(ctx, job)
			q.inFlight.Add(-1)
		}
	}
}

func (q *Queue) runOnce(parent context.Context, job Job) {
	runCtx := parent
	cancel := func() {}
	if job.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(parent, job.Timeout)
	}
	err := job.Run(runCtx)
	cancel()
	if err == nil {
		q.completed.Add(1)
		return
	}
	if parent.Err() != nil {
		return
	}
	q.failed.Add(1)
}
