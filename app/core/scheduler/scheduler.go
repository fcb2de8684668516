package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"goosuke/app/pkg/logger"
)

var (
	ErrJobExists      = errors.New("scheduler: job already exists")
	ErrSchedulerStart = errors.New("scheduler: already started")
)

// JobSpec describes a recurring background job, such as the periodic
// extension resync.
type JobSpec struct {
	Name       string
	Interval   time.Duration
	Timeout    time.Duration
	RunOnStart bool
	Run        func(context.Context) error
}

type JobStatus struct {
	Name         string
	Runs         int64
	LastStartAt  time.Time
	LastEndAt    time.Time
	LastError    string
	LastDuration time.Duration
}

// Scheduler drives a fixed set of interval jobs. All jobs are registered
// before Start; registration after Start is rejected.
type Scheduler struct {
	mu      sync.Mutex
	jobs    []JobSpec
	status  map[string]JobStatus
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New() *Scheduler {
	return &Scheduler{status: make(map[string]JobStatus)}
}

func (s *Scheduler) Register(job JobSpec) error {
	if err := validateSpec(job); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler: cannot register after start")
	}
	if _, exists := s.status[job.Name]; exists {
		return fmt.Errorf("%w: %s", ErrJobExists, job.Name)
	}
	s.jobs = append(s.jobs, job)
	s.status[job.Name] = JobStatus{Name: job.Name}
	return nil
}

func validateSpec(job JobSpec) error {
	switch {
	case job.Name == "":
		return errors.New("scheduler: job name is required")
	case job.Interval <= 0:
		return errors.New("scheduler: job interval must be greater than zero")
	case job.Run == nil:
		return errors.New("scheduler: job run callback is required")
	}
	return nil
}

func (s *Scheduler) Start(parent context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrSchedulerStart
	}

	ctx, cancel := context.WithCancel(parent)
	s.started = true
	s.cancel = cancel
	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.runLoop(ctx, job)
	}
	return nil
}

func (s *Scheduler) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.started = false
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	if timeout <= 0 {
		s.wg.Wait()
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("scheduler: stop timeout after %s", timeout)
	}
}

func (s *Scheduler) Snapshot() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]JobStatus, 0, len(s.status))
	for _, st := range s.status {
		items = append(items, st)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].Name < items[j].Name
	})
	return items
}

func (s *Scheduler) runLoop(ctx context.Context, job JobSpec) {
	defer s.wg.Done()
	if job.RunOnStart {
		s.runOnce(ctx, job)
	}

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, job)
		}
	}
}

func (s *Scheduler) runOnce(parent context.Context, job JobSpec) {
	start := time.Now()
	s.recordStart(job.Name, start)

	runCtx := parent
	cancel := func() {}
	if job.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(parent, job.Timeout)
	}
	err := job.Run(runCtx)
	cancel()

	end := time.Now()
	s.recordResult(job.Name, end, end.Sub(start), err)
	if err != nil {
		logger.Error("scheduled job %s failed: %v", job.Name, err)
	}
}

func (s *Scheduler) recordStart(name string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status[name]
	st.LastStartAt = at
	s.status[name] = st
}

func (s *Scheduler) recordResult(name string, at time.Time, d time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status[name]
	st.Runs++
	st.LastEndAt = at
	st.LastDuration = d
	st.LastError = ""
	if err != nil {
		st.LastError = err.Error()
	}
	s.status[name] = st
}
