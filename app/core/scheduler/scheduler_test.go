package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerRunsJobOnInterval(t *testing.T) {
	s := New()
	var runs atomic.Int64
	err := s.Register(JobSpec{
		Name:       "tick",
		Interval:   20 * time.Millisecond,
		RunOnStart: true,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	time.Sleep(90 * time.Millisecond)
	if err := s.Stop(time.Second); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	if runs.Load() < 2 {
		t.Fatalf("expected at least 2 runs, got %d", runs.Load())
	}
}

func TestSchedulerRecordsFailures(t *testing.T) {
	s := New()
	err := s.Register(JobSpec{
		Name:       "resync",
		Interval:   time.Hour,
		RunOnStart: true,
		Run: func(ctx context.Context) error {
			return errors.New("config unreadable")
		},
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	deadline := time.After(2 * time.Second)
	for {
		snapshot := s.Snapshot()
		if len(snapshot) == 1 && snapshot[0].Runs > 0 {
			if snapshot[0].LastError != "config unreadable" {
				t.Fatalf("unexpected status: %+v", snapshot[0])
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("job never ran")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if err := s.Stop(time.Second); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
}

func TestSchedulerRejectsDuplicateJob(t *testing.T) {
	s := New()
	spec := JobSpec{Name: "once", Interval: time.Minute, Run: func(ctx context.Context) error { return nil }}
	if err := s.Register(spec); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := s.Register(spec); !errors.Is(err, ErrJobExists) {
		t.Fatalf("duplicate registration should fail, got %v", err)
	}
}

func TestSchedulerRejectsRegisterAfterStart(t *testing.T) {
	s := New()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer s.Stop(time.Second)

	err := s.Register(JobSpec{Name: "late", Interval: time.Minute, Run: func(ctx context.Context) error { return nil }})
	if err == nil {
		t.Fatal("registration after start should be rejected")
	}
}

func TestSchedulerValidatesSpec(t *testing.T) {
	s := New()
	if err := s.Register(JobSpec{Interval: time.Minute, Run: func(ctx context.Context) error { return nil }}); err == nil {
		t.Fatal("missing name should be rejected")
	}
	if err := s.Register(JobSpec{Name: "x", Run: func(ctx context.Context) error { return nil }}); err == nil {
		t.Fatal("missing interval should be rejected")
	}
	if err := s.Register(JobSpec{Name: "y", Interval: time.Minute}); err == nil {
		t.Fatal("missing run callback should be rejected")
	}
}
