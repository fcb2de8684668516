package task

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"goosuke/app/pkg/types"
)

type fakeExecutor struct {
	readyErr error
	result   types.ExecResult
	err      error
	block    bool
	calls    int
}

func (f *fakeExecutor) Name() string { return "fake" }

func (f *fakeExecutor) Ready() error { return f.readyErr }

func (f *fakeExecutor) Execute(ctx context.Context, req types.ExecRequest) (types.ExecResult, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		return types.ExecResult{}, ctx.Err()
	}
	return f.result, f.err
}

func TestRunnerCompletesExecution(t *testing.T) {
	store := newTestStore(t)
	exec := mustExecution(t, store, mustTemplate(t, store, "p"))

	executor := &fakeExecutor{result: types.ExecResult{
		Success:          true,
		Output:           "all good",
		ExtensionsOutput: map[string]interface{}{"web": "fetched"},
	}}
	runner := NewRunner(store, executor, time.Minute)

	got, err := runner.Run(context.Background(), exec.ID)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if got.Status != StatusCompleted || got.Result != "all good" {
		t.Fatalf("unexpected execution: %+v", got)
	}
	if got.ExtensionsOutput["web"] != "fetched" {
		t.Fatalf("extensions output lost: %+v", got.ExtensionsOutput)
	}
}

func TestRunnerRecordsExecutorFailure(t *testing.T) {
	store := newTestStore(t)
	exec := mustExecution(t, store, mustTemplate(t, store, "p"))

	executor := &fakeExecutor{result: types.ExecResult{Success: false, Error: "tool crashed"}}
	runner := NewRunner(store, executor, time.Minute)

	got, err := runner.Run(context.Background(), exec.ID)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if got.Status != StatusFailed || got.ErrorKind != ErrKindExecutor {
		t.Fatalf("unexpected execution: %+v", got)
	}
	if got.Error != "tool crashed" {
		t.Fatalf("unexpected error message: %q", got.Error)
	}
}

func TestRunnerFailsFastWhenExecutorUnavailable(t *testing.T) {
	store := newTestStore(t)
	exec := mustExecution(t, store, mustTemplate(t, store, "p"))

	executor := &fakeExecutor{readyErr: errors.New("binary not found")}
	runner := NewRunner(store, executor, time.Minute)

	got, err := runner.Run(context.Background(), exec.ID)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if got.Status != StatusFailed || got.ErrorKind != ErrKindInfrastructure {
		t.Fatalf("unexpected execution: %+v", got)
	}
	if !strings.Contains(got.Error, "binary not found") {
		t.Fatalf("readiness error lost: %q", got.Error)
	}
	if executor.calls != 0 {
		t.Fatalf("executor must not run when unavailable, calls=%d", executor.calls)
	}
}

func TestRunnerTimesOut(t *testing.T) {
	store := newTestStore(t)
	exec := mustExecution(t, store, mustTemplate(t, store, "p"))

	executor := &fakeExecutor{block: true}
	runner := NewRunner(store, executor, 50*time.Millisecond)

	got, err := runner.Run(context.Background(), exec.ID)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if got.Status != StatusFailed || got.ErrorKind != ErrKindTimeout {
		t.Fatalf("unexpected execution: %+v", got)
	}
}

func TestRunnerRejectsNonPendingExecution(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	exec := mustExecution(t, store, mustTemplate(t, store, "p"))

	if err := store.MarkRunning(ctx, exec.ID); err != nil {
		t.Fatalf("mark running failed: %v", err)
	}
	if err := store.MarkCompleted(ctx, exec.ID, "done", nil); err != nil {
		t.Fatalf("mark completed failed: %v", err)
	}

	executor := &fakeExecutor{result: types.ExecResult{Success: true}}
	runner := NewRunner(store, executor, time.Minute)

	if _, err := runner.Run(ctx, exec.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("running a terminal execution should be rejected, got %v", err)
	}
	if executor.calls != 0 {
		t.Fatalf("executor must not run, calls=%d", executor.calls)
	}
}
