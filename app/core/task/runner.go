package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"goosuke/app/pkg/logger"
	"goosuke/app/pkg/types"
)

// Runner drives one execution through the state machine against an
// executor. All status writes go through the store's guarded updates,
// so a result arriving after the execution already reached a terminal
// state is discarded instead of overwriting it.
type Runner struct {
	store    *Store
	executor types.Executor
	timeout  time.Duration
}

func NewRunner(store *Store, executor types.Executor, timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Runner{store: store, executor: executor, timeout: timeout}
}

// Run executes a pending execution to completion and returns the
// final record. The returned error reports infrastructure problems
// around the run; executor failures land on the execution itself.
func (r *Runner) Run(ctx context.Context, executionID string) (Execution, error) {
	exec, err := r.store.GetExecution(ctx, executionID)
	if err != nil {
		return Execution{}, fmt.Errorf("load execution %s: %w", executionID, err)
	}
	if exec.Status != StatusPending {
		return exec, fmt.Errorf("execution %s is %s, expected pending: %w", exec.ID, exec.Status, ErrInvalidTransition)
	}

	if err := r.executor.Ready(); err != nil {
		msg := fmt.Sprintf("executor %s unavailable: %v", r.executor.Name(), err)
		if ferr := r.store.MarkFailed(ctx, exec.ID, msg, ErrKindInfrastructure); ferr != nil {
			return Execution{}, fmt.Errorf("mark execution %s failed: %w", exec.ID, ferr)
		}
		return r.store.GetExecution(ctx, exec.ID)
	}

	if err := r.store.MarkRunning(ctx, exec.ID); err != nil {
		return Execution{}, fmt.Errorf("start execution %s: %w", exec.ID, err)
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, execErr := r.executor.Execute(runCtx, types.ExecRequest{
		Prompt:         exec.Prompt,
		Context:        exec.Context,
		Extensions:     exec.Extensions,
		TimeoutSeconds: int(r.timeout.Seconds()),
	})

	switch {
	case execErr != nil && (errors.Is(execErr, context.DeadlineExceeded) || runCtx.Err() == context.DeadlineExceeded):
		r.fail(ctx, exec.ID, fmt.Sprintf("execution timed out after %s", r.timeout), ErrKindTimeout)
	case execErr != nil:
		r.fail(ctx, exec.ID, execErr.Error(), ErrKindExecutor)
	case !result.Success:
		msg := result.Error
		if msg == "" {
			msg = "executor reported failure without detail"
		}
		r.fail(ctx, exec.ID, msg, ErrKindExecutor)
	default:
		if err := r.store.MarkCompleted(ctx, exec.ID, result.Output, result.ExtensionsOutput); err != nil {
			if errors.Is(err, ErrInvalidTransition) {
				logger.Warn("discarding late result for execution %s, already terminal", exec.ID)
			} else {
				return Execution{}, fmt.Errorf("complete execution %s: %w", exec.ID, err)
			}
		}
	}

	return r.store.GetExecution(ctx, exec.ID)
}

func (r *Runner) fail(ctx context.Context, id, message string, kind ErrorKind) {
	if err := r.store.MarkFailed(ctx, id, message, kind); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			logger.Warn("discarding late failure for execution %s, already terminal", id)
			return
		}
		logger.Error("failed to record %s failure for execution %s: %v", kind, id, err)
	}
}
