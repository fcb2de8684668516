package task

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"goosuke/app/core/db"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.NewSQLiteDB(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("init sqlite failed: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	return NewStore(database)
}

func mustTemplate(t *testing.T, store *Store, prompt string, extensions ...string) Template {
	t.Helper()
	tmpl, err := store.CreateTemplate(context.Background(), Template{
		Name:       "review",
		TaskType:   "summary",
		Prompt:     prompt,
		Extensions: extensions,
	})
	if err != nil {
		t.Fatalf("create template failed: %v", err)
	}
	return tmpl
}

func mustExecution(t *testing.T, store *Store, tmpl Template) Execution {
	t.Helper()
	exec, err := store.CreateExecution(context.Background(), Execution{
		UserID:     "u-1",
		TemplateID: tmpl.ID,
		TaskType:   tmpl.TaskType,
		Prompt:     "summarize the thread",
		Context:    map[string]string{"content": "hello"},
		Extensions: tmpl.Extensions,
	})
	if err != nil {
		t.Fatalf("create execution failed: %v", err)
	}
	return exec
}

func TestTemplateCreateAndGet(t *testing.T) {
	store := newTestStore(t)
	tmpl := mustTemplate(t, store, "Summarize {content}", "web", "developer")

	got, err := store.GetTemplate(context.Background(), tmpl.ID)
	if err != nil {
		t.Fatalf("get template failed: %v", err)
	}
	if got.Prompt != "Summarize {content}" || got.TaskType != "summary" {
		t.Fatalf("unexpected template: %+v", got)
	}
	if len(got.Extensions) != 2 || got.Extensions[0] != "web" {
		t.Fatalf("extensions not persisted: %+v", got.Extensions)
	}
}

func TestExecutionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	exec := mustExecution(t, store, mustTemplate(t, store, "p"))

	if exec.Status != StatusPending {
		t.Fatalf("new execution should be pending, got %s", exec.Status)
	}
	if err := store.MarkRunning(ctx, exec.ID); err != nil {
		t.Fatalf("mark running failed: %v", err)
	}
	output := map[string]interface{}{"web": map[string]interface{}{"url": "https://example.com"}}
	if err := store.MarkCompleted(ctx, exec.ID, "done", output); err != nil {
		t.Fatalf("mark completed failed: %v", err)
	}

	got, err := store.GetExecution(ctx, exec.ID)
	if err != nil {
		t.Fatalf("get execution failed: %v", err)
	}
	if got.Status != StatusCompleted || got.Result != "done" {
		t.Fatalf("unexpected execution: %+v", got)
	}
	if got.CompletedAt == 0 {
		t.Fatal("completed execution should record completion time")
	}
	if _, ok := got.ExtensionsOutput["web"]; !ok {
		t.Fatalf("extensions output not persisted: %+v", got.ExtensionsOutput)
	}
	if got.Context["content"] != "hello" {
		t.Fatalf("context snapshot lost: %+v", got.Context)
	}
}

func TestGuardedTransitionsRejectSkips(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	exec := mustExecution(t, store, mustTemplate(t, store, "p"))

	if err := store.MarkCompleted(ctx, exec.ID, "done", nil); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("completing a pending execution should be rejected, got %v", err)
	}
	if err := store.MarkRunning(ctx, exec.ID); err != nil {
		t.Fatalf("mark running failed: %v", err)
	}
	if err := store.MarkRunning(ctx, exec.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("double start should be rejected, got %v", err)
	}
	if err := store.MarkRunning(ctx, "exec-missing"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("unknown execution should report no rows, got %v", err)
	}
}

func TestTerminalStateIsImmutable(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	exec := mustExecution(t, store, mustTemplate(t, store, "p"))

	if err := store.MarkRunning(ctx, exec.ID); err != nil {
		t.Fatalf("mark running failed: %v", err)
	}
	if err := store.MarkFailed(ctx, exec.ID, "boom", ErrKindTimeout); err != nil {
		t.Fatalf("mark failed failed: %v", err)
	}

	// A late success arriving after the timeout verdict must not win.
	if err := store.MarkCompleted(ctx, exec.ID, "late", nil); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("late completion should be discarded, got %v", err)
	}

	got, err := store.GetExecution(ctx, exec.ID)
	if err != nil {
		t.Fatalf("get execution failed: %v", err)
	}
	if got.Status != StatusFailed || got.ErrorKind != ErrKindTimeout || got.Result != "" {
		t.Fatalf("terminal state was mutated: %+v", got)
	}
}

func TestOnlyInfrastructureFailsFromPending(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	exec := mustExecution(t, store, mustTemplate(t, store, "p"))
	if err := store.MarkFailed(ctx, exec.ID, "boom", ErrKindExecutor); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("executor failure from pending should be rejected, got %v", err)
	}
	if err := store.MarkFailed(ctx, exec.ID, "executor missing", ErrKindInfrastructure); err != nil {
		t.Fatalf("infrastructure failure from pending should be allowed: %v", err)
	}

	got, err := store.GetExecution(ctx, exec.ID)
	if err != nil {
		t.Fatalf("get execution failed: %v", err)
	}
	if got.Status != StatusFailed || got.ErrorKind != ErrKindInfrastructure {
		t.Fatalf("unexpected execution: %+v", got)
	}
}

func TestListExecutionsFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	tmpl := mustTemplate(t, store, "p")

	first := mustExecution(t, store, tmpl)
	second := mustExecution(t, store, tmpl)
	if err := store.MarkRunning(ctx, second.ID); err != nil {
		t.Fatalf("mark running failed: %v", err)
	}
	if err := store.MarkCompleted(ctx, second.ID, "done", nil); err != nil {
		t.Fatalf("mark completed failed: %v", err)
	}

	pending, err := store.ListExecutions(ctx, ExecutionFilter{Status: StatusPending})
	if err != nil {
		t.Fatalf("list executions failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != first.ID {
		t.Fatalf("unexpected pending list: %+v", pending)
	}

	byTemplate, err := store.ListExecutions(ctx, ExecutionFilter{TemplateID: tmpl.ID})
	if err != nil {
		t.Fatalf("list executions failed: %v", err)
	}
	if len(byTemplate) != 2 {
		t.Fatalf("expected 2 executions for template, got %d", len(byTemplate))
	}
}
