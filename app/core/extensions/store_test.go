package extensions

import (
	"context"
	"database/sql"
	"errors"
	"testing"
)

func TestUpsertCreatesWithDefaults(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ext, changed, err := store.Upsert(ctx, "web", Patch{})
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if !changed {
		t.Fatal("creation should report a change")
	}
	if !ext.Enabled || ext.ExtType != TypeStdio {
		t.Fatalf("unexpected defaults: %+v", ext)
	}
	if ext.ID == "" || ext.CreatedAt == 0 {
		t.Fatalf("identity fields not set: %+v", ext)
	}
}

func TestUpsertRejectsInvalidType(t *testing.T) {
	store := newTestStore(t)

	bad := Type("teleport")
	if _, _, err := store.Upsert(context.Background(), "web", Patch{ExtType: &bad}); err == nil {
		t.Fatal("invalid type should be rejected")
	}
}

func TestUpsertPartialUpdate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cmd := "curl"
	timeout := 10
	if _, _, err := store.Upsert(ctx, "web", Patch{Cmd: &cmd, Timeout: &timeout}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	args := []string{"-s"}
	updated, changed, err := store.Upsert(ctx, "web", Patch{Args: &args})
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if !changed {
		t.Fatal("new args should count as a change")
	}
	if updated.Cmd != "curl" || updated.Timeout != 10 {
		t.Fatalf("absent fields were clobbered: %+v", updated)
	}
	if len(updated.Args) != 1 || updated.Args[0] != "-s" {
		t.Fatalf("args not applied: %+v", updated.Args)
	}

	// Same patch again is a no-op.
	if _, changed, err := store.Upsert(ctx, "web", Patch{Args: &args}); err != nil || changed {
		t.Fatalf("identical patch should be a no-op: changed=%v err=%v", changed, err)
	}
}

func TestSetEnabledAndDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, _, err := store.Upsert(ctx, "web", Patch{}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if err := store.SetEnabled(ctx, "web", false); err != nil {
		t.Fatalf("disable failed: %v", err)
	}
	ext, err := store.GetByName(ctx, "web")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if ext.Enabled {
		t.Fatal("extension should be disabled")
	}

	if err := store.SetEnabled(ctx, "ghost", true); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("unknown name should report no rows, got %v", err)
	}

	if err := store.Delete(ctx, "web"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := store.GetByName(ctx, "web"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("deleted extension should be gone, got %v", err)
	}
}
