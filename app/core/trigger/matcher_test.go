package trigger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"goosuke/app/core/action"
	"goosuke/app/core/db"
	"goosuke/app/pkg/types"
)

func newActionStore(t *testing.T) *action.Store {
	t.Helper()
	database, err := db.NewSQLiteDB(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("init sqlite failed: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	return action.NewStore(database)
}

func bindTrigger(t *testing.T, store *action.Store, name string, cfg action.ChatTriggerConfig) action.ChatTriggerConfig {
	t.Helper()
	ctx := context.Background()
	a, err := store.CreateAction(ctx, name, action.TypeDiscord, "tmpl-"+name, nil, nil)
	if err != nil {
		t.Fatalf("create action failed: %v", err)
	}
	created, err := store.CreateTriggerConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("create trigger config failed: %v", err)
	}
	if _, err := store.LinkConfig(ctx, a.ID, action.ConfigDiscord, created.ID); err != nil {
		t.Fatalf("link failed: %v", err)
	}
	return created
}

func TestMatchReactionRequiresExactEmoji(t *testing.T) {
	store := newActionStore(t)
	matcher := NewMatcher(store)
	cfg := bindTrigger(t, store, "summarize", action.ChatTriggerConfig{
		Name: "pencil", CatchType: action.CatchReaction, CatchValue: "✏️", MessageType: action.MessageThread,
	})

	match, err := matcher.Match(context.Background(), types.Event{
		ChannelID: "ch-1", Kind: types.EventReaction, Value: "✏️",
	})
	if err != nil {
		t.Fatalf("match failed: %v", err)
	}
	if match == nil || match.Config.ID != cfg.ID {
		t.Fatalf("expected pencil config, got %+v", match)
	}

	miss, err := matcher.Match(context.Background(), types.Event{
		ChannelID: "ch-1", Kind: types.EventReaction, Value: "👍",
	})
	if err != nil {
		t.Fatalf("match failed: %v", err)
	}
	if miss != nil {
		t.Fatalf("expected no match for other emoji, got %+v", miss)
	}
}

func TestMatchTextUsesContainment(t *testing.T) {
	store := newActionStore(t)
	matcher := NewMatcher(store)
	bindTrigger(t, store, "deploy", action.ChatTriggerConfig{
		Name: "deploy", CatchType: action.CatchText, CatchValue: "!deploy", MessageType: action.MessageSingle,
	})

	match, err := matcher.Match(context.Background(), types.Event{
		Kind: types.EventMessage, Value: "please !deploy the staging env",
	})
	if err != nil {
		t.Fatalf("match failed: %v", err)
	}
	if match == nil {
		t.Fatal("expected containment match")
	}

	// A reaction event never satisfies a text catch.
	miss, err := matcher.Match(context.Background(), types.Event{
		Kind: types.EventReaction, Value: "!deploy",
	})
	if err != nil {
		t.Fatalf("match failed: %v", err)
	}
	if miss != nil {
		t.Fatal("reaction event must not satisfy text catch")
	}
}

func TestMatchMentionKind(t *testing.T) {
	store := newActionStore(t)
	matcher := NewMatcher(store)
	bindTrigger(t, store, "ask", action.ChatTriggerConfig{
		Name: "ask", CatchType: action.CatchTextWithMention, CatchValue: "summarize", MessageType: action.MessageSingle,
	})

	match, err := matcher.Match(context.Background(), types.Event{
		Kind: types.EventMention, Value: "@goosuke summarize this thread",
	})
	if err != nil {
		t.Fatalf("match failed: %v", err)
	}
	if match == nil {
		t.Fatal("expected mention match")
	}

	miss, err := matcher.Match(context.Background(), types.Event{
		Kind: types.EventMessage, Value: "summarize this thread",
	})
	if err != nil {
		t.Fatalf("match failed: %v", err)
	}
	if miss != nil {
		t.Fatal("plain message must not satisfy mention catch")
	}
}

func TestMatchTieBreakPrefersMostRecentlyUpdated(t *testing.T) {
	store := newActionStore(t)
	matcher := NewMatcher(store)

	bindTrigger(t, store, "older", action.ChatTriggerConfig{
		Name: "older", CatchType: action.CatchText, CatchValue: "deploy", MessageType: action.MessageSingle,
	})
	time.Sleep(1100 * time.Millisecond) // updated_at has second granularity
	newer := bindTrigger(t, store, "newer", action.ChatTriggerConfig{
		Name: "newer", CatchType: action.CatchText, CatchValue: "deploy now", MessageType: action.MessageSingle,
	})

	match, err := matcher.Match(context.Background(), types.Event{
		Kind: types.EventMessage, Value: "deploy now please",
	})
	if err != nil {
		t.Fatalf("match failed: %v", err)
	}
	if match == nil || match.Config.ID != newer.ID {
		t.Fatalf("expected most recently updated config to win, got %+v", match)
	}
}
