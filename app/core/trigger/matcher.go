package trigger

import (
	"context"
	"strings"

	"goosuke/app/core/action"
	"goosuke/app/pkg/types"
)

// Matcher resolves an inbound event to at most one trigger binding.
type Matcher struct {
	store *action.Store
}

func NewMatcher(store *action.Store) *Matcher {
	return &Matcher{store: store}
}

// Match returns the binding the event satisfies, or nil when nothing
// matches. No match is a normal outcome, not an error. When several
// enabled configs match, the most recently updated one wins; the store
// returns bindings in that order, so the first hit is the winner.
func (m *Matcher) Match(ctx context.Context, ev types.Event) (*action.TriggerBinding, error) {
	bindings, err := m.store.EnabledTriggerBindings(ctx)
	if err != nil {
		return nil, err
	}
	for i := range bindings {
		if eventMatches(bindings[i].Config, ev) {
			return &bindings[i], nil
		}
	}
	return nil, nil
}

func eventMatches(cfg action.ChatTriggerConfig, ev types.Event) bool {
	switch cfg.CatchType {
	case action.CatchReaction:
		return ev.Kind == types.EventReaction && ev.Value == cfg.CatchValue
	case action.CatchText:
		return ev.Kind == types.EventMessage && strings.Contains(ev.Value, cfg.CatchValue)
	case action.CatchTextWithMention:
		return ev.Kind == types.EventMention && strings.Contains(ev.Value, cfg.CatchValue)
	default:
		return false
	}
}
