package trigger

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"goosuke/app/core/action"
	"goosuke/app/pkg/types"
)

// MessageSource reads messages from the channel that raised an event.
// Chat adapters implement this; the collector never talks to a chat
// client directly.
type MessageSource interface {
	// Message fetches the single referenced message.
	Message(ctx context.Context, ref types.MessageRef) (types.SourceMessage, error)
	// Thread returns every message in the referenced message's thread,
	// oldest first. An empty result means the message is not threaded.
	Thread(ctx context.Context, ref types.MessageRef, limit int) ([]types.SourceMessage, error)
	// History returns up to limit messages strictly before the given
	// message id, newest first.
	History(ctx context.Context, channelID, beforeID string, limit int) ([]types.SourceMessage, error)
}

// CollectionRangeError is returned when a range collection cannot find
// its start marker inside the lookback window.
type CollectionRangeError struct {
	Marker   string
	Lookback int
}

func (e *CollectionRangeError) Error() string {
	return fmt.Sprintf("range start marker %q not found within %d messages", e.Marker, e.Lookback)
}

type Collector struct {
	lookback    int
	threadLimit int
}

func NewCollector(lookback, threadLimit int) *Collector {
	if lookback <= 0 {
		lookback = 200
	}
	if threadLimit <= 0 {
		threadLimit = 100
	}
	return &Collector{lookback: lookback, threadLimit: threadLimit}
}

// Collect gathers the source messages for a matched trigger according
// to its message_type. Results are always oldest first.
func (c *Collector) Collect(ctx context.Context, src MessageSource, cfg action.ChatTriggerConfig, ref types.MessageRef) ([]types.SourceMessage, error) {
	switch cfg.MessageType {
	case action.MessageSingle:
		msg, err := src.Message(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("fetch triggering message: %w", err)
		}
		return []types.SourceMessage{msg}, nil
	case action.MessageThread:
		return c.collectThread(ctx, src, ref)
	case action.MessageRange:
		return c.collectRange(ctx, src, cfg, ref)
	default:
		return nil, fmt.Errorf("unknown message type: %s", cfg.MessageType)
	}
}

func (c *Collector) collectThread(ctx context.Context, src MessageSource, ref types.MessageRef) ([]types.SourceMessage, error) {
	msgs, err := src.Thread(ctx, ref, c.threadLimit)
	if err != nil {
		return nil, fmt.Errorf("fetch thread: %w", err)
	}
	if len(msgs) == 0 {
		// Unthreaded message: degrade to the triggering message alone.
		msg, err := src.Message(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("fetch triggering message: %w", err)
		}
		return []types.SourceMessage{msg}, nil
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Timestamp < msgs[j].Timestamp })
	return msgs, nil
}

func (c *Collector) collectRange(ctx context.Context, src MessageSource, cfg action.ChatTriggerConfig, ref types.MessageRef) ([]types.SourceMessage, error) {
	trigger, err := src.Message(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("fetch triggering message: %w", err)
	}

	history, err := src.History(ctx, ref.ChannelID, ref.MessageID, c.lookback)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}

	markerIdx := -1
	for i, msg := range history {
		if strings.Contains(msg.Content, cfg.RangeMarker) {
			markerIdx = i
			break
		}
	}
	if markerIdx < 0 {
		return nil, &CollectionRangeError{Marker: cfg.RangeMarker, Lookback: c.lookback}
	}

	// history is newest first; keep marker..trigger and flip to oldest
	// first with the triggering message last.
	collected := make([]types.SourceMessage, 0, markerIdx+2)
	for i := markerIdx; i >= 0; i-- {
		collected = append(collected, history[i])
	}
	collected = append(collected, trigger)
	return collected, nil
}
