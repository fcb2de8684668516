package trigger

import (
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/sjson"

	"goosuke/app/core/action"
	"goosuke/app/pkg/types"
)

// textSeparator joins collected message lines in the payload's text
// field. Extraction rules depend on it staying stable.
const textSeparator = "\n"

// BuildPayload assembles the JSON document the rule evaluator reads.
// Top-level keys: text (joined message lines with author/timestamp
// provenance), messages (the raw collected sequence) and metadata
// (channel and event fields).
func BuildPayload(messages []types.SourceMessage, ev types.Event, cfg action.ChatTriggerConfig) ([]byte, error) {
	doc := "{}"
	var err error

	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		stamp := time.Unix(msg.Timestamp, 0).UTC().Format(time.RFC3339)
		lines = append(lines, fmt.Sprintf("[%s] %s: %s", stamp, msg.Author, msg.Content))
	}
	if doc, err = sjson.Set(doc, "text", strings.Join(lines, textSeparator)); err != nil {
		return nil, err
	}

	for i, msg := range messages {
		prefix := fmt.Sprintf("messages.%d", i)
		if doc, err = sjson.Set(doc, prefix+".id", msg.ID); err != nil {
			return nil, err
		}
		if doc, err = sjson.Set(doc, prefix+".author", msg.Author); err != nil {
			return nil, err
		}
		if doc, err = sjson.Set(doc, prefix+".content", msg.Content); err != nil {
			return nil, err
		}
		if doc, err = sjson.Set(doc, prefix+".timestamp", msg.Timestamp); err != nil {
			return nil, err
		}
		if msg.ReferenceID != "" {
			if doc, err = sjson.Set(doc, prefix+".reference_id", msg.ReferenceID); err != nil {
				return nil, err
			}
		}
	}

	meta := map[string]interface{}{
		"channel_id":   ev.ChannelID,
		"event_kind":   string(ev.Kind),
		"catch_type":   string(cfg.CatchType),
		"catch_value":  cfg.CatchValue,
		"requested_by": ev.UserName,
		"user_id":      ev.UserID,
		"message_id":   ev.Ref.MessageID,
	}
	if ev.Ref.ThreadID != "" {
		meta["thread_id"] = ev.Ref.ThreadID
	}
	for key, value := range ev.Meta {
		if _, taken := meta[key]; !taken {
			meta[key] = value
		}
	}
	if doc, err = sjson.Set(doc, "metadata", meta); err != nil {
		return nil, err
	}

	return []byte(doc), nil
}
