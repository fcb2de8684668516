package types

import "context"

// EventKind classifies an inbound chat event.
type EventKind string

const (
	EventReaction EventKind = "reaction"
	EventMessage  EventKind = "message"
	EventMention  EventKind = "mention"
)

// MessageRef points at the message an event was raised on.
type MessageRef struct {
	ChannelID string
	MessageID string
	ThreadID  string
}

// Event is an already-parsed inbound trigger event. Chat adapters hand
// these to the dispatcher; the raw client payload stays on the adapter
// side.
type Event struct {
	ChannelID string
	Kind      EventKind
	Value     string // reaction emoji or message text
	UserID    string
	UserName  string
	Ref       MessageRef
	RequestID string
	Meta      map[string]interface{}
}

// SourceMessage is one collected message fed into context extraction.
type SourceMessage struct {
	ID          string
	Author      string
	Content     string
	Timestamp   int64
	ReferenceID string
}

// ResponseFormat selects how a result is delivered back.
type ResponseFormat string

const (
	RespondReply   ResponseFormat = "reply"
	RespondDM      ResponseFormat = "dm"
	RespondChannel ResponseFormat = "channel"
)

// Response is an outbound delivery produced for a finished execution.
type Response struct {
	ChannelID string
	UserID    string
	Format    ResponseFormat
	Content   string
	Ref       MessageRef
}

// Channel is an input/output adapter (console, webhook relay, chat bot).
type Channel interface {
	Start(ctx context.Context, handler func(Event)) error
	Send(ctx context.Context, resp Response) error
	ID() string
}

// ExecRequest is the invocation contract sent to the execution agent.
type ExecRequest struct {
	Prompt         string
	Context        map[string]string
	Extensions     []string
	TimeoutSeconds int
}

// ExecResult is what the execution agent reports back.
type ExecResult struct {
	Success          bool
	Output           string
	ExtensionsOutput map[string]interface{}
	Error            string
}

// Executor runs a task on the external agent. Ready reports whether the
// agent is reachable at all; a Ready failure is an infrastructure error,
// not an execution error.
type Executor interface {
	Name() string
	Ready() error
	Execute(ctx context.Context, req ExecRequest) (ExecResult, error)
}
