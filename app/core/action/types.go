package action

import (
	"goosuke/app/core/extract"
	"goosuke/app/pkg/types"
)

// Type is the kind of entry point an action is bound to.
type Type string

const (
	TypeAPI     Type = "api"
	TypeWebhook Type = "webhook"
	TypeDiscord Type = "discord"
	TypeSlack   Type = "slack"
)

func ValidType(t Type) bool {
	switch t {
	case TypeAPI, TypeWebhook, TypeDiscord, TypeSlack:
		return true
	}
	return false
}

// ConfigType tags a channel config record linked to an action. Only
// discord configs exist today; slack is reserved.
type ConfigType string

const (
	ConfigDiscord ConfigType = "discord"
	ConfigSlack   ConfigType = "slack"
)

func ValidConfigType(t ConfigType) bool {
	return t == ConfigDiscord || t == ConfigSlack
}

// Action binds a trigger condition to a task template.
type Action struct {
	ID              string
	Name            string
	ActionType      Type
	Config          map[string]interface{}
	ContextRules    []extract.Rule
	TaskTemplateID  string
	Enabled         bool
	CreatedAt       int64
	UpdatedAt       int64
	LastTriggeredAt int64
}

// ActionConfig links an action to one typed channel config by
// (config_type, config_id). The referenced row lives in the table the
// tag selects; there is no generic foreign key.
type ActionConfig struct {
	ID         string
	ActionID   string
	ConfigType ConfigType
	ConfigID   string
	CreatedAt  int64
	UpdatedAt  int64
}

// CatchType is how a chat trigger recognizes its event.
type CatchType string

const (
	CatchReaction        CatchType = "reaction"
	CatchText            CatchType = "text"
	CatchTextWithMention CatchType = "text_with_mention"
)

func ValidCatchType(t CatchType) bool {
	switch t {
	case CatchReaction, CatchText, CatchTextWithMention:
		return true
	}
	return false
}

// MessageType is the message collection strategy for a matched trigger.
type MessageType string

const (
	MessageSingle MessageType = "single"
	MessageThread MessageType = "thread"
	MessageRange  MessageType = "range"
)

func ValidMessageType(t MessageType) bool {
	switch t {
	case MessageSingle, MessageThread, MessageRange:
		return true
	}
	return false
}

// ChatTriggerConfig is one per-channel trigger definition.
type ChatTriggerConfig struct {
	ID             string
	Name           string
	CatchType      CatchType
	CatchValue     string
	MessageType    MessageType
	ResponseFormat types.ResponseFormat
	RangeMarker    string // start marker for message_type = range
	Enabled        bool
	CreatedAt      int64
	UpdatedAt      int64
}

// TriggerBinding is a trigger config joined to its owning action.
type TriggerBinding struct {
	Config ChatTriggerConfig
	Action Action
}
