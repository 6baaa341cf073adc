// Package events provides the in-process domain event bus and the
// WebSocket fan-out used by dashboard clients.
//
// Every event is a typed payload struct embedding BasePayload. The wire
// format is a tagged object {type, testId, …fields}; the Bus marshals a
// payload exactly once per publish and fans the bytes out to every
// subscriber interested in that testId.
package events

import (
	"time"

	"github.com/craftlab-ai/gauntlet/pkg/models"
)

// Domain event types.
const (
	EventTypeStatusChanged  = "test-status-changed"
	EventTypeLLMDecision    = "target-llm-decision"
	EventTypeAgentAction    = "agent-action"
	EventTypeChatMessage    = "test-chat-message"
	EventTypeMetricsUpdated = "test-metrics-updated"
	EventTypeCompleted      = "test-completed"
	EventTypeError          = "test-error"
)

// ChatChannel distinguishes text chat from voice playback.
type ChatChannel string

// Chat channels.
const (
	ChannelText  ChatChannel = "text"
	ChannelVoice ChatChannel = "voice"
)

// BasePayload carries the fields common to every domain event.
type BasePayload struct {
	Type      string `json:"type"`
	TestID    string `json:"testId"`
	Timestamp string `json:"timestamp"`
}

// EventType returns the tagged union discriminator.
func (p BasePayload) EventType() string { return p.Type }

// EventTestID returns the subject the event belongs to.
func (p BasePayload) EventTestID() string { return p.TestID }

// Event is any domain event payload routable by the Bus.
type Event interface {
	EventType() string
	EventTestID() string
}

// NewBase builds a BasePayload stamped with the current UTC time.
func NewBase(eventType, testID string) BasePayload {
	return BasePayload{
		Type:      eventType,
		TestID:    testID,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// StatusChangedPayload is emitted exactly once per state transition.
type StatusChangedPayload struct {
	BasePayload
	PreviousStatus models.TestStatus `json:"previousStatus"`
	NewStatus      models.TestStatus `json:"newStatus"`
}

// LLMDecisionPayload is emitted after each successfully parsed decision.
type LLMDecisionPayload struct {
	BasePayload
	AgentID        string   `json:"agentId"`
	Reasoning      string   `json:"reasoning,omitempty"`
	ParsedActions  []string `json:"parsedActions"`
	Chat           string   `json:"chat,omitempty"`
	Speak          string   `json:"speak,omitempty"`
	ResponseTimeMs int64    `json:"responseTimeMs"`
}

// AgentActionPayload is emitted per executed game action.
type AgentActionPayload struct {
	BasePayload
	AgentID    string            `json:"agentId"`
	SourceType models.SourceType `json:"sourceType"`
	Action     string            `json:"action"`
	Success    bool              `json:"success"`
	Detail     string            `json:"detail,omitempty"`
}

// ChatMessagePayload is emitted for every text or voice message.
type ChatMessagePayload struct {
	BasePayload
	AgentID    string            `json:"agentId"`
	SourceType models.SourceType `json:"sourceType"`
	Channel    ChatChannel       `json:"channel"`
	Message    string            `json:"message"`
}

// MetricsUpdatedPayload carries a metrics snapshot after counter changes.
type MetricsUpdatedPayload struct {
	BasePayload
	Metrics models.TestMetrics `json:"metrics"`
}

// CompletedPayload is the single terminal event of a run.
type CompletedPayload struct {
	BasePayload
	Reason       models.CompletionReason `json:"reason"`
	FinalMetrics models.TestMetrics      `json:"finalMetrics"`
}

// ErrorPayload reports a transient (fatal=false) or unrecoverable
// (fatal=true) engine error.
type ErrorPayload struct {
	BasePayload
	Message string `json:"message"`
	Fatal   bool   `json:"fatal"`
}
