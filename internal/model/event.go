package model

import (
	"time"
)

// EventType represents the type of job event.
type EventType string

const (
	EventTypePart     EventType = "part"
	EventTypeThought  EventType = "thought"
	EventTypeUsage    EventType = "usage"
	EventTypeError    EventType = "error"
	EventTypeComplete EventType = "complete"
	EventTypeCancel   EventType = "cancel"
)

// JobEvent is one increment or lifecycle transition of a generation job,
// published to subscribers (SSE clients, the JetStream event sink).
type JobEvent struct {
	ID             string      `json:"id,omitempty"`
	JobID          string      `json:"job_id"`
	ConversationID string      `json:"conversation_id"`
	MessageID      string      `json:"message_id,omitempty"`
	Type           EventType   `json:"type"`
	Text           string      `json:"text,omitempty"`
	Usage          *TokenUsage `json:"usage,omitempty"`
	Grounding      *Grounding  `json:"grounding,omitempty"`
	Reason         string      `json:"reason,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

