// Package model defines data structures for the generation platform.
package model

import (
	"time"
)

// PlaceholderTitle is the title a conversation keeps until the title
// generator has produced a real one.
const PlaceholderTitle = "New conversation"

// ConversationSettings holds per-conversation generation settings.
type ConversationSettings struct {
	ModelID         string  `json:"model_id"`
	Temperature     float64 `json:"temperature,omitempty"`
	TopP            float64 `json:"top_p,omitempty"`
	MaxOutputTokens int     `json:"max_output_tokens,omitempty"`
	ThinkingEnabled bool    `json:"thinking_enabled,omitempty"`
	// LockedAPIKey pins the conversation to the credential it started with.
	LockedAPIKey string `json:"-"`
}

// Conversation represents an ordered, persisted list of messages plus its
// settings. The message order is never rearranged; messages are appended,
// truncated at an edit point, or mutated in place at a fixed index.
type Conversation struct {
	ID        string               `json:"id"`
	Title     string               `json:"title"`
	Messages  []*Message           `json:"messages"`
	Settings  ConversationSettings `json:"settings"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// MessageByID returns the message with the given id and its index, or
// (nil, -1) when absent.
func (c *Conversation) MessageByID(id string) (*Message, int) {
	for i, m := range c.Messages {
		if m.ID == id {
			return m, i
		}
	}
	return nil, -1
}

// Clone returns a deep copy of the conversation.
func (c *Conversation) Clone() *Conversation {
	cp := *c
	cp.Messages = make([]*Message, len(c.Messages))
	for i, m := range c.Messages {
		cp.Messages[i] = m.Clone()
	}
	return &cp
}
