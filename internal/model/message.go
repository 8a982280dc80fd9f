package model

import (
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
	RoleError Role = "error"
)

// FileState tracks the processing state of an attached file.
type FileState string

const (
	FileStateProcessing FileState = "processing"
	FileStateReady      FileState = "ready"
	FileStateFailed     FileState = "failed"
)

// FileRef is a reference to a file attached to a message.
type FileRef struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	MimeType string    `json:"mime_type"`
	URI      string    `json:"uri,omitempty"`
	State    FileState `json:"state"`
	// Accepted marks a failed file the user chose to send anyway.
	Accepted bool `json:"accepted,omitempty"`
}

// TokenUsage holds token counters reported by the provider.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
	CumulativeTotal  int `json:"cumulative_total,omitempty"`
}

// MessageVersion is a retained prior rendering of a model message.
type MessageVersion struct {
	Content           string      `json:"content"`
	Thoughts          string      `json:"thoughts,omitempty"`
	Files             []FileRef   `json:"files,omitempty"`
	Usage             *TokenUsage `json:"usage,omitempty"`
	GenerationStarted *time.Time  `json:"generation_started,omitempty"`
	GenerationEnded   *time.Time  `json:"generation_ended,omitempty"`
	ThinkingMs        int64       `json:"thinking_ms,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
}

// Message represents one turn in a conversation.
type Message struct {
	ID      string    `json:"id"`
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	Files   []FileRef `json:"files,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	// IsLoading is true while a generation job targets this message.
	IsLoading bool `json:"is_loading,omitempty"`
	// Error carries a terminal failure recorded onto the message.
	Error string `json:"error,omitempty"`

	// Generation metadata, populated for model messages.
	Thoughts          string      `json:"thoughts,omitempty"`
	GenerationStarted *time.Time  `json:"generation_started,omitempty"`
	GenerationEnded   *time.Time  `json:"generation_ended,omitempty"`
	ThinkingMs        int64       `json:"thinking_ms,omitempty"`
	Usage             *TokenUsage `json:"usage,omitempty"`
	Grounding         *Grounding  `json:"grounding,omitempty"`

	// Version history across retries. Index 0 is always the original
	// pre-retry rendering; ActiveVersion selects the displayed snapshot.
	Versions      []MessageVersion `json:"versions,omitempty"`
	ActiveVersion int              `json:"active_version,omitempty"`
}

// Grounding holds provider-supplied grounding metadata for a response.
type Grounding struct {
	Sources []string `json:"sources,omitempty"`
	Queries []string `json:"queries,omitempty"`
}

// snapshot captures the message's live generation fields as a version.
func (m *Message) snapshot() MessageVersion {
	return MessageVersion{
		Content:           m.Content,
		Thoughts:          m.Thoughts,
		Files:             append([]FileRef(nil), m.Files...),
		Usage:             m.Usage,
		GenerationStarted: m.GenerationStarted,
		GenerationEnded:   m.GenerationEnded,
		ThinkingMs:        m.ThinkingMs,
		CreatedAt:         m.CreatedAt,
	}
}

// BranchForRetry pushes the current rendering into the version history and
// resets the live fields for a fresh generation. If the message has no prior
// versions, its current state becomes version 0 before the new blank version
// is appended. ActiveVersion advances to the new version.
func (m *Message) BranchForRetry(now time.Time) {
	if len(m.Versions) == 0 {
		m.Versions = append(m.Versions, m.snapshot())
	} else {
		// Persist the live rendering back onto the slot it was displayed from.
		m.Versions[m.ActiveVersion] = m.snapshot()
	}

	m.Versions = append(m.Versions, MessageVersion{CreatedAt: now})
	m.ActiveVersion = len(m.Versions) - 1

	m.Content = ""
	m.Thoughts = ""
	m.Files = nil
	m.Usage = nil
	m.Grounding = nil
	m.GenerationStarted = nil
	m.GenerationEnded = nil
	m.ThinkingMs = 0
	m.Error = ""
	m.IsLoading = true
}

// CommitActiveVersion writes the live rendering into the active version slot,
// keeping the history consistent once a retry finishes.
func (m *Message) CommitActiveVersion() {
	if len(m.Versions) == 0 {
		return
	}
	m.Versions[m.ActiveVersion] = m.snapshot()
}

// RestoreVersion switches the displayed rendering to version i. It is a no-op
// for out-of-range indexes or messages that were never retried.
func (m *Message) RestoreVersion(i int) {
	if i < 0 || i >= len(m.Versions) {
		return
	}
	m.CommitActiveVersion()
	v := m.Versions[i]
	m.Content = v.Content
	m.Thoughts = v.Thoughts
	m.Files = append([]FileRef(nil), v.Files...)
	m.Usage = v.Usage
	m.GenerationStarted = v.GenerationStarted
	m.GenerationEnded = v.GenerationEnded
	m.ThinkingMs = v.ThinkingMs
	m.ActiveVersion = i
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	c := *m
	c.Files = append([]FileRef(nil), m.Files...)
	c.Versions = append([]MessageVersion(nil), m.Versions...)
	if m.Usage != nil {
		u := *m.Usage
		c.Usage = &u
	}
	if m.Grounding != nil {
		g := Grounding{
			Sources: append([]string(nil), m.Grounding.Sources...),
			Queries: append([]string(nil), m.Grounding.Queries...),
		}
		c.Grounding = &g
	}
	return &c
}
