package model

import (
	"time"
)

// JobStatus is the lifecycle state of a generation job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobActive    JobStatus = "active"
	JobCompleted JobStatus = "completed"
	JobError     JobStatus = "error"
	JobCancelled JobStatus = "cancelled"
)

// GenerationKind selects the handling path for a job, derived from the
// selected model's capability.
type GenerationKind string

const (
	// KindChat is the standard conversational kind; the only one that streams.
	KindChat GenerationKind = "chat"
	// KindMedia covers audio and image generation, single-shot.
	KindMedia GenerationKind = "media"
	// KindImageEdit consumes prior conversation messages as context, single-shot.
	KindImageEdit GenerationKind = "image_edit"
)

// Job is one in-flight request to the model-serving backend for a single
// conversation turn. Per-generation scratch state (start times and the like)
// lives here rather than in shared cells.
type Job struct {
	ID              string         `json:"id"`
	ConversationID  string         `json:"conversation_id"`
	TargetMessageID string         `json:"target_message_id"`
	Kind            GenerationKind `json:"kind"`
	Status          JobStatus      `json:"status"`
	StartedAt       time.Time      `json:"started_at"`
	GenerationStart time.Time      `json:"generation_start,omitempty"`
}
