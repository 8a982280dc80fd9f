package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/generation-orchestrator/internal/model"
)

const (
	// StreamName is the name of the generation stream.
	StreamName = "GENERATION"

	// SubjectPrefix is the prefix for all generation subjects.
	SubjectPrefix = "gen"
)

// StreamManager publishes conversation snapshots and job events to
// JetStream. It backs the store's persistence hook: every successful atomic
// update lands here as the latest snapshot of the touched conversation.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStream ensures the generation stream exists with proper configuration.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil // Stream already exists
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      90 * 24 * time.Hour,
		MaxBytes:    10 * 1024 * 1024 * 1024, // 10GB
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Conversation snapshots and generation job events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// SnapshotSubject returns the subject for a conversation snapshot.
func SnapshotSubject(conversationID string) string {
	return fmt.Sprintf("%s.conv.%s.snapshot", SubjectPrefix, conversationID)
}

// EventSubject returns the subject for a job event.
func EventSubject(conversationID string, eventType model.EventType) string {
	return fmt.Sprintf("%s.conv.%s.event.%s", SubjectPrefix, conversationID, eventType)
}

// PublishSnapshot publishes the latest state of a conversation.
func (m *StreamManager) PublishSnapshot(ctx context.Context, conv *model.Conversation) (uint64, error) {
	data, err := json.Marshal(conv)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal conversation: %w", err)
	}

	ack, err := m.client.JetStream().Publish(ctx, SnapshotSubject(conv.ID), data)
	if err != nil {
		return 0, fmt.Errorf("failed to publish snapshot: %w", err)
	}

	return ack.Sequence, nil
}

// PublishEvent publishes a job event.
func (m *StreamManager) PublishEvent(ctx context.Context, event *model.JobEvent) (uint64, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}

	ack, err := m.client.JetStream().Publish(ctx, EventSubject(event.ConversationID, event.Type), data)
	if err != nil {
		return 0, fmt.Errorf("failed to publish event: %w", err)
	}

	return ack.Sequence, nil
}

// PersistHook adapts the stream manager to the store's persistence hook.
// Publish failures are reported to the caller, which logs and drops them;
// the in-memory state is authoritative.
func (m *StreamManager) PersistHook() func(*model.Conversation) error {
	return func(conv *model.Conversation) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := m.PublishSnapshot(ctx, conv)
		return err
	}
}
