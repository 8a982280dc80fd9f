package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/capitalize-ai/generation-orchestrator/internal/generation"
	"github.com/capitalize-ai/generation-orchestrator/internal/model"
)

// seedState prepares the conversation for the job: it decides the target
// message, writes the placeholder state through the store, and captures the
// request-scoped history.
func (o *Orchestrator) seedState(req *request) error {
	switch {
	case req.opts.RetryMessageID != "":
		return o.seedRetry(req)
	case req.opts.EditMessageID != "":
		return o.seedEdit(req)
	case req.conv == nil:
		return o.seedNewConversation(req)
	default:
		return o.seedContinuation(req)
	}
}

// seedRetry rewrites the targeted model message in place, branching its
// version history. A concurrent retry on the same message fails fast before
// any state is touched.
func (o *Orchestrator) seedRetry(req *request) error {
	retryID := req.opts.RetryMessageID
	target, _ := req.conv.MessageByID(retryID)
	if target == nil {
		return fmt.Errorf("%w: message %s", ErrNotFound, retryID)
	}
	if target.Role != model.RoleModel {
		return o.reject(req, "only model messages can be retried")
	}

	now := time.Now()
	if err := o.ledger.BeginRetry(retryID, req.conv.ID, now); err != nil {
		return err
	}

	applied := o.store.AtomicUpdate(context.Background(), req.conv.ID, func(c *model.Conversation) *model.Conversation {
		m, i := c.MessageByID(retryID)
		if m == nil {
			return c
		}
		m.BranchForRetry(now)
		req.history = historyTurns(c.Messages[:i])
		return c
	})
	if !applied {
		o.ledger.CompleteRetry(retryID)
		return fmt.Errorf("%w: conversation %s", ErrNotFound, req.conv.ID)
	}

	// Replay the user turn that produced the target; the context stops
	// short of that turn.
	if n := len(req.history); n > 0 && req.history[n-1].Role == model.RoleUser {
		last := req.history[n-1]
		req.history = req.history[:n-1]
		if len(req.parts) == 0 {
			req.parts = last.Parts
		}
	}

	req.targetID = retryID
	req.isRetry = true
	return nil
}

// seedEdit truncates the conversation at the edited position and appends a
// fresh user + placeholder pair. Messages after the edit point are discarded
// for good; there is no soft-delete.
func (o *Orchestrator) seedEdit(req *request) error {
	editID := req.opts.EditMessageID
	if _, idx := req.conv.MessageByID(editID); idx < 0 {
		return fmt.Errorf("%w: message %s", ErrNotFound, editID)
	}

	userMsg, placeholder := o.newTurnPair(req)
	applied := o.store.AtomicUpdate(context.Background(), req.conv.ID, func(c *model.Conversation) *model.Conversation {
		_, i := c.MessageByID(editID)
		if i < 0 {
			return c
		}
		req.history = historyTurns(c.Messages[:i])
		c.Messages = append(c.Messages[:i:i], userMsg, placeholder)
		return c
	})
	if !applied {
		return fmt.Errorf("%w: conversation %s", ErrNotFound, req.conv.ID)
	}

	req.targetID = placeholder.ID
	return nil
}

// seedNewConversation constructs a conversation with the first turn pair and
// inserts it at the front of the list.
func (o *Orchestrator) seedNewConversation(req *request) error {
	userMsg, placeholder := o.newTurnPair(req)
	conv := &model.Conversation{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Title:     model.PlaceholderTitle,
		Messages:  []*model.Message{userMsg, placeholder},
		Settings:  req.settings,
		UpdatedAt: time.Now(),
	}
	o.store.Insert(conv)

	req.conv = conv
	req.targetID = placeholder.ID
	return nil
}

// seedContinuation appends the turn pair to an existing conversation.
func (o *Orchestrator) seedContinuation(req *request) error {
	userMsg, placeholder := o.newTurnPair(req)
	applied := o.store.AtomicUpdate(context.Background(), req.conv.ID, func(c *model.Conversation) *model.Conversation {
		req.history = historyTurns(c.Messages)
		c.Messages = append(c.Messages, userMsg, placeholder)
		return c
	})
	if !applied {
		return fmt.Errorf("%w: conversation %s", ErrNotFound, req.conv.ID)
	}

	req.targetID = placeholder.ID
	return nil
}

// newTurnPair builds the user message and the loading placeholder the job
// will stream into.
func (o *Orchestrator) newTurnPair(req *request) (*model.Message, *model.Message) {
	now := time.Now()
	userMsg := &model.Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Role:      model.RoleUser,
		Content:   req.opts.Text,
		Files:     req.files,
		CreatedAt: now,
	}
	placeholder := &model.Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Role:      model.RoleModel,
		CreatedAt: now,
		IsLoading: true,
	}
	return userMsg, placeholder
}

// historyTurns converts stored messages into provider context turns,
// skipping error messages and unfinished placeholders.
func historyTurns(messages []*model.Message) []generation.Turn {
	turns := make([]generation.Turn, 0, len(messages))
	for _, m := range messages {
		if m.Role == model.RoleError || m.IsLoading || m.Content == "" {
			continue
		}
		turns = append(turns, generation.Turn{
			Role:  m.Role,
			Parts: []generation.ContentPart{{Text: m.Content}},
		})
	}
	return turns
}
