// Package store holds the ordered set of conversations and provides atomic
// read-modify-write access keyed by conversation id.
package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/generation-orchestrator/internal/model"
	"github.com/capitalize-ai/generation-orchestrator/pkg/logger"
	"github.com/capitalize-ai/generation-orchestrator/pkg/metrics"
)

// Mutator receives a deep copy of the latest persisted snapshot and returns
// the full replacement. Returning nil commits the (possibly mutated) copy.
type Mutator func(*model.Conversation) *model.Conversation

// PersistHook is invoked after each successful atomic update with a deep
// copy of the updated conversation. Hook failures are the hook's problem;
// the in-memory mutation is never rolled back.
type PersistHook func(*model.Conversation) error

// Store is the sole owner of conversations and their messages. Mutations
// against the same conversation are serialized in issue order; different
// conversations proceed independently.
type Store struct {
	logger *logger.Logger
	hook   PersistHook

	mu            sync.RWMutex
	order         []string
	conversations map[string]*model.Conversation
	lanes         map[string]*sync.Mutex
}

// New creates an empty store. hook may be nil.
func New(hook PersistHook, log *logger.Logger) *Store {
	if log == nil {
		log = logger.NewNop()
	}
	return &Store{
		logger:        log,
		hook:          hook,
		conversations: make(map[string]*model.Conversation),
		lanes:         make(map[string]*sync.Mutex),
	}
}

// Insert adds a conversation at the front of the ordered list. The store
// keeps its own copy; later writes to the caller's pointer are not seen.
func (s *Store) Insert(conv *model.Conversation) {
	snapshot := conv.Clone()

	s.mu.Lock()
	s.conversations[conv.ID] = snapshot
	s.lanes[conv.ID] = &sync.Mutex{}
	s.order = append([]string{conv.ID}, s.order...)
	s.mu.Unlock()

	metrics.ConversationsTotal.Inc()
	s.persist(snapshot)
}

// Get returns a deep-copied snapshot of the conversation.
func (s *Store) Get(conversationID string) (*model.Conversation, bool) {
	s.mu.RLock()
	conv, ok := s.conversations[conversationID]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return conv.Clone(), true
}

// List returns deep-copied snapshots in list order (most recent first).
func (s *Store) List() []*model.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.Conversation, 0, len(s.order))
	for _, id := range s.order {
		if conv, ok := s.conversations[id]; ok {
			out = append(out, conv.Clone())
		}
	}
	return out
}

// Delete removes a conversation. In-flight atomic updates against it become
// no-ops once they acquire their turn.
func (s *Store) Delete(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.conversations, conversationID)
	delete(s.lanes, conversationID)
	for i, id := range s.order {
		if id == conversationID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// AtomicUpdate applies mutate to the latest snapshot of the conversation and
// persists the result. Calls against the same conversation never interleave;
// if the conversation no longer exists the mutator is not invoked and the
// call reports false.
func (s *Store) AtomicUpdate(ctx context.Context, conversationID string, mutate Mutator) bool {
	s.mu.RLock()
	lane, ok := s.lanes[conversationID]
	s.mu.RUnlock()
	if !ok {
		return false
	}

	lane.Lock()
	defer lane.Unlock()

	// Re-fetch under the lane: the conversation may be gone by the time this
	// call gets its turn.
	s.mu.RLock()
	conv, ok := s.conversations[conversationID]
	s.mu.RUnlock()
	if !ok {
		return false
	}

	// The mutator works on a private copy. Stored snapshots are never written
	// in place, so Get and List can clone them without holding the lane.
	work := conv.Clone()
	replacement := mutate(work)
	if replacement == nil {
		replacement = work
	}
	replacement.UpdatedAt = time.Now()

	s.mu.Lock()
	if _, still := s.conversations[conversationID]; !still {
		s.mu.Unlock()
		return false
	}
	s.conversations[conversationID] = replacement
	s.mu.Unlock()

	s.persist(replacement)
	return true
}

func (s *Store) persist(conv *model.Conversation) {
	if s.hook == nil {
		return
	}
	if err := s.hook(conv.Clone()); err != nil {
		metrics.PersistFailuresTotal.Inc()
		s.logger.Warn("persistence hook failed",
			zap.String("conversation_id", conv.ID),
			zap.Error(err),
		)
	}
}
