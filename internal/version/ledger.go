// Package version tracks in-flight retry operations per message and rejects
// conflicting concurrent retries.
package version

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/capitalize-ai/generation-orchestrator/pkg/metrics"
)

// ErrRetryInFlight indicates a retry is already pending for the message.
var ErrRetryInFlight = errors.New("version: retry already in flight")

type retryLock struct {
	conversationID string
	startedAt      time.Time
}

// Ledger owns retry locks keyed by message id, independent of any job. Locks
// on one message never block unrelated messages or conversations.
type Ledger struct {
	mu      sync.Mutex
	pending map[string]retryLock
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{pending: make(map[string]retryLock)}
}

// BeginRetry records a retry lock for the message. It fails fast with a
// wrapped ErrRetryInFlight when a retry is already pending, without mutating
// anything.
func (l *Ledger) BeginRetry(messageID, conversationID string, startedAt time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if held, ok := l.pending[messageID]; ok {
		metrics.RetryConflictsTotal.Inc()
		return fmt.Errorf("%w: message %s in conversation %s since %s",
			ErrRetryInFlight, messageID, held.conversationID, held.startedAt.Format(time.RFC3339))
	}

	l.pending[messageID] = retryLock{
		conversationID: conversationID,
		startedAt:      startedAt,
	}
	return nil
}

// CompleteRetry releases the lock. Releasing an already-released lock is a
// no-op, not an error.
func (l *Ledger) CompleteRetry(messageID string) {
	l.mu.Lock()
	delete(l.pending, messageID)
	l.mu.Unlock()
}

// InFlight reports whether a retry is currently pending for the message.
func (l *Ledger) InFlight(messageID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.pending[messageID]
	return ok
}
