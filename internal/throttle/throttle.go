// Package throttle enforces at most one active generation per conversation,
// queueing later jobs FIFO behind the running one.
package throttle

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/capitalize-ai/generation-orchestrator/pkg/logger"
	"github.com/capitalize-ai/generation-orchestrator/pkg/metrics"
)

type waiter struct {
	jobID string
	ready chan struct{}
}

type lane struct {
	running bool
	queue   []*waiter
}

// Throttler serializes work per conversation id. Work for different
// conversations runs fully in parallel.
type Throttler struct {
	logger *logger.Logger

	mu    sync.Mutex
	lanes map[string]*lane
}

// New creates a throttler.
func New(log *logger.Logger) *Throttler {
	if log == nil {
		log = logger.NewNop()
	}
	return &Throttler{
		logger: log,
		lanes:  make(map[string]*lane),
	}
}

// Run executes work under the conversation's exclusivity slot. If another job
// holds the slot, the call waits its turn in FIFO order. Cancelling ctx while
// queued removes the call from the queue without running work. A failure
// inside work releases the slot for the next job.
func (t *Throttler) Run(ctx context.Context, jobID, conversationID string, work func(context.Context) error) error {
	if err := t.acquire(ctx, jobID, conversationID); err != nil {
		return err
	}
	defer t.release(conversationID)

	if err := ctx.Err(); err != nil {
		return err
	}
	return work(ctx)
}

func (t *Throttler) acquire(ctx context.Context, jobID, conversationID string) error {
	t.mu.Lock()
	ln, ok := t.lanes[conversationID]
	if !ok {
		ln = &lane{}
		t.lanes[conversationID] = ln
	}
	if !ln.running {
		ln.running = true
		t.mu.Unlock()
		return nil
	}

	w := &waiter{jobID: jobID, ready: make(chan struct{})}
	ln.queue = append(ln.queue, w)
	t.mu.Unlock()

	metrics.ThrottleQueueDepth.Inc()
	defer metrics.ThrottleQueueDepth.Dec()

	t.logger.Debug("job queued behind active generation",
		zap.String("job_id", jobID),
		zap.String("conversation_id", conversationID),
	)

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		t.abandon(conversationID, w)
		return ctx.Err()
	}
}

// abandon removes a cancelled waiter from its lane queue. The grant may have
// raced the cancellation; if the waiter already owns the slot, pass it on.
func (t *Throttler) abandon(conversationID string, w *waiter) {
	t.mu.Lock()
	ln := t.lanes[conversationID]
	if ln != nil {
		for i, q := range ln.queue {
			if q == w {
				ln.queue = append(ln.queue[:i], ln.queue[i+1:]...)
				t.mu.Unlock()
				return
			}
		}
	}
	t.mu.Unlock()

	select {
	case <-w.ready:
		t.release(conversationID)
	default:
	}
}

func (t *Throttler) release(conversationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ln := t.lanes[conversationID]
	if ln == nil {
		return
	}
	if len(ln.queue) == 0 {
		delete(t.lanes, conversationID)
		return
	}
	next := ln.queue[0]
	ln.queue = ln.queue[1:]
	close(next.ready)
}
