// Package registry tracks active generation jobs and the loading state they
// impose on their conversations.
package registry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/generation-orchestrator/internal/model"
	"github.com/capitalize-ai/generation-orchestrator/pkg/logger"
	"github.com/capitalize-ai/generation-orchestrator/pkg/metrics"
)

type entry struct {
	job    *model.Job
	cancel context.CancelFunc
}

// Registry owns the table of active jobs. All mutation funnels through
// Start/Complete; callers never touch the table directly.
type Registry struct {
	logger *logger.Logger

	mu      sync.RWMutex
	jobs    map[string]*entry
	loading map[string]string // conversation id -> job id
}

// New creates an empty registry.
func New(log *logger.Logger) *Registry {
	if log == nil {
		log = logger.NewNop()
	}
	return &Registry{
		logger:  log,
		jobs:    make(map[string]*entry),
		loading: make(map[string]string),
	}
}

// Start registers the job and flips its conversation into the loading set.
// The job stays pending until Activate; the cancel func is owned by the
// registry from here on.
func (r *Registry) Start(job *model.Job, cancel context.CancelFunc) {
	r.mu.Lock()
	job.Status = model.JobPending
	r.jobs[job.ID] = &entry{job: job, cancel: cancel}
	r.loading[job.ConversationID] = job.ID
	r.mu.Unlock()

	metrics.JobsActive.Inc()
	r.logger.Info("job registered",
		zap.String("job_id", job.ID),
		zap.String("conversation_id", job.ConversationID),
		zap.String("kind", string(job.Kind)),
	)
}

// Activate marks the job as running. Admission by the throttler is the
// activation point: a job queued behind another on its conversation stays
// pending, so at most one job per conversation is ever active.
func (r *Registry) Activate(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.jobs[jobID]; ok {
		e.job.Status = model.JobActive
	}
}

// Complete removes the job and clears the conversation's loading state.
// Completing an already-completed or unknown job id is a no-op.
func (r *Registry) Complete(jobID string, outcome model.JobStatus) {
	r.mu.Lock()
	e, ok := r.jobs[jobID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.jobs, jobID)
	if r.loading[e.job.ConversationID] == jobID {
		delete(r.loading, e.job.ConversationID)
	}
	r.mu.Unlock()

	e.job.Status = outcome
	e.cancel() // release the job's context resources

	duration := time.Since(e.job.StartedAt).Seconds()
	metrics.JobsActive.Dec()
	metrics.RecordJob(string(e.job.Kind), string(outcome), duration)

	r.logger.Info("job completed",
		zap.String("job_id", jobID),
		zap.String("conversation_id", e.job.ConversationID),
		zap.String("outcome", string(outcome)),
		zap.Float64("duration_s", duration),
	)
}

// Cancel signals the job's context. Safe to call for finished or unknown
// jobs; the actual removal happens through the job's single completion path.
func (r *Registry) Cancel(jobID string) bool {
	r.mu.RLock()
	e, ok := r.jobs[jobID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	e.cancel()
	return true
}

// Get returns a copy of an active job record.
func (r *Registry) Get(jobID string) (model.Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.jobs[jobID]
	if !ok {
		return model.Job{}, false
	}
	return *e.job, true
}

// JobFor returns the id of the active job targeting the conversation.
func (r *Registry) JobFor(conversationID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.loading[conversationID]
	return id, ok
}

// Loading returns the ids of conversations with a job in flight.
func (r *Registry) Loading() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.loading))
	for id := range r.loading {
		out = append(out, id)
	}
	return out
}
