package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/generation-orchestrator/internal/model"
)

func newJob(id, convID string) *model.Job {
	return &model.Job{
		ID:             id,
		ConversationID: convID,
		Kind:           model.KindChat,
		Status:         model.JobPending,
		StartedAt:      time.Now(),
	}
}

func TestStartAndGet(t *testing.T) {
	r := New(nil)
	_, cancel := context.WithCancel(context.Background())
	r.Start(newJob("j1", "c1"), cancel)

	// Registration alone does not make a job active.
	job, ok := r.Get("j1")
	require.True(t, ok)
	assert.Equal(t, model.JobPending, job.Status)

	r.Activate("j1")
	job, _ = r.Get("j1")
	assert.Equal(t, model.JobActive, job.Status)

	r.Activate("missing") // no-op

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestCompleteClearsLoading(t *testing.T) {
	r := New(nil)
	_, cancel := context.WithCancel(context.Background())
	r.Start(newJob("j1", "c1"), cancel)

	id, ok := r.JobFor("c1")
	require.True(t, ok)
	assert.Equal(t, "j1", id)
	assert.Equal(t, []string{"c1"}, r.Loading())

	r.Complete("j1", model.JobCompleted)

	_, ok = r.JobFor("c1")
	assert.False(t, ok)
	assert.Empty(t, r.Loading())
	_, ok = r.Get("j1")
	assert.False(t, ok)
}

func TestCompleteIdempotent(t *testing.T) {
	r := New(nil)
	_, cancel := context.WithCancel(context.Background())
	r.Start(newJob("j1", "c1"), cancel)

	r.Complete("j1", model.JobCompleted)
	r.Complete("j1", model.JobError) // second completion is a no-op
	r.Complete("unknown", model.JobCompleted)
}

func TestCompleteReleasesContext(t *testing.T) {
	r := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	r.Start(newJob("j1", "c1"), cancel)

	r.Complete("j1", model.JobCompleted)

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("job context not released on completion")
	}
}

func TestCancelSignalsContext(t *testing.T) {
	r := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	r.Start(newJob("j1", "c1"), cancel)

	require.True(t, r.Cancel("j1"))

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("cancel did not signal the job context")
	}

	// The job stays registered until its completion path runs.
	_, ok := r.Get("j1")
	assert.True(t, ok)
}

func TestCancelUnknownJob(t *testing.T) {
	r := New(nil)
	assert.False(t, r.Cancel("missing"))

	_, cancel := context.WithCancel(context.Background())
	r.Start(newJob("j1", "c1"), cancel)
	r.Complete("j1", model.JobCancelled)
	assert.False(t, r.Cancel("j1"))
}

func TestLoadingTracksNewestJob(t *testing.T) {
	r := New(nil)
	_, cancel1 := context.WithCancel(context.Background())
	_, cancel2 := context.WithCancel(context.Background())
	r.Start(newJob("j1", "c1"), cancel1)
	r.Start(newJob("j2", "c1"), cancel2)

	// Completing the superseded job must not clear the newer one's claim.
	r.Complete("j1", model.JobCompleted)
	id, ok := r.JobFor("c1")
	require.True(t, ok)
	assert.Equal(t, "j2", id)
}
