package version

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeginRetryConflict(t *testing.T) {
	l := NewLedger()

	require.NoError(t, l.BeginRetry("msg-1", "conv-1", time.Now()))
	assert.True(t, l.InFlight("msg-1"))

	err := l.BeginRetry("msg-1", "conv-1", time.Now())
	require.ErrorIs(t, err, ErrRetryInFlight)
	assert.Contains(t, err.Error(), "msg-1")
	assert.Contains(t, err.Error(), "conv-1")
}

func TestBeginRetryIndependentMessages(t *testing.T) {
	l := NewLedger()

	require.NoError(t, l.BeginRetry("msg-1", "conv-1", time.Now()))
	require.NoError(t, l.BeginRetry("msg-2", "conv-1", time.Now()))
	require.NoError(t, l.BeginRetry("msg-3", "conv-2", time.Now()))
}

func TestCompleteRetryIdempotent(t *testing.T) {
	l := NewLedger()

	require.NoError(t, l.BeginRetry("msg-1", "conv-1", time.Now()))
	l.CompleteRetry("msg-1")
	assert.False(t, l.InFlight("msg-1"))

	// Releasing again, or releasing something never held, must not panic.
	l.CompleteRetry("msg-1")
	l.CompleteRetry("never-held")

	// The lock can be taken again once released.
	require.NoError(t, l.BeginRetry("msg-1", "conv-1", time.Now()))
}
