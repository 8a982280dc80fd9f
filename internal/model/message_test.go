package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBranchForRetryFirstBranch(t *testing.T) {
	m := &Message{
		ID:      "m1",
		Role:    RoleModel,
		Content: "original answer",
		Usage:   &TokenUsage{TotalTokens: 10},
	}

	m.BranchForRetry(time.Now())

	require.Len(t, m.Versions, 2)
	assert.Equal(t, 1, m.ActiveVersion)
	assert.Equal(t, "original answer", m.Versions[0].Content)
	assert.NotNil(t, m.Versions[0].Usage)

	assert.Empty(t, m.Content)
	assert.Nil(t, m.Usage)
	assert.True(t, m.IsLoading)
}

func TestBranchForRetrySecondBranch(t *testing.T) {
	m := &Message{ID: "m1", Role: RoleModel, Content: "first"}

	m.BranchForRetry(time.Now())
	m.Content = "second"
	m.IsLoading = false
	m.BranchForRetry(time.Now())

	require.Len(t, m.Versions, 3)
	assert.Equal(t, 2, m.ActiveVersion)
	assert.Equal(t, "first", m.Versions[0].Content)
	assert.Equal(t, "second", m.Versions[1].Content)
	assert.Empty(t, m.Content)
	assert.True(t, m.IsLoading)
}

func TestRestoreVersion(t *testing.T) {
	m := &Message{ID: "m1", Role: RoleModel, Content: "first"}
	m.BranchForRetry(time.Now())
	m.Content = "second"
	m.IsLoading = false
	m.CommitActiveVersion()

	m.RestoreVersion(0)
	assert.Equal(t, "first", m.Content)
	assert.Equal(t, 0, m.ActiveVersion)

	// The second rendering survives the switch.
	assert.Equal(t, "second", m.Versions[1].Content)

	m.RestoreVersion(1)
	assert.Equal(t, "second", m.Content)
	assert.Equal(t, 1, m.ActiveVersion)
}

func TestRestoreVersionOutOfRange(t *testing.T) {
	m := &Message{ID: "m1", Role: RoleModel, Content: "only"}

	m.RestoreVersion(0)
	assert.Equal(t, "only", m.Content)

	m.BranchForRetry(time.Now())
	m.RestoreVersion(5)
	assert.Equal(t, 1, m.ActiveVersion)
	m.RestoreVersion(-1)
	assert.Equal(t, 1, m.ActiveVersion)
}

func TestMessageClone(t *testing.T) {
	m := &Message{
		ID:      "m1",
		Content: "hi",
		Files:   []FileRef{{ID: "f1", Name: "a.txt"}},
		Usage:   &TokenUsage{TotalTokens: 3},
	}

	c := m.Clone()
	c.Content = "changed"
	c.Files[0].Name = "b.txt"
	c.Usage.TotalTokens = 99

	assert.Equal(t, "hi", m.Content)
	assert.Equal(t, "a.txt", m.Files[0].Name)
	assert.Equal(t, 3, m.Usage.TotalTokens)
}
