package middleware

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestValidateMessageContent(t *testing.T) {
	assert.NoError(t, ValidateMessageContent("hello"))
	// Empty content passes here; the orchestrator decides whether an empty
	// send is meaningful (retries carry no text).
	assert.NoError(t, ValidateMessageContent(""))

	assert.Error(t, ValidateMessageContent(strings.Repeat("x", 100001)))
	assert.Error(t, ValidateMessageContent(string([]byte{0xff, 0xfe})))
}

func TestValidateIDs(t *testing.T) {
	id := uuid.Must(uuid.NewV7()).String()

	assert.NoError(t, ValidateConversationID(id))
	assert.NoError(t, ValidateMessageID(id))
	assert.NoError(t, ValidateJobID(id))

	assert.Error(t, ValidateConversationID("not-a-uuid"))
	assert.Error(t, ValidateMessageID(""))
	assert.Error(t, ValidateJobID("123"))
}
