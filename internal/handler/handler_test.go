package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/generation-orchestrator/internal/generation"
	"github.com/capitalize-ai/generation-orchestrator/internal/model"
	"github.com/capitalize-ai/generation-orchestrator/internal/orchestrator"
	"github.com/capitalize-ai/generation-orchestrator/internal/registry"
	"github.com/capitalize-ai/generation-orchestrator/internal/store"
	"github.com/capitalize-ai/generation-orchestrator/internal/throttle"
	"github.com/capitalize-ai/generation-orchestrator/internal/version"
	"github.com/capitalize-ai/generation-orchestrator/pkg/logger"
)

type stubService struct {
	reply string
}

func (s *stubService) StreamGenerate(ctx context.Context, req *generation.Request, h generation.StreamHandler) (*generation.Result, error) {
	if err := h.OnPart(s.reply); err != nil {
		return nil, err
	}
	return &generation.Result{
		Parts: []string{s.reply},
		Usage: &model.TokenUsage{PromptTokens: 2, CompletionTokens: 3, TotalTokens: 5},
	}, nil
}

func (s *stubService) Generate(ctx context.Context, req *generation.Request) (*generation.Result, error) {
	return &generation.Result{Parts: []string{s.reply}}, nil
}

func (s *stubService) GenerateMedia(ctx context.Context, req *generation.Request) (*generation.Result, error) {
	return nil, generation.ErrUnsupportedKind
}

func (s *stubService) Name() string { return "stub" }

func newTestRouter(t *testing.T) (chi.Router, *store.Store) {
	t.Helper()
	st := store.New(nil, logger.NewNop())
	orch := orchestrator.New(
		st,
		version.NewLedger(),
		throttle.New(nil),
		registry.New(nil),
		&stubService{reply: "stubbed answer"},
		nil,
		generation.NewKeyPool("anth-key", "oai-key"),
		nil,
		orchestrator.Defaults{
			ModelID:         "claude-3-5-sonnet-20241022",
			MaxOutputTokens: 256,
			RequestTimeout:  10 * time.Second,
		},
		logger.NewNop(),
	)

	conversations := NewConversationHandler(st, logger.NewNop())
	generate := NewGenerateHandler(orch, st, nil, logger.NewNop())

	r := chi.NewRouter()
	r.Post("/generate", generate.Send)
	r.Get("/jobs/loading", generate.Loading)
	r.Post("/jobs/{id}/cancel", generate.Cancel)
	r.Get("/conversations", conversations.List)
	r.Get("/conversations/{id}", conversations.Get)
	r.Delete("/conversations/{id}", conversations.Delete)
	r.Post("/conversations/{id}/messages/{messageID}/version", conversations.RestoreVersion)
	return r, st
}

func postJSON(t *testing.T, r chi.Router, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestSendBlockingReturnsConversation(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := postJSON(t, r, "/generate", map[string]interface{}{"text": "hello"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		JobID        string              `json:"job_id"`
		Conversation *model.Conversation `json:"conversation"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.JobID)
	require.NotNil(t, resp.Conversation)
	require.Len(t, resp.Conversation.Messages, 2)
	assert.Equal(t, "stubbed answer", resp.Conversation.Messages[1].Content)
}

func TestSendStreamingEmitsSSE(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := postJSON(t, r, "/generate", map[string]interface{}{"text": "hello", "stream": true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "event: job")
	assert.Contains(t, body, "event: part")
	assert.Contains(t, body, "stubbed answer")
	assert.Contains(t, body, "event: usage")
	assert.Contains(t, body, "event: complete")
}

func TestSendValidationFailure(t *testing.T) {
	r, st := newTestRouter(t)

	rec := postJSON(t, r, "/generate", map[string]interface{}{"text": ""})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// The rejection is recorded as an error-role message.
	convs := st.List()
	require.Len(t, convs, 1)
	require.Len(t, convs[0].Messages, 1)
	assert.Equal(t, model.RoleError, convs[0].Messages[0].Role)
}

func TestSendUnknownConversation(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := postJSON(t, r, "/generate", map[string]interface{}{
		"conversation_id": uuid.Must(uuid.NewV7()).String(),
		"text":            "hello",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConversationLifecycle(t *testing.T) {
	r, st := newTestRouter(t)

	rec := postJSON(t, r, "/generate", map[string]interface{}{"text": "hello"})
	require.Equal(t, http.StatusOK, rec.Code)
	convID := st.List()[0].ID

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	list := httptest.NewRecorder()
	r.ServeHTTP(list, req)
	require.Equal(t, http.StatusOK, list.Code)
	var listResp struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &listResp))
	assert.Equal(t, 1, listResp.Total)

	req = httptest.NewRequest(http.MethodGet, "/conversations/"+convID, nil)
	get := httptest.NewRecorder()
	r.ServeHTTP(get, req)
	assert.Equal(t, http.StatusOK, get.Code)

	req = httptest.NewRequest(http.MethodDelete, "/conversations/"+convID, nil)
	del := httptest.NewRecorder()
	r.ServeHTTP(del, req)
	assert.Equal(t, http.StatusOK, del.Code)

	req = httptest.NewRequest(http.MethodGet, "/conversations/"+convID, nil)
	gone := httptest.NewRecorder()
	r.ServeHTTP(gone, req)
	assert.Equal(t, http.StatusNotFound, gone.Code)
}

func TestRestoreVersion(t *testing.T) {
	r, st := newTestRouter(t)

	rec := postJSON(t, r, "/generate", map[string]interface{}{"text": "hello"})
	require.Equal(t, http.StatusOK, rec.Code)
	conv := st.List()[0]
	targetID := conv.Messages[1].ID

	// Retry once so the message has two versions.
	rec = postJSON(t, r, "/generate", map[string]interface{}{
		"conversation_id":  conv.ID,
		"retry_message_id": targetID,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postJSON(t, r, "/conversations/"+conv.ID+"/messages/"+targetID+"/version", map[string]int{"version": 0})
	require.Equal(t, http.StatusOK, rec.Code)

	got, _ := st.Get(conv.ID)
	m, _ := got.MessageByID(targetID)
	require.NotNil(t, m)
	assert.Equal(t, 0, m.ActiveVersion)
}

func TestCancelUnknownJob(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/jobs/"+uuid.Must(uuid.NewV7()).String()+"/cancel", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "not running", resp["status"])
}

func TestLoadingEmpty(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/jobs/loading", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		ConversationIDs []string `json:"conversation_ids"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.ConversationIDs)
}
