package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/generation-orchestrator/internal/middleware"
	"github.com/capitalize-ai/generation-orchestrator/internal/model"
	natsclient "github.com/capitalize-ai/generation-orchestrator/internal/nats"
	"github.com/capitalize-ai/generation-orchestrator/internal/orchestrator"
	"github.com/capitalize-ai/generation-orchestrator/internal/store"
	"github.com/capitalize-ai/generation-orchestrator/internal/version"
	"github.com/capitalize-ai/generation-orchestrator/pkg/logger"
	"github.com/capitalize-ai/generation-orchestrator/pkg/metrics"
)

// GenerateHandler drives send/edit/retry requests and job control.
type GenerateHandler struct {
	orchestrator  *orchestrator.Orchestrator
	store         *store.Store
	streamManager *natsclient.StreamManager
	logger        *logger.Logger
}

// NewGenerateHandler creates a new generate handler. streamManager may be
// nil when no event sink is configured.
func NewGenerateHandler(
	orch *orchestrator.Orchestrator,
	st *store.Store,
	streamManager *natsclient.StreamManager,
	log *logger.Logger,
) *GenerateHandler {
	return &GenerateHandler{
		orchestrator:  orch,
		store:         st,
		streamManager: streamManager,
		logger:        log,
	}
}

// sendRequest is the body for POST /api/v1/generate.
type sendRequest struct {
	ConversationID string          `json:"conversation_id,omitempty"`
	Text           string          `json:"text"`
	Files          []model.FileRef `json:"files,omitempty"`
	EditMessageID  string          `json:"edit_message_id,omitempty"`
	RetryMessageID string          `json:"retry_message_id,omitempty"`
	Stream         bool            `json:"stream"`
}

// Send handles POST /api/v1/generate. With stream=true the response is an
// SSE stream of increments; otherwise the call blocks until the job
// terminates and returns the final conversation snapshot.
func (h *GenerateHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Text); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	opts := orchestrator.SendOptions{
		ConversationID: req.ConversationID,
		Text:           req.Text,
		Files:          req.Files,
		EditMessageID:  req.EditMessageID,
		RetryMessageID: req.RetryMessageID,
	}

	if req.Stream {
		h.sendStreaming(w, r, opts)
		return
	}

	// For new conversations the id is only known once the job starts.
	var convID string
	opts.Observer = &orchestrator.Observer{
		OnStart: func(_, conversationID, _ string) { convID = conversationID },
	}

	jobID, err := h.orchestrator.Send(r.Context(), opts)
	if err != nil {
		h.writeSendError(w, err)
		return
	}

	conv, _ := h.store.Get(convID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job_id":       jobID,
		"conversation": conv,
	})
}

func (h *GenerateHandler) sendStreaming(w http.ResponseWriter, r *http.Request, opts orchestrator.SendOptions) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	var jobID, convID, messageID string
	opts.Observer = &orchestrator.Observer{
		OnStart: func(id, conversationID, target string) {
			jobID, convID, messageID = id, conversationID, target
			sendSSEEvent(w, flusher, "job", map[string]string{
				"job_id":          id,
				"conversation_id": conversationID,
				"message_id":      target,
			})
		},
		OnPart: func(text string) {
			sendSSEEvent(w, flusher, string(model.EventTypePart), map[string]string{"text": text})
		},
		OnThought: func(text string) {
			sendSSEEvent(w, flusher, string(model.EventTypeThought), map[string]string{"text": text})
		},
		OnUsage: func(usage *model.TokenUsage, grounding *model.Grounding) {
			sendSSEEvent(w, flusher, string(model.EventTypeUsage), map[string]interface{}{
				"usage":     usage,
				"grounding": grounding,
			})
		},
	}

	_, err := h.orchestrator.Send(r.Context(), opts)
	if err != nil {
		sendSSEEvent(w, flusher, string(model.EventTypeError), map[string]string{"message": err.Error()})
		h.publishEvent(r.Context(), jobID, convID, messageID, model.EventTypeError, err.Error())
		return
	}

	sendSSEEvent(w, flusher, string(model.EventTypeComplete), map[string]string{
		"job_id":     jobID,
		"message_id": messageID,
	})
	h.publishEvent(r.Context(), jobID, convID, messageID, model.EventTypeComplete, "")
}

func (h *GenerateHandler) publishEvent(ctx context.Context, jobID, conversationID, messageID string, t model.EventType, reason string) {
	if h.streamManager == nil || jobID == "" {
		return
	}
	_, err := h.streamManager.PublishEvent(ctx, &model.JobEvent{
		JobID:          jobID,
		ConversationID: conversationID,
		MessageID:      messageID,
		Type:           t,
		Reason:         reason,
		CreatedAt:      time.Now(),
	})
	if err != nil {
		h.logger.Warn("failed to publish job event", zap.Error(err))
	}
}

func (h *GenerateHandler) writeSendError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrValidation):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, version.ErrRetryInFlight):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, orchestrator.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

// Cancel handles POST /api/v1/jobs/{id}/cancel.
func (h *GenerateHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	if err := middleware.ValidateJobID(jobID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, running := h.orchestrator.Registry().Get(jobID)
	if !running || !h.orchestrator.CancelJob(jobID) {
		// Already finished or never existed; cancellation is idempotent.
		writeJSON(w, http.StatusOK, map[string]string{"status": "not running"})
		return
	}

	h.publishEvent(r.Context(), jobID, job.ConversationID, job.TargetMessageID, model.EventTypeCancel, "cancelled by user")
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

// Loading handles GET /api/v1/jobs/loading, exposing the set of
// conversations with a job in flight.
func (h *GenerateHandler) Loading(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversation_ids": h.orchestrator.Registry().Loading(),
	})
}
