// Package orchestrator coordinates generation jobs: it validates send, edit
// and retry requests, seeds conversation state, and drives the external
// generation service while folding streamed increments back into the store.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/generation-orchestrator/internal/generation"
	"github.com/capitalize-ai/generation-orchestrator/internal/model"
	"github.com/capitalize-ai/generation-orchestrator/internal/registry"
	"github.com/capitalize-ai/generation-orchestrator/internal/store"
	"github.com/capitalize-ai/generation-orchestrator/internal/throttle"
	"github.com/capitalize-ai/generation-orchestrator/internal/version"
	"github.com/capitalize-ai/generation-orchestrator/pkg/logger"
	"github.com/capitalize-ai/generation-orchestrator/pkg/metrics"
)

// ErrValidation marks request rejections detected before any job is created.
// The rejection is also recorded as an error-role message in the target
// conversation.
var ErrValidation = errors.New("orchestrator: validation failed")

// ErrNotFound indicates the referenced conversation or message is gone.
var ErrNotFound = errors.New("orchestrator: not found")

// Defaults configure generation parameters applied when a conversation does
// not override them.
type Defaults struct {
	ModelID         string
	MaxOutputTokens int
	RequestTimeout  time.Duration
}

// Observer receives job progress for a single send call. Callbacks fire in
// increment order from the goroutine driving the job. Any field may be nil.
type Observer struct {
	OnStart    func(jobID, conversationID, messageID string)
	OnPart     func(text string)
	OnThought  func(text string)
	OnUsage    func(usage *model.TokenUsage, grounding *model.Grounding)
	OnComplete func()
	OnError    func(err error)
}

// SendOptions describes one user action. Exactly one of EditMessageID and
// RetryMessageID may be set; both empty means a plain send. An empty
// ConversationID starts a new conversation.
type SendOptions struct {
	ConversationID string
	Text           string
	Files          []model.FileRef
	EditMessageID  string
	RetryMessageID string
	Observer       *Observer
}

// Orchestrator is the top-level coordinator for generation jobs.
type Orchestrator struct {
	store       *store.Store
	ledger      *version.Ledger
	throttler   *throttle.Throttler
	registry    *registry.Registry
	service     generation.Service
	builder     generation.ContentBuilder
	credentials generation.CredentialResolver
	titles      generation.TitleGenerator
	defaults    Defaults
	logger      *logger.Logger
}

// New wires an orchestrator. titles may be nil to disable title generation.
func New(
	st *store.Store,
	ledger *version.Ledger,
	throttler *throttle.Throttler,
	reg *registry.Registry,
	service generation.Service,
	builder generation.ContentBuilder,
	credentials generation.CredentialResolver,
	titles generation.TitleGenerator,
	defaults Defaults,
	log *logger.Logger,
) *Orchestrator {
	if builder == nil {
		builder = generation.TextContentBuilder{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Orchestrator{
		store:       st,
		ledger:      ledger,
		throttler:   throttler,
		registry:    reg,
		service:     service,
		builder:     builder,
		credentials: credentials,
		titles:      titles,
		defaults:    defaults,
		logger:      log,
	}
}

// Registry exposes the job registry for observability surfaces.
func (o *Orchestrator) Registry() *registry.Registry {
	return o.registry
}

// CancelJob cooperatively cancels a job. Safe for finished or unknown ids.
func (o *Orchestrator) CancelJob(jobID string) bool {
	return o.registry.Cancel(jobID)
}

// request carries the per-send scratch state through the pipeline stages.
type request struct {
	opts     SendOptions
	conv     *model.Conversation
	settings model.ConversationSettings
	cap      generation.Capability
	cred     generation.Credential
	parts    []generation.ContentPart
	files    []model.FileRef
	history  []generation.Turn

	job      *model.Job
	targetID string
	isRetry  bool
}

// Send validates and executes one send/edit/retry request. It blocks until
// the job terminates and returns the job id. Validation and version-conflict
// failures return before any job is created.
func (o *Orchestrator) Send(ctx context.Context, opts SendOptions) (string, error) {
	req := &request{opts: opts}

	if err := o.validate(req); err != nil {
		return "", err
	}
	if err := o.seedState(req); err != nil {
		return "", err
	}
	return o.invoke(ctx, req)
}

// validate rejects malformed requests before any state mutation. Rejections
// other than unknown references are surfaced as an error-role message in a
// new or existing conversation.
func (o *Orchestrator) validate(req *request) error {
	opts := req.opts

	if opts.ConversationID != "" {
		conv, ok := o.store.Get(opts.ConversationID)
		if !ok {
			return fmt.Errorf("%w: conversation %s", ErrNotFound, opts.ConversationID)
		}
		req.conv = conv
		req.settings = conv.Settings
	} else {
		req.settings = model.ConversationSettings{
			ModelID:         o.defaults.ModelID,
			MaxOutputTokens: o.defaults.MaxOutputTokens,
		}
	}

	if req.settings.ModelID == "" {
		return o.reject(req, "no model selected")
	}
	cap, ok := generation.Lookup(req.settings.ModelID)
	if !ok {
		return o.reject(req, fmt.Sprintf("unknown model %q", req.settings.ModelID))
	}
	req.cap = cap

	for _, f := range opts.Files {
		switch {
		case f.State == model.FileStateProcessing:
			return o.reject(req, fmt.Sprintf("file %q is still processing", f.Name))
		case f.State == model.FileStateFailed && !f.Accepted:
			return o.reject(req, fmt.Sprintf("file %q failed to process", f.Name))
		}
	}

	if cap.TextInput && opts.Text == "" && len(opts.Files) == 0 && opts.RetryMessageID == "" {
		return o.reject(req, "message text is empty")
	}

	cred, err := o.credentials.Resolve(req.settings)
	if err != nil {
		return o.reject(req, "no usable API key for the selected model")
	}
	req.cred = cred

	parts, files, err := o.builder.Build(opts.Text, opts.Files)
	if err != nil {
		return o.reject(req, err.Error())
	}
	req.parts = parts
	req.files = files
	return nil
}

// reject synthesizes an error-role message rather than silently dropping the
// request. A missing conversation is created so the rejection has somewhere
// to live.
func (o *Orchestrator) reject(req *request, reason string) error {
	now := time.Now()
	errMsg := &model.Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Role:      model.RoleError,
		Content:   reason,
		CreatedAt: now,
	}

	if req.conv == nil {
		conv := &model.Conversation{
			ID:        uuid.Must(uuid.NewV7()).String(),
			Title:     model.PlaceholderTitle,
			Messages:  []*model.Message{errMsg},
			Settings:  req.settings,
			UpdatedAt: now,
		}
		o.store.Insert(conv)
		req.conv = conv
	} else {
		o.store.AtomicUpdate(context.Background(), req.conv.ID, func(c *model.Conversation) *model.Conversation {
			c.Messages = append(c.Messages, errMsg)
			return c
		})
	}

	o.logger.Warn("request rejected",
		zap.String("conversation_id", req.conv.ID),
		zap.String("reason", reason),
	)
	return fmt.Errorf("%w: %s", ErrValidation, reason)
}

// invoke registers the job and drives the provider call under the throttler.
func (o *Orchestrator) invoke(ctx context.Context, req *request) (string, error) {
	timeout := o.defaults.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	jobCtx, cancel := context.WithTimeout(ctx, timeout)

	job := &model.Job{
		ID:              uuid.Must(uuid.NewV7()).String(),
		ConversationID:  req.conv.ID,
		TargetMessageID: req.targetID,
		Kind:            req.cap.Kind,
		Status:          model.JobPending,
		StartedAt:       time.Now(),
	}
	req.job = job
	o.registry.Start(job, cancel)

	if obs := req.opts.Observer; obs != nil && obs.OnStart != nil {
		obs.OnStart(job.ID, req.conv.ID, req.targetID)
	}

	err := o.throttler.Run(jobCtx, job.ID, req.conv.ID, func(runCtx context.Context) error {
		o.registry.Activate(job.ID)
		return o.stream(runCtx, req)
	})

	o.terminate(req, err)
	return job.ID, err
}

// stream executes the provider call for the job's kind and folds increments
// into the target message.
func (o *Orchestrator) stream(ctx context.Context, req *request) error {
	now := time.Now()
	req.job.GenerationStart = now
	o.updateTarget(req, func(m *model.Message) {
		m.GenerationStarted = &now
	})

	genReq := &generation.Request{
		Model:       req.settings.ModelID,
		History:     req.history,
		Parts:       req.parts,
		MaxTokens:   req.settings.MaxOutputTokens,
		Temperature: req.settings.Temperature,
		TopP:        req.settings.TopP,
		APIKey:      req.cred.Key,
	}
	if genReq.MaxTokens == 0 {
		genReq.MaxTokens = o.defaults.MaxOutputTokens
	}

	switch req.cap.Kind {
	case model.KindChat:
		return o.streamChat(ctx, req, genReq)
	case model.KindImageEdit:
		// The image-editing kind consumes the prior conversation as prompt
		// context; single-shot, no streaming.
		genReq.Parts = append(historyAsParts(req.history), genReq.Parts...)
		genReq.History = nil
		result, err := o.service.GenerateMedia(ctx, genReq)
		if err != nil {
			return err
		}
		o.applyResult(req, result)
		return nil
	case model.KindMedia:
		result, err := o.service.GenerateMedia(ctx, genReq)
		if err != nil {
			return err
		}
		o.applyResult(req, result)
		return nil
	default:
		return fmt.Errorf("orchestrator: unknown generation kind %q", req.cap.Kind)
	}
}

func (o *Orchestrator) streamChat(ctx context.Context, req *request, genReq *generation.Request) error {
	obs := req.opts.Observer

	handler := generation.StreamHandler{
		OnPart: func(text string) error {
			metrics.StreamIncrementsTotal.WithLabelValues("part").Inc()
			o.updateTarget(req, func(m *model.Message) {
				if m.ThinkingMs == 0 && m.Thoughts != "" && m.GenerationStarted != nil {
					m.ThinkingMs = time.Since(*m.GenerationStarted).Milliseconds()
				}
				m.Content += text
			})
			if obs != nil && obs.OnPart != nil {
				obs.OnPart(text)
			}
			return ctx.Err()
		},
		OnThought: func(text string) error {
			metrics.StreamIncrementsTotal.WithLabelValues("thought").Inc()
			o.updateTarget(req, func(m *model.Message) {
				m.Thoughts += text
			})
			if obs != nil && obs.OnThought != nil {
				obs.OnThought(text)
			}
			return ctx.Err()
		},
	}

	result, err := o.service.StreamGenerate(ctx, genReq, handler)
	if err != nil {
		return err
	}

	// Terminal usage and grounding update; content already folded in.
	o.finishTarget(req, result)
	return nil
}

// applyResult applies a single-shot result in the same shape as the
// streaming path: all parts, then thoughts, then usage.
func (o *Orchestrator) applyResult(req *request, result *generation.Result) {
	obs := req.opts.Observer
	for _, p := range result.Parts {
		p := p
		metrics.StreamIncrementsTotal.WithLabelValues("part").Inc()
		o.updateTarget(req, func(m *model.Message) {
			m.Content += p
		})
		if obs != nil && obs.OnPart != nil {
			obs.OnPart(p)
		}
	}
	for _, t := range result.Thoughts {
		t := t
		metrics.StreamIncrementsTotal.WithLabelValues("thought").Inc()
		o.updateTarget(req, func(m *model.Message) {
			m.Thoughts += t
		})
		if obs != nil && obs.OnThought != nil {
			obs.OnThought(t)
		}
	}
	o.finishTarget(req, result)
}

// finishTarget records usage and grounding onto the target message.
func (o *Orchestrator) finishTarget(req *request, result *generation.Result) {
	usage := result.Usage
	o.updateTarget(req, func(m *model.Message) {
		if usage != nil {
			u := *usage
			m.Usage = &u
		}
		m.Grounding = result.Grounding
	})
	if usage != nil {
		metrics.RecordUsage(req.settings.ModelID, usage.PromptTokens, usage.CompletionTokens)
	}
	if obs := req.opts.Observer; obs != nil && obs.OnUsage != nil {
		obs.OnUsage(usage, result.Grounding)
	}
}

// terminate funnels every outcome through a single completion path: the
// target message is settled, the ledger lock released, and the job completed
// exactly once.
func (o *Orchestrator) terminate(req *request, err error) {
	now := time.Now()
	outcome := model.JobCompleted
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		outcome = model.JobCancelled
	case errors.Is(err, context.DeadlineExceeded):
		outcome = model.JobCancelled
	default:
		outcome = model.JobError
	}

	o.store.AtomicUpdate(context.Background(), req.conv.ID, func(c *model.Conversation) *model.Conversation {
		m, _ := c.MessageByID(req.targetID)
		if m == nil {
			return c
		}
		m.IsLoading = false
		m.GenerationEnded = &now
		if outcome == model.JobError {
			m.Error = err.Error()
		}
		if outcome == model.JobCompleted && m.Usage != nil {
			total := m.Usage.TotalTokens
			for _, other := range c.Messages {
				if other.ID != m.ID && other.Usage != nil {
					total += other.Usage.TotalTokens
				}
			}
			m.Usage.CumulativeTotal = total
		}
		m.CommitActiveVersion()
		return c
	})

	if req.isRetry {
		o.ledger.CompleteRetry(req.opts.RetryMessageID)
	}
	o.registry.Complete(req.job.ID, outcome)

	obs := req.opts.Observer
	switch {
	case err == nil:
		if obs != nil && obs.OnComplete != nil {
			obs.OnComplete()
		}
		o.maybeTitle(req)
	default:
		if obs != nil && obs.OnError != nil {
			obs.OnError(err)
		}
		o.logger.WithJob(req.job.ID, req.conv.ID).Warn("job ended abnormally",
			zap.String("outcome", string(outcome)),
			zap.Error(err),
		)
	}
}

// maybeTitle generates a real title after the first successful exchange on a
// still-placeholder conversation.
func (o *Orchestrator) maybeTitle(req *request) {
	if o.titles == nil {
		return
	}
	conv, ok := o.store.Get(req.conv.ID)
	if !ok || conv.Title != model.PlaceholderTitle {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	title, err := o.titles.Title(ctx, conv.Messages)
	if err != nil || title == "" || title == model.PlaceholderTitle {
		return
	}
	o.store.AtomicUpdate(ctx, conv.ID, func(c *model.Conversation) *model.Conversation {
		if c.Title == model.PlaceholderTitle {
			c.Title = title
		}
		return c
	})
}

// updateTarget mutates the job's target message through the store's atomic
// update contract.
func (o *Orchestrator) updateTarget(req *request, fn func(*model.Message)) {
	o.store.AtomicUpdate(context.Background(), req.conv.ID, func(c *model.Conversation) *model.Conversation {
		if m, _ := c.MessageByID(req.targetID); m != nil {
			fn(m)
		}
		return c
	})
}

func historyAsParts(history []generation.Turn) []generation.ContentPart {
	var parts []generation.ContentPart
	for _, turn := range history {
		for _, p := range turn.Parts {
			if p.Text != "" {
				parts = append(parts, generation.ContentPart{Text: string(turn.Role) + ": " + p.Text + "\n"})
			}
		}
	}
	return parts
}
