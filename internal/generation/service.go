// Package generation defines the provider-facing interfaces of the
// orchestrator and the Anthropic/OpenAI adapters behind them.
package generation

import (
	"context"
	"errors"

	"github.com/capitalize-ai/generation-orchestrator/internal/model"
)

// ErrUnsupportedKind indicates the provider cannot serve the requested
// generation kind.
var ErrUnsupportedKind = errors.New("generation: kind not supported by provider")

// ContentPart is one unit of request or response content.
type ContentPart struct {
	Text string         `json:"text,omitempty"`
	File *model.FileRef `json:"file,omitempty"`
}

// Turn is one prior conversation turn handed to the provider as context.
type Turn struct {
	Role  model.Role
	Parts []ContentPart
}

// Request is a single provider call. The credential and proxy are resolved
// before the request is constructed and travel with it; nothing is re-read
// from ambient configuration mid-call.
type Request struct {
	Model       string
	History     []Turn
	Parts       []ContentPart
	MaxTokens   int
	Temperature float64
	TopP        float64
	APIKey      string
}

// Result is the terminal outcome of a provider call. The non-streaming path
// delivers the same shape as streaming: all parts, then thoughts, then usage.
type Result struct {
	Parts     []string
	Thoughts  []string
	Usage     *model.TokenUsage
	Grounding *model.Grounding
}

// Text concatenates the result's content parts.
func (r *Result) Text() string {
	var out string
	for _, p := range r.Parts {
		out += p
	}
	return out
}

// StreamHandler receives ordered increments during a streaming call. A nil
// callback drops that increment type. Returning an error aborts the stream.
type StreamHandler struct {
	OnPart    func(text string) error
	OnThought func(text string) error
}

func (h StreamHandler) part(text string) error {
	if h.OnPart == nil {
		return nil
	}
	return h.OnPart(text)
}

func (h StreamHandler) thought(text string) error {
	if h.OnThought == nil {
		return nil
	}
	return h.OnThought(text)
}

// Service is the interface to the external model-serving backend. All calls
// support cooperative cancellation through ctx.
type Service interface {
	// StreamGenerate delivers ordered part/thought increments through the
	// handler, then returns the terminal result with usage and grounding.
	StreamGenerate(ctx context.Context, req *Request, h StreamHandler) (*Result, error)

	// Generate delivers the full result in one shot.
	Generate(ctx context.Context, req *Request) (*Result, error)

	// GenerateMedia serves the single-shot audio/image kinds.
	GenerateMedia(ctx context.Context, req *Request) (*Result, error)

	// Name returns the provider name.
	Name() string
}

// ContentBuilder transforms user input into request content parts. Pure; the
// orchestrator assumes no side effects beyond the return value.
type ContentBuilder interface {
	Build(text string, files []model.FileRef) ([]ContentPart, []model.FileRef, error)
}

// TextContentBuilder is the default builder: one text part plus the files
// passed through unchanged.
type TextContentBuilder struct{}

// Build implements ContentBuilder.
func (TextContentBuilder) Build(text string, files []model.FileRef) ([]ContentPart, []model.FileRef, error) {
	parts := make([]ContentPart, 0, 1+len(files))
	if text != "" {
		parts = append(parts, ContentPart{Text: text})
	}
	for i := range files {
		parts = append(parts, ContentPart{File: &files[i]})
	}
	return parts, files, nil
}
