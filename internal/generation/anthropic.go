package generation

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/capitalize-ai/generation-orchestrator/internal/model"
)

// AnthropicService serves the chat kind through the Anthropic API.
type AnthropicService struct {
	client   *anthropic.Client
	apiKey   string
	proxyURL string
}

// NewAnthropicService creates an Anthropic-backed generation service.
// proxyURL may be empty.
func NewAnthropicService(apiKey, proxyURL string) (*AnthropicService, error) {
	if apiKey == "" {
		return nil, errors.New("Anthropic API key is required")
	}

	opts, err := anthropicOptions(apiKey, proxyURL)
	if err != nil {
		return nil, err
	}

	return &AnthropicService{
		client:   anthropic.NewClient(opts...),
		apiKey:   apiKey,
		proxyURL: proxyURL,
	}, nil
}

func anthropicOptions(apiKey, proxyURL string) ([]option.RequestOption, error) {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, err
		}
		opts = append(opts, option.WithHTTPClient(&http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(u)},
		}))
	}
	return opts, nil
}

// Name returns the provider name.
func (s *AnthropicService) Name() string {
	return "anthropic"
}

// clientFor returns the shared client, or a request-scoped one when the
// resolved credential differs from the configured key.
func (s *AnthropicService) clientFor(apiKey string) (*anthropic.Client, error) {
	if apiKey == "" || apiKey == s.apiKey {
		return s.client, nil
	}
	opts, err := anthropicOptions(apiKey, s.proxyURL)
	if err != nil {
		return nil, err
	}
	return anthropic.NewClient(opts...), nil
}

func (s *AnthropicService) params(req *Request) anthropic.MessageNewParams {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	messages := make([]anthropic.MessageParam, 0, len(req.History)+1)
	for _, turn := range req.History {
		messages = append(messages, anthropicTurn(turn.Role, turn.Parts))
	}
	messages = append(messages, anthropicTurn(model.RoleUser, req.Parts))

	params := anthropic.MessageNewParams{
		Model:     anthropic.F(req.Model),
		MaxTokens: anthropic.F(int64(maxTokens)),
		Messages:  anthropic.F(messages),
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.F(req.Temperature)
	}
	if req.TopP > 0 {
		params.TopP = anthropic.F(req.TopP)
	}
	return params
}

func anthropicTurn(role model.Role, parts []ContentPart) anthropic.MessageParam {
	paramRole := anthropic.MessageParamRole("user")
	if role == model.RoleModel {
		paramRole = anthropic.MessageParamRole("assistant")
	}

	var text string
	for _, p := range parts {
		text += p.Text
	}

	return anthropic.MessageParam{
		Role: anthropic.F(paramRole),
		Content: anthropic.F([]anthropic.ContentBlockParamUnion{
			anthropic.TextBlockParam{
				Type: anthropic.F(anthropic.TextBlockParamTypeText),
				Text: anthropic.F(text),
			},
		}),
	}
}

// Generate implements Service.
func (s *AnthropicService) Generate(ctx context.Context, req *Request) (*Result, error) {
	client, err := s.clientFor(req.APIKey)
	if err != nil {
		return nil, err
	}

	resp, err := client.Messages.New(ctx, s.params(req))
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for _, block := range resp.Content {
		if block.Type == anthropic.ContentBlockTypeText {
			result.Parts = append(result.Parts, block.Text)
		}
	}
	result.Usage = &model.TokenUsage{
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
		TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
	}
	return result, nil
}

// StreamGenerate implements Service. Increments are delivered in arrival
// order; the stream stops as soon as a callback returns an error or ctx is
// cancelled.
func (s *AnthropicService) StreamGenerate(ctx context.Context, req *Request, h StreamHandler) (*Result, error) {
	client, err := s.clientFor(req.APIKey)
	if err != nil {
		return nil, err
	}

	stream := client.Messages.NewStreaming(ctx, s.params(req))

	result := &Result{}
	var tokensIn, tokensOut int

	for stream.Next() {
		event := stream.Current()

		switch event.Type {
		case anthropic.MessageStreamEventTypeMessageStart:
			tokensIn = int(event.Message.Usage.InputTokens)
		case anthropic.MessageStreamEventTypeContentBlockDelta:
			if delta, ok := event.Delta.(anthropic.ContentBlockDeltaEventDelta); ok && delta.Type == "text_delta" {
				result.Parts = append(result.Parts, delta.Text)
				if err := h.part(delta.Text); err != nil {
					return nil, err
				}
			}
		case anthropic.MessageStreamEventTypeMessageDelta:
			tokensOut = int(event.Usage.OutputTokens)
		}
	}

	if err := stream.Err(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result.Usage = &model.TokenUsage{
		PromptTokens:     tokensIn,
		CompletionTokens: tokensOut,
		TotalTokens:      tokensIn + tokensOut,
	}
	return result, nil
}

// GenerateMedia implements Service. Anthropic serves no media kinds.
func (s *AnthropicService) GenerateMedia(ctx context.Context, req *Request) (*Result, error) {
	return nil, ErrUnsupportedKind
}
