package generation

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/capitalize-ai/generation-orchestrator/internal/model"
)

// OpenAIService serves the chat kind and the single-shot media kinds through
// the OpenAI API.
type OpenAIService struct {
	client   *openai.Client
	apiKey   string
	proxyURL string
}

// NewOpenAIService creates an OpenAI-backed generation service. proxyURL may
// be empty.
func NewOpenAIService(apiKey, proxyURL string) (*OpenAIService, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}

	client, err := newOpenAIClient(apiKey, proxyURL)
	if err != nil {
		return nil, err
	}

	return &OpenAIService{
		client:   client,
		apiKey:   apiKey,
		proxyURL: proxyURL,
	}, nil
}

func newOpenAIClient(apiKey, proxyURL string) (*openai.Client, error) {
	cfg := openai.DefaultConfig(apiKey)
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, err
		}
		cfg.HTTPClient = &http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(u)},
		}
	}
	return openai.NewClientWithConfig(cfg), nil
}

// Name returns the provider name.
func (s *OpenAIService) Name() string {
	return "openai"
}

func (s *OpenAIService) clientFor(apiKey string) (*openai.Client, error) {
	if apiKey == "" || apiKey == s.apiKey {
		return s.client, nil
	}
	return newOpenAIClient(apiKey, s.proxyURL)
}

func (s *OpenAIService) chatRequest(req *Request, stream bool) openai.ChatCompletionRequest {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+1)
	for _, turn := range req.History {
		role := openai.ChatMessageRoleUser
		if turn.Role == model.RoleModel {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: joinParts(turn.Parts),
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: joinParts(req.Parts),
	})

	return openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: float32(req.Temperature),
		TopP:        float32(req.TopP),
		Stream:      stream,
	}
}

func joinParts(parts []ContentPart) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// Generate implements Service.
func (s *OpenAIService) Generate(ctx context.Context, req *Request) (*Result, error) {
	client, err := s.clientFor(req.APIKey)
	if err != nil {
		return nil, err
	}

	resp, err := client.CreateChatCompletion(ctx, s.chatRequest(req, false))
	if err != nil {
		return nil, err
	}

	result := &Result{}
	if len(resp.Choices) > 0 {
		result.Parts = append(result.Parts, resp.Choices[0].Message.Content)
	}
	result.Usage = &model.TokenUsage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	return result, nil
}

// StreamGenerate implements Service. OpenAI streams carry no token counts;
// usage stays nil rather than estimated, so downstream accounting skips it.
func (s *OpenAIService) StreamGenerate(ctx context.Context, req *Request, h StreamHandler) (*Result, error) {
	client, err := s.clientFor(req.APIKey)
	if err != nil {
		return nil, err
	}

	stream, err := client.CreateChatCompletionStream(ctx, s.chatRequest(req, true))
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	result := &Result{}
	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		if len(response.Choices) == 0 {
			continue
		}
		delta := response.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		result.Parts = append(result.Parts, delta)
		if err := h.part(delta); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// GenerateMedia implements Service: images through the image endpoint,
// speech through the audio endpoint. The prompt is the joined text parts;
// for the image-editing kind the orchestrator folds the prior conversation
// into those parts.
func (s *OpenAIService) GenerateMedia(ctx context.Context, req *Request) (*Result, error) {
	client, err := s.clientFor(req.APIKey)
	if err != nil {
		return nil, err
	}

	prompt := joinParts(req.Parts)

	if strings.HasPrefix(req.Model, "tts") {
		resp, err := client.CreateSpeech(ctx, openai.CreateSpeechRequest{
			Model: openai.SpeechModel(req.Model),
			Input: prompt,
			Voice: openai.VoiceAlloy,
		})
		if err != nil {
			return nil, err
		}
		defer resp.Close()
		audio, err := io.ReadAll(resp)
		if err != nil {
			return nil, err
		}
		return &Result{
			Parts: []string{"data:audio/mpeg;base64," + base64.StdEncoding.EncodeToString(audio)},
		}, nil
	}

	imageModel := req.Model
	if imageModel == "gpt-image-edit" {
		imageModel = openai.CreateImageModelDallE3
	}
	resp, err := client.CreateImage(ctx, openai.ImageRequest{
		Model:          imageModel,
		Prompt:         prompt,
		N:              1,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for _, img := range resp.Data {
		result.Parts = append(result.Parts, img.URL)
	}
	return result, nil
}
