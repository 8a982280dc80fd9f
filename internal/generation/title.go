package generation

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/capitalize-ai/generation-orchestrator/internal/model"
)

// TitleGenerator produces a conversation title from its first exchange. It is
// only consulted while a conversation still has its placeholder title.
type TitleGenerator interface {
	Title(ctx context.Context, messages []*model.Message) (string, error)
}

const titlePrompt = "Write a title of at most six words for the conversation below. " +
	"Reply with the title only, no quotes.\n\n"

// ServiceTitleGenerator asks the generation backend for a title, falling back
// to a trimmed first user message when the call fails.
type ServiceTitleGenerator struct {
	service Service
	modelID string
	apiKey  string
}

// NewServiceTitleGenerator creates a title generator over the given backend.
func NewServiceTitleGenerator(service Service, modelID, apiKey string) *ServiceTitleGenerator {
	return &ServiceTitleGenerator{service: service, modelID: modelID, apiKey: apiKey}
}

// Title implements TitleGenerator.
func (g *ServiceTitleGenerator) Title(ctx context.Context, messages []*model.Message) (string, error) {
	var b strings.Builder
	b.WriteString(titlePrompt)
	for _, m := range messages {
		if m.Role == model.RoleError {
			continue
		}
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}

	result, err := g.service.Generate(ctx, &Request{
		Model:     g.modelID,
		Parts:     []ContentPart{{Text: b.String()}},
		MaxTokens: 32,
		APIKey:    g.apiKey,
	})
	if err != nil {
		return fallbackTitle(messages), nil
	}

	title := strings.Trim(strings.TrimSpace(result.Text()), "\"'")
	if title == "" {
		return fallbackTitle(messages), nil
	}
	return truncateTitle(title), nil
}

func fallbackTitle(messages []*model.Message) string {
	for _, m := range messages {
		if m.Role == model.RoleUser && strings.TrimSpace(m.Content) != "" {
			return truncateTitle(strings.TrimSpace(m.Content))
		}
	}
	return model.PlaceholderTitle
}

func truncateTitle(s string) string {
	const maxRunes = 64
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxRunes]) + "…"
}
