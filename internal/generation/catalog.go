package generation

import (
	"strings"

	"github.com/capitalize-ai/generation-orchestrator/internal/model"
)

// Capability declares what a model id can produce, which selects the
// orchestrator's handling path.
type Capability struct {
	Kind     model.GenerationKind
	Provider string
	// TextInput reports whether the model accepts plain text, which drives
	// empty-input validation.
	TextInput bool
}

var catalog = map[string]Capability{
	// Anthropic chat models.
	"claude-3-5-sonnet-20241022": {Kind: model.KindChat, Provider: "anthropic", TextInput: true},
	"claude-3-5-haiku-20241022":  {Kind: model.KindChat, Provider: "anthropic", TextInput: true},
	"claude-3-opus-20240229":     {Kind: model.KindChat, Provider: "anthropic", TextInput: true},
	"claude-3-haiku-20240307":    {Kind: model.KindChat, Provider: "anthropic", TextInput: true},

	// OpenAI chat models.
	"gpt-4o":      {Kind: model.KindChat, Provider: "openai", TextInput: true},
	"gpt-4o-mini": {Kind: model.KindChat, Provider: "openai", TextInput: true},
	"gpt-4-turbo": {Kind: model.KindChat, Provider: "openai", TextInput: true},

	// Single-shot media models.
	"dall-e-3":       {Kind: model.KindMedia, Provider: "openai", TextInput: true},
	"dall-e-2":       {Kind: model.KindMedia, Provider: "openai", TextInput: true},
	"tts-1":          {Kind: model.KindMedia, Provider: "openai", TextInput: true},
	"tts-1-hd":       {Kind: model.KindMedia, Provider: "openai", TextInput: true},
	"gpt-image-edit": {Kind: model.KindImageEdit, Provider: "openai", TextInput: true},
}

// Lookup resolves the capability for a model id. Unknown ids default to the
// chat kind on the prefix-matched provider so newly released chat models work
// without a catalog change.
func Lookup(modelID string) (Capability, bool) {
	if cap, ok := catalog[modelID]; ok {
		return cap, true
	}
	switch {
	case strings.HasPrefix(modelID, "claude-"):
		return Capability{Kind: model.KindChat, Provider: "anthropic", TextInput: true}, true
	case strings.HasPrefix(modelID, "gpt-"), strings.HasPrefix(modelID, "o1"):
		return Capability{Kind: model.KindChat, Provider: "openai", TextInput: true}, true
	}
	return Capability{}, false
}
