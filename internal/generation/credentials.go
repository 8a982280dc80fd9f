package generation

import (
	"errors"

	"github.com/capitalize-ai/generation-orchestrator/internal/model"
)

// ErrNoCredential indicates no usable API key could be resolved.
var ErrNoCredential = errors.New("generation: no usable credential")

// Credential is a resolved API key for one request.
type Credential struct {
	Key string
	// IsNew is true when the key did not come from the conversation's lock,
	// so the caller may choose to pin it.
	IsNew bool
}

// CredentialResolver picks the API key for a request.
type CredentialResolver interface {
	Resolve(settings model.ConversationSettings) (Credential, error)
}

// KeyPool resolves credentials from a fixed set of configured keys, honoring
// a conversation-locked key first.
type KeyPool struct {
	keys map[string]string // provider -> key
}

// NewKeyPool builds a resolver over the configured provider keys.
func NewKeyPool(anthropicKey, openaiKey string) *KeyPool {
	keys := make(map[string]string)
	if anthropicKey != "" {
		keys["anthropic"] = anthropicKey
	}
	if openaiKey != "" {
		keys["openai"] = openaiKey
	}
	return &KeyPool{keys: keys}
}

// Resolve implements CredentialResolver.
func (p *KeyPool) Resolve(settings model.ConversationSettings) (Credential, error) {
	if settings.LockedAPIKey != "" {
		return Credential{Key: settings.LockedAPIKey}, nil
	}

	cap, ok := Lookup(settings.ModelID)
	if !ok {
		return Credential{}, ErrNoCredential
	}
	key, ok := p.keys[cap.Provider]
	if !ok || key == "" {
		return Credential{}, ErrNoCredential
	}
	return Credential{Key: key, IsNew: true}, nil
}
