package credentials

import (
	"context"
	"strings"

	"music-tutor/backend/pkg/config"
)

// StorageKey is the name the credential set is persisted under
const StorageKey = "music_agent_keys"

// Credentials is the per-session key set handed to the orchestrator and adapters
type Credentials struct {
	Gemini      string `json:"gemini"`
	Replicate   string `json:"replicate"`
	HuggingFace string `json:"huggingFace"`
	EndpointURL string `json:"endpointUrl"`
}

// FromOverrides converts environment overrides into a credential set
func FromOverrides(o config.CredentialOverrides) Credentials {
	return Credentials{
		Gemini:      o.Gemini,
		Replicate:   o.Replicate,
		HuggingFace: o.HuggingFace,
		EndpointURL: o.EndpointURL,
	}
}

// Resolve merges field by field: environment, then persisted, then empty
func Resolve(env, persisted Credentials) Credentials {
	return Credentials{
		Gemini:      firstNonEmpty(env.Gemini, persisted.Gemini),
		Replicate:   firstNonEmpty(env.Replicate, persisted.Replicate),
		HuggingFace: firstNonEmpty(env.HuggingFace, persisted.HuggingFace),
		EndpointURL: firstNonEmpty(env.EndpointURL, persisted.EndpointURL),
	}
}

// Normalize trims surrounding whitespace from every field
func (c Credentials) Normalize() Credentials {
	return Credentials{
		Gemini:      strings.TrimSpace(c.Gemini),
		Replicate:   strings.TrimSpace(c.Replicate),
		HuggingFace: strings.TrimSpace(c.HuggingFace),
		EndpointURL: strings.TrimSpace(c.EndpointURL),
	}
}

// Missing lists the JSON names of empty fields
func (c Credentials) Missing() []string {
	var missing []string
	if c.Gemini == "" {
		missing = append(missing, "gemini")
	}
	if c.Replicate == "" {
		missing = append(missing, "replicate")
	}
	if c.HuggingFace == "" {
		missing = append(missing, "huggingFace")
	}
	if c.EndpointURL == "" {
		missing = append(missing, "endpointUrl")
	}
	return missing
}

// Redacted masks the secrets, keeping the endpoint readable
func (c Credentials) Redacted() Credentials {
	return Credentials{
		Gemini:      mask(c.Gemini),
		Replicate:   mask(c.Replicate),
		HuggingFace: mask(c.HuggingFace),
		EndpointURL: c.EndpointURL,
	}
}

// Store persists one credential set
type Store interface {
	Load(ctx context.Context) (Credentials, error)
	Save(ctx context.Context, creds Credentials) error
}

// Provider builds the effective credential set from environment overrides and a store
type Provider struct {
	env   Credentials
	store Store
}

// NewProvider creates a provider
func NewProvider(env Credentials, store Store) *Provider {
	return &Provider{env: env.Normalize(), store: store}
}

// Current returns the effective credentials
func (p *Provider) Current(ctx context.Context) (Credentials, error) {
	persisted, err := p.store.Load(ctx)
	if err != nil {
		return Credentials{}, err
	}
	return Resolve(p.env, persisted), nil
}

// Save persists a new set. Environment overrides still win on the next Current.
func (p *Provider) Save(ctx context.Context, creds Credentials) error {
	return p.store.Save(ctx, creds.Normalize())
}

// EnvironmentProvided reports which fields are pinned by the environment
func (p *Provider) EnvironmentProvided() map[string]bool {
	return map[string]bool{
		"gemini":      p.env.Gemini != "",
		"replicate":   p.env.Replicate != "",
		"huggingFace": p.env.HuggingFace != "",
		"endpointUrl": p.env.EndpointURL != "",
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}
