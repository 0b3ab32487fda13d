package llm

import (
	"fmt"
	"strings"

	"github.com/Thaura644/llm-conduit/internal/logging"
	"github.com/Thaura644/llm-conduit/internal/store"
)

// KeyStore is the credential lookup the resolver needs; *store.Store
// satisfies it.
type KeyStore interface {
	APIKey(provider string) (*store.APIKey, error)
}

// Credentials is a resolved key/endpoint pair for one role.
type Credentials struct {
	Provider Provider
	APIKey   string
	BaseURL  string
}

// ResolveCredentials finds the API credentials for a role. An explicit
// provider on the role wins; otherwise the model identifier heuristic
// runs, with the openrouter key as the final catch-all. Returns
// (nil, nil) when no usable credentials exist, in which case the role
// cannot propose.
func ResolveCredentials(keys KeyStore, role store.Role) (*Credentials, error) {
	if role.Provider != "" {
		key, err := keys.APIKey(role.Provider)
		if err != nil {
			return nil, err
		}
		if key == nil {
			logging.AgentsDebug("role %s: no key for explicit provider %s", role.Role, role.Provider)
			return nil, nil
		}
		return credsFor(Provider(role.Provider), key), nil
	}
	return resolveByModel(keys, role.Model)
}

// resolveByModel infers the provider from substrings of the model
// identifier. This mirrors legacy configurations that carry no provider
// field; the fallback order (provider-specific key, then the openrouter
// catch-all) is preserved as-is.
func resolveByModel(keys KeyStore, modelID string) (*Credentials, error) {
	openrouter := func() (*Credentials, error) {
		key, err := keys.APIKey(string(ProviderOpenRouter))
		if err != nil || key == nil {
			return nil, err
		}
		return credsFor(ProviderOpenRouter, key), nil
	}

	if strings.Contains(modelID, "openrouter.ai") || strings.Contains(modelID, "/") || strings.Contains(modelID, "free") {
		if creds, err := openrouter(); creds != nil || err != nil {
			return creds, err
		}
	}

	if strings.HasPrefix(modelID, "gpt-") || strings.Contains(modelID, "gpt") {
		key, err := keys.APIKey(string(ProviderOpenAI))
		if err != nil {
			return nil, err
		}
		if key != nil {
			return credsFor(ProviderOpenAI, key), nil
		}
		if creds, err := openrouter(); creds != nil || err != nil {
			return creds, err
		}
	}

	if strings.HasPrefix(modelID, "claude-") {
		key, err := keys.APIKey(string(ProviderAnthropic))
		if err != nil {
			return nil, err
		}
		if key != nil {
			return credsFor(ProviderAnthropic, key), nil
		}
	}

	if strings.Contains(modelID, "gemini") {
		key, err := keys.APIKey(string(ProviderGoogle))
		if err != nil {
			return nil, err
		}
		if key != nil {
			return credsFor(ProviderGoogle, key), nil
		}
	}

	if strings.Contains(modelID, "grok") {
		key, err := keys.APIKey(string(ProviderXAI))
		if err != nil {
			return nil, err
		}
		if key != nil {
			return credsFor(ProviderXAI, key), nil
		}
	}

	return openrouter()
}

func credsFor(provider Provider, key *store.APIKey) *Credentials {
	baseURL := key.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL(provider)
	}
	return &Credentials{Provider: provider, APIKey: key.Key, BaseURL: baseURL}
}

// NewClientForRole builds a streaming JSON-mode chat client for a role,
// or an error naming the role when no credentials resolve.
func NewClientForRole(keys KeyStore, role store.Role) (Client, error) {
	creds, err := ResolveCredentials(keys, role)
	if err != nil {
		return nil, err
	}
	if creds == nil {
		return nil, fmt.Errorf("no API credentials for role %s (model %s)", role.Role, role.Model)
	}
	return NewChatClient(ChatConfig{
		APIKey:     creds.APIKey,
		BaseURL:    creds.BaseURL,
		Model:      role.Model,
		JSONObject: true,
	}), nil
}
