package llm

import (
	"testing"

	"github.com/Thaura644/llm-conduit/internal/store"
)

type fakeKeys map[string]store.APIKey

func (f fakeKeys) APIKey(provider string) (*store.APIKey, error) {
	if k, ok := f[provider]; ok {
		return &k, nil
	}
	return nil, nil
}

func TestExplicitProviderWins(t *testing.T) {
	keys := fakeKeys{
		"anthropic":  {Provider: "anthropic", Key: "ak"},
		"openrouter": {Provider: "openrouter", Key: "ork"},
	}

	// Model looks like an openrouter id, but the explicit field wins.
	creds, err := ResolveCredentials(keys, store.Role{Role: "CTO", Model: "meta/llama-free", Provider: "anthropic"})
	if err != nil {
		t.Fatalf("ResolveCredentials failed: %v", err)
	}
	if creds == nil || creds.Provider != ProviderAnthropic || creds.APIKey != "ak" {
		t.Errorf("got %+v, want anthropic creds", creds)
	}
}

func TestModelHeuristic(t *testing.T) {
	keys := fakeKeys{
		"openai":     {Provider: "openai", Key: "oak"},
		"anthropic":  {Provider: "anthropic", Key: "ank", BaseURL: "https://gateway.example/v1"},
		"google":     {Provider: "google", Key: "gk"},
		"xai":        {Provider: "xai", Key: "xk"},
		"openrouter": {Provider: "openrouter", Key: "ork"},
	}

	tests := []struct {
		model string
		want  Provider
	}{
		{"gpt-4o", ProviderOpenAI},
		{"claude-sonnet-4", ProviderAnthropic},
		{"gemini-2.0-flash", ProviderGoogle},
		{"grok-3", ProviderXAI},
		{"mistralai/mistral-7b", ProviderOpenRouter},
		{"some-free-model", ProviderOpenRouter},
		{"completely-unknown", ProviderOpenRouter},
	}
	for _, tt := range tests {
		creds, err := ResolveCredentials(keys, store.Role{Role: "Dev", Model: tt.model})
		if err != nil {
			t.Fatalf("%s: ResolveCredentials failed: %v", tt.model, err)
		}
		if creds == nil || creds.Provider != tt.want {
			t.Errorf("%s: got %+v, want provider %s", tt.model, creds, tt.want)
		}
	}
}

func TestGPTFallsBackToOpenRouter(t *testing.T) {
	keys := fakeKeys{"openrouter": {Provider: "openrouter", Key: "ork"}}

	creds, err := ResolveCredentials(keys, store.Role{Role: "PM", Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("ResolveCredentials failed: %v", err)
	}
	if creds == nil || creds.Provider != ProviderOpenRouter {
		t.Errorf("got %+v, want openrouter fallback", creds)
	}
}

func TestNoCredentials(t *testing.T) {
	creds, err := ResolveCredentials(fakeKeys{}, store.Role{Role: "Dev", Model: "claude-opus"})
	if err != nil {
		t.Fatalf("ResolveCredentials failed: %v", err)
	}
	if creds != nil {
		t.Errorf("got %+v, want nil when nothing is configured", creds)
	}

	if _, err := NewClientForRole(fakeKeys{}, store.Role{Role: "Dev", Model: "claude-opus"}); err == nil {
		t.Fatal("NewClientForRole should fail without credentials")
	}
}

func TestBaseURLDefaultsPerProvider(t *testing.T) {
	keys := fakeKeys{"openai": {Provider: "openai", Key: "oak"}}
	creds, err := ResolveCredentials(keys, store.Role{Role: "PM", Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("ResolveCredentials failed: %v", err)
	}
	if creds.BaseURL != "https://api.openai.com/v1" {
		t.Errorf("BaseURL = %s", creds.BaseURL)
	}

	// Explicit base_url on the key record wins.
	keys["openai"] = store.APIKey{Provider: "openai", Key: "oak", BaseURL: "https://proxy.local/v1"}
	creds, _ = ResolveCredentials(keys, store.Role{Role: "PM", Model: "gpt-4o"})
	if creds.BaseURL != "https://proxy.local/v1" {
		t.Errorf("BaseURL = %s, want proxy override", creds.BaseURL)
	}
}
