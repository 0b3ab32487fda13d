package engine

import (
	"github.com/Thaura644/llm-conduit/internal/llm"
	"github.com/Thaura644/llm-conduit/internal/store"
)

// ClientFactory builds inference clients for roles and the chairman.
// The engine never constructs clients directly so tests can substitute
// scripted ones.
type ClientFactory interface {
	// ForRole returns a streaming JSON-mode client for a role, or an
	// error when no credentials resolve.
	ForRole(role store.Role) (llm.Client, error)

	// ForChairman returns the arbiter's client, or (nil, nil) when no
	// chairman credentials are configured.
	ForChairman() (llm.Client, error)
}

// StoreFactory resolves clients from the credential store.
type StoreFactory struct {
	Keys          llm.KeyStore
	ChairmanModel string
}

func (f *StoreFactory) ForRole(role store.Role) (llm.Client, error) {
	return llm.NewClientForRole(f.Keys, role)
}

// ForChairman builds the arbiter client from the openrouter credential
// row. The chairman always runs through the gateway.
func (f *StoreFactory) ForChairman() (llm.Client, error) {
	key, err := f.Keys.APIKey(string(llm.ProviderOpenRouter))
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, nil
	}

	model := f.ChairmanModel
	if model == "" {
		model = "gpt-4o"
	}
	return llm.NewChatClient(llm.ChatConfig{
		APIKey:     key.Key,
		BaseURL:    key.BaseURL,
		Model:      model,
		JSONObject: true,
	}), nil
}
