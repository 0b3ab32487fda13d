// Package llm provides the inference-provider clients used by the
// proposer fan-out and the chairman. All configured providers speak the
// OpenAI-compatible chat-completions wire format behind different base
// URLs, so a single client type covers them.
package llm

import "context"

// Client is the minimal interface the engine uses to call an LLM.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)

	// CompleteWithStreaming returns channels of incremental content
	// deltas. The content channel closes when the stream ends; a single
	// terminal error (if any) arrives on the error channel.
	CompleteWithStreaming(ctx context.Context, systemPrompt, userPrompt string) (<-chan string, <-chan error)
}

// Provider identifies an inference provider family.
type Provider string

const (
	ProviderOpenAI     Provider = "openai"
	ProviderAnthropic  Provider = "anthropic"
	ProviderGoogle     Provider = "google"
	ProviderXAI        Provider = "xai"
	ProviderOpenRouter Provider = "openrouter"
)

// DefaultBaseURL returns the chat-completions endpoint base for a
// provider. Providers without a native OpenAI-compatible endpoint are
// reached through the openrouter gateway.
func DefaultBaseURL(p Provider) string {
	switch p {
	case ProviderOpenAI:
		return "https://api.openai.com/v1"
	case ProviderXAI:
		return "https://api.x.ai/v1"
	default:
		return "https://openrouter.ai/api/v1"
	}
}
