// Package llm abstracts the chat-completion backends used by the reasoning
// stages. Streaming-capable clients additionally implement StreamClient and
// deliver the answer as incremental text deltas.
package llm

import (
	"context"
	"fmt"

	"github.com/freightdesk/contract-agent/config"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string
	Content string
}

type Client interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

// StreamClient delivers the generated answer incrementally. Concatenating
// every delta passed to fn yields the same text Generate would return. A
// non-nil error from fn aborts the stream.
type StreamClient interface {
	Client
	GenerateStream(ctx context.Context, messages []Message, fn func(delta string) error) error
}

type Options struct {
	Provider    string
	Model       string
	Temperature float32
	MaxTokens   int

	OllamaHost string
	APIKey     string
	APIBaseURL string
}

func NewClient(cfg config.Config) (Client, error) {
	opts := Options{
		Provider:    cfg.LLM.Provider,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		OllamaHost:  cfg.OllamaHost,
		APIKey:      cfg.APIKey,
		APIBaseURL:  cfg.APIBaseURL,
	}

	switch opts.Provider {
	case config.ProviderOllama:
		return NewOllamaClient(opts), nil
	case config.ProviderOpenAI:
		if opts.APIKey == "" {
			return nil, fmt.Errorf("openai-compatible provider selected but no API key set")
		}
		return NewOpenAIClient(opts), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", opts.Provider)
	}
}
