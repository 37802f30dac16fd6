// Package embeddings maps text to fixed-dimension vectors used for
// similarity search. All providers return unit-length vectors so cosine
// similarity reduces to a dot product.
package embeddings

import (
	"context"
	"fmt"
	"math"

	"github.com/freightdesk/contract-agent/config"
)

type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type Options struct {
	Provider  string
	Model     string
	Dimension int

	OllamaHost string
	APIKey     string
	APIBaseURL string
}

func NewEmbedder(cfg config.Config) (Embedder, error) {
	opts := Options{
		Provider:   cfg.Embeddings.Provider,
		Model:      cfg.Embeddings.Model,
		Dimension:  cfg.Embeddings.Dimension,
		OllamaHost: cfg.OllamaHost,
		APIKey:     cfg.APIKey,
		APIBaseURL: cfg.APIBaseURL,
	}

	switch opts.Provider {
	case config.ProviderOllama:
		return NewOllamaEmbedder(opts), nil
	case config.ProviderOpenAI:
		if opts.APIKey == "" {
			return nil, fmt.Errorf("openai-compatible provider selected but no API key set")
		}
		return NewOpenAIEmbedder(opts), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", opts.Provider)
	}
}

// Normalize scales vec to unit length in place and returns it. Zero vectors
// are returned unchanged.
func Normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
