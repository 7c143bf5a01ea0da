package embedding

import (
	"fmt"
	"os"

	"github.com/hyperjump/vecsync/internal/config"
	"go.uber.org/zap"
)

// New creates the embedder selected by cfg.Provider. A provider that cannot be
// constructed is an error; there is no silent fallback, since vectors from a
// different model would not be comparable with those already indexed.
func New(cfg config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Provider {
	case config.ProviderMock, "":
		return NewMockEmbedder(cfg.Dimensions), nil
	case config.ProviderONNX:
		e, err := NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens, cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("onnx embedder: %w", err)
		}
		return e, nil
	case config.ProviderOpenAI:
		key := os.Getenv(cfg.OpenAI.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("openai embedder: %s environment variable not set", cfg.OpenAI.APIKeyEnv)
		}
		e, err := NewOpenAIEmbedder(key, cfg.OpenAI.BaseURL, cfg.OpenAI.Model,
			cfg.Dimensions, cfg.BatchSize, cfg.CacheSize, WithOpenAILogger(logger))
		if err != nil {
			return nil, fmt.Errorf("openai embedder: %w", err)
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}
