// Package embedding provides the embedding adapters behind port.Embedder.
package embedding

import (
	"fmt"

	"ragkb/config"
	"ragkb/internal/port"
)

// New builds the embedder selected by the dense configuration.
func New(cfg config.DenseConfig) (port.Embedder, error) {
	switch cfg.Provider {
	case config.ProviderHash:
		return NewHashEmbedder(cfg.Dim, cfg.Model), nil
	case config.ProviderOpenAI:
		return NewOpenAIEmbedder(cfg.APIKeyEnv, cfg.Model, cfg.BaseURL, cfg.Dim)
	}
	return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
}
