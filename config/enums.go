package config

import (
	"fmt"
	"strings"
)

// ChunkStrategy selects how non-tabular text is split.
type ChunkStrategy string

const (
	StrategyWindow      ChunkStrategy = "window"
	StrategyProposition ChunkStrategy = "proposition"
)

// FusionMode selects how lexical and dense rankings are merged.
type FusionMode string

const (
	FusionRRF      FusionMode = "rrf"
	FusionWeighted FusionMode = "weighted"
	FusionNone     FusionMode = "none"
)

// DenseBackend selects the on-disk format of the dense index.
type DenseBackend string

const (
	BackendBolt DenseBackend = "bolt"
	BackendFlat DenseBackend = "flat"
)

// EmbeddingProvider selects the embedding adapter.
type EmbeddingProvider string

const (
	ProviderHash   EmbeddingProvider = "hash"
	ProviderOpenAI EmbeddingProvider = "openai"
)

// RerankProvider selects the external rerank adapter.
type RerankProvider string

const (
	RerankLexical RerankProvider = "lexical"
	RerankCohere  RerankProvider = "cohere"
)

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ParseChunkStrategy accepts "char" as an alias for the window strategy.
func ParseChunkStrategy(s string) (ChunkStrategy, error) {
	switch normalize(s) {
	case "", "window", "char", "fixed":
		return StrategyWindow, nil
	case "proposition", "sentence":
		return StrategyProposition, nil
	}
	return "", fmt.Errorf("%w: unknown chunking strategy %q", ErrInvalid, s)
}

func ParseFusionMode(s string) (FusionMode, error) {
	switch normalize(s) {
	case "", "rrf":
		return FusionRRF, nil
	case "weighted":
		return FusionWeighted, nil
	case "none":
		return FusionNone, nil
	}
	return "", fmt.Errorf("%w: unknown fusion mode %q", ErrInvalid, s)
}

func ParseDenseBackend(s string) (DenseBackend, error) {
	switch normalize(s) {
	case "", "bolt":
		return BackendBolt, nil
	case "flat", "json":
		return BackendFlat, nil
	}
	return "", fmt.Errorf("%w: unknown dense backend %q", ErrInvalid, s)
}

func ParseEmbeddingProvider(s string) (EmbeddingProvider, error) {
	switch normalize(s) {
	case "", "hash", "mock":
		return ProviderHash, nil
	case "openai":
		return ProviderOpenAI, nil
	}
	return "", fmt.Errorf("%w: unknown embedding provider %q", ErrInvalid, s)
}

func ParseRerankProvider(s string) (RerankProvider, error) {
	switch normalize(s) {
	case "", "lexical", "simple":
		return RerankLexical, nil
	case "cohere":
		return RerankCohere, nil
	}
	return "", fmt.Errorf("%w: unknown rerank provider %q", ErrInvalid, s)
}
