package llmadapter

import (
	"context"
	"fmt"

	"cortex/internal/config"
)

// NewAnalyzer selects an Analyzer implementation by cfg.LLMProvider and
// bounds its concurrent Analyze calls to cfg.AdapterConcurrency (§5) so
// every caller of the returned Analyzer — the async job path, force-create,
// and the Synthesizer alike — shares the same bound.
func NewAnalyzer(ctx context.Context, cfg config.Config) (Analyzer, error) {
	a, err := newAnalyzer(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return withAnalyzerConcurrencyLimit(a, cfg.AdapterConcurrency), nil
}

func newAnalyzer(ctx context.Context, cfg config.Config) (Analyzer, error) {
	switch cfg.LLMProvider {
	case "anthropic":
		return NewAnthropicAnalyzer(cfg.LLMAPIKey, cfg.AnthropicModel), nil
	case "openai":
		return NewOpenAIAnalyzer(cfg.LLMAPIKey, cfg.OpenAIModel), nil
	case "google":
		return NewGoogleAnalyzer(ctx, cfg.LLMAPIKey, cfg.GoogleModel)
	case "", "deterministic":
		return NewDeterministicAnalyzer(), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLMProvider)
	}
}

// NewEmbedder selects an Embedder implementation by cfg.EmbeddingProvider
// and bounds its concurrent EmbedBatch calls to cfg.AdapterConcurrency,
// mirroring NewAnalyzer.
func NewEmbedder(ctx context.Context, cfg config.Config) (Embedder, error) {
	e, err := newEmbedder(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return withEmbedderConcurrencyLimit(e, cfg.AdapterConcurrency), nil
}

func newEmbedder(ctx context.Context, cfg config.Config) (Embedder, error) {
	switch cfg.EmbeddingProvider {
	case "openai":
		return NewOpenAIEmbedder(cfg.EmbeddingAPIKey, cfg.OpenAIModel, cfg.EmbeddingDim), nil
	case "google":
		return NewGoogleEmbedder(ctx, cfg.EmbeddingAPIKey, cfg.GoogleModel, cfg.EmbeddingDim)
	case "", "deterministic":
		return NewDeterministicEmbedder(cfg.EmbeddingDim), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.EmbeddingProvider)
	}
}
