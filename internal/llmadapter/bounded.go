package llmadapter

import (
	"context"

	"cortex/internal/apierr"
)

// boundedAnalyzer caps the number of concurrent Analyze calls at capacity,
// enforcing AdapterConcurrency (spec.md §5) across every caller that shares
// this Analyzer instance — ingest jobs, force-create, and retrieval/synth
// alike — rather than only the async job path.
type boundedAnalyzer struct {
	Analyzer
	slots chan struct{}
}

// withAnalyzerConcurrencyLimit wraps a, bounding concurrent Analyze calls to
// capacity. A non-positive capacity disables the bound.
func withAnalyzerConcurrencyLimit(a Analyzer, capacity int) Analyzer {
	if capacity <= 0 {
		return a
	}
	return &boundedAnalyzer{Analyzer: a, slots: make(chan struct{}, capacity)}
}

func (b *boundedAnalyzer) Analyze(ctx context.Context, text string, hints Hints) (AnalyzeResult, error) {
	select {
	case b.slots <- struct{}{}:
	case <-ctx.Done():
		return AnalyzeResult{}, apierr.New(apierr.Timeout, "timed out waiting for an analyzer concurrency slot")
	}
	defer func() { <-b.slots }()
	return b.Analyzer.Analyze(ctx, text, hints)
}

// boundedEmbedder is the Embedder-side counterpart of boundedAnalyzer.
type boundedEmbedder struct {
	Embedder
	slots chan struct{}
}

func withEmbedderConcurrencyLimit(e Embedder, capacity int) Embedder {
	if capacity <= 0 {
		return e
	}
	return &boundedEmbedder{Embedder: e, slots: make(chan struct{}, capacity)}
}

func (b *boundedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	select {
	case b.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, apierr.New(apierr.Timeout, "timed out waiting for an embedder concurrency slot")
	}
	defer func() { <-b.slots }()
	return b.Embedder.EmbedBatch(ctx, texts)
}
