// Package synth implements the Synthesizer: a thin formatter turning ranked
// evidence into a summary and bullets via the Analyzer capability, with a
// deterministic degraded path when the Analyzer fails (spec.md §4.6).
package synth

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"cortex/internal/llmadapter"
	"cortex/internal/memory"
)

// Evidence pairs a ranked Memory with its retrieval score.
type Evidence struct {
	Memory memory.Memory
	Score  float64
}

// EvidenceRef is the wire shape of one evidence entry in the response.
type EvidenceRef struct {
	MemoryID uuid.UUID `json:"memory_id"`
	Score    float64   `json:"score"`
}

// Result is the Synthesizer's output.
type Result struct {
	Summary  string        `json:"summary"`
	Bullets  []string      `json:"bullets"`
	Evidence []EvidenceRef `json:"evidence,omitempty"`
}

// Synthesizer formats ranked evidence for a downstream agent.
type Synthesizer struct {
	analyzer llmadapter.Analyzer
}

// New constructs a Synthesizer backed by the given Analyzer capability.
func New(analyzer llmadapter.Analyzer) *Synthesizer {
	return &Synthesizer{analyzer: analyzer}
}

const synthesisInstruction = "summarize for downstream agent"

// Synthesize turns ranked evidence into {summary, bullets, evidence}. If the
// Analyzer fails, it degrades gracefully: summary becomes a deterministic
// concatenation of the top bullets, and bullets are each memory's content
// verbatim.
func (s *Synthesizer) Synthesize(ctx context.Context, evidence []Evidence) (Result, error) {
	bullets := make([]string, len(evidence))
	refs := make([]EvidenceRef, len(evidence))
	for i, e := range evidence {
		bullets[i] = e.Memory.Content
		refs[i] = EvidenceRef{MemoryID: e.Memory.ID, Score: e.Score}
	}

	if s.analyzer == nil || len(evidence) == 0 {
		return Result{Summary: degradedSummary(bullets), Bullets: bullets, Evidence: refs}, nil
	}

	prompt := synthesisInstruction + ":\n" + strings.Join(bullets, "\n")
	analysis, err := s.analyzer.Analyze(ctx, prompt, llmadapter.Hints{})
	if err != nil || len(analysis.Chunks) == 0 {
		return Result{Summary: degradedSummary(bullets), Bullets: bullets, Evidence: refs}, nil
	}

	summary := analysis.Chunks[0].Content
	return Result{Summary: summary, Bullets: bullets, Evidence: refs}, nil
}

// degradedSummary concatenates up to the first three bullets, the
// Analyzer-unavailable fallback §4.6 specifies.
func degradedSummary(bullets []string) string {
	n := len(bullets)
	if n > 3 {
		n = 3
	}
	if n == 0 {
		return ""
	}
	joined := strings.Join(bullets[:n], "; ")
	if remaining := len(bullets) - n; remaining > 0 {
		return fmt.Sprintf("%s (+%d more)", joined, remaining)
	}
	return joined
}
