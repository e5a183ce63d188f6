// Package llmadapter wraps the two abstract capabilities spec.md treats the
// LLM and embedding model as: Analyze(text) -> []Chunk and Embed([]text) ->
// [][]float32. Real providers (anthropic, openai, google) and a
// deterministic stub all satisfy the same narrow interfaces, mirroring the
// teacher's embedder.Embedder contract and CompletionsConfig.Backend
// provider selection.
package llmadapter

import (
	"context"
	"regexp"
	"strings"
	"time"

	"cortex/internal/memory"
)

// Chunk is one atomic subject-predicate-object statement extracted from
// ingested text, along with the Analyzer's classification of it.
type Chunk struct {
	Content         string
	MemoryType      memory.Type
	Tags            []string
	RelatedEntities map[string]string
	Importance      int
	Confidence      float64
	EventTime       *time.Time
}

// AnalyzeResult is the Analyzer's output for one ingest call.
type AnalyzeResult struct {
	Chunks   []Chunk
	Warnings []string
}

// Hints carries optional caller-supplied context (e.g. app_context,
// explicit event_time) that an Analyzer implementation may use to improve
// chunk classification.
type Hints struct {
	EventTime *time.Time
	Metadata  map[string]any
}

// Analyzer decides whether text carries retention-worthy signal and, if so,
// splits it into atomic chunks. A transient failure to reach the model is
// returned as an error (propagated to the Job Manager as unavailable);
// malformed model output is handled internally and surfaced as zero chunks
// plus a warning, never as an error.
type Analyzer interface {
	Analyze(ctx context.Context, text string, hints Hints) (AnalyzeResult, error)
	Name() string
}

// noSignalRe matches filler utterances the deterministic analyzer treats
// as carrying no retention-worthy content.
var noSignalRe = regexp.MustCompile(`(?i)^\s*(ok|okay|thanks|thank you|hi|hello|yes|no|lol)[.!]?\s*$`)

var sentenceSplitRe = regexp.MustCompile(`(?:[.!?]+\s+|\n+)`)

// deterministicAnalyzer is a rule-based stand-in used by tests and as the
// default provider (spec.md §9: "tests of the Memory Manager must mock the
// Analyzer with a deterministic stub so invariants can be checked"). It
// splits on sentence boundaries and classifies via simple lexical cues.
type deterministicAnalyzer struct{}

// NewDeterministicAnalyzer returns a rule-based Analyzer with no external
// dependency, suitable for tests and as a safe default.
func NewDeterministicAnalyzer() Analyzer { return deterministicAnalyzer{} }

func (deterministicAnalyzer) Name() string { return "deterministic" }

func (deterministicAnalyzer) Analyze(_ context.Context, text string, hints Hints) (AnalyzeResult, error) {
	text = strings.TrimSpace(text)
	if text == "" || noSignalRe.MatchString(text) {
		return AnalyzeResult{}, nil
	}

	var chunks []Chunk
	var warnings []string
	for _, s := range sentenceSplitRe.Split(text, -1) {
		s = strings.TrimSpace(s)
		if s == "" || noSignalRe.MatchString(s) {
			continue
		}
		chunks = append(chunks, classify(s, hints))
	}
	if len(chunks) == 0 {
		warnings = append(warnings, "no retention-worthy content found")
	}
	return AnalyzeResult{Chunks: chunks, Warnings: warnings}, nil
}

func classify(sentence string, hints Hints) Chunk {
	low := strings.ToLower(sentence)
	c := Chunk{
		Content:    sentence,
		MemoryType: memory.TypeFact,
		Importance: 3,
		Confidence: 0.7,
		EventTime:  hints.EventTime,
	}
	switch {
	case strings.Contains(low, "met ") || strings.Contains(low, "happened") || strings.Contains(low, "conference") || strings.Contains(low, "yesterday") || strings.Contains(low, "today") || strings.Contains(low, "2025-") || strings.Contains(low, "2026-"):
		c.MemoryType = memory.TypeEpisode
	case strings.Contains(low, "i'm ") || strings.Contains(low, "i am ") || strings.Contains(low, "feeling") || strings.Contains(low, "currently") || strings.Contains(low, "exhausted") || strings.Contains(low, "tired"):
		c.MemoryType = memory.TypeState
	case strings.Contains(low, "always ") || strings.Contains(low, "never ") || strings.Contains(low, "policy") || strings.Contains(low, "risk tolerance"):
		c.MemoryType = memory.TypePolicy
	}
	return c
}
