package synth

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"cortex/internal/llmadapter"
	"cortex/internal/memory"
)

type failingAnalyzer struct{}

func (failingAnalyzer) Name() string { return "failing" }
func (failingAnalyzer) Analyze(context.Context, string, llmadapter.Hints) (llmadapter.AnalyzeResult, error) {
	return llmadapter.AnalyzeResult{}, errors.New("boom")
}

func TestSynthesize_DegradesOnAnalyzerFailure(t *testing.T) {
	s := New(failingAnalyzer{})
	evidence := []Evidence{
		{Memory: memory.Memory{ID: uuid.New(), Content: "I live in Tokyo."}, Score: 0.9},
		{Memory: memory.Memory{ID: uuid.New(), Content: "I work in finance."}, Score: 0.7},
	}
	result, err := s.Synthesize(context.Background(), evidence)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(result.Bullets) != 2 || result.Bullets[0] != "I live in Tokyo." {
		t.Fatalf("expected bullets to be verbatim memory content, got %+v", result.Bullets)
	}
	if result.Summary == "" {
		t.Fatalf("expected a non-empty degraded summary")
	}
	if len(result.Evidence) != 2 {
		t.Fatalf("expected evidence refs for both memories")
	}
}

func TestSynthesize_EmptyEvidence(t *testing.T) {
	s := New(llmadapter.NewDeterministicAnalyzer())
	result, err := s.Synthesize(context.Background(), nil)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if result.Summary != "" || len(result.Bullets) != 0 {
		t.Fatalf("expected empty result for empty evidence, got %+v", result)
	}
}
