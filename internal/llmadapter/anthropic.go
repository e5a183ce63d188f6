package llmadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"cortex/internal/apierr"
	"cortex/internal/memory"
)

// anthropicAnalyzer implements Analyzer by asking Claude to extract atomic
// chunks as JSON, grounded on the teacher's anthropic.Client.Chat shape
// (single-turn Messages.New call, system + user message).
type anthropicAnalyzer struct {
	sdk   anthropic.Client
	model string
}

// NewAnthropicAnalyzer constructs an Analyzer backed by the Anthropic
// messages API.
func NewAnthropicAnalyzer(apiKey, model string) Analyzer {
	return &anthropicAnalyzer{
		sdk:   anthropic.NewClient(option.WithAPIKey(strings.TrimSpace(apiKey))),
		model: model,
	}
}

func (a *anthropicAnalyzer) Name() string { return "anthropic" }

const analyzerSystemPrompt = `You extract atomic, subject-predicate-object memory statements from user text.
Respond with a JSON object: {"chunks":[{"content":string,"memory_type":"fact"|"state"|"episode"|"policy","tags":[string],"importance":1-5,"confidence":0.0-1.0}]}.
If the text carries no information worth remembering, respond with {"chunks":[]}.`

func (a *anthropicAnalyzer) Analyze(ctx context.Context, text string, hints Hints) (AnalyzeResult, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: analyzerSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		},
	}

	resp, err := a.sdk.Messages.New(ctx, params)
	if err != nil {
		return AnalyzeResult{}, apierr.Wrap(apierr.Unavailable, "anthropic analyzer call failed", err)
	}

	var raw string
	for _, block := range resp.Content {
		if block.Type == "text" {
			raw += block.Text
		}
	}
	return parseAnalyzerJSON(raw, hints)
}

type analyzerChunkJSON struct {
	Content    string   `json:"content"`
	MemoryType string   `json:"memory_type"`
	Tags       []string `json:"tags"`
	Importance int      `json:"importance"`
	Confidence float64  `json:"confidence"`
}

type analyzerResponseJSON struct {
	Chunks []analyzerChunkJSON `json:"chunks"`
}

// parseAnalyzerJSON decodes a provider's JSON chunk response. Malformed
// output is treated as zero chunks plus a warning, per spec.md §4.2 — it
// never returns an error.
func parseAnalyzerJSON(raw string, hints Hints) (AnalyzeResult, error) {
	raw = extractJSONObject(raw)
	var parsed analyzerResponseJSON
	if raw == "" {
		return AnalyzeResult{Warnings: []string{"empty model output"}}, nil
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return AnalyzeResult{Warnings: []string{fmt.Sprintf("malformed analyzer output: %v", err)}}, nil
	}
	chunks := make([]Chunk, 0, len(parsed.Chunks))
	for _, c := range parsed.Chunks {
		content := strings.TrimSpace(c.Content)
		if content == "" {
			continue
		}
		mt := memory.Type(c.MemoryType)
		if !mt.Valid() {
			mt = memory.TypeFact
		}
		importance := c.Importance
		if importance < 1 || importance > 5 {
			importance = 3
		}
		confidence := c.Confidence
		if confidence <= 0 || confidence > 1 {
			confidence = 0.7
		}
		chunks = append(chunks, Chunk{
			Content:    content,
			MemoryType: mt,
			Tags:       c.Tags,
			Importance: importance,
			Confidence: confidence,
			EventTime:  hints.EventTime,
		})
	}
	return AnalyzeResult{Chunks: chunks}, nil
}

// extractJSONObject trims leading/trailing prose around the first top-level
// JSON object, tolerating models that wrap JSON in markdown fences.
func extractJSONObject(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}
