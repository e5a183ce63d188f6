package llmadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"cortex/internal/apierr"
)

// openaiAnalyzer implements Analyzer via a single Chat Completions call,
// grounded on the teacher's openai.Client.Chat (sdk.ChatCompletionNewParams
// + Chat.Completions.New) shape.
type openaiAnalyzer struct {
	sdk   sdk.Client
	model string
}

// NewOpenAIAnalyzer constructs an Analyzer backed by the OpenAI chat
// completions API.
func NewOpenAIAnalyzer(apiKey, model string) Analyzer {
	return &openaiAnalyzer{
		sdk:   sdk.NewClient(option.WithAPIKey(strings.TrimSpace(apiKey))),
		model: model,
	}
}

func (a *openaiAnalyzer) Name() string { return "openai" }

func (a *openaiAnalyzer) Analyze(ctx context.Context, text string, hints Hints) (AnalyzeResult, error) {
	params := sdk.ChatCompletionNewParams{
		Model: sdk.ChatModel(a.model),
		Messages: []sdk.ChatCompletionMessageParamUnion{
			sdk.SystemMessage(analyzerSystemPrompt),
			sdk.UserMessage(text),
		},
	}

	comp, err := a.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return AnalyzeResult{}, apierr.Wrap(apierr.Unavailable, "openai analyzer call failed", err)
	}
	if len(comp.Choices) == 0 {
		return AnalyzeResult{Warnings: []string{"empty choices from model"}}, nil
	}
	return parseAnalyzerJSON(comp.Choices[0].Message.Content, hints)
}

// openaiEmbedder calls the /v1/embeddings REST endpoint directly, grounded
// on the teacher's raw-HTTP GenerateEmbeddings/FetchEmbeddings pattern (the
// openai-go v2 SDK surface retrieved for this repo has no Embeddings service
// call site to ground an SDK-based version against).
type openaiEmbedder struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
	dim        int
}

// NewOpenAIEmbedder constructs an Embedder backed by the OpenAI embeddings
// REST endpoint.
func NewOpenAIEmbedder(apiKey, model string, dim int) Embedder {
	if dim <= 0 {
		dim = 1536
	}
	return &openaiEmbedder{
		httpClient: http.DefaultClient,
		apiKey:     strings.TrimSpace(apiKey),
		model:      model,
		baseURL:    "https://api.openai.com/v1/embeddings",
		dim:        dim,
	}
}

func (e *openaiEmbedder) Name() string   { return "openai" }
func (e *openaiEmbedder) Dimension() int { return e.dim }

type openaiEmbeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type openaiEmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (e *openaiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(openaiEmbeddingRequest{Input: texts, Model: e.model})
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "marshal embedding request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "build embedding request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, apierr.Wrap(apierr.Unavailable, "openai embeddings call failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apierr.Newf(apierr.Unavailable, "openai embeddings returned status %d", resp.StatusCode)
	}

	var parsed openaiEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, apierr.Wrap(apierr.Unavailable, "decode embedding response", err)
	}

	out := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(out) {
			continue
		}
		out[d.Index] = d.Embedding
	}
	for i, v := range out {
		if v == nil {
			return nil, apierr.Newf(apierr.Unavailable, "missing embedding for input %d", i)
		}
	}
	return out, nil
}
