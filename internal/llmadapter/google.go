package llmadapter

import (
	"context"
	"strings"

	genai "google.golang.org/genai"

	"cortex/internal/apierr"
)

// googleAnalyzer implements Analyzer via a single Models.GenerateContent
// call, grounded on the teacher's google.Client.Chat (genai.NewClient +
// Models.GenerateContent) shape.
type googleAnalyzer struct {
	client *genai.Client
	model  string
}

// NewGoogleAnalyzer constructs an Analyzer backed by the Gemini API.
func NewGoogleAnalyzer(ctx context.Context, apiKey, model string) (Analyzer, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: strings.TrimSpace(apiKey)})
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "init google genai client", err)
	}
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &googleAnalyzer{client: client, model: model}, nil
}

func (a *googleAnalyzer) Name() string { return "google" }

func (a *googleAnalyzer) Analyze(ctx context.Context, text string, hints Hints) (AnalyzeResult, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(analyzerSystemPrompt+"\n\n"+text, genai.RoleUser),
	}
	resp, err := a.client.Models.GenerateContent(ctx, a.model, contents, nil)
	if err != nil {
		return AnalyzeResult{}, apierr.Wrap(apierr.Unavailable, "google analyzer call failed", err)
	}
	return parseAnalyzerJSON(resp.Text(), hints)
}

// googleEmbedder wraps genai's embedding model endpoint. The genai SDK
// surface retrieved for this repo has no embedding call site to ground
// against directly; this follows the same Models-service calling
// convention GenerateContent uses above.
type googleEmbedder struct {
	client *genai.Client
	model  string
	dim    int
}

// NewGoogleEmbedder constructs an Embedder backed by Gemini's embedding
// model.
func NewGoogleEmbedder(ctx context.Context, apiKey, model string, dim int) (Embedder, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: strings.TrimSpace(apiKey)})
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "init google genai client", err)
	}
	if model == "" {
		model = "text-embedding-004"
	}
	if dim <= 0 {
		dim = 768
	}
	return &googleEmbedder{client: client, model: model, dim: dim}, nil
}

func (e *googleEmbedder) Name() string   { return "google" }
func (e *googleEmbedder) Dimension() int { return e.dim }

func (e *googleEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	resp, err := e.client.Models.EmbedContent(ctx, e.model, contents, nil)
	if err != nil {
		return nil, apierr.Wrap(apierr.Unavailable, "google embed call failed", err)
	}
	out := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		if i >= len(out) {
			break
		}
		out[i] = emb.Values
	}
	return out, nil
}
