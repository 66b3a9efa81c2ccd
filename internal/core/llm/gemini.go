package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/markdave123-py/docpipe/internal/core"
)

const (
	defaultGeminiEmbedModel = "text-embedding-004"
	defaultGeminiGenModel   = "gemini-1.5-flash"
)

// Gemini serves both embeddings and generation from one genai client.
type Gemini struct {
	client     *genai.Client
	embedModel string
	genModel   string
}

func NewGemini(ctx context.Context, apiKey, embedModel, genModel string) (*Gemini, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY not set")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	if embedModel == "" {
		embedModel = defaultGeminiEmbedModel
	}
	if genModel == "" {
		genModel = defaultGeminiGenModel
	}
	return &Gemini{client: cl, embedModel: embedModel, genModel: genModel}, nil
}

func (g *Gemini) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// EmbedTexts sends all texts in one BatchEmbedContents request.
func (g *Gemini) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	em := g.client.EmbeddingModel(g.embedModel)
	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}

	resp, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, classify("gemini batch embed", err)
	}
	return embeddingValues(resp, len(texts))
}

func embeddingValues(resp *genai.BatchEmbedContentsResponse, want int) ([][]float32, error) {
	if resp == nil || len(resp.Embeddings) != want {
		got := 0
		if resp != nil {
			got = len(resp.Embeddings)
		}
		return nil, fmt.Errorf("gemini batch embed: %w: %d embeddings for %d texts", core.ErrProvider, got, want)
	}
	out := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, fmt.Errorf("gemini batch embed: %w: empty embedding at %d", core.ErrProvider, i)
		}
		out[i] = e.Values
	}
	return out, nil
}

func (g *Gemini) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	m := g.client.GenerativeModel(g.genModel)
	if systemPrompt != "" {
		m.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(systemPrompt)},
		}
	}

	resp, err := m.GenerateContent(ctx, genai.Text(userPrompt))
	if err != nil {
		return "", classify("gemini generate", err)
	}
	return candidateText(resp)
}

// candidateText concatenates the text parts of the first candidate.
func candidateText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", fmt.Errorf("gemini generate: %w: empty response", core.ErrProvider)
	}
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != genai.BlockReasonUnspecified {
		return "", fmt.Errorf("gemini generate: %w: prompt blocked (%s)", core.ErrProvider, fb.BlockReason)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("gemini generate: %w: no candidates", core.ErrProvider)
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String(), nil
}

var (
	_ core.EmbeddingProvider = (*Gemini)(nil)
	_ core.LLMProvider       = (*Gemini)(nil)
)
