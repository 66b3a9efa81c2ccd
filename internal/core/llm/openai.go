package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/markdave123-py/docpipe/internal/core"
)

// OpenAIEmbedder calls the OpenAI embeddings endpoint.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
	dim    int
}

// NewOpenAIEmbedder requests dim-sized vectors from text-embedding-3 models;
// other models use their native size.
func NewOpenAIEmbedder(apiKey, model string, dim int) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY not set")
	}
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	return &OpenAIEmbedder{client: openai.NewClient(apiKey), model: model, dim: dim}, nil
}

func (e *OpenAIEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	req := openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: texts,
	}
	if e.dim > 0 && strings.HasPrefix(e.model, "text-embedding-3") {
		req.Dimensions = e.dim
	}

	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, classify("openai embed", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embed: %w: %d embeddings for %d texts", core.ErrProvider, len(resp.Data), len(texts))
	}

	// Data is documented to follow input order, but Index is authoritative.
	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	out := make([][]float32, len(data))
	for i, d := range data {
		v := make([]float32, len(d.Embedding))
		for j := range d.Embedding {
			v[j] = float32(d.Embedding[j])
		}
		out[i] = v
	}
	return out, nil
}

// OpenAILLM answers with the chat completions endpoint.
type OpenAILLM struct {
	client *openai.Client
	model  string
}

func NewOpenAILLM(apiKey, model string) (*OpenAILLM, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY not set")
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAILLM{client: openai.NewClient(apiKey), model: model}, nil
}

func (l *OpenAILLM) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	var msgs []openai.ChatCompletionMessage
	if systemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: userPrompt})

	resp, err := l.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    l.model,
		Messages: msgs,
	})
	if err != nil {
		return "", classify("openai chat", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

var (
	_ core.EmbeddingProvider = (*OpenAIEmbedder)(nil)
	_ core.LLMProvider       = (*OpenAILLM)(nil)
)
