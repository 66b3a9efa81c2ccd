package core

import "context"

// EmbeddingProvider turns texts into vectors. The model is bound at construction.
// Implementations must return exactly one vector per input, in input order.
type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

type LLMProvider interface {
	Generate(ctx context.Context, systemPrompt string, userPrompt string) (string, error)
}
