package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/markdave123-py/docpipe/internal/core"
	"github.com/markdave123-py/docpipe/internal/models"
)

// DefaultTopK is used when the caller asks for zero or fewer results.
const DefaultTopK = 5

// QueryEmbedder turns the query into a vector. The embedding client satisfies it.
type QueryEmbedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Source tells which index produced a hit.
type Source int

const (
	SourceVector Source = iota
	SourceText
)

func (s Source) String() string {
	switch s {
	case SourceVector:
		return "vector"
	case SourceText:
		return "text"
	default:
		return "unknown"
	}
}

func (s Source) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Hit is one merged result. Rank is the position within its own source list, from 0.
type Hit struct {
	Source Source       `json:"source"`
	Rank   int          `json:"rank"`
	Chunk  models.Chunk `json:"chunk"`
}

// Retriever runs a vector search and a lexical search for the same query and
// merges them: vector hits first, then text hits, first occurrence of a chunk wins.
type Retriever struct {
	embedder QueryEmbedder
	store    core.ChunkStore
}

func NewRetriever(embedder QueryEmbedder, store core.ChunkStore) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// Retrieve returns at most topK chunks for the query within one project.
func (r *Retriever) Retrieve(ctx context.Context, projectID, query string, topK int) ([]models.Chunk, error) {
	hits, err := r.Search(ctx, projectID, query, topK)
	if err != nil {
		return nil, err
	}
	out := make([]models.Chunk, len(hits))
	for i, h := range hits {
		out[i] = h.Chunk
	}
	return out, nil
}

// Search is Retrieve with each result tagged by the index that found it.
// If one index fails the other one's results are returned; both failing is an error.
func (r *Retriever) Search(ctx context.Context, projectID, query string, topK int) ([]Hit, error) {
	if strings.TrimSpace(query) == "" {
		return []Hit{}, nil
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	var (
		vectorResults, textResults []models.Chunk
		vectorErr, textErr         error
		wg                         sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		vectorResults, vectorErr = r.vectorSearch(ctx, projectID, query, topK)
	}()
	go func() {
		defer wg.Done()
		textResults, textErr = r.store.TextSearch(ctx, projectID, query, topK)
	}()
	wg.Wait()

	switch {
	case vectorErr != nil && textErr != nil:
		return nil, fmt.Errorf("hybrid search: vector=%w, text=%w", vectorErr, textErr)
	case vectorErr != nil:
		slog.Warn("vector search failed, using text results only", "project_id", projectID, "error", vectorErr)
		vectorResults = nil
	case textErr != nil:
		slog.Warn("text search failed, using vector results only", "project_id", projectID, "error", textErr)
		textResults = nil
	}

	return merge(vectorResults, textResults, topK), nil
}

func (r *Retriever) vectorSearch(ctx context.Context, projectID, query string, topK int) ([]models.Chunk, error) {
	vecs, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: got %d vectors for the query", core.ErrProvider, len(vecs))
	}

	ids, err := r.store.VectorSearch(ctx, projectID, vecs[0], topK)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	chunks, err := r.store.GetChunks(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("hydrate chunks: %w", err)
	}
	return chunks, nil
}

func merge(vector, text []models.Chunk, topK int) []Hit {
	out := make([]Hit, 0, min(topK, len(vector)+len(text)))
	seen := make(map[string]struct{}, len(vector)+len(text))

	add := func(src Source, chunks []models.Chunk) {
		for rank, c := range chunks {
			if len(out) == topK {
				return
			}
			if _, dup := seen[c.UniqueChunkID]; dup {
				continue
			}
			seen[c.UniqueChunkID] = struct{}{}
			out = append(out, Hit{Source: src, Rank: rank, Chunk: c})
		}
	}
	add(SourceVector, vector)
	add(SourceText, text)
	return out
}
