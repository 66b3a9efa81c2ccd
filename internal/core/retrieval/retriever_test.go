package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/docpipe/internal/core"
	"github.com/markdave123-py/docpipe/internal/models"
)

type fakeStore struct {
	vectorIDs  []string
	textHits   []models.Chunk
	vectorErr  error
	textErr    error
	chunks     map[string]models.Chunk
	lastTopK   int
	lastVector []float32
}

func (f *fakeStore) InsertChunks(context.Context, string, []models.Chunk) error { return nil }

func (f *fakeStore) UpdateChunkEmbedding(context.Context, string, []float32) error { return nil }

func (f *fakeStore) VectorSearch(_ context.Context, _ string, vec []float32, topK int) ([]string, error) {
	f.lastVector = vec
	f.lastTopK = topK
	return f.vectorIDs, f.vectorErr
}

func (f *fakeStore) TextSearch(context.Context, string, string, int) ([]models.Chunk, error) {
	return f.textHits, f.textErr
}

func (f *fakeStore) GetChunks(_ context.Context, ids []string) ([]models.Chunk, error) {
	var out []models.Chunk
	for _, id := range ids {
		if c, ok := f.chunks[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return [][]float32{{1, 0, 0}}, nil
}

func chunk(id string) models.Chunk {
	return models.Chunk{UniqueChunkID: id, ProjectID: "p1", PageContent: "content of " + id}
}

// three vector hits, four text hits, "b" found by both
func newScenario() *fakeStore {
	s := &fakeStore{
		vectorIDs: []string{"a", "b", "c"},
		textHits:  []models.Chunk{chunk("d"), chunk("b"), chunk("e"), chunk("f")},
		chunks:    map[string]models.Chunk{},
	}
	for _, id := range s.vectorIDs {
		s.chunks[id] = chunk(id)
	}
	return s
}

func ids(chunks []models.Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.UniqueChunkID
	}
	return out
}

func TestRetrieve_MergesAndDeduplicates(t *testing.T) {
	store := newScenario()
	r := NewRetriever(&fakeEmbedder{}, store)

	got, err := r.Retrieve(context.Background(), "p1", "fox habitat", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f"}, ids(got))
	assert.Equal(t, 10, store.lastTopK)
	assert.Equal(t, []float32{1, 0, 0}, store.lastVector)
}

func TestRetrieve_TruncatesToTopK(t *testing.T) {
	r := NewRetriever(&fakeEmbedder{}, newScenario())

	got, err := r.Retrieve(context.Background(), "p1", "fox habitat", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, ids(got))
}

func TestSearch_VectorHitWinsOverText(t *testing.T) {
	r := NewRetriever(&fakeEmbedder{}, newScenario())

	hits, err := r.Search(context.Background(), "p1", "fox habitat", 10)
	require.NoError(t, err)
	require.Len(t, hits, 6)

	assert.Equal(t, "b", hits[1].Chunk.UniqueChunkID)
	assert.Equal(t, SourceVector, hits[1].Source)
	assert.Equal(t, 1, hits[1].Rank)

	assert.Equal(t, "e", hits[4].Chunk.UniqueChunkID)
	assert.Equal(t, SourceText, hits[4].Source)
	assert.Equal(t, 2, hits[4].Rank)
}

func TestRetrieve_DefaultTopK(t *testing.T) {
	store := newScenario()
	got, err := NewRetriever(&fakeEmbedder{}, store).Retrieve(context.Background(), "p1", "fox", 0)
	require.NoError(t, err)
	assert.Len(t, got, DefaultTopK)
	assert.Equal(t, DefaultTopK, store.lastTopK)
}

func TestRetrieve_EmptyQuery(t *testing.T) {
	emb := &fakeEmbedder{}
	got, err := NewRetriever(emb, newScenario()).Retrieve(context.Background(), "p1", "   ", 5)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, emb.calls)
}

func TestRetrieve_TextOnlyWhenEmbeddingFails(t *testing.T) {
	r := NewRetriever(&fakeEmbedder{err: core.ErrRateLimited}, newScenario())

	got, err := r.Retrieve(context.Background(), "p1", "fox", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "b", "e", "f"}, ids(got))
}

func TestRetrieve_VectorOnlyWhenTextFails(t *testing.T) {
	store := newScenario()
	store.textErr = errors.New("fts unavailable")

	got, err := NewRetriever(&fakeEmbedder{}, store).Retrieve(context.Background(), "p1", "fox", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids(got))
}

func TestRetrieve_BothFail(t *testing.T) {
	store := newScenario()
	store.vectorErr = errors.New("index down")
	store.textErr = errors.New("fts unavailable")

	_, err := NewRetriever(&fakeEmbedder{}, store).Retrieve(context.Background(), "p1", "fox", 10)
	assert.Error(t, err)
}

func TestRetrieve_NoResults(t *testing.T) {
	store := &fakeStore{chunks: map[string]models.Chunk{}}
	got, err := NewRetriever(&fakeEmbedder{}, store).Retrieve(context.Background(), "p1", "fox", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMerge(t *testing.T) {
	vec := []models.Chunk{chunk("x"), chunk("y")}
	txt := []models.Chunk{chunk("y"), chunk("x"), chunk("z")}

	assert.Equal(t, []string{"x", "y", "z"}, hitIDs(merge(vec, txt, 10)))
	assert.Equal(t, []string{"x"}, hitIDs(merge(vec, txt, 1)))
	assert.Empty(t, merge(nil, nil, 3))
}

func hitIDs(hits []Hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.Chunk.UniqueChunkID
	}
	return out
}

func TestSourceString(t *testing.T) {
	assert.Equal(t, "vector", SourceVector.String())
	assert.Equal(t, "text", SourceText.String())
}
