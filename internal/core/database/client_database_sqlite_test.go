package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/docpipe/internal/core"
	"github.com/markdave123-py/docpipe/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func ptr[T any](v T) *T { return &v }

func seedChunks(t *testing.T, s *SQLiteStore) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateDocument(ctx, &models.Document{ID: "doc-1", ProjectID: "p1", FileID: "f1"}))

	chunks := []models.Chunk{
		{UniqueChunkID: "c1", DocumentID: "doc-1", ChunkNumber: 1, PageContent: "Foxes are quick animals that hunt at night.",
			Metadata: &models.ChunkMetadata{PageNumber: 1, DocTitle: "Wildlife", Headings: []string{"ANIMALS"}}},
		{UniqueChunkID: "c2", DocumentID: "doc-1", ChunkNumber: 2, PageContent: "Trees grow tall in the forest."},
		{UniqueChunkID: "c3", DocumentID: "doc-1", ChunkNumber: 3, PageContent: "The fox and the hound are friends. Foxes again."},
	}
	require.NoError(t, s.InsertChunks(ctx, "p1", chunks))
	require.NoError(t, s.InsertChunks(ctx, "p2", []models.Chunk{
		{UniqueChunkID: "other", DocumentID: "doc-x", ChunkNumber: 1, PageContent: "Foxes in another project."},
	}))
}

func TestSQLiteStore_DocumentStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateDocument(ctx, &models.Document{ID: "d1", ProjectID: "p1", FileID: "k", FileName: "a.pdf"}))

	require.NoError(t, s.UpdateDocumentStatus(ctx, "d1", models.StatusUpdate{Progress: ptr(50), IsProcessing: ptr(true), State: ptr("persisting_chunks")}))
	// progress never decreases
	require.NoError(t, s.UpdateDocumentStatus(ctx, "d1", models.StatusUpdate{Progress: ptr(30)}))

	doc, err := s.GetDocumentByID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 50, doc.ProcessingStatus.Progress)
	assert.True(t, doc.ProcessingStatus.IsProcessing)
	assert.Equal(t, "persisting_chunks", doc.ProcessingStatus.State)
	assert.Nil(t, doc.ProcessingStatus.ProcessedAt)

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.UpdateDocumentStatus(ctx, "d1", models.StatusUpdate{
		Progress: ptr(100), IsProcessing: ptr(false), IsProcessed: ptr(true), ProcessedAt: &now,
	}))
	doc, err = s.GetDocumentByID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 100, doc.ProcessingStatus.Progress)
	assert.True(t, doc.ProcessingStatus.IsProcessed)
	require.NotNil(t, doc.ProcessingStatus.ProcessedAt)
	assert.True(t, now.Equal(*doc.ProcessingStatus.ProcessedAt))
}

func TestSQLiteStore_ResetStartsNewRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateDocument(ctx, &models.Document{ID: "d1", ProjectID: "p1", FileID: "k"}))

	now := time.Now().UTC()
	require.NoError(t, s.UpdateDocumentStatus(ctx, "d1", models.StatusUpdate{
		Progress: ptr(100), IsProcessing: ptr(false), IsProcessed: ptr(true), ProcessedAt: &now, State: ptr("complete"),
	}))

	require.NoError(t, s.UpdateDocumentStatus(ctx, "d1", models.StatusUpdate{
		Reset: true, Progress: ptr(0), IsProcessing: ptr(true), IsProcessed: ptr(false), State: ptr("fetching"),
	}))
	doc, err := s.GetDocumentByID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 0, doc.ProcessingStatus.Progress)
	assert.True(t, doc.ProcessingStatus.IsProcessing)
	assert.False(t, doc.ProcessingStatus.IsProcessed)
	assert.Nil(t, doc.ProcessingStatus.ProcessedAt)

	// later writes in the run are monotonic again
	require.NoError(t, s.UpdateDocumentStatus(ctx, "d1", models.StatusUpdate{Progress: ptr(30)}))
	require.NoError(t, s.UpdateDocumentStatus(ctx, "d1", models.StatusUpdate{Progress: ptr(10)}))
	doc, err = s.GetDocumentByID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 30, doc.ProcessingStatus.Progress)
}

func TestSQLiteStore_MissingDocument(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetDocumentByID(context.Background(), "nope")
	assert.ErrorIs(t, err, core.ErrNotFound)

	err = s.UpdateDocumentStatus(context.Background(), "nope", models.StatusUpdate{Progress: ptr(10)})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestSQLiteStore_InsertIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	seedChunks(t, s)
	ctx := context.Background()

	// re-inserting the same ids must not duplicate rows or overwrite content
	require.NoError(t, s.InsertChunks(ctx, "p1", []models.Chunk{
		{UniqueChunkID: "c1", DocumentID: "doc-1", ChunkNumber: 1, PageContent: "changed"},
	}))

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM chunks WHERE project_id = 'p1'`).Scan(&n))
	assert.Equal(t, 3, n)

	got, err := s.GetChunks(ctx, []string{"c1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Foxes are quick animals that hunt at night.", got[0].PageContent)
	require.NotNil(t, got[0].Metadata)
	assert.Equal(t, "Wildlife", got[0].Metadata.DocTitle)
	assert.Equal(t, []string{"ANIMALS"}, got[0].Metadata.Headings)
}

func TestSQLiteStore_RejectsForeignProject(t *testing.T) {
	s := newTestStore(t)
	err := s.InsertChunks(context.Background(), "p1", []models.Chunk{{UniqueChunkID: "x", ProjectID: "p2"}})
	assert.Error(t, err)
}

func TestSQLiteStore_UpdateEmbeddingUnknownChunk(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateChunkEmbedding(context.Background(), "missing", []float32{1, 0})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestSQLiteStore_VectorSearch(t *testing.T) {
	s := newTestStore(t)
	seedChunks(t, s)
	ctx := context.Background()

	require.NoError(t, s.UpdateChunkEmbedding(ctx, "c1", []float32{1, 0, 0}))
	require.NoError(t, s.UpdateChunkEmbedding(ctx, "c3", []float32{0.6, 0.8, 0}))
	require.NoError(t, s.UpdateChunkEmbedding(ctx, "other", []float32{1, 0, 0}))
	// c2 has no embedding and is never a vector hit

	ids, err := s.VectorSearch(ctx, "p1", []float32{1, 0.1, 0}, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c3"}, ids)

	ids, err = s.VectorSearch(ctx, "p1", []float32{0, 1, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"c3"}, ids)
}

func TestSQLiteStore_TextSearch(t *testing.T) {
	s := newTestStore(t)
	seedChunks(t, s)
	ctx := context.Background()

	got, err := s.TextSearch(ctx, "p1", "foxes?", 10)
	require.NoError(t, err)
	ids := make([]string, len(got))
	for i, c := range got {
		ids[i] = c.UniqueChunkID
	}
	assert.ElementsMatch(t, []string{"c1", "c3"}, ids)
	assert.NotContains(t, ids, "other")

	got, err = s.TextSearch(ctx, "p1", "forest", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c2", got[0].UniqueChunkID)

	got, err = s.TextSearch(ctx, "p1", "  ?! ", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLiteStore_GetChunksKeepsOrder(t *testing.T) {
	s := newTestStore(t)
	seedChunks(t, s)

	got, err := s.GetChunks(context.Background(), []string{"c3", "missing", "c1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c3", got[0].UniqueChunkID)
	assert.Equal(t, "c1", got[1].UniqueChunkID)
	assert.Equal(t, "p1", got[0].ProjectID)
}

func TestEmbeddingRoundTrip(t *testing.T) {
	v := []float32{0.25, -1.5, 3e-7}
	assert.Equal(t, v, deserializeEmbedding(serializeEmbedding(v)))
}

func TestFTSQuery(t *testing.T) {
	assert.Equal(t, `"what" OR "do" OR "foxes" OR "eat"`, ftsQuery("What do foxes eat?"))
	assert.Equal(t, "", ftsQuery("?!"))
}
