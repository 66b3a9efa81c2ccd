package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/docpipe/internal/core"
	"github.com/markdave123-py/docpipe/internal/core/retrieval"
	"github.com/markdave123-py/docpipe/internal/models"
)

type memDocs struct {
	mu   sync.Mutex
	docs map[string]*models.Document
}

func (m *memDocs) CreateDocument(_ context.Context, doc *models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.ID] = doc
	return nil
}

func (m *memDocs) GetDocumentByID(_ context.Context, id string) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return d, nil
}

func (m *memDocs) UpdateDocumentStatus(context.Context, string, models.StatusUpdate) error {
	return nil
}

type recordingQueue struct {
	ids []string
	err error
}

func (q *recordingQueue) Enqueue(_ context.Context, id string) error {
	if q.err != nil {
		return q.err
	}
	q.ids = append(q.ids, id)
	return nil
}

type stubSearcher struct {
	hits      []retrieval.Hit
	err       error
	projectID string
	topK      int
}

func (s *stubSearcher) Search(_ context.Context, projectID, _ string, topK int) ([]retrieval.Hit, error) {
	s.projectID, s.topK = projectID, topK
	return s.hits, s.err
}

type stubBuilder struct{}

func (stubBuilder) Build(_ context.Context, chunks []models.Chunk) (string, error) {
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = c.PageContent
	}
	return strings.Join(parts, "|"), nil
}

type stubLLM struct {
	userPrompt string
}

func (l *stubLLM) Generate(_ context.Context, _, user string) (string, error) {
	l.userPrompt = user
	return "Foxes eat mice.", nil
}

func router(doc *DocumentHandler, chat *ChatHandler) http.Handler {
	r := chi.NewRouter()
	r.Post("/api/projects/{projectID}/documents", doc.RegisterDocument)
	r.Post("/api/documents/{documentID}/ingest", doc.IngestDocument)
	r.Get("/api/documents/{documentID}/status", doc.GetStatus)
	r.Post("/api/projects/{projectID}/search", chat.Search)
	r.Post("/api/projects/{projectID}/chat", chat.Chat)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func newDocs() *memDocs {
	return &memDocs{docs: map[string]*models.Document{
		"d1": {ID: "d1", ProjectID: "p1", FileID: "k1", ProcessingStatus: models.ProcessingStatus{Progress: 50, IsProcessing: true, State: "persisting_chunks"}},
	}}
}

func TestRegisterDocument(t *testing.T) {
	docs, queue := newDocs(), &recordingQueue{}
	h := router(NewDocumentHandler(docs, queue), nil)

	rec := do(t, h, http.MethodPost, "/api/projects/p9/documents", `{"file_id":"uploads/p9/report.pdf"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var got models.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "p9", got.ProjectID)
	assert.Equal(t, "report.pdf", got.FileName)
	assert.Equal(t, []string{got.ID}, queue.ids)
	assert.Contains(t, docs.docs, got.ID)

	rec = do(t, h, http.MethodPost, "/api/projects/p9/documents", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestDocument(t *testing.T) {
	queue := &recordingQueue{}
	h := router(NewDocumentHandler(newDocs(), queue), nil)

	rec := do(t, h, http.MethodPost, "/api/documents/d1/ingest", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"d1"}, queue.ids)

	rec = do(t, h, http.MethodPost, "/api/documents/nope/ingest", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Len(t, queue.ids, 1)
}

func TestIngestDocument_QueueClosed(t *testing.T) {
	h := router(NewDocumentHandler(newDocs(), &recordingQueue{err: context.Canceled}), nil)

	rec := do(t, h, http.MethodPost, "/api/documents/d1/ingest", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetStatus(t *testing.T) {
	h := router(NewDocumentHandler(newDocs(), &recordingQueue{}), nil)

	rec := do(t, h, http.MethodGet, "/api/documents/d1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got models.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 50, got.ProcessingStatus.Progress)
	assert.Equal(t, "persisting_chunks", got.ProcessingStatus.State)

	rec = do(t, h, http.MethodGet, "/api/documents/missing/status", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSearch(t *testing.T) {
	s := &stubSearcher{hits: []retrieval.Hit{
		{Source: retrieval.SourceVector, Rank: 0, Chunk: models.Chunk{UniqueChunkID: "c1"}},
		{Source: retrieval.SourceText, Rank: 2, Chunk: models.Chunk{UniqueChunkID: "c7"}},
	}}
	h := router(nil, NewChatHandler(s, stubBuilder{}, &stubLLM{}))

	rec := do(t, h, http.MethodPost, "/api/projects/p1/search", `{"query":"foxes","topK":3}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "p1", s.projectID)
	assert.Equal(t, 3, s.topK)

	var body struct {
		Results []struct {
			Source string       `json:"source"`
			Rank   int          `json:"rank"`
			Chunk  models.Chunk `json:"chunk"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Results, 2)
	assert.Equal(t, "vector", body.Results[0].Source)
	assert.Equal(t, "text", body.Results[1].Source)
	assert.Equal(t, "c7", body.Results[1].Chunk.UniqueChunkID)
}

func TestSearch_CapsTopK(t *testing.T) {
	s := &stubSearcher{}
	h := router(nil, NewChatHandler(s, stubBuilder{}, &stubLLM{}))

	rec := do(t, h, http.MethodPost, "/api/projects/p1/search", `{"query":"foxes","topK":100000}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxTopK, s.topK)
}

func TestSearch_Errors(t *testing.T) {
	h := router(nil, NewChatHandler(&stubSearcher{err: errors.New("down")}, stubBuilder{}, &stubLLM{}))

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/projects/p1/search", `{"query":"  "}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/projects/p1/search", `not json`).Code)
	assert.Equal(t, http.StatusBadGateway, do(t, h, http.MethodPost, "/api/projects/p1/search", `{"query":"fox"}`).Code)
}

func TestChat(t *testing.T) {
	s := &stubSearcher{hits: []retrieval.Hit{
		{Chunk: models.Chunk{UniqueChunkID: "c1", PageContent: "Foxes hunt mice."}},
		{Chunk: models.Chunk{UniqueChunkID: "c2", PageContent: "Mice hide."}},
	}}
	llm := &stubLLM{}
	h := router(nil, NewChatHandler(s, stubBuilder{}, llm))

	rec := do(t, h, http.MethodPost, "/api/projects/p1/chat", `{"query":"What do foxes eat?"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var got chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Foxes eat mice.", got.Answer)
	assert.Equal(t, []string{"c1", "c2"}, got.Sources)
	assert.Equal(t, "Context:\nFoxes hunt mice.|Mice hide.\n\nQuestion: What do foxes eat?", llm.userPrompt)
}
