package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/markdave123-py/docpipe/internal/core"
	"github.com/markdave123-py/docpipe/internal/core/retrieval"
	"github.com/markdave123-py/docpipe/internal/models"
)

// Searcher is the hybrid retriever.
type Searcher interface {
	Search(ctx context.Context, projectID, query string, topK int) ([]retrieval.Hit, error)
}

// ContextAssembler joins retrieved chunks into a prompt context.
type ContextAssembler interface {
	Build(ctx context.Context, chunks []models.Chunk) (string, error)
}

type ChatHandler struct {
	retriever Searcher
	builder   ContextAssembler
	llm       core.LLMProvider
}

func NewChatHandler(retriever Searcher, builder ContextAssembler, llm core.LLMProvider) *ChatHandler {
	return &ChatHandler{retriever: retriever, builder: builder, llm: llm}
}

// maxTopK caps how many hits one request can ask for.
const maxTopK = 50

type queryRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"topK"`
}

const systemPrompt = "You are an intelligent assistant answering based only on the given document content. " +
	"Each context block starts with its source. If unsure, say 'I cannot find this in the documents.'"

func decodeQuery(w http.ResponseWriter, r *http.Request) (queryRequest, bool) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return req, false
	}
	if strings.TrimSpace(req.Query) == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return req, false
	}
	req.TopK = min(req.TopK, maxTopK)
	return req, true
}

// Search returns the merged hits for a project.
func (h *ChatHandler) Search(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeQuery(w, r)
	if !ok {
		return
	}

	hits, err := h.retriever.Search(r.Context(), chi.URLParam(r, "projectID"), req.Query, req.TopK)
	if err != nil {
		log.Printf("search failed: %v", err)
		http.Error(w, "search failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": hits})
}

type chatResponse struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
}

// Chat answers a question from the project's documents.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeQuery(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	hits, err := h.retriever.Search(ctx, chi.URLParam(r, "projectID"), req.Query, req.TopK)
	if err != nil {
		log.Printf("search failed: %v", err)
		http.Error(w, "search failed", http.StatusBadGateway)
		return
	}

	chunks := make([]models.Chunk, len(hits))
	sources := make([]string, len(hits))
	for i, hit := range hits {
		chunks[i] = hit.Chunk
		sources[i] = hit.Chunk.UniqueChunkID
	}

	contextText, err := h.builder.Build(ctx, chunks)
	if err != nil {
		http.Error(w, "request cancelled", http.StatusServiceUnavailable)
		return
	}

	userPrompt := fmt.Sprintf("Context:\n%s\n\nQuestion: %s", contextText, req.Query)
	answer, err := h.llm.Generate(ctx, systemPrompt, userPrompt)
	if err != nil {
		log.Printf("LLM failed: %v", err)
		http.Error(w, "generation failed", http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{Answer: answer, Sources: sources})
}
