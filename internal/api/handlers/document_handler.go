package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/markdave123-py/docpipe/internal/core"
	"github.com/markdave123-py/docpipe/internal/models"
)

// Enqueuer hands document ids to the background ingestion workers.
type Enqueuer interface {
	Enqueue(ctx context.Context, docID string) error
}

type DocumentHandler struct {
	docs     core.DocumentStore
	ingestor Enqueuer
	now      func() time.Time
}

func NewDocumentHandler(docs core.DocumentStore, ing Enqueuer) *DocumentHandler {
	return &DocumentHandler{docs: docs, ingestor: ing, now: func() time.Time { return time.Now().UTC() }}
}

type registerRequest struct {
	FileID      string `json:"file_id"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
}

// RegisterDocument records a file that already sits in object storage and
// queues it for ingestion.
func (h *DocumentHandler) RegisterDocument(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.FileID) == "" {
		http.Error(w, "invalid request: file_id is required", http.StatusBadRequest)
		return
	}

	fileName := req.FileName
	if fileName == "" {
		fileName = filepath.Base(req.FileID)
	}

	now := h.now()
	doc := &models.Document{
		ID:          uuid.NewString(),
		ProjectID:   projectID,
		FileID:      req.FileID,
		FileName:    fileName,
		ContentType: req.ContentType,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := h.docs.CreateDocument(r.Context(), doc); err != nil {
		log.Printf("DB insert failed for doc %s: %v", doc.ID, err)
		http.Error(w, "failed to store document metadata", http.StatusInternalServerError)
		return
	}

	if err := h.ingestor.Enqueue(r.Context(), doc.ID); err != nil {
		log.Printf("enqueue failed for doc %s: %v", doc.ID, err)
		http.Error(w, "document stored but could not be queued", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusCreated, doc)
}

// IngestDocument (re)queues an existing document.
func (h *DocumentHandler) IngestDocument(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "documentID")

	if _, err := h.docs.GetDocumentByID(r.Context(), docID); err != nil {
		writeStoreError(w, err)
		return
	}

	if err := h.ingestor.Enqueue(r.Context(), docID); err != nil {
		log.Printf("enqueue failed for doc %s: %v", docID, err)
		http.Error(w, "could not queue document", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"document_id": docID, "status": "queued"})
}

func (h *DocumentHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	doc, err := h.docs.GetDocumentByID(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, core.ErrNotFound) {
		http.Error(w, "document not found", http.StatusNotFound)
		return
	}
	log.Printf("document lookup failed: %v", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode response: %v", err)
	}
}
