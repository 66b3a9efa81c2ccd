package models

import (
	"time"
)

// Document is a source file registered against a project. The raw bytes live in
// object storage under FileID.
type Document struct {
	ID               string           `db:"id" json:"id"`
	ProjectID        string           `db:"project_id" json:"project_id"`
	FileID           string           `db:"file_id" json:"file_id"` // object storage key
	FileName         string           `db:"file_name" json:"file_name"`
	ContentType      string           `db:"content_type" json:"content_type"`
	ProcessingStatus ProcessingStatus `json:"processing_status"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at" json:"updated_at"`
}

// ProcessingStatus is written only by the ingestion pipeline.
type ProcessingStatus struct {
	Progress       int        `db:"progress" json:"progress"` // 0-100, never decreases
	IsProcessing   bool       `db:"is_processing" json:"is_processing"`
	IsProcessed    bool       `db:"is_processed" json:"is_processed"`
	ProcessedAt    *time.Time `db:"processed_at" json:"processed_at,omitempty"`
	State          string     `db:"state" json:"state"`
	ChunksExpected int        `db:"chunks_expected" json:"chunks_expected"`
	ChunksEmbedded int        `db:"chunks_embedded" json:"chunks_embedded"`
	LastError      string     `db:"last_error" json:"last_error,omitempty"`
}

// StatusUpdate is a partial update of ProcessingStatus. Nil fields are left untouched.
// Reset marks the start of a run: Progress is written as given instead of only
// moving forward, and ProcessedAt is cleared.
type StatusUpdate struct {
	Reset          bool
	Progress       *int
	IsProcessing   *bool
	IsProcessed    *bool
	ProcessedAt    *time.Time
	State          *string
	ChunksExpected *int
	ChunksEmbedded *int
	LastError      *string
}

// Chunk is one retrievable piece of a document.
type Chunk struct {
	UniqueChunkID string         `db:"unique_chunk_id" json:"unique_chunk_id"`
	ProjectID     string         `db:"project_id" json:"project_id"`
	DocumentID    string         `db:"document_id" json:"document_id"`
	ChunkNumber   int            `db:"chunk_number" json:"chunk_number"` // 1-based, ordering only
	PageContent   string         `db:"page_content" json:"page_content"`
	Metadata      *ChunkMetadata `db:"metadata" json:"metadata,omitempty"`
	Embedding     []float32      `db:"embedding" json:"-"` // nil until embedded
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
}

// ChunkMetadata is derived from the chunk text and its source page.
type ChunkMetadata struct {
	DocTitle   string   `json:"doc_title"`
	DocAuthor  string   `json:"doc_author"`
	PageNumber int      `json:"page_number"`
	Headings   []string `json:"headings"`
	Snippet    string   `json:"snippet,omitempty"`
	NumTokens  int      `json:"num_tokens"`
	Keywords   []string `json:"keywords"`
	Entities   []string `json:"entities"`
	Topics     []string `json:"topics"`
}
