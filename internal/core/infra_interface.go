package core

import (
	"context"

	"github.com/markdave123-py/docpipe/internal/models"
)

// ChunkStore abstracts the indexed chunk datastore so higher layers never depend on a specific DB.
type ChunkStore interface {
	// InsertChunks writes chunks without embeddings. Rows whose unique_chunk_id
	// already exists are left untouched.
	InsertChunks(ctx context.Context, projectID string, chunks []models.Chunk) error
	// UpdateChunkEmbedding returns ErrNotFound when no chunk has the id.
	UpdateChunkEmbedding(ctx context.Context, uniqueChunkID string, vec []float32) error
	// VectorSearch returns chunk ids ordered by ascending cosine distance.
	VectorSearch(ctx context.Context, projectID string, vec []float32, topK int) ([]string, error)
	// TextSearch returns chunks ordered by descending lexical relevance.
	TextSearch(ctx context.Context, projectID, query string, topK int) ([]models.Chunk, error)
	// GetChunks hydrates ids in the order given, skipping unknown ids.
	GetChunks(ctx context.Context, ids []string) ([]models.Chunk, error)
}

// DocumentStore holds document records and their processing status.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	// GetDocumentByID returns ErrNotFound when the document does not exist.
	GetDocumentByID(ctx context.Context, id string) (*models.Document, error)
	UpdateDocumentStatus(ctx context.Context, id string, upd models.StatusUpdate) error
}

// Store is the full persistence surface.
type Store interface {
	ChunkStore
	DocumentStore
	Close() error
}

// ObjectClient reads raw document bytes from S3 or any object storage.
type ObjectClient interface {
	// GetDocumentBytes returns ErrNotFound when the key does not exist.
	GetDocumentBytes(ctx context.Context, fileID string) ([]byte, error)
}
