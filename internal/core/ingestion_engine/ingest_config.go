package ingestion_engine

import (
	"context"
	"sync"
	"time"

	"github.com/markdave123-py/docpipe/internal/core"
	"github.com/markdave123-py/docpipe/internal/core/retry"
)

// IngestConfig tunes the pipeline.
//
// BatchSize:      chunks per insert / embed / update batch (e.g., 250).
// EmbedBatchSize: texts per provider call inside one embed batch (Gemini caps at 100).
// Concurrency:    batches in flight at once (1-5).
// Retry:          backoff for batch inserts and embedding updates.
// FetchRetry:     backoff for the object store fetch.
// ProcessTimeout: upper bound for one document when run from the job queue.
type IngestConfig struct {
	BatchSize      int
	EmbedBatchSize int
	Concurrency    int
	Retry          retry.Policy
	FetchRetry     retry.Policy
	ProcessTimeout time.Duration
}

func DefaultIngestConfig() *IngestConfig {
	return &IngestConfig{
		BatchSize:      250,
		EmbedBatchSize: 100,
		Concurrency:    2,
		Retry:          retry.DefaultPolicy(),
		FetchRetry:     retry.DefaultPolicy(),
		ProcessTimeout: 15 * time.Minute,
	}
}

// Embedder is what the pipeline needs from the embedding client. EmbedBatches
// splits texts into provider calls of at most batchSize and keeps input order.
type Embedder interface {
	EmbedBatches(ctx context.Context, texts []string, batchSize int) ([][]float32, error)
}

// Pipeline states, in order. StateFailed is terminal and reachable from any step.
const (
	StateFetching             = "fetching"
	StateSegmenting           = "segmenting"
	StatePersistingChunks     = "persisting_chunks"
	StateEmbedding            = "embedding"
	StatePersistingEmbeddings = "persisting_embeddings"
	StateComplete             = "complete"
	StateFailed               = "failed"
)

// IngestReport summarizes one run. A run is degraded when fewer chunks were
// embedded than expected.
type IngestReport struct {
	DocumentID     string
	ChunksExpected int
	ChunksInserted int
	ChunksEmbedded int
	FailedBatches  int
	FailedChunks   int
}

func (r *IngestReport) Degraded() bool {
	return r.ChunksEmbedded < r.ChunksExpected
}

// DocumentIngestor orchestrates the background ingestion pipeline:
//
// docs:      document records and processing status.
// chunks:    chunk persistence.
// obj:       object storage holding the raw files.
// embedder:  embedding client (retries and rate limits live there).
// extractor: bytes -> per-page text.
// enricher:  per-chunk metadata.
// jobs:      in-memory queue of document IDs to process.
type DocumentIngestor struct {
	docs      core.DocumentStore
	chunks    core.ChunkStore
	obj       core.ObjectClient
	embedder  Embedder
	extractor core.DocumentExtractor
	enricher  *Enricher
	cfg       *IngestConfig
	jobs      chan string
	workers   sync.WaitGroup
	now       func() time.Time
}
