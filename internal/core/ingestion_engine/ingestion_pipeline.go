package ingestion_engine

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/docpipe/internal/core"
	"github.com/markdave123-py/docpipe/internal/core/retry"
	"github.com/markdave123-py/docpipe/internal/models"
)

const (
	defaultTitle  = "Untitled"
	defaultAuthor = "Unknown"
)

var chunkNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("docpipe/chunks"))

// ChunkID derives a stable id for a chunk so re-ingesting a document hits the
// same rows instead of adding new ones.
func ChunkID(documentID string, chunkNumber int, content string) string {
	sum := sha256.Sum256([]byte(content))
	return uuid.NewSHA1(chunkNamespace, fmt.Appendf(nil, "%s|%d|%x", documentID, chunkNumber, sum)).String()
}

// NewDocumentIngestor constructs the ingestor with a bounded job queue (64).
func NewDocumentIngestor(
	docs core.DocumentStore,
	chunks core.ChunkStore,
	obj core.ObjectClient,
	emb Embedder,
	extractor core.DocumentExtractor,
	enricher *Enricher,
	cfg *IngestConfig,
) *DocumentIngestor {
	if cfg == nil {
		cfg = DefaultIngestConfig()
	}
	c := *cfg
	if c.BatchSize <= 0 {
		c.BatchSize = 250
	}
	if c.EmbedBatchSize <= 0 {
		c.EmbedBatchSize = 100
	}
	c.Concurrency = min(max(c.Concurrency, 1), 5)
	if enricher == nil {
		enricher = NewEnricher()
	}
	return &DocumentIngestor{
		docs: docs, chunks: chunks, obj: obj, embedder: emb,
		extractor: extractor, enricher: enricher, cfg: &c,
		jobs: make(chan string, 64),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Start runs numWorkers goroutines reading from the jobs channel until ctx is done.
func (i *DocumentIngestor) Start(ctx context.Context, numWorkers int) {
	for w := 1; w <= numWorkers; w++ {
		i.workers.Add(1)
		go func(w int) {
			defer i.workers.Done()
			for {
				select {
				case <-ctx.Done():
					log.Printf("DocumentIngestor: worker %d shutting down.", w)
					return
				case docID := <-i.jobs:
					log.Printf("DocumentIngestor: processing document %s on worker %d", docID, w)
					i.runJob(ctx, docID)
				}
			}
		}(w)
	}
}

func (i *DocumentIngestor) runJob(ctx context.Context, docID string) {
	if i.cfg.ProcessTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.cfg.ProcessTimeout)
		defer cancel()
	}

	report, err := i.ProcessOne(ctx, docID)
	if err != nil {
		log.Printf("DocumentIngestor: error processing document %s: %v", docID, err)
		return
	}
	if report.Degraded() {
		log.Printf("DocumentIngestor: document %s ingested with gaps: %d/%d chunks embedded",
			docID, report.ChunksEmbedded, report.ChunksExpected)
		return
	}
	log.Printf("DocumentIngestor: document %s ingested (%d chunks)", docID, report.ChunksEmbedded)
}

// Enqueue schedules a document ID for ingestion. If the queue is full it
// blocks until space frees up or ctx is done.
func (i *DocumentIngestor) Enqueue(ctx context.Context, docID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case i.jobs <- docID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every worker started by Start has returned.
func (i *DocumentIngestor) Wait() {
	i.workers.Wait()
}

// ProcessOne runs the whole pipeline for one document: fetch, segment and
// enrich, persist chunks, embed, persist embeddings, mark complete.
//
// Fetch, extraction and empty segmentation abort the document. Batch failures
// after that are counted in the report and the document still completes.
func (i *DocumentIngestor) ProcessOne(ctx context.Context, docID string) (*IngestReport, error) {
	doc, err := i.docs.GetDocumentByID(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", docID, err)
	}

	report := &IngestReport{DocumentID: docID}
	st := &statusWriter{store: i.docs, docID: docID}

	st.advance(ctx, StateFetching, 0, models.StatusUpdate{
		Reset:        true,
		IsProcessing: ptr(true),
		IsProcessed:  ptr(false),
		LastError:    ptr(""),
	})
	data, err := retry.Value(ctx, i.cfg.FetchRetry, "fetch document", func(ctx context.Context) ([]byte, error) {
		return i.obj.GetDocumentBytes(ctx, doc.FileID)
	})
	if err != nil {
		return report, st.fail(ctx, fmt.Errorf("%w: %s: %w", core.ErrFetch, doc.FileID, err))
	}

	st.advance(ctx, StateSegmenting, 10, models.StatusUpdate{})
	extracted, err := i.extractor.Extract(ctx, data, ResolveContentType(doc.ContentType, doc.FileName))
	if err != nil {
		if !errors.Is(err, core.ErrExtraction) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %w", core.ErrExtraction, err)
		}
		return report, st.fail(ctx, err)
	}

	chunks := i.buildChunks(doc, extracted)
	if len(chunks) == 0 {
		return report, st.fail(ctx, fmt.Errorf("%w: %s", core.ErrNoChunks, docID))
	}
	report.ChunksExpected = len(chunks)
	st.advance(ctx, StateSegmenting, 30, models.StatusUpdate{ChunksExpected: ptr(len(chunks))})

	st.advance(ctx, StatePersistingChunks, 50, models.StatusUpdate{})
	inserted := i.insertBatches(ctx, doc.ProjectID, chunks, report)
	if err := ctx.Err(); err != nil {
		return report, st.fail(ctx, err)
	}

	st.advance(ctx, StateEmbedding, 70, models.StatusUpdate{})
	embedded := i.embedBatches(ctx, inserted, report)
	if err := ctx.Err(); err != nil {
		return report, st.fail(ctx, err)
	}

	st.advance(ctx, StatePersistingEmbeddings, 90, models.StatusUpdate{})
	i.persistEmbeddings(ctx, embedded, report)
	if err := ctx.Err(); err != nil {
		return report, st.fail(ctx, err)
	}

	now := i.now()
	st.advance(ctx, StateComplete, 100, models.StatusUpdate{
		IsProcessing:   ptr(false),
		IsProcessed:    ptr(true),
		ProcessedAt:    &now,
		ChunksEmbedded: ptr(report.ChunksEmbedded),
	})

	slog.Info("document ingested",
		"document_id", docID,
		"expected", report.ChunksExpected,
		"inserted", report.ChunksInserted,
		"embedded", report.ChunksEmbedded,
		"failed_batches", report.FailedBatches,
		"failed_chunks", report.FailedChunks,
	)
	return report, nil
}

// buildChunks segments every page and numbers the chunks 1..n across the
// whole document. Chunk sizing is picked from the total character count.
func (i *DocumentIngestor) buildChunks(doc *models.Document, extracted *core.ExtractedDocument) []models.Chunk {
	total := 0
	for _, p := range extracted.Pages {
		total += utf8.RuneCountInString(p.Text)
	}
	params := AdaptiveChunkParams(total)

	title, author := extracted.Title, extracted.Author
	if title == "" {
		title = defaultTitle
	}
	if author == "" {
		author = defaultAuthor
	}

	created := i.now()
	var out []models.Chunk
	for _, page := range extracted.Pages {
		for _, seg := range SegmentSections(page.Text, params.ChunkSize, params.ChunkOverlap) {
			n := len(out) + 1
			meta := i.enricher.Enrich(seg.Text)
			meta.DocTitle = title
			meta.DocAuthor = author
			meta.PageNumber = page.Number
			meta.Snippet = seg.Snippet

			out = append(out, models.Chunk{
				UniqueChunkID: ChunkID(doc.ID, n, seg.Text),
				ProjectID:     doc.ProjectID,
				DocumentID:    doc.ID,
				ChunkNumber:   n,
				PageContent:   seg.Text,
				Metadata:      &meta,
				CreatedAt:     created,
			})
		}
	}
	return out
}

// insertBatches writes chunks in bounded parallel batches and returns the
// chunks that made it, in document order.
func (i *DocumentIngestor) insertBatches(ctx context.Context, projectID string, chunks []models.Chunk, report *IngestReport) []models.Chunk {
	batches := batchesOf(chunks, i.cfg.BatchSize)
	ok := make([]bool, len(batches))

	var g errgroup.Group
	g.SetLimit(i.cfg.Concurrency)
	for b, batch := range batches {
		g.Go(func() error {
			err := retry.Do(ctx, i.cfg.Retry, "insert chunks", func(ctx context.Context) error {
				return i.chunks.InsertChunks(ctx, projectID, batch)
			})
			if err != nil {
				logBatchFailure(report.DocumentID, "insert", b, err)
				return nil
			}
			ok[b] = true
			return nil
		})
	}
	_ = g.Wait()

	var inserted []models.Chunk
	for b, batch := range batches {
		if ok[b] {
			inserted = append(inserted, batch...)
		} else {
			report.FailedBatches++
		}
	}
	report.ChunksInserted = len(inserted)
	return inserted
}

type embeddedChunk struct {
	id  string
	vec []float32
}

// embedBatches embeds the inserted chunks batch by batch. Each batch is cut
// into provider-sized calls by the embedding client, which also retries
// transient provider failures itself.
func (i *DocumentIngestor) embedBatches(ctx context.Context, chunks []models.Chunk, report *IngestReport) [][]embeddedChunk {
	batches := batchesOf(chunks, i.cfg.BatchSize)
	out := make([][]embeddedChunk, len(batches))

	var g errgroup.Group
	g.SetLimit(i.cfg.Concurrency)
	for b, batch := range batches {
		g.Go(func() error {
			texts := make([]string, len(batch))
			for k, c := range batch {
				texts[k] = c.PageContent
			}
			vecs, err := i.embedder.EmbedBatches(ctx, texts, i.cfg.EmbedBatchSize)
			if err == nil && len(vecs) != len(batch) {
				err = fmt.Errorf("%w: got %d vectors for %d texts", core.ErrProvider, len(vecs), len(batch))
			}
			if err != nil {
				logBatchFailure(report.DocumentID, "embed", b, err)
				return nil
			}
			res := make([]embeddedChunk, len(batch))
			for k, c := range batch {
				res[k] = embeddedChunk{id: c.UniqueChunkID, vec: vecs[k]}
			}
			out[b] = res
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range out {
		if res == nil {
			report.FailedBatches++
		}
	}
	return out
}

// persistEmbeddings writes vectors chunk by chunk. A missing chunk only costs
// that chunk; any other exhausted update abandons the rest of its batch.
func (i *DocumentIngestor) persistEmbeddings(ctx context.Context, batches [][]embeddedChunk, report *IngestReport) {
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(i.cfg.Concurrency)

	for b, batch := range batches {
		if batch == nil {
			continue
		}
		g.Go(func() error {
			var done, missing int
			var failed error
			for _, ec := range batch {
				err := retry.Do(ctx, i.cfg.Retry, "update embedding", func(ctx context.Context) error {
					return i.chunks.UpdateChunkEmbedding(ctx, ec.id, ec.vec)
				})
				if errors.Is(err, core.ErrNotFound) {
					slog.Warn("chunk vanished before its embedding was stored", "document_id", report.DocumentID, "chunk_id", ec.id)
					missing++
					continue
				}
				if err != nil {
					failed = err
					break
				}
				done++
			}

			mu.Lock()
			defer mu.Unlock()
			report.ChunksEmbedded += done
			report.FailedChunks += missing
			if failed != nil {
				report.FailedBatches++
				logBatchFailure(report.DocumentID, "update embeddings", b, failed)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func logBatchFailure(docID, step string, batch int, err error) {
	slog.Error("batch failed",
		"document_id", docID,
		"step", step,
		"batch", batch,
		"error", fmt.Errorf("%w: %w", core.ErrBatchFailed, err),
	)
}

func batchesOf[T any](items []T, size int) [][]T {
	var out [][]T
	for start := 0; start < len(items); start += size {
		out = append(out, items[start:min(start+size, len(items))])
	}
	return out
}

// statusWriter pushes status transitions to the document store and keeps
// progress from ever moving backwards within a run.
type statusWriter struct {
	store    core.DocumentStore
	docID    string
	progress int
}

func (s *statusWriter) advance(ctx context.Context, state string, progress int, upd models.StatusUpdate) {
	s.progress = max(s.progress, progress)
	upd.State = &state
	upd.Progress = ptr(s.progress)
	if err := s.store.UpdateDocumentStatus(ctx, s.docID, upd); err != nil {
		slog.Warn("failed to update document status", "document_id", s.docID, "state", state, "error", err)
	}
}

// fail records the terminal state even when ctx is already cancelled, then
// returns cause.
func (s *statusWriter) fail(ctx context.Context, cause error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	upd := models.StatusUpdate{
		State:        ptr(StateFailed),
		IsProcessing: ptr(false),
		LastError:    ptr(cause.Error()),
	}
	if err := s.store.UpdateDocumentStatus(ctx, s.docID, upd); err != nil {
		slog.Warn("failed to mark document failed", "document_id", s.docID, "error", err)
	}
	return cause
}

func ptr[T any](v T) *T { return &v }
