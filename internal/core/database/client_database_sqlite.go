package db

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/markdave123-py/docpipe/internal/core"
	"github.com/markdave123-py/docpipe/internal/models"
)

//go:embed scripts/sqlite.sql
var sqliteSchema string

var ftsTermRe = regexp.MustCompile(`[\p{L}\p{N}]+`)

// SQLiteStore is a single-file store for local runs and tests. Text search uses
// FTS5 with bm25 ranking; vector search scans the project's embeddings.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, project_id, file_id, file_name, content_type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, doc.ID, doc.ProjectID, doc.FileID, doc.FileName, doc.ContentType, now, now)
	if err != nil {
		return fmt.Errorf("saving document: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	var (
		d                    models.Document
		processedAt          sql.NullTime
		createdAt, updatedAt sql.NullTime
	)
	st := &d.ProcessingStatus
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, file_id, file_name, content_type,
		       progress, is_processing, is_processed, processed_at, state,
		       chunks_expected, chunks_embedded, last_error, created_at, updated_at
		FROM documents WHERE id = ?
	`, id).Scan(
		&d.ID, &d.ProjectID, &d.FileID, &d.FileName, &d.ContentType,
		&st.Progress, &st.IsProcessing, &st.IsProcessed, &processedAt, &st.State,
		&st.ChunksExpected, &st.ChunksEmbedded, &st.LastError, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning document: %w", err)
	}
	if processedAt.Valid {
		st.ProcessedAt = &processedAt.Time
	}
	d.CreatedAt = createdAt.Time
	d.UpdatedAt = updatedAt.Time
	return &d, nil
}

func (s *SQLiteStore) UpdateDocumentStatus(ctx context.Context, id string, upd models.StatusUpdate) error {
	sets, args := statusSet(upd, func(int) string { return "?" }, "MAX")
	if len(sets) == 0 {
		return nil
	}
	q := fmt.Sprintf(`UPDATE documents SET %s, updated_at = ? WHERE id = ?`, strings.Join(sets, ", "))
	args = append(args, time.Now().UTC(), id)

	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("updating document status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) InsertChunks(ctx context.Context, projectID string, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := checkProject(projectID, chunks); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO chunks
			(unique_chunk_id, project_id, document_id, chunk_number, page_content, metadata, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i := range chunks {
		ch := &chunks[i]
		md, err := encodeMetadata(ch.Metadata)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		var mdArg any
		if md != nil {
			mdArg = string(md)
		}
		var vec any
		if len(ch.Embedding) > 0 {
			vec = serializeEmbedding(ch.Embedding)
		}
		if _, err := stmt.ExecContext(ctx,
			ch.UniqueChunkID, projectID, ch.DocumentID, ch.ChunkNumber, ch.PageContent, mdArg, vec, now,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert chunk %s: %w", ch.UniqueChunkID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) UpdateChunkEmbedding(ctx context.Context, uniqueChunkID string, vec []float32) error {
	res, err := s.db.ExecContext(ctx, `UPDATE chunks SET embedding = ? WHERE unique_chunk_id = ?`,
		serializeEmbedding(vec), uniqueChunkID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("chunk %s: %w", uniqueChunkID, core.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) VectorSearch(ctx context.Context, projectID string, vec []float32, topK int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT unique_chunk_id, embedding FROM chunks
		WHERE project_id = ? AND embedding IS NOT NULL
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type scored struct {
		id   string
		dist float64
	}
	var hits []scored
	for rows.Next() {
		var (
			id   string
			blob []byte
		)
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		emb := deserializeEmbedding(blob)
		if len(emb) != len(vec) {
			continue
		}
		hits = append(hits, scored{id: id, dist: cosineDistance(vec, emb)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].dist != hits[j].dist {
			return hits[i].dist < hits[j].dist
		}
		return hits[i].id < hits[j].id
	})
	if topK >= 0 && len(hits) > topK {
		hits = hits[:topK]
	}

	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.id
	}
	return out, nil
}

func (s *SQLiteStore) TextSearch(ctx context.Context, projectID, query string, topK int) ([]models.Chunk, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.unique_chunk_id, c.project_id, c.document_id, c.chunk_number, c.page_content, c.metadata, c.created_at
		FROM chunks_fts
		JOIN chunks c ON c.rowid = chunks_fts.rowid
		WHERE chunks_fts MATCH ? AND c.project_id = ?
		ORDER BY bm25(chunks_fts) ASC, c.chunk_number ASC
		LIMIT ?
	`, match, projectID, topK)
	if err != nil {
		return nil, fmt.Errorf("text search: %w", err)
	}
	return scanSQLiteChunks(rows)
}

func (s *SQLiteStore) GetChunks(ctx context.Context, ids []string) ([]models.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	q := `
		SELECT unique_chunk_id, project_id, document_id, chunk_number, page_content, metadata, created_at
		FROM chunks WHERE unique_chunk_id IN (?` + strings.Repeat(", ?", len(ids)-1) + `)`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	chunks, err := scanSQLiteChunks(rows)
	if err != nil {
		return nil, err
	}
	return orderByIDs(ids, chunks), nil
}

func scanSQLiteChunks(rows *sql.Rows) ([]models.Chunk, error) {
	defer rows.Close()

	var out []models.Chunk
	for rows.Next() {
		var (
			ch        models.Chunk
			md        sql.NullString
			createdAt sql.NullTime
		)
		if err := rows.Scan(&ch.UniqueChunkID, &ch.ProjectID, &ch.DocumentID, &ch.ChunkNumber, &ch.PageContent, &md, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		meta, err := decodeMetadata([]byte(md.String))
		if err != nil {
			return nil, err
		}
		ch.Metadata = meta
		ch.CreatedAt = createdAt.Time
		out = append(out, ch)
	}
	return out, rows.Err()
}

// ftsQuery turns free text into an FTS5 query that matches any term.
func ftsQuery(q string) string {
	terms := ftsTermRe.FindAllString(strings.ToLower(q), -1)
	for i, t := range terms {
		terms[i] = `"` + t + `"`
	}
	return strings.Join(terms, " OR ")
}

func serializeEmbedding(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func deserializeEmbedding(data []byte) []float32 {
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}

func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

var _ core.Store = (*SQLiteStore)(nil)
