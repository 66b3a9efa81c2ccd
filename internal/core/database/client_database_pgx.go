package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/markdave123-py/docpipe/internal/config"
	"github.com/markdave123-py/docpipe/internal/core"
	"github.com/markdave123-py/docpipe/internal/models"
)

// DatabaseClient is the Postgres + pgvector store.
type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (*DatabaseClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	dsn := cfg.DatabaseURL
	if cfg.SslCertPath != "" {
		if _, err := os.Stat(cfg.SslCertPath); err != nil {
			return nil, fmt.Errorf("ssl cert not accessible at %q: %w", cfg.SslCertPath, err)
		}
		// Append SSL params to the provided DATABASE_URL safely.
		u, err := url.Parse(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
		}
		q := u.Query()
		q.Set("sslmode", "verify-ca")
		q.Set("sslrootcert", cfg.SslCertPath)
		u.RawQuery = q.Encode()
		dsn = u.String()
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db, cfg.EmbedDim); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Implementing the store interface for Document

func (c *DatabaseClient) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	const q = `
		INSERT INTO documents
			(id, project_id, file_id, file_name, content_type, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, now(), now())
	`
	_, err := c.db.ExecContext(ctx, q, doc.ID, doc.ProjectID, doc.FileID, doc.FileName, doc.ContentType)
	return err
}

func (c *DatabaseClient) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	const q = `
		SELECT id, project_id, file_id, file_name, content_type,
		       progress, is_processing, is_processed, processed_at, state,
		       chunks_expected, chunks_embedded, last_error, created_at, updated_at
		FROM documents
		WHERE id = $1
	`
	var (
		d           models.Document
		processedAt sql.NullTime
	)
	st := &d.ProcessingStatus
	err := c.db.QueryRowContext(ctx, q, id).Scan(
		&d.ID, &d.ProjectID, &d.FileID, &d.FileName, &d.ContentType,
		&st.Progress, &st.IsProcessing, &st.IsProcessed, &processedAt, &st.State,
		&st.ChunksExpected, &st.ChunksEmbedded, &st.LastError, &d.CreatedAt, &d.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if processedAt.Valid {
		st.ProcessedAt = &processedAt.Time
	}
	return &d, nil
}

// UpdateDocumentStatus applies the non-nil fields of upd. Progress only moves forward.
func (c *DatabaseClient) UpdateDocumentStatus(ctx context.Context, id string, upd models.StatusUpdate) error {
	sets, args := statusSet(upd, func(n int) string { return fmt.Sprintf("$%d", n+1) }, "GREATEST")
	if len(sets) == 0 {
		return nil
	}
	q := fmt.Sprintf(`UPDATE documents SET %s, updated_at = now() WHERE id = $1`, strings.Join(sets, ", "))

	res, err := c.db.ExecContext(ctx, q, append([]any{id}, args...)...)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	return nil
}

// Implementing the store interface for Chunks

// InsertChunks inserts chunks in a single transaction. Existing ids are skipped,
// so a retried batch never duplicates rows.
func (c *DatabaseClient) InsertChunks(ctx context.Context, projectID string, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := checkProject(projectID, chunks); err != nil {
		return err
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO chunks
			(unique_chunk_id, project_id, document_id, chunk_number, page_content, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (unique_chunk_id) DO NOTHING
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range chunks {
		ch := &chunks[i]
		md, err := encodeMetadata(ch.Metadata)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		var vec any
		if len(ch.Embedding) > 0 {
			vec = pgvector.NewVector(ch.Embedding)
		}
		var mdArg any
		if md != nil {
			mdArg = string(md)
		}

		if _, err := stmt.ExecContext(ctx,
			ch.UniqueChunkID, projectID, ch.DocumentID, ch.ChunkNumber, ch.PageContent, mdArg, vec,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert chunk %s: %w", ch.UniqueChunkID, err)
		}
	}
	return tx.Commit()
}

func (c *DatabaseClient) UpdateChunkEmbedding(ctx context.Context, uniqueChunkID string, vec []float32) error {
	const q = `UPDATE chunks SET embedding = $2 WHERE unique_chunk_id = $1`
	res, err := c.db.ExecContext(ctx, q, uniqueChunkID, pgvector.NewVector(vec))
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("chunk %s: %w", uniqueChunkID, core.ErrNotFound)
	}
	return nil
}

// VectorSearch finds the top-k chunks of a project nearest to vec by cosine distance.
func (c *DatabaseClient) VectorSearch(ctx context.Context, projectID string, vec []float32, topK int) ([]string, error) {
	const q = `
		SELECT unique_chunk_id
		FROM chunks
		WHERE project_id = $1 AND embedding IS NOT NULL
		ORDER BY embedding <=> $2
		LIMIT $3
	`
	rows, err := c.db.QueryContext(ctx, q, projectID, pgvector.NewVector(vec), topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// TextSearch ranks chunks matching any query term by ts_rank.
func (c *DatabaseClient) TextSearch(ctx context.Context, projectID, query string, topK int) ([]models.Chunk, error) {
	const q = `
		WITH q AS (
			SELECT NULLIF(replace(plainto_tsquery('english', $2)::text, '&', '|'), '')::tsquery AS query
		)
		SELECT c.unique_chunk_id, c.project_id, c.document_id, c.chunk_number, c.page_content, c.metadata, c.created_at
		FROM chunks c, q
		WHERE c.project_id = $1 AND q.query IS NOT NULL AND c.content_tsv @@ q.query
		ORDER BY ts_rank(c.content_tsv, q.query) DESC, c.chunk_number ASC
		LIMIT $3
	`
	rows, err := c.db.QueryContext(ctx, q, projectID, query, topK)
	if err != nil {
		return nil, err
	}
	return scanChunks(rows)
}

// GetChunks hydrates chunk ids, keeping the order of ids.
func (c *DatabaseClient) GetChunks(ctx context.Context, ids []string) ([]models.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	const q = `
		SELECT unique_chunk_id, project_id, document_id, chunk_number, page_content, metadata, created_at
		FROM chunks
		WHERE unique_chunk_id = ANY($1)
	`
	rows, err := c.db.QueryContext(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	chunks, err := scanChunks(rows)
	if err != nil {
		return nil, err
	}
	return orderByIDs(ids, chunks), nil
}

func scanChunks(rows *sql.Rows) ([]models.Chunk, error) {
	defer rows.Close()

	var out []models.Chunk
	for rows.Next() {
		var (
			ch models.Chunk
			md []byte
		)
		if err := rows.Scan(&ch.UniqueChunkID, &ch.ProjectID, &ch.DocumentID, &ch.ChunkNumber, &ch.PageContent, &md, &ch.CreatedAt); err != nil {
			return nil, err
		}
		meta, err := decodeMetadata(md)
		if err != nil {
			return nil, err
		}
		ch.Metadata = meta
		out = append(out, ch)
	}
	return out, rows.Err()
}

var _ core.Store = (*DatabaseClient)(nil)
