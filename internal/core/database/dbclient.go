package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/markdave123-py/docpipe/internal/config"
	"github.com/markdave123-py/docpipe/internal/core"
	"github.com/markdave123-py/docpipe/internal/models"
)

// Open returns the store selected by STORE_DRIVER.
func Open(ctx context.Context, cfg *config.Config) (core.Store, error) {
	switch cfg.StoreDriver {
	case "", "postgres":
		return NewDatabaseClient(ctx, cfg)
	case "sqlite":
		return NewSQLiteStore(ctx, cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}

func encodeMetadata(md *models.ChunkMetadata) ([]byte, error) {
	if md == nil {
		return nil, nil
	}
	return json.Marshal(md)
}

func decodeMetadata(raw []byte) (*models.ChunkMetadata, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var md models.ChunkMetadata
	if err := json.Unmarshal(raw, &md); err != nil {
		return nil, fmt.Errorf("decode chunk metadata: %w", err)
	}
	return &md, nil
}

// orderByIDs returns chunks in the order of ids, dropping ids with no chunk.
func orderByIDs(ids []string, chunks []models.Chunk) []models.Chunk {
	byID := make(map[string]models.Chunk, len(chunks))
	for _, ch := range chunks {
		byID[ch.UniqueChunkID] = ch
	}
	out := make([]models.Chunk, 0, len(ids))
	for _, id := range ids {
		if ch, ok := byID[id]; ok {
			out = append(out, ch)
		}
	}
	return out
}

func checkProject(projectID string, chunks []models.Chunk) error {
	for i := range chunks {
		if chunks[i].ProjectID != "" && chunks[i].ProjectID != projectID {
			return fmt.Errorf("chunk %s belongs to project %s, not %s", chunks[i].UniqueChunkID, chunks[i].ProjectID, projectID)
		}
	}
	return nil
}

// statusSet builds the SET list for a partial status update. ph renders the
// n-th placeholder and greatest names the two-argument max function, so
// progress only moves backwards on a Reset.
func statusSet(upd models.StatusUpdate, ph func(n int) string, greatest string) ([]string, []any) {
	var (
		sets []string
		args []any
	)
	add := func(expr string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf(expr, ph(len(args))))
	}

	if upd.Progress != nil {
		expr := greatest + "(progress, %s)"
		if upd.Reset {
			expr = "%s"
		}
		add("progress = "+expr, min(max(*upd.Progress, 0), 100))
	}
	if upd.Reset && upd.ProcessedAt == nil {
		sets = append(sets, "processed_at = NULL")
	}
	if upd.IsProcessing != nil {
		add("is_processing = %s", *upd.IsProcessing)
	}
	if upd.IsProcessed != nil {
		add("is_processed = %s", *upd.IsProcessed)
	}
	if upd.ProcessedAt != nil {
		add("processed_at = %s", upd.ProcessedAt.UTC())
	}
	if upd.State != nil {
		add("state = %s", *upd.State)
	}
	if upd.ChunksExpected != nil {
		add("chunks_expected = %s", *upd.ChunksExpected)
	}
	if upd.ChunksEmbedded != nil {
		add("chunks_embedded = %s", *upd.ChunksEmbedded)
	}
	if upd.LastError != nil {
		add("last_error = %s", *upd.LastError)
	}
	return sets, args
}
