package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/docpipe")

	cfg := LoadConfig()

	assert.Equal(t, "postgres", cfg.StoreDriver)
	assert.Equal(t, 250, cfg.IngestBatchSize)
	assert.Equal(t, 100, cfg.EmbedBatchSize)
	assert.Equal(t, 5, cfg.RetryCount)
	assert.Equal(t, time.Second, cfg.RetryInitialDelay)
	assert.Equal(t, "8080", cfg.Port)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", "/tmp/x.db")
	t.Setenv("INGEST_CONCURRENCY", "4")
	t.Setenv("EMBED_RPS", "2.5")
	t.Setenv("RETRY_INITIAL_DELAY", "250ms")
	t.Setenv("EMBED_DIM", "not-a-number")

	cfg := LoadConfig()

	assert.Equal(t, "sqlite", cfg.StoreDriver)
	assert.Equal(t, 4, cfg.IngestConcurrency)
	assert.Equal(t, 2.5, cfg.EmbedRPS)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryInitialDelay)
	assert.Equal(t, 768, cfg.EmbedDim)
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		StoreDriver:       "mongo",
		AIProvider:        "gemini",
		EmbedDim:          768,
		IngestConcurrency: 9,
		IngestBatchSize:   250,
	}

	err := cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORE_DRIVER")
	assert.Contains(t, err.Error(), "INGEST_CONCURRENCY")
	assert.Contains(t, err.Error(), "EMBED_BATCH_SIZE")

	cfg.StoreDriver = "sqlite"
	cfg.SQLitePath = "x.db"
	cfg.IngestConcurrency = 2
	cfg.EmbedBatchSize = 100
	assert.NoError(t, cfg.Validate())
}
