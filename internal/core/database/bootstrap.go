package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"
)

//go:embed scripts/initdb.sql
var bootstrapFS embed.FS

const schemaVersion = 1

// EnsureBootstrapped creates the schema on first start and checks that the
// stored embedding dimension matches the configured one afterwards.
func EnsureBootstrapped(ctx context.Context, db *sql.DB, embedDim int) error {

	ctxBoot, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	var exists bool
	err := db.QueryRowContext(ctxBoot, `
		SELECT EXISTS (
		  SELECT 1 FROM information_schema.tables
		  WHERE table_name = 'docpipe_meta'
		)`).
		Scan(&exists)
	if err != nil {
		return fmt.Errorf("meta table check failed: %w", err)
	}

	if !exists {
		return runBootstrap(ctxBoot, db, embedDim)
	}

	var storedDim int
	err = db.QueryRowContext(ctxBoot, `SELECT embed_dim FROM docpipe_meta WHERE version = $1`, schemaVersion).Scan(&storedDim)
	if err == sql.ErrNoRows {
		return runBootstrap(ctxBoot, db, embedDim)
	}
	if err != nil {
		return fmt.Errorf("meta version check failed: %w", err)
	}
	if storedDim != embedDim {
		return fmt.Errorf("schema was created for %d-dimension embeddings, EMBED_DIM is %d", storedDim, embedDim)
	}

	log.Println("schema already bootstrapped")
	return nil
}

func runBootstrap(ctx context.Context, db *sql.DB, embedDim int) error {
	sqlBytes, err := bootstrapFS.ReadFile("scripts/initdb.sql")
	if err != nil {
		return fmt.Errorf("read initdb.sql: %w", err)
	}
	script := strings.ReplaceAll(string(sqlBytes), "__EMBED_DIM__", strconv.Itoa(embedDim))

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, script); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("exec bootstrap: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bootstrap: %w", err)
	}
	return nil
}
