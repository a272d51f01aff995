package store

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS catalog_entries (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		repo_url TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_catalog_entries_repo ON catalog_entries(repo_url);`,
	`CREATE TABLE IF NOT EXISTS catalog_enrichments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		entry_id TEXT NOT NULL,
		run_id TEXT NOT NULL,
		status TEXT NOT NULL,
		status_code INTEGER,
		message TEXT,
		payload TEXT NOT NULL,
		enriched_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_catalog_enrichments_entry ON catalog_enrichments(entry_id, enriched_at);`,
	`CREATE INDEX IF NOT EXISTS idx_catalog_enrichments_run ON catalog_enrichments(run_id);`,
}

// Migrate creates the catalog tables and indexes. It is safe to run on every
// start.
func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return ErrNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	for i, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("store migration step %d: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}
