package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/homedash/homedash/internal/core"
)

var (
	// ErrEntryNotFound is returned when a catalog entry does not exist.
	ErrEntryNotFound = errors.New("catalog entry not found")

	// ErrRepoConflict is returned when an update would give an entry a repo
	// that another entry already tracks.
	ErrRepoConflict = errors.New("repository already tracked by another catalog entry")
)

// UpsertEntry inserts or updates a catalog entry. Entries without an ID reuse
// the ID of an existing entry with the same repo, or get a fresh UUID.
func (s *Store) UpsertEntry(ctx context.Context, entry core.CatalogEntry) (*core.CatalogEntry, error) {
	if s == nil || s.DB == nil {
		return nil, ErrNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}

	entry.Name = strings.TrimSpace(entry.Name)
	entry.RepoURL = strings.TrimSpace(entry.RepoURL)
	if entry.RepoURL == "" {
		return nil, errors.New("repo url is required")
	}
	if entry.Name == "" {
		entry.Name = entry.RepoURL
	}

	entry.ID = strings.TrimSpace(entry.ID)
	existing, err := s.findEntryByRepo(ctx, entry.RepoURL)
	if err != nil {
		return nil, err
	}
	switch {
	case existing != nil && entry.ID == "":
		entry.ID = existing.ID
		entry.CreatedAt = existing.CreatedAt
	case existing != nil && existing.ID != entry.ID:
		return nil, fmt.Errorf("%w: %s belongs to entry %s", ErrRepoConflict, entry.RepoURL, existing.ID)
	case existing != nil && entry.CreatedAt.IsZero():
		entry.CreatedAt = existing.CreatedAt
	case entry.ID == "":
		entry.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO catalog_entries (id, name, repo_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			repo_url = excluded.repo_url,
			updated_at = excluded.updated_at
	`, entry.ID, entry.Name, entry.RepoURL, entry.CreatedAt.Unix(), now.Unix())
	if err != nil {
		return nil, fmt.Errorf("upsert catalog entry: %w", err)
	}

	entry.CreatedAt = time.Unix(entry.CreatedAt.Unix(), 0).UTC()
	return &entry, nil
}

// GetEntry returns a catalog entry by ID.
func (s *Store) GetEntry(ctx context.Context, id string) (*core.CatalogEntry, error) {
	if s == nil || s.DB == nil {
		return nil, ErrNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}

	row := s.DB.QueryRowContext(ctx, `
		SELECT id, name, repo_url, created_at
		FROM catalog_entries
		WHERE id = ?
	`, strings.TrimSpace(id))

	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch catalog entry: %w", err)
	}
	return entry, nil
}

// ListEntries returns all catalog entries ordered by name.
func (s *Store) ListEntries(ctx context.Context) ([]core.CatalogEntry, error) {
	if s == nil || s.DB == nil {
		return nil, ErrNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, name, repo_url, created_at
		FROM catalog_entries
		ORDER BY name COLLATE NOCASE, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list catalog entries: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	entries := make([]core.CatalogEntry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan catalog entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list catalog entries: %w", err)
	}

	return entries, nil
}

// DeleteEntry removes a catalog entry and its enrichment history.
func (s *Store) DeleteEntry(ctx context.Context, id string) error {
	if s == nil || s.DB == nil {
		return ErrNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}

	id = strings.TrimSpace(id)
	result, err := s.DB.ExecContext(ctx, `DELETE FROM catalog_entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete catalog entry: %w", err)
	}
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return ErrEntryNotFound
	}

	if _, err := s.DB.ExecContext(ctx, `DELETE FROM catalog_enrichments WHERE entry_id = ?`, id); err != nil {
		return fmt.Errorf("delete catalog enrichments: %w", err)
	}
	return nil
}

// SaveEnrichment appends an enrichment result to the entry's history.
func (s *Store) SaveEnrichment(ctx context.Context, enrichment *core.Enrichment) error {
	if s == nil || s.DB == nil {
		return ErrNotInitialized
	}
	if enrichment == nil {
		return errors.New("enrichment is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	payload, err := json.Marshal(enrichment)
	if err != nil {
		return fmt.Errorf("encode enrichment: %w", err)
	}

	enrichedAt := enrichment.EnrichedAt
	if enrichedAt.IsZero() {
		enrichedAt = time.Now().UTC()
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO catalog_enrichments (entry_id, run_id, status, status_code, message, payload, enriched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, enrichment.EntryID, enrichment.RunID, string(enrichment.Status), nullableInt(enrichment.StatusCode),
		nullableString(enrichment.Message), string(payload), enrichedAt.Unix())
	if err != nil {
		return fmt.Errorf("save enrichment: %w", err)
	}
	return nil
}

// ListEnrichments returns enrichment history, newest first. An empty entryID
// lists every entry; limit <= 0 means no limit.
func (s *Store) ListEnrichments(ctx context.Context, entryID string, limit int) ([]*core.Enrichment, error) {
	if s == nil || s.DB == nil {
		return nil, ErrNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}

	query := `SELECT payload FROM catalog_enrichments`
	args := []any{}
	if id := strings.TrimSpace(entryID); id != "" {
		query += ` WHERE entry_id = ?`
		args = append(args, id)
	}
	query += ` ORDER BY enriched_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	return s.queryEnrichments(ctx, query, args...)
}

// LatestEnrichments returns the most recent enrichment of every entry.
func (s *Store) LatestEnrichments(ctx context.Context) ([]*core.Enrichment, error) {
	if s == nil || s.DB == nil {
		return nil, ErrNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}

	return s.queryEnrichments(ctx, `
		SELECT e.payload
		FROM catalog_enrichments e
		WHERE e.id = (
			SELECT latest.id FROM catalog_enrichments latest
			WHERE latest.entry_id = e.entry_id
			ORDER BY latest.enriched_at DESC, latest.id DESC
			LIMIT 1
		)
		ORDER BY e.entry_id
	`)
}

func (s *Store) queryEnrichments(ctx context.Context, query string, args ...any) ([]*core.Enrichment, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list enrichments: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	results := make([]*core.Enrichment, 0)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan enrichment: %w", err)
		}
		var enrichment core.Enrichment
		if err := json.Unmarshal([]byte(payload), &enrichment); err != nil {
			return nil, fmt.Errorf("decode enrichment: %w", err)
		}
		results = append(results, &enrichment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list enrichments: %w", err)
	}
	return results, nil
}

func (s *Store) findEntryByRepo(ctx context.Context, repoURL string) (*core.CatalogEntry, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, name, repo_url, created_at
		FROM catalog_entries
		WHERE repo_url = ?
	`, repoURL)

	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup catalog entry: %w", err)
	}
	return entry, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*core.CatalogEntry, error) {
	var (
		entry     core.CatalogEntry
		createdAt int64
	)
	if err := row.Scan(&entry.ID, &entry.Name, &entry.RepoURL, &createdAt); err != nil {
		return nil, err
	}
	entry.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &entry, nil
}

func nullableInt(value int) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}
