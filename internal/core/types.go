package core

import "time"

// EnrichmentStatus describes how an enrichment attempt resolved.
type EnrichmentStatus string

const (
	EnrichmentOK       EnrichmentStatus = "ok"
	EnrichmentNotFound EnrichmentStatus = "not_found"
	EnrichmentInvalid  EnrichmentStatus = "invalid"
	EnrichmentError    EnrichmentStatus = "error"
)

// CatalogEntry is a dashboard integration backed by a GitHub repository.
type CatalogEntry struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	RepoURL   string    `json:"repo_url" yaml:"repo"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
}

// Enrichment captures repository metadata fetched for a catalog entry.
type Enrichment struct {
	EntryID       string           `json:"entry_id"`
	Name          string           `json:"name"`
	Owner         string           `json:"owner,omitempty"`
	Repo          string           `json:"repo,omitempty"`
	Status        EnrichmentStatus `json:"status"`
	StatusCode    int              `json:"status_code,omitempty"`
	Message       string           `json:"message,omitempty"`
	Description   string           `json:"description,omitempty"`
	HTMLURL       string           `json:"html_url,omitempty"`
	Stars         int              `json:"stars"`
	Forks         int              `json:"forks"`
	OpenIssues    int              `json:"open_issues"`
	Topics        []string         `json:"topics,omitempty"`
	Archived      bool             `json:"archived"`
	LatestRelease string           `json:"latest_release,omitempty"`
	PushedAt      *time.Time       `json:"pushed_at,omitempty"`
	EnrichedAt    time.Time        `json:"enriched_at"`
	RunID         string           `json:"run_id"`
}
