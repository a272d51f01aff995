package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/homedash/homedash/internal/core"
	"github.com/homedash/homedash/internal/core/github"
	apperrors "github.com/homedash/homedash/internal/errors"
	"github.com/homedash/homedash/internal/observability"
)

const maxCatalogBody = 64 << 10

// CatalogStore is the persistence the catalog API needs.
type CatalogStore interface {
	ListEntries(ctx context.Context) ([]core.CatalogEntry, error)
	UpsertEntry(ctx context.Context, entry core.CatalogEntry) (*core.CatalogEntry, error)
	DeleteEntry(ctx context.Context, id string) error
	SaveEnrichment(ctx context.Context, enrichment *core.Enrichment) error
	LatestEnrichments(ctx context.Context) ([]*core.Enrichment, error)
}

// CatalogEnricher fetches GitHub metadata for catalog entries.
type CatalogEnricher interface {
	Enrich(ctx context.Context, entries []core.CatalogEntry) ([]*core.Enrichment, error)
}

// CatalogItem pairs an entry with its most recent enrichment, if any.
type CatalogItem struct {
	Entry      core.CatalogEntry `json:"entry"`
	Enrichment *core.Enrichment  `json:"enrichment,omitempty"`
}

// CatalogResponse is returned by GET /v1/catalog.
type CatalogResponse struct {
	Items []CatalogItem `json:"items"`
}

// EnrichResponse is returned by POST /v1/catalog/enrich.
type EnrichResponse struct {
	RunID   string             `json:"run_id,omitempty"`
	Results []*core.Enrichment `json:"results"`
}

// CreateEntryRequest is the body accepted by POST /v1/catalog.
type CreateEntryRequest struct {
	Name    string `json:"name"`
	RepoURL string `json:"repo_url"`
}

// CatalogHandler serves the catalog endpoints.
type CatalogHandler struct {
	Store    CatalogStore
	Enricher CatalogEnricher
}

// List handles GET /v1/catalog.
func (h *CatalogHandler) List(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	ctx := r.Context()

	entries, err := h.Store.ListEntries(ctx)
	if err != nil {
		respondWithError(w, r, apperrors.Wrap(ctx, apperrors.CodeDatabase, err, "Failed to list catalog"))
		return
	}
	latest, err := h.Store.LatestEnrichments(ctx)
	if err != nil {
		respondWithError(w, r, apperrors.Wrap(ctx, apperrors.CodeDatabase, err, "Failed to load enrichments"))
		return
	}

	byEntry := make(map[string]*core.Enrichment, len(latest))
	for _, enrichment := range latest {
		byEntry[enrichment.EntryID] = enrichment
	}

	items := make([]CatalogItem, 0, len(entries))
	for _, entry := range entries {
		items = append(items, CatalogItem{Entry: entry, Enrichment: byEntry[entry.ID]})
	}
	writeJSON(w, http.StatusOK, CatalogResponse{Items: items})
}

// Create handles POST /v1/catalog.
func (h *CatalogHandler) Create(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	ctx := r.Context()

	var req CreateEntryRequest
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxCatalogBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		respondWithError(w, r, apperrors.NewInvalidInputError("request body must be a JSON object with name and repo_url"))
		return
	}

	req.RepoURL = strings.TrimSpace(req.RepoURL)
	owner, name, err := github.ParseRepoURL(req.RepoURL)
	if err != nil {
		respondWithError(w, r, apperrors.FromDomainError(ctx, err))
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		req.Name = owner + "/" + name
	}

	entry, err := h.Store.UpsertEntry(ctx, core.CatalogEntry{Name: strings.TrimSpace(req.Name), RepoURL: req.RepoURL})
	if err != nil {
		respondWithError(w, r, apperrors.Wrap(ctx, apperrors.CodeDatabase, err, "Failed to save catalog entry"))
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// Delete handles DELETE /v1/catalog/{id}.
func (h *CatalogHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}

	if err := h.Store.DeleteEntry(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondWithError(w, r, apperrors.FromDomainError(r.Context(), err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Enrich handles POST /v1/catalog/enrich: every stored entry is enriched
// through the shared executor and the results are persisted.
func (h *CatalogHandler) Enrich(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	if h.Enricher == nil {
		respondWithError(w, r, apperrors.NewUnavailableError("GitHub enrichment not configured"))
		return
	}
	ctx := r.Context()

	entries, err := h.Store.ListEntries(ctx)
	if err != nil {
		respondWithError(w, r, apperrors.Wrap(ctx, apperrors.CodeDatabase, err, "Failed to list catalog"))
		return
	}

	results, err := h.Enricher.Enrich(ctx, entries)
	if err != nil {
		respondWithError(w, r, apperrors.FromDomainError(ctx, err))
		return
	}

	response := EnrichResponse{Results: results}
	for _, result := range results {
		if result == nil {
			continue
		}
		response.RunID = result.RunID
		if err := h.Store.SaveEnrichment(ctx, result); err != nil {
			if observability.ServerLogger != nil {
				observability.ServerLogger.Warn("Failed to persist enrichment",
					zap.String("entry_id", result.EntryID),
					zap.Error(err))
			}
		}
	}
	if response.Results == nil {
		response.Results = []*core.Enrichment{}
	}
	writeJSON(w, http.StatusOK, response)
}

func (h *CatalogHandler) ready(w http.ResponseWriter, r *http.Request) bool {
	if h == nil || h.Store == nil {
		respondWithError(w, r, apperrors.NewUnavailableError("catalog store not configured"))
		return false
	}
	return true
}
