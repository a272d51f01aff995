package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homedash/homedash/internal/core"
	"github.com/homedash/homedash/internal/core/store"
)

type memoryCatalog struct {
	mu          sync.Mutex
	entries     []core.CatalogEntry
	latest      []*core.Enrichment
	saved       []*core.Enrichment
	listErr     error
	saveErr     error
	nextEntryID int
}

func (m *memoryCatalog) ListEntries(context.Context) ([]core.CatalogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return append([]core.CatalogEntry(nil), m.entries...), nil
}

func (m *memoryCatalog) UpsertEntry(_ context.Context, entry core.CatalogEntry) (*core.CatalogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextEntryID++
	entry.ID = fmt.Sprintf("entry-%d", m.nextEntryID)
	m.entries = append(m.entries, entry)
	return &entry, nil
}

func (m *memoryCatalog) DeleteEntry(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, entry := range m.entries {
		if entry.ID == id {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			return nil
		}
	}
	return store.ErrEntryNotFound
}

func (m *memoryCatalog) SaveEnrichment(_ context.Context, enrichment *core.Enrichment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = append(m.saved, enrichment)
	return nil
}

func (m *memoryCatalog) LatestEnrichments(context.Context) ([]*core.Enrichment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest, nil
}

type stubEnricher struct {
	err  error
	seen []core.CatalogEntry
}

func (s *stubEnricher) Enrich(_ context.Context, entries []core.CatalogEntry) ([]*core.Enrichment, error) {
	s.seen = entries
	if s.err != nil {
		return nil, s.err
	}
	results := make([]*core.Enrichment, len(entries))
	for i, entry := range entries {
		results[i] = &core.Enrichment{EntryID: entry.ID, Name: entry.Name, Status: core.EnrichmentOK, RunID: "run-7"}
	}
	return results, nil
}

func catalogRouter(h *CatalogHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/v1/catalog", h.List)
	r.Post("/v1/catalog", h.Create)
	r.Delete("/v1/catalog/{id}", h.Delete)
	r.Post("/v1/catalog/enrich", h.Enrich)
	return r
}

func serve(t *testing.T, handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCatalogListJoinsLatestEnrichment(t *testing.T) {
	catalog := &memoryCatalog{
		entries: []core.CatalogEntry{
			{ID: "a", Name: "Alpha", RepoURL: "octo/alpha"},
			{ID: "b", Name: "Beta", RepoURL: "octo/beta"},
		},
		latest: []*core.Enrichment{{EntryID: "b", Status: core.EnrichmentOK, Stars: 9}},
	}

	rec := serve(t, catalogRouter(&CatalogHandler{Store: catalog}), http.MethodGet, "/v1/catalog", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp CatalogResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Items, 2)
	assert.Nil(t, resp.Items[0].Enrichment)
	require.NotNil(t, resp.Items[1].Enrichment)
	assert.Equal(t, 9, resp.Items[1].Enrichment.Stars)
}

func TestCatalogCreate(t *testing.T) {
	catalog := &memoryCatalog{}
	router := catalogRouter(&CatalogHandler{Store: catalog})

	rec := serve(t, router, http.MethodPost, "/v1/catalog", `{"repo_url":"https://github.com/octo/widget.git"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var entry core.CatalogEntry
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&entry))
	assert.Equal(t, "octo/widget", entry.Name)
	assert.NotEmpty(t, entry.ID)

	rec = serve(t, router, http.MethodPost, "/v1/catalog", `{"name":"x","repo_url":"https://gitlab.com/octo/widget"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, router, http.MethodPost, "/v1/catalog", `{"name":"x","repo":"octo/widget"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCatalogDelete(t *testing.T) {
	catalog := &memoryCatalog{entries: []core.CatalogEntry{{ID: "a", Name: "Alpha", RepoURL: "octo/alpha"}}}
	router := catalogRouter(&CatalogHandler{Store: catalog})

	rec := serve(t, router, http.MethodDelete, "/v1/catalog/a", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = serve(t, router, http.MethodDelete, "/v1/catalog/a", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	var body errorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "NOT_FOUND", body.Error.Code)
}

func TestCatalogEnrichPersistsResults(t *testing.T) {
	catalog := &memoryCatalog{entries: []core.CatalogEntry{
		{ID: "a", Name: "Alpha", RepoURL: "octo/alpha"},
		{ID: "b", Name: "Beta", RepoURL: "octo/beta"},
	}}
	enricher := &stubEnricher{}
	router := catalogRouter(&CatalogHandler{Store: catalog, Enricher: enricher})

	rec := serve(t, router, http.MethodPost, "/v1/catalog/enrich", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp EnrichResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "run-7", resp.RunID)
	assert.Len(t, resp.Results, 2)
	assert.Len(t, enricher.seen, 2)
	assert.Len(t, catalog.saved, 2)
}

func TestCatalogEnrichKeepsResultsWhenSaveFails(t *testing.T) {
	catalog := &memoryCatalog{
		entries: []core.CatalogEntry{{ID: "a", Name: "Alpha", RepoURL: "octo/alpha"}},
		saveErr: errors.New("disk full"),
	}
	router := catalogRouter(&CatalogHandler{Store: catalog, Enricher: &stubEnricher{}})

	rec := serve(t, router, http.MethodPost, "/v1/catalog/enrich", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCatalogEnrichErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler *CatalogHandler
		status  int
	}{
		{"no store", &CatalogHandler{}, http.StatusServiceUnavailable},
		{"no enricher", &CatalogHandler{Store: &memoryCatalog{}}, http.StatusServiceUnavailable},
		{"store failure", &CatalogHandler{Store: &memoryCatalog{listErr: errors.New("locked")}, Enricher: &stubEnricher{}}, http.StatusInternalServerError},
		{"deadline", &CatalogHandler{Store: &memoryCatalog{}, Enricher: &stubEnricher{err: context.DeadlineExceeded}}, http.StatusGatewayTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, catalogRouter(tt.handler), http.MethodPost, "/v1/catalog/enrich", "")
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}
