package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/homedash/homedash/internal/core"
	"github.com/homedash/homedash/internal/core/github"
	"github.com/homedash/homedash/internal/metrics"
)

// DefaultConcurrency is the number of entries enriched in parallel. The
// shared executor still issues the underlying calls one at a time.
const DefaultConcurrency = 8

// RepoSource fetches repository metadata. *github.Client satisfies it.
type RepoSource interface {
	Repository(ctx context.Context, owner, name string) (*github.Repository, error)
	LatestRelease(ctx context.Context, owner, name string) (*github.Release, error)
}

// Enricher decorates catalog entries with GitHub repository metadata.
type Enricher struct {
	Source      RepoSource
	Concurrency int
	Logger      *logging.Logger
	Clock       func() time.Time
	NewRunID    func() string
}

type enrichJob struct {
	index int
	entry core.CatalogEntry
}

// Enrich fans entries out to a bounded worker pool. Per-entry failures are
// recorded on the result; only context cancellation aborts the run. Results
// keep input order and share one run ID.
func (e *Enricher) Enrich(ctx context.Context, entries []core.CatalogEntry) ([]*core.Enrichment, error) {
	if e == nil || e.Source == nil {
		return nil, errors.New("enricher source is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if len(entries) == 0 {
		return []*core.Enrichment{}, nil
	}

	startedAt := time.Now()
	runID := e.runID()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]*core.Enrichment, len(entries))
	jobs := make(chan enrichJob)

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)

	setErr := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	worker := func() {
		defer wg.Done()
		for job := range jobs {
			if ctx.Err() != nil {
				return
			}
			result, err := e.enrichOne(ctx, job.entry, runID)
			if err != nil {
				setErr(err)
				return
			}
			results[job.index] = result
		}
	}

	concurrency := e.Concurrency
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	if concurrency > len(entries) {
		concurrency = len(entries)
	}
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go worker()
	}

sendLoop:
	for i, entry := range entries {
		select {
		case <-ctx.Done():
			break sendLoop
		case jobs <- enrichJob{index: i, entry: entry}:
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	metrics.RecordEnrichmentRun(len(entries), time.Since(startedAt))
	if e.Logger != nil {
		e.Logger.Info("Catalog enrichment finished",
			zap.String("run_id", runID),
			zap.Int("entries", len(entries)),
			zap.Duration("elapsed", time.Since(startedAt)))
	}

	return results, nil
}

// enrichOne returns an error only when the run must abort.
func (e *Enricher) enrichOne(ctx context.Context, entry core.CatalogEntry, runID string) (*core.Enrichment, error) {
	result := &core.Enrichment{
		EntryID: entry.ID,
		Name:    entry.Name,
		RunID:   runID,
	}

	owner, name, err := github.ParseRepoURL(entry.RepoURL)
	if err != nil {
		return e.finish(result, core.EnrichmentInvalid, err), nil
	}
	result.Owner = owner
	result.Repo = name

	repo, err := e.Source.Repository(ctx, owner, name)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return e.classify(result, err), nil
	}

	result.Description = repo.Description
	result.HTMLURL = repo.HTMLURL
	result.Stars = repo.StargazersCount
	result.Forks = repo.ForksCount
	result.OpenIssues = repo.OpenIssuesCount
	result.Topics = repo.Topics
	result.Archived = repo.Archived
	result.PushedAt = repo.PushedAt

	release, err := e.Source.LatestRelease(ctx, owner, name)
	switch {
	case err == nil:
		result.LatestRelease = strings.TrimSpace(release.TagName)
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, github.ErrNotFound):
		// no published releases
	default:
		if e.Logger != nil {
			e.Logger.Warn("Latest release lookup failed",
				zap.String("repo", owner+"/"+name),
				zap.Error(err))
		}
	}

	return e.finish(result, core.EnrichmentOK, nil), nil
}

func (e *Enricher) classify(result *core.Enrichment, err error) *core.Enrichment {
	if errors.Is(err, github.ErrNotFound) {
		return e.finish(result, core.EnrichmentNotFound, err)
	}
	var statusErr *github.StatusError
	if errors.As(err, &statusErr) {
		result.StatusCode = statusErr.StatusCode
	}
	return e.finish(result, core.EnrichmentError, err)
}

func (e *Enricher) finish(result *core.Enrichment, status core.EnrichmentStatus, err error) *core.Enrichment {
	result.Status = status
	if err != nil {
		result.Message = err.Error()
	}
	if status == core.EnrichmentOK && result.StatusCode == 0 {
		result.StatusCode = http.StatusOK
	}
	if status == core.EnrichmentNotFound {
		result.StatusCode = http.StatusNotFound
	}
	result.EnrichedAt = e.now()
	metrics.RecordEnrichment(string(status))
	return result
}

func (e *Enricher) runID() string {
	if e.NewRunID != nil {
		return e.NewRunID()
	}
	return uuid.NewString()
}

func (e *Enricher) now() time.Time {
	if e.Clock != nil {
		return e.Clock()
	}
	return time.Now().UTC()
}

// Summary counts results by status, for log lines and CLI footers.
func Summary(results []*core.Enrichment) string {
	counts := map[core.EnrichmentStatus]int{}
	for _, result := range results {
		if result == nil {
			continue
		}
		counts[result.Status]++
	}
	return fmt.Sprintf("%d ok, %d not found, %d invalid, %d error",
		counts[core.EnrichmentOK],
		counts[core.EnrichmentNotFound],
		counts[core.EnrichmentInvalid],
		counts[core.EnrichmentError])
}
