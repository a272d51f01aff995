package cmd

import (
	"github.com/fulmenhq/gofulmen/logging"

	"github.com/homedash/homedash/internal/config"
	"github.com/homedash/homedash/internal/core/catalog"
	"github.com/homedash/homedash/internal/core/engine"
	"github.com/homedash/homedash/internal/core/github"
)

// newGitHubExecutor builds the executor for one command run. Callers create
// it once and hand the same instance to every client and enricher they build
// so all GitHub calls share one quota.
func newGitHubExecutor(cfg *config.Config, logger *logging.Logger) *engine.Executor {
	return engine.NewExecutor(engine.Options{
		Logger: logger,
		Pacing: cfg.GitHub.Pacing,
	})
}

func newGitHubClient(cfg *config.Config, executor *engine.Executor) *github.Client {
	retries := cfg.GitHub.MaxRetries
	if retries == 0 {
		retries = github.NoRetries
	}
	return &github.Client{
		Executor:   executor,
		HTTPClient: github.NewHTTPClient(cfg.GitHub.Timeout),
		BaseURL:    cfg.GitHub.BaseURL,
		Token:      cfg.GitHub.Token,
		UserAgent:  cfg.GitHub.UserAgent,
		MaxRetries: retries,
	}
}

func newEnricher(cfg *config.Config, client *github.Client, logger *logging.Logger) *catalog.Enricher {
	return &catalog.Enricher{
		Source:      client,
		Concurrency: cfg.Enrich.Concurrency,
		Logger:      logger,
	}
}
