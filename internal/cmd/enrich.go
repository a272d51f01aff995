package cmd

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/homedash/homedash/internal/core"
	"github.com/homedash/homedash/internal/core/catalog"
	"github.com/homedash/homedash/internal/core/github"
	"github.com/homedash/homedash/internal/observability"
	"github.com/homedash/homedash/internal/output"
)

var enrichCmd = &cobra.Command{
	Use:   "enrich [repo...]",
	Short: "Fetch GitHub metadata for catalog entries",
	Long: `Enrich every stored catalog entry with repository metadata and save the
results. Repositories given as arguments are enriched ad hoc and not saved.

All GitHub calls go through one rate-limited executor; --concurrency only
bounds how many entries are in flight.`,
	RunE: runEnrich,
}

func init() {
	rootCmd.AddCommand(enrichCmd)

	enrichCmd.Flags().Int("concurrency", 8, "Entries enriched in parallel")
	enrichCmd.Flags().Bool("pacing", false, "Space GitHub requests evenly across the secondary window")
	addOutputFlags(enrichCmd)

	bindFlag(enrichCmd, "concurrency", "enrich.concurrency")
	bindFlag(enrichCmd, "pacing", "github.pacing")
}

func runEnrich(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	startedAt := time.Now()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	format, sink, err := resolveOutput(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = sink.close() }()

	logger := observability.CLILogger
	enricher := newEnricher(cfg, newGitHubClient(cfg, newGitHubExecutor(cfg, logger)), logger)

	if len(args) > 0 {
		entries, err := adHocEntries(args)
		if err != nil {
			return err
		}
		results, err := enricher.Enrich(ctx, entries)
		if err != nil {
			return err
		}
		return renderEnrichments(sink, format, results)
	}

	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close() // nolint:errcheck // best-effort cleanup

	entries, err := db.ListEntries(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return errors.New("catalog is empty; add entries with `homedash catalog add` or pass repositories as arguments")
	}

	results, err := enricher.Enrich(ctx, entries)
	if err != nil {
		return err
	}
	for _, result := range results {
		if err := db.SaveEnrichment(ctx, result); err != nil {
			return err
		}
	}

	logger.Info("Enrichment saved",
		zap.Int("entries", len(results)),
		zap.String("summary", catalog.Summary(results)),
		zap.Duration("elapsed", time.Since(startedAt)))

	return renderEnrichments(sink, format, results)
}

func renderEnrichments(sink *outputSink, format output.Format, results []*core.Enrichment) error {
	rendered, err := output.NewFormatter(format).FormatEnrichments(results)
	if err != nil {
		return err
	}
	return writeRendered(sink, rendered)
}

// adHocEntries turns repository arguments into unsaved catalog entries.
func adHocEntries(args []string) ([]core.CatalogEntry, error) {
	entries := make([]core.CatalogEntry, 0, len(args))
	seen := make(map[string]bool, len(args))
	for _, raw := range args {
		owner, name, err := github.ParseRepoURL(raw)
		if err != nil {
			return nil, err
		}
		key := strings.ToLower(owner + "/" + name)
		if seen[key] {
			continue
		}
		seen[key] = true
		entries = append(entries, core.CatalogEntry{Name: owner + "/" + name, RepoURL: strings.TrimSpace(raw)})
	}
	return entries, nil
}
