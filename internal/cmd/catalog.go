package cmd

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/homedash/homedash/internal/core"
	"github.com/homedash/homedash/internal/core/github"
	"github.com/homedash/homedash/internal/observability"
	"github.com/homedash/homedash/internal/output"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage dashboard catalog entries",
}

var catalogAddCmd = &cobra.Command{
	Use:   "add <repo> [name]",
	Short: "Add or rename a catalog entry",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		entry, err := newCatalogEntry(args[0], strings.Join(args[1:], " "))
		if err != nil {
			return err
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		db, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		saved, err := db.UpsertEntry(cmd.Context(), entry)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", saved.ID, saved.Name, saved.RepoURL)
		return err
	},
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, sink, err := resolveOutput(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		db, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		entries, err := db.ListEntries(cmd.Context())
		if err != nil {
			return err
		}
		rendered, err := output.NewFormatter(format).FormatEntries(entries)
		if err != nil {
			return err
		}
		return writeRendered(sink, rendered)
	},
}

var catalogRemoveCmd = &cobra.Command{
	Use:     "remove <id>",
	Aliases: []string{"rm"},
	Short:   "Remove a catalog entry and its enrichment history",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		db, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		return db.DeleteEntry(cmd.Context(), strings.TrimSpace(args[0]))
	},
}

var catalogImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Import catalog entries from a YAML file (- for stdin)",
	Long: `Import catalog entries from YAML. The file holds either a list or an
"entries" key:

  entries:
    - name: Zigbee Bridge
      repo: https://github.com/octo/zigbee-bridge
    - repo: octo/hue-sync`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := readCatalogFile(args[0], cmd.InOrStdin())
		if err != nil {
			return err
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		db, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		for _, entry := range entries {
			if _, err := db.UpsertEntry(cmd.Context(), entry); err != nil {
				return fmt.Errorf("import %s: %w", entry.RepoURL, err)
			}
		}
		observability.CLILogger.Info("Catalog imported", zap.Int("entries", len(entries)))
		return nil
	},
}

var catalogHistoryCmd = &cobra.Command{
	Use:   "history [id]",
	Short: "Show enrichment history, newest first",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		format, sink, err := resolveOutput(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		db, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		var entryID string
		if len(args) == 1 {
			entry, err := db.GetEntry(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			entryID = entry.ID
		}

		history, err := db.ListEnrichments(cmd.Context(), entryID, limit)
		if err != nil {
			return err
		}
		return renderEnrichments(sink, format, history)
	},
}

func init() {
	addOutputFlags(catalogListCmd)
	addOutputFlags(catalogHistoryCmd)
	catalogHistoryCmd.Flags().Int("limit", 20, "Maximum results to show (0 for all)")

	catalogCmd.AddCommand(catalogAddCmd, catalogListCmd, catalogRemoveCmd, catalogImportCmd, catalogHistoryCmd)
	rootCmd.AddCommand(catalogCmd)
}

// newCatalogEntry validates repo and defaults the name to owner/name.
func newCatalogEntry(repo, name string) (core.CatalogEntry, error) {
	owner, repoName, err := github.ParseRepoURL(repo)
	if err != nil {
		return core.CatalogEntry{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = owner + "/" + repoName
	}
	return core.CatalogEntry{Name: name, RepoURL: strings.TrimSpace(repo)}, nil
}

func readCatalogFile(path string, stdin io.Reader) ([]core.CatalogEntry, error) {
	var (
		data []byte
		err  error
	)
	if strings.TrimSpace(path) == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path) // #nosec G304 -- operator-supplied import file
	}
	if err != nil {
		return nil, err
	}
	return parseCatalogYAML(data)
}

func parseCatalogYAML(data []byte) ([]core.CatalogEntry, error) {
	var raw []core.CatalogEntry
	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, []byte("-")) {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse catalog file: %w", err)
		}
	} else {
		var doc struct {
			Entries []core.CatalogEntry `yaml:"entries"`
		}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse catalog file: %w", err)
		}
		raw = doc.Entries
	}

	entries := make([]core.CatalogEntry, 0, len(raw))
	for i, item := range raw {
		entry, err := newCatalogEntry(item.RepoURL, item.Name)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i+1, err)
		}
		entries = append(entries, entry)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("no catalog entries found")
	}
	return entries, nil
}
