package cmd

import (
	"errors"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/homedash/homedash/internal/config"
	"github.com/homedash/homedash/internal/observability"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long:  "Verify that configuration loads and the catalog store opens.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		logger := observability.CLILogger
		fail := func(code foundry.ExitCode, msg string, err error) {
			ExitWithCode(logger, code, msg, err)
		}

		if versionInfo.Version == "" {
			fail(foundry.ExitConfigInvalid, "Version information missing", errors.New("version not set"))
			return
		}
		logger.Info("✅ Version information available", zap.String("version", versionInfo.Version))

		cfg, err := loadConfig(cmd)
		if err != nil {
			fail(foundry.ExitConfigInvalid, "Configuration invalid", err)
			return
		}
		logger.Info("✅ Configuration loaded", zap.String("file", configSource()))

		if cfg.GitHub.Token == "" {
			logger.Warn("⚠️  No GitHub token configured; unauthenticated quota is 60 requests per hour")
		} else {
			logger.Info("✅ GitHub token configured")
		}

		db, err := openStore(cmd.Context(), cfg)
		if err != nil {
			fail(foundry.ExitFileNotFound, "Catalog store unavailable", fmt.Errorf("open store: %w", err))
			return
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup
		if err := db.Ping(cmd.Context()); err != nil {
			fail(foundry.ExitFailure, "Catalog store not responding", err)
			return
		}
		logger.Info("✅ Catalog store ready", zap.String("driver", db.Driver()))

		logger.Info("✅ All health checks passed")
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

func configSource() string {
	if path := config.UserConfigPath(); path != "" {
		return path
	}
	if path := config.DefaultConfigPath(); path != "" {
		return "defaults (none at " + path + ")"
	}
	return "defaults"
}
