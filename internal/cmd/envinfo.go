package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"

	"github.com/homedash/homedash/internal/config"
	"github.com/homedash/homedash/internal/core"
	"github.com/homedash/homedash/internal/core/engine"
)

var envInfoCmd = &cobra.Command{
	Use:   "envinfo",
	Short: "Display environment information",
	Long:  "Display version, runtime, effective configuration and the compiled-in GitHub quota constants.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), renderEnvInfo(cfg))
		return err
	},
}

func init() {
	rootCmd.AddCommand(envInfoCmd)
}

func renderEnvInfo(cfg *config.Config) string {
	deps := crucible.GetVersion()
	var b strings.Builder
	line := func(format string, args ...any) { fmt.Fprintf(&b, format+"\n", args...) }

	line("Application:")
	line("  Name:        %s", identity.BinaryName)
	line("  Version:     %s (%s, %s)", versionInfo.Version, versionInfo.Commit, versionInfo.BuildDate)
	line("  Env prefix:  %s", identity.EnvPrefix)
	line("  Gofulmen:    %s", deps.Gofulmen)
	line("  Crucible:    %s", deps.Crucible)
	line("")
	line("Runtime:")
	line("  Go:          %s %s/%s, %d CPU", runtime.Version(), runtime.GOOS, runtime.GOARCH, runtime.NumCPU())
	line("")
	line("Configuration:")
	line("  Config file: %s", configSource())
	line("  Server:      %s:%d", cfg.Server.Host, cfg.Server.Port)
	line("  Logging:     %s (%s)", cfg.Logging.Level, cfg.Logging.Profile)
	if strings.TrimSpace(cfg.Store.URL) != "" {
		line("  Store:       %s %s", cfg.Store.Driver, cfg.Store.URL)
	} else {
		line("  Store:       %s %s", cfg.Store.Driver, cfg.Store.Path)
	}
	line("  Metrics:     enabled=%t port=%d", cfg.Metrics.Enabled, cfg.Metrics.Port)
	line("")
	line("GitHub:")
	line("  Base URL:    %s", cfg.GitHub.BaseURL)
	line("  Token:       %s", maskToken(cfg.GitHub.Token))
	line("  Timeout:     %s, max retries %d, pacing %t", cfg.GitHub.Timeout, cfg.GitHub.MaxRetries, cfg.GitHub.Pacing)
	line("  Enrichment:  %d entries in parallel", cfg.Enrich.Concurrency)
	line("  Secondary:   %d requests per %s", core.SecondaryWindowLimit, core.SecondaryWindowDuration)
	line("  Pacing gap:  %s, quota wait floor %s", engine.PacingInterval, engine.MinQuotaWait)
	return b.String()
}

func maskToken(token string) string {
	token = strings.TrimSpace(token)
	switch {
	case token == "":
		return "(not set)"
	case len(token) <= 8:
		return "****"
	default:
		return token[:4] + "…" + token[len(token)-4:]
	}
}
