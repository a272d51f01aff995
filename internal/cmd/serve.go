package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/homedash/homedash/internal/config"
	"github.com/homedash/homedash/internal/core/engine"
	"github.com/homedash/homedash/internal/core/store"
	errwrap "github.com/homedash/homedash/internal/errors"
	"github.com/homedash/homedash/internal/metrics"
	"github.com/homedash/homedash/internal/observability"
	"github.com/homedash/homedash/internal/server"
	"github.com/homedash/homedash/internal/server/handlers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the HTTP API with graceful shutdown support.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Re-read and validate configuration`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().Int("metrics-port", 9090, "Prometheus exporter port")
	serveCmd.Flags().Bool("pacing", false, "Space GitHub requests evenly across the secondary window")

	bindFlag(serveCmd, "host", "server.host")
	bindFlag(serveCmd, "port", "server.port")
	bindFlag(serveCmd, "metrics-port", "metrics.port")
	bindFlag(serveCmd, "pacing", "github.pacing")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	observability.InitServerLogger(identity.BinaryName, cfg.Logging.Level, identity.Namespace)
	logger := observability.ServerLogger

	if cfg.Metrics.Enabled {
		if err := observability.InitMetrics(identity.BinaryName, cfg.Metrics.Port, identity.Namespace); err != nil {
			logger.Error("Failed to initialize metrics", zap.Error(err))
			return errwrap.Wrap(ctx, errwrap.CodeInternal, err, "metrics initialization failed")
		}
		metrics.SetServerStartTime(time.Now().Unix())
	}

	db, err := openStore(ctx, cfg)
	if err != nil {
		return errwrap.Wrap(ctx, errwrap.CodeDatabase, err, "catalog store unavailable")
	}

	executor := newGitHubExecutor(cfg, logger)
	client := newGitHubClient(cfg, executor)

	logger.Info("Initializing server",
		zap.String("service", identity.BinaryName),
		zap.String("version", versionInfo.Version),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("github", cfg.GitHub.BaseURL),
		zap.Bool("pacing", cfg.GitHub.Pacing),
		zap.Bool("metrics", cfg.Metrics.Enabled))

	if cfg.Health.Enabled {
		registerHealthChecks(handlers.InitHealthManager(versionInfo.Version), db, executor, cfg.Metrics.Enabled)
	}

	srv := server.New(server.Options{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		Quota:        executor,
		Remote:       client,
		Catalog:      db,
		Enricher:     newEnricher(cfg, client, logger),
		MetricsPort:  cfg.Metrics.Port,
		AdminToken:   os.Getenv(identity.EnvPrefix + "ADMIN_TOKEN"),
	})

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	// Shutdown handlers run LIFO: server first, then store, then logger.
	signals.OnShutdown(func(ctx context.Context) error {
		if err := logger.Sync(); err != nil {
			logger.Debug("Logger sync returned error (may be benign)", zap.Error(err))
		}
		return nil
	})
	signals.OnShutdown(func(ctx context.Context) error {
		return db.Close()
	})
	signals.OnShutdown(func(ctx context.Context) error {
		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errwrap.Wrap(ctx, errwrap.CodeInternal, err, "server shutdown failed")
		}
		logger.Info("HTTP server stopped gracefully")
		return nil
	})

	signals.OnReload(func(ctx context.Context) error {
		previous := config.GetConfig()
		reloaded, err := config.Load(ctx)
		if err != nil {
			logger.Error("Config reload failed", zap.Error(err))
			return err
		}
		logger.Info("Configuration re-read; restart to apply server and GitHub settings",
			zap.String("file", config.UserConfigPath()),
			zap.String("log_level", reloaded.Logging.Level),
			zap.Bool("github_changed", previous == nil || previous.GitHub != reloaded.GitHub))
		return nil
	})

	if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
		Window:  2 * time.Second,
		Message: "Press Ctrl+C again within 2 seconds to force quit",
	}); err != nil {
		logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
	}

	errChan := make(chan error, 2)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()
	go func() {
		if err := signals.Listen(ctx); err != nil {
			logger.Error("Signal handler error", zap.Error(err))
			errChan <- err
		}
	}()

	if err := <-errChan; err != nil {
		return errwrap.Wrap(ctx, errwrap.CodeInternal, err, "server error")
	}
	return nil
}

func registerHealthChecks(hm *handlers.HealthManager, db *store.Store, executor *engine.Executor, withTelemetry bool) {
	hm.RegisterChecker("store", handlers.HealthCheckFunc(func(ctx context.Context) error {
		return db.Ping(ctx)
	}))
	hm.RegisterChecker("github_engine", handlers.HealthCheckFunc(func(ctx context.Context) error {
		if executor == nil {
			return errors.New("executor not initialized")
		}
		return nil
	}))
	if !withTelemetry {
		return
	}
	hm.RegisterChecker("telemetry", handlers.HealthCheckFunc(func(ctx context.Context) error {
		if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
			return errors.New("telemetry system not initialized")
		}
		return nil
	}))
}
