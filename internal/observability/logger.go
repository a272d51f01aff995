package observability

import (
	"fmt"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"

	"github.com/homedash/homedash/internal/appid"
)

var (
	// CLILogger writes human-readable lines for one-shot commands.
	CLILogger *logging.Logger

	// ServerLogger writes JSON lines for the long-running server.
	ServerLogger *logging.Logger
)

// InitCLILogger sets CLILogger; verbose lowers the level to DEBUG so quota
// waits and retries become visible.
func InitCLILogger(serviceName string, verbose bool) {
	logger, err := logging.NewCLI(serviceName)
	if err != nil {
		fatal(foundry.ExitConfigInvalid, "Failed to initialize CLI logger", err)
	}
	if verbose {
		logger.SetLevel(logging.DEBUG)
	}
	CLILogger = logger
}

// InitServerLogger sets ServerLogger. The optional namespace is attached to
// every line so logs and metrics share one label.
func InitServerLogger(serviceName string, logLevel string, namespace ...string) {
	logger, err := logging.New(serverLoggerConfig(serviceName, logLevel, namespace...))
	if err != nil {
		fatal(foundry.ExitConfigInvalid, "Failed to initialize server logger", err)
	}
	ServerLogger = logger
}

func serverLoggerConfig(serviceName, logLevel string, namespace ...string) *logging.LoggerConfig {
	static := map[string]any{}
	if len(namespace) > 0 && namespace[0] != "" {
		static["namespace"] = namespace[0]
	}

	return &logging.LoggerConfig{
		Profile:      logging.ProfileStructured,
		DefaultLevel: parseLogLevel(logLevel),
		Service:      serviceName,
		Environment:  serverEnvironment(),
		StaticFields: static,
		Middleware: []logging.MiddlewareConfig{
			{Name: "correlation", Enabled: true, Order: 100, Config: map[string]any{}},
		},
		Sinks: []logging.SinkConfig{
			{
				Type:    "console",
				Format:  "json",
				Console: &logging.ConsoleSinkConfig{Stream: "stderr"},
			},
		},
		EnableCaller:     true,
		EnableStacktrace: true,
	}
}

// serverEnvironment reads <prefix>ENV, defaulting to production.
func serverEnvironment() string {
	prefix := appid.Get(os.Getenv).EnvPrefix
	if env := strings.TrimSpace(os.Getenv(prefix + "ENV")); env != "" {
		return strings.ToLower(env)
	}
	return "production"
}

func parseLogLevel(level string) string {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return "TRACE"
	case "debug":
		return "DEBUG"
	case "warn", "warning":
		return "WARN"
	case "error":
		return "ERROR"
	default:
		return "INFO"
	}
}

// fatal exits before any logger exists, so it writes straight to stderr.
func fatal(code foundry.ExitCode, msg string, err error) {
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	fmt.Fprintf(os.Stderr, "FATAL: %s\n", msg)
	if info, ok := foundry.GetExitCodeInfo(code); ok {
		fmt.Fprintf(os.Stderr, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)
		os.Exit(info.Code)
	}
	os.Exit(int(code))
}
