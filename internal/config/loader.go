// Package config provides centralized configuration management for homedash.
// It implements a three-layer config pattern using gofulmen/config:
// Layer 1: built-in defaults
// Layer 2: user overrides (XDG config paths or an explicit file)
// Layer 3: environment variables and runtime overrides
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"

	"github.com/homedash/homedash/internal/appid"
)

var (
	// appConfig holds the current application configuration
	appConfig  *Config
	configMu   sync.RWMutex
	configFile string
)

// EnvVarSpec defines environment variable mappings for config fields
// following the pattern: {PREFIX}{NAME} maps to config path
type EnvVarSpec = gfconfig.EnvVarSpec

// Environment variable types
const (
	EnvString = gfconfig.EnvString
	EnvInt    = gfconfig.EnvInt
	EnvBool   = gfconfig.EnvBool
)

// SetConfigFile pins Layer 2 to an explicit file instead of XDG discovery.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = strings.TrimSpace(path)
}

// Load loads configuration using the three-layer pattern:
// 1. Built-in defaults
// 2. User overrides from the explicit config file or XDG config paths
// 3. Environment variables and runtime overrides
//
// This function is safe to call multiple times (e.g., for config reload)
func Load(ctx context.Context, runtimeOverrides ...map[string]any) (*Config, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	identity := appid.Get(os.Getenv)
	merged := Defaults()

	userLayer, _, err := loadUserLayer(identity)
	if err != nil {
		return nil, err
	}
	mergeMaps(merged, userLayer)

	envOverrides, err := gfconfig.LoadEnvOverrides(getEnvSpecs(identity.EnvPrefix))
	if err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}
	mergeMaps(merged, envOverrides)

	for _, overrides := range runtimeOverrides {
		mergeMaps(merged, overrides)
	}

	// Unmarshal into typed config struct
	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(merged); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}

	// Store the loaded config
	setConfig(cfg)

	return cfg, nil
}

// UserConfigPath returns the config file Load would read, or "" when none
// exists.
func UserConfigPath() string {
	_, path, err := loadUserLayer(appid.Get(os.Getenv))
	if err != nil {
		return ""
	}
	return path
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

func loadUserLayer(identity appid.Identity) (map[string]any, string, error) {
	configMu.RLock()
	explicit := configFile
	configMu.RUnlock()

	if explicit != "" {
		layer, err := readYAML(explicit)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read config file %s: %w", explicit, err)
		}
		return layer, explicit, nil
	}

	for _, path := range getUserConfigPaths(identity) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			path = filepath.Join(path, "config.yaml")
		}
		layer, err := readYAML(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, "", fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		return layer, path, nil
	}

	return map[string]any{}, "", nil
}

func readYAML(path string) (map[string]any, error) {
	// #nosec G304 -- config path comes from the operator or XDG discovery
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	layer := map[string]any{}
	if err := yaml.Unmarshal(data, &layer); err != nil {
		return nil, err
	}
	return layer, nil
}

// mergeMaps deep-merges src into dst. Nested maps merge key by key; any
// other value in src replaces the one in dst.
func mergeMaps(dst, src map[string]any) {
	for key, value := range src {
		srcMap, srcIsMap := value.(map[string]any)
		dstMap, dstIsMap := dst[key].(map[string]any)
		if srcIsMap && dstIsMap {
			mergeMaps(dstMap, srcMap)
			continue
		}
		dst[key] = value
	}
}

func validate(cfg *Config) error {
	if cfg.GitHub.MaxRetries < 0 {
		return fmt.Errorf("github.max_retries must be >= 0, got %d", cfg.GitHub.MaxRetries)
	}
	if cfg.GitHub.Timeout < 0 {
		return fmt.Errorf("github.timeout must be >= 0, got %s", cfg.GitHub.Timeout)
	}
	if cfg.Enrich.Concurrency < 1 {
		return fmt.Errorf("enrich.concurrency must be >= 1, got %d", cfg.Enrich.Concurrency)
	}
	return nil
}

// getUserConfigPaths returns the list of user config file paths to check
// Uses gofulmen/config for XDG-compliant path discovery
func getUserConfigPaths(identity appid.Identity) []string {
	legacyNames := []string{}
	if identity.BinaryName != "" && identity.BinaryName != identity.ConfigName {
		legacyNames = append(legacyNames, identity.BinaryName)
	}
	return gfconfig.GetAppConfigPaths(identity.ConfigName, legacyNames...)
}

// getEnvSpecs returns environment variable specifications for config mapping
// Maps {PREFIX}{NAME} environment variables to config paths
func getEnvSpecs(prefix string) []EnvVarSpec {
	if !strings.HasSuffix(prefix, "_") {
		prefix += "_"
	}

	return []EnvVarSpec{
		// Server config
		{Name: prefix + "HOST", Path: []string{"server", "host"}, Type: EnvString},
		{Name: prefix + "PORT", Path: []string{"server", "port"}, Type: EnvInt},
		// Duration fields are parsed as strings and converted by mapstructure decode hook
		{Name: prefix + "READ_TIMEOUT", Path: []string{"server", "read_timeout"}, Type: EnvString},
		{Name: prefix + "WRITE_TIMEOUT", Path: []string{"server", "write_timeout"}, Type: EnvString},
		{Name: prefix + "IDLE_TIMEOUT", Path: []string{"server", "idle_timeout"}, Type: EnvString},
		{Name: prefix + "SHUTDOWN_TIMEOUT", Path: []string{"server", "shutdown_timeout"}, Type: EnvString},

		// Logging config
		{Name: prefix + "LOG_LEVEL", Path: []string{"logging", "level"}, Type: EnvString},
		{Name: prefix + "LOG_PROFILE", Path: []string{"logging", "profile"}, Type: EnvString},

		// Store config
		{Name: prefix + "DB_DRIVER", Path: []string{"store", "driver"}, Type: EnvString},
		{Name: prefix + "DB_PATH", Path: []string{"store", "path"}, Type: EnvString},
		{Name: prefix + "DB_URL", Path: []string{"store", "url"}, Type: EnvString},
		{Name: prefix + "DB_AUTH_TOKEN", Path: []string{"store", "auth_token"}, Type: EnvString},

		// GitHub transport
		{Name: prefix + "GITHUB_BASE_URL", Path: []string{"github", "base_url"}, Type: EnvString},
		{Name: prefix + "GITHUB_TOKEN", Path: []string{"github", "token"}, Type: EnvString},
		{Name: prefix + "GITHUB_TIMEOUT", Path: []string{"github", "timeout"}, Type: EnvString},
		{Name: prefix + "GITHUB_MAX_RETRIES", Path: []string{"github", "max_retries"}, Type: EnvInt},
		{Name: prefix + "GITHUB_USER_AGENT", Path: []string{"github", "user_agent"}, Type: EnvString},
		{Name: prefix + "GITHUB_PACING", Path: []string{"github", "pacing"}, Type: EnvBool},

		// Enrichment
		{Name: prefix + "ENRICH_CONCURRENCY", Path: []string{"enrich", "concurrency"}, Type: EnvInt},

		// Metrics config
		{Name: prefix + "METRICS_ENABLED", Path: []string{"metrics", "enabled"}, Type: EnvBool},
		{Name: prefix + "METRICS_PORT", Path: []string{"metrics", "port"}, Type: EnvInt},

		// Health config
		{Name: prefix + "HEALTH_ENABLED", Path: []string{"health", "enabled"}, Type: EnvBool},
	}
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := gfconfig.GetAppConfigDir(appid.ConfigName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	dataDir := gfconfig.GetAppDataDir(appid.ConfigName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + appid.BinaryName + ".db"
	}
	return filepath.Join(dataDir, appid.BinaryName+".db")
}

// Override builds a runtime override layer from a dotted key such as
// "server.port".
func Override(key string, value any) map[string]any {
	parts := strings.Split(key, ".")
	layer := map[string]any{parts[len(parts)-1]: value}
	for i := len(parts) - 2; i >= 0; i-- {
		layer = map[string]any{parts[i]: layer}
	}
	return layer
}
