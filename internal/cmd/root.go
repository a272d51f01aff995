package cmd

import (
	"os"
	"sort"

	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/homedash/homedash/internal/appid"
	"github.com/homedash/homedash/internal/config"
	"github.com/homedash/homedash/internal/observability"
)

var (
	cfgFile string
	verbose bool

	identity = appid.Get(os.Getenv)

	// Version info set by main package
	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo is called by main package to set version information
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var rootCmd = &cobra.Command{
	Use:   appid.BinaryName,
	Short: "Home dashboard backend with a rate-limited GitHub catalog",
	Long: `homedash serves the integration catalog of a home-automation dashboard.

Catalog entries point at GitHub repositories. Enrichment fetches their
metadata through a single rate-limited executor that honors GitHub's primary
and secondary quotas.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Keep config loading quiet until serve initializes real telemetry.
	if sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: false}); err == nil {
		telemetry.SetGlobalSystem(sys)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/"+appid.ConfigName+"/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func initConfig() {
	observability.InitCLILogger(identity.BinaryName, verbose)
	config.SetConfigFile(cfgFile)
	setDefaults()

	if verbose {
		if path := config.UserConfigPath(); path != "" {
			observability.CLILogger.Debug("Using config file", zap.String("path", path))
		} else {
			observability.CLILogger.Debug("No config file found, using defaults and environment variables")
		}
	}
}

// setDefaults mirrors the config defaults into viper so flag lookups agree
// with config.Load.
func setDefaults() {
	for key, value := range flattenDefaults("", config.Defaults()) {
		viper.SetDefault(key, value)
	}
}

func flattenDefaults(prefix string, layer map[string]any) map[string]any {
	flat := make(map[string]any)
	for key, value := range layer {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			for k, v := range flattenDefaults(path, nested) {
				flat[k] = v
			}
			continue
		}
		flat[path] = value
	}
	return flat
}

// flagBinding ties a command flag to a config key.
type flagBinding struct {
	flag string
	key  string
}

var commandBindings = map[*cobra.Command][]flagBinding{}

// bindFlag binds a flag to viper and records it so loadConfig can pass it to
// config.Load as a runtime override when the user sets it.
func bindFlag(cmd *cobra.Command, flag, key string) {
	_ = viper.BindPFlag(key, cmd.Flags().Lookup(flag))
	commandBindings[cmd] = append(commandBindings[cmd], flagBinding{flag: flag, key: key})
}

// loadConfig loads the layered config with the command's explicitly set
// flags on top.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	bindings := commandBindings[cmd]
	sort.Slice(bindings, func(i, j int) bool { return bindings[i].key < bindings[j].key })

	overrides := make([]map[string]any, 0, len(bindings)+1)
	for _, binding := range bindings {
		if cmd.Flags().Changed(binding.flag) {
			overrides = append(overrides, config.Override(binding.key, viper.Get(binding.key)))
		}
	}
	if verbose {
		overrides = append(overrides, config.Override("logging.level", "debug"))
	}
	return config.Load(cmd.Context(), overrides...)
}
