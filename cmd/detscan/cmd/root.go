package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/MeKo-Tech/detscan/internal/config"
	"github.com/MeKo-Tech/detscan/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// flagKeys maps command-line flags to configuration keys. A flag only
// overrides the configuration when it was set explicitly.
var flagKeys = map[string]string{
	"log-level":           "log_level",
	"verbose":             "verbose",
	"models-dir":          "models_dir",
	"db-driver":           "store.driver",
	"db-dsn":              "store.dsn",
	"media-root":          "artifacts.media_root",
	"results-root":        "artifacts.results_root",
	"backend":             "detector.backend",
	"model":               "detector.model_path",
	"labels":              "detector.labels_path",
	"endpoint":            "detector.endpoint",
	"conf-threshold":      "detector.conf_threshold",
	"languages":           "recognizer.languages",
	"host":                "server.host",
	"port":                "server.port",
	"cors-origin":         "server.cors_origin",
	"max-upload-size":     "server.max_upload_mb",
	"timeout":             "server.timeout_sec",
	"shutdown-timeout":    "server.shutdown_timeout",
	"rate-limit-enabled":  "server.rate_limit_enabled",
	"requests-per-minute": "server.requests_per_minute",
	"requests-per-hour":   "server.requests_per_hour",
	"trace":               "tracing.enabled",
	"trace-exporter":      "tracing.exporter",
	"workers":             "batch.workers",
	"recursive":           "batch.recursive",
	"include":             "batch.include_patterns",
	"exclude":             "batch.exclude_patterns",
	"fail-fast":           "batch.fail_fast",
}

// cli carries the state shared by all commands of one invocation.
type cli struct {
	cfgFile string
	cfg     *config.Config
	logOut  io.Writer
}

// rootCmd is the command tree used by Execute.
var rootCmd = newRootCmd()

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// GetRootCommand returns the root command for testing purposes.
func GetRootCommand() *cobra.Command {
	return rootCmd
}

func newRootCmd() *cobra.Command {
	c := &cli{logOut: os.Stderr}

	root := &cobra.Command{
		Use:   "detscan",
		Short: "Object detection with per-region text extraction",
		Long: `detscan detects objects in uploaded images, reads the text inside every
detected region and stores one record per detection together with an
annotated result bundle on disk.

Examples:
  detscan serve --port 8000
  detscan analyze street.jpg --format text
  detscan batch photos/ --recursive --workers 4
  detscan runs list
  detscan migrate`,
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.init(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.cfgFile, "config", "", "config file (default is search in ., $HOME, $XDG_CONFIG_HOME/detscan, /etc/detscan)")
	pf.BoolP("verbose", "v", false, "verbose output (equivalent to --log-level=debug)")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("models-dir", "", "models directory (default $DETSCAN_MODELS_DIR or ./models)")
	pf.String("db-driver", "", "record store driver (sqlite, postgres, mysql)")
	pf.String("db-dsn", "", "record store data source name")
	pf.String("media-root", "", "directory for uploaded images")
	pf.String("results-root", "", "directory for result bundles")

	root.AddCommand(
		newServeCmd(c),
		newAnalyzeCmd(c),
		newBatchCmd(c),
		newRunsCmd(c),
		newMigrateCmd(c),
		newConfigCmd(c),
		newCheckCmd(c),
	)
	return root
}

// init loads the configuration for the executing command and sets up logging.
func (c *cli) init(cmd *cobra.Command) error {
	loader := config.NewIsolatedLoader()
	bindFlags(loader.GetViper(), cmd.Flags())

	cfg, err := loader.LoadWithFile(c.cfgFile)
	if err != nil {
		return err
	}
	c.cfg = cfg

	slog.SetDefault(slog.New(slog.NewJSONHandler(c.logOut, &slog.HandlerOptions{
		Level: logLevel(cfg),
	})))
	if used := loader.GetConfigFileUsed(); used != "" {
		slog.Debug("Configuration loaded", "file", used)
	}
	return nil
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	for name, key := range flagKeys {
		if f := flags.Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				panic(fmt.Sprintf("bind flag %s: %v", name, err))
			}
		}
	}
}

func logLevel(cfg *config.Config) slog.Level {
	if cfg.Verbose {
		return slog.LevelDebug
	}
	switch cfg.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
