// Package cmd implements the CLI commands for compressarr.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/jmylchreest/compressarr/internal/config"
	"github.com/jmylchreest/compressarr/internal/observability"
	"github.com/jmylchreest/compressarr/internal/version"
	"github.com/spf13/cobra"
)

// cfgFile holds the config file path from the CLI flag.
var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "compressarr",
	Short:   "Model-assisted video compression pipeline",
	Version: version.Short(),
	Long: `compressarr watches a video library, asks a chat-completions model to
synthesize an ffmpeg command per file, transcodes each approved file, and
replaces the original once the output is accepted.

Every file moves through a status workflow (pending, confirmed, ready,
optimized, accepted, replaced) persisted in SQLite; the HTTP API exposes the
queue and the two manual approval gates.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentPreRun = func(_ *cobra.Command, _ []string) {
		initLogging()
	}

	// These flags are not bound to viper. The config loader resolves
	// env > file > default on its own; a flag only overrides the result
	// when it was explicitly set, preserving the priority
	// CLI flag > env var > config > default.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., ./configs, /etc/compressarr, $HOME/.compressarr)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")
}

// initLogging configures the default slog logger before any command runs.
// The config snapshot is unvalidated so commands that do not need a complete
// configuration (version, config) still get proper logging; serve validates
// the full config itself and reports the real error.
//
// Priority order (highest to lowest):
//  1. CLI flags (--log-level, --log-format), only when explicitly provided
//  2. Environment variables (COMPRESSARR_LOGGING_LEVEL, COMPRESSARR_LOGGING_FORMAT)
//  3. Config file values
//  4. Built-in defaults (info, json)
func initLogging() {
	logCfg := config.LoggingConfig{Level: "info", Format: "json"}
	if snap, err := config.Snapshot(cfgFile); err == nil {
		logCfg = snap.Logging
	}

	if rootCmd.PersistentFlags().Changed("log-level") {
		logCfg.Level, _ = rootCmd.PersistentFlags().GetString("log-level")
	}
	if rootCmd.PersistentFlags().Changed("log-format") {
		logCfg.Format, _ = rootCmd.PersistentFlags().GetString("log-format")
	}

	logCfg.Level = strings.ToLower(logCfg.Level)
	if logCfg.Level == "warning" {
		logCfg.Level = "warn"
	}
	logCfg.Format = strings.ToLower(logCfg.Format)

	logger := observability.NewLoggerWithWriter(logCfg, os.Stderr)
	observability.SetDefault(logger)
}
