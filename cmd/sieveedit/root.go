package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/migadu/sieveedit/config"
	"github.com/migadu/sieveedit/logger"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

var (
	// Global flags
	cfgFile  string
	logLevel string

	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "sieveedit",
	Short: "Edit, check and manage Sieve mail filtering scripts",
	Long: `sieveedit reads Sieve scripts (RFC 5228) into a command tree, renders them
back in a canonical layout, negates and regroups tests, and validates scripts
against the extensions a server supports.

Scripts can be managed on a ManageSieve server (RFC 5804), in a local SQLite
workspace, or directly in a Postgres sieve_scripts table.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "TOML configuration file (defaults apply when unset)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")
}

// loadConfig reads the configuration before any command runs. Commands log
// to stderr; serve reinitializes logging from the [logging] section.
func loadConfig(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		cfg = config.NewDefaultConfig()
	} else {
		loaded, err := config.LoadConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		cfg = loaded
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	level := logger.ParseLevel(cfg.Logging.Level)
	if cfg.Logging.Level == "" || cfgFile == "" && logLevel == "" {
		level = slog.LevelWarn
	}
	logger.SetOutput(cmd.ErrOrStderr(), cfg.Logging.Format, level)
	return nil
}
