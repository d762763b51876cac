package main

import (
	"github.com/spf13/cobra"

	"github.com/PiranhaCodes/ptybroker/internal/config"
	"github.com/PiranhaCodes/ptybroker/internal/logger"
)

var (
	cfgPath  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "ptybroker",
	Short: "PTY session broker",
	Long: `ptybroker allocates pseudo-terminal pairs, launches programs as session
leaders on them, and relays bytes between the caller and the child's
terminal until the session ends.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", config.DefaultConfigPath, "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides config")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
}

// setup loads the configuration and builds the logger the subcommands share.
func setup(console bool) (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	log, err := logger.New(logger.Config{
		Level:   cfg.LogLevel,
		File:    cfg.LogFile,
		Console: console,
		Pretty:  console,
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}
