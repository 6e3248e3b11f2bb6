package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-pdu/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-pdu/internal/infrastructure/logging"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

var (
	// Flags
	flagConfig   string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "pdubridge",
	Short: "UniFi PDU outlet bridge for Gray Logic",
	Long: `pdubridge exposes every outlet of the configured UniFi power-distribution
units as a switchable accessory. Outlets are discovered through the UniFi
Network controller, cached in SQLite and published on MQTT.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file path (env: PDUBRIDGE_CONFIG, default: "+defaultConfigPath+")")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Override logging.level: debug, info, warn, error")
}

// Execute runs the root command.
func Execute() {
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(fmt.Sprintf("pdubridge %s (commit %s, built %s)\n", version, commit, date))
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// getConfigPath returns the configuration file path from the flag, the
// PDUBRIDGE_CONFIG environment variable, or the default.
func getConfigPath() string {
	if flagConfig != "" {
		return flagConfig
	}
	if path := os.Getenv("PDUBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadConfig loads the configuration and builds the logger it describes.
func loadConfig() (*config.Config, *logging.Logger, error) {
	path := getConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	if flagLogLevel != "" {
		cfg.Logging.Level = flagLogLevel
	}
	return cfg, logging.New(cfg.Logging, version), nil
}

// withTimeout derives a bounded context from the command's context.
func withTimeout(cmd *cobra.Command, d time.Duration) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, d)
}
