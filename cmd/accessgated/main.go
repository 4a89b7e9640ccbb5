package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"accessgate/internal/config"
	"accessgate/internal/logging"
)

// Version information (set at build time with -ldflags)
var Version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:           "accessgated",
	Short:         "Paystack-backed access entitlements for email and device pairs",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("AG_CONFIG"), "path to YAML config file (env AG_CONFIG)")
	rootCmd.AddCommand(serveCmd, migrateCmd, plansCmd, reconcileCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, zerolog.Nop(), fmt.Errorf("config: %w", err)
	}
	logger := logging.Init(loggingConfig(cfg))
	return cfg, logger, nil
}

// loggingConfig leaves Component unset; each subsystem logger adds its own.
func loggingConfig(cfg config.Config) logging.Config {
	return logging.Config{
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
		Service: "accessgated",
	}
}
