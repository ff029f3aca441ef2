package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE:  runConfigValidate,
}

func init() {
	configCmd.AddCommand(configValidateCmd)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	fmt.Printf("Configuration is valid\n")
	fmt.Printf("  Public URL: %s\n", cfg.Server.PublicURL)
	fmt.Printf("  API: %s\n", cfg.API.ListenAddr)
	fmt.Printf("  Database: %s\n", cfg.Database.Path)
	fmt.Printf("  Storage: %s\n", cfg.Storage.Path)
	fmt.Printf("  Tracking: %s\n", cfg.Tracking.BaseURL)
	fmt.Printf("  Concurrency: %d\n", cfg.Batch.Concurrency)
	fmt.Printf("  Progress: %s\n", cfg.Progress.Backend)
	if cfg.API.APIKeyHash == "" {
		fmt.Printf("  WARNING: api_key_hash is empty, the API is open\n")
	}
	if cfg.Metrics.Enabled {
		fmt.Printf("  Metrics: %s%s\n", cfg.Metrics.ListenAddr, cfg.Metrics.Path)
	}

	return nil
}
