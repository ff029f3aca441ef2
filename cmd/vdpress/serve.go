package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/foxzi/vdpress/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long:  `Start the vdpress HTTP API, the tracking endpoint and, when enabled, the metrics server.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	application, err := app.New(cfg, version)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	return application.Run(context.Background())
}
