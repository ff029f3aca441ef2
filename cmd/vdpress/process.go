package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/foxzi/vdpress/internal/app"
	"github.com/foxzi/vdpress/internal/models"
	"github.com/foxzi/vdpress/internal/progress"
)

var processCmd = &cobra.Command{
	Use:   "process [campaign-id]",
	Short: "Personalize and render every recipient of a campaign",
	Long: `Run a campaign batch in the foreground. Progress goes to stderr.
Interrupting the run stops scheduling new recipients and marks the campaign paused.`,
	Args: cobra.ExactArgs(1),
	RunE: runProcess,
}

var (
	orgID       string
	processJSON bool
)

func init() {
	processCmd.Flags().StringVar(&orgID, "org", "", "Organization ID")
	processCmd.Flags().BoolVar(&processJSON, "json", false, "Print the result as JSON")
	processCmd.MarkFlagRequired("org")
}

func runProcess(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	application, err := app.New(cfg, version)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	defer application.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	res, err := application.Process(ctx, args[0], orgID, printProgress)
	if err != nil {
		return err
	}

	if processJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	fmt.Printf("Campaign %s: %s\n", res.CampaignID, res.Status)
	fmt.Printf("  Recipients: %d\n", res.TotalRecipients)
	fmt.Printf("  Succeeded:  %d\n", res.SuccessCount)
	fmt.Printf("  Failed:     %d\n", res.FailureCount)
	fmt.Printf("  Duration:   %.1fs\n", res.DurationSeconds)
	for _, e := range res.Errors {
		fmt.Printf("  ! %s (%s): %s\n", e.RecipientName, e.RecipientID, e.Error)
	}

	if res.Status == models.CampaignFailed {
		return fmt.Errorf("no recipient was processed successfully")
	}
	return nil
}

func printProgress(ev progress.Event) {
	if ev.CurrentRecipientName != "" {
		fmt.Fprintf(os.Stderr, "[%3d%%] %d/%d %s\n", ev.Percentage, ev.Current, ev.Total, ev.CurrentRecipientName)
		return
	}
	fmt.Fprintf(os.Stderr, "[%3d%%] %d/%d %s\n", ev.Percentage, ev.Current, ev.Total, ev.Status)
}
