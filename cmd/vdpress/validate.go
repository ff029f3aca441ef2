package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/foxzi/vdpress/internal/db"
	"github.com/foxzi/vdpress/internal/document"
	"github.com/foxzi/vdpress/internal/repository"
	"github.com/foxzi/vdpress/internal/validation"
)

var validateCmd = &cobra.Command{
	Use:   "validate [campaign-id]",
	Short: "Check campaign recipients against the template",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

var validateJSON bool

func init() {
	validateCmd.Flags().StringVar(&orgID, "org", "", "Organization ID")
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "Print the full report as JSON")
	validateCmd.MarkFlagRequired("org")
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer database.Close()

	res, err := validateCampaign(cmd.Context(), repository.NewStore(database.DB), args[0], orgID)
	if err != nil {
		return err
	}

	if validateJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		printValidation(res)
	}

	if !res.OverallValid {
		return errors.New("validation failed")
	}
	return nil
}

func validateCampaign(ctx context.Context, store *repository.Store, campaignID, org string) (*validation.BatchResult, error) {
	campaign, err := store.GetCampaign(ctx, campaignID, org)
	if err != nil {
		return nil, err
	}
	if campaign == nil {
		return nil, fmt.Errorf("campaign %s not found", campaignID)
	}

	tmpl, err := store.GetTemplate(ctx, campaign.TemplateID, org)
	if err != nil {
		return nil, err
	}
	if tmpl == nil {
		return nil, fmt.Errorf("template %s not found", campaign.TemplateID)
	}

	layout, err := tmpl.Layout()
	if err != nil {
		return nil, fmt.Errorf("invalid template: %w", err)
	}
	snapshot, err := document.ParseSlotMetadata([]byte(campaign.SlotMetadata))
	if err != nil {
		return nil, fmt.Errorf("invalid campaign slot metadata: %w", err)
	}
	surfaces, err := layout.Load(snapshot)
	if err != nil {
		return nil, fmt.Errorf("invalid template: %w", err)
	}
	front, back := document.Pick(surfaces)
	if front == nil {
		return nil, errors.New("template has no front surface")
	}

	recipients, err := store.GetRecipients(ctx, campaign.RecipientListID, org)
	if err != nil {
		return nil, err
	}

	return validation.ValidateSurfaces([]*document.Surface{front, back}, recipients)
}

func printValidation(res *validation.BatchResult) {
	s := res.Summary
	fmt.Printf("Recipients: %d valid, %d invalid (of %d)\n", s.ValidRecipients, s.InvalidRecipients, s.TotalRecipients)
	fmt.Printf("Findings:   %d errors, %d warnings, %d info\n", s.TotalErrors, s.TotalWarnings, s.TotalInfo)

	for _, c := range res.CriticalErrors {
		fmt.Printf("CRITICAL: %s\n", c)
	}
	for _, f := range res.Canvas {
		fmt.Printf("canvas %s: %s\n", f.Severity, f.Message)
	}
	for _, r := range res.Results {
		for _, f := range r.Errors {
			fmt.Printf("  #%d %s: %s\n", r.RecipientIndex, r.RecipientID, f.Message)
		}
	}
}
