package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/foxzi/vdpress/internal/db"
	"github.com/foxzi/vdpress/internal/models"
	"github.com/foxzi/vdpress/internal/repository"
)

var recipientsCmd = &cobra.Command{
	Use:   "recipients",
	Short: "Recipient list commands",
}

var recipientsImportCmd = &cobra.Command{
	Use:   "import [file.csv]",
	Short: "Import recipients from a CSV file",
	Long: `Import recipients from a CSV file. Columns are matched to recipient
fields by header name; unknown columns are kept as custom fields.
Without --list a new list is created.`,
	Args: cobra.ExactArgs(1),
	RunE: runRecipientsImport,
}

var (
	importListID   string
	importListName string
)

func init() {
	recipientsImportCmd.Flags().StringVar(&orgID, "org", "", "Organization ID")
	recipientsImportCmd.Flags().StringVar(&importListID, "list", "", "Existing recipient list ID")
	recipientsImportCmd.Flags().StringVar(&importListName, "name", "", "Name of the new list (defaults to the file name)")
	recipientsImportCmd.MarkFlagRequired("org")

	recipientsCmd.AddCommand(recipientsImportCmd)
}

func runRecipientsImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer database.Close()

	repo := repository.NewStore(database.DB).Recipients
	ctx := cmd.Context()

	if importListID != "" {
		list, err := repo.GetListByID(ctx, importListID, orgID)
		if err != nil {
			return err
		}
		if list == nil {
			return fmt.Errorf("recipient list %s not found", importListID)
		}
	} else {
		name := importListName
		if name == "" {
			name = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
		}
		list := &models.RecipientList{OrgID: orgID, Name: name, SourceType: "csv"}
		if err := repo.CreateList(ctx, list); err != nil {
			return err
		}
		importListID = list.ID
		fmt.Printf("Created list %s (%s)\n", list.Name, list.ID)
	}

	res, err := repo.ImportCSV(ctx, importListID, f)
	if err != nil {
		return err
	}

	fmt.Printf("Imported %d of %d rows into %s (%d skipped)\n", res.Imported, res.Total, importListID, res.Skipped)
	for _, e := range res.Errors {
		fmt.Printf("  %s\n", e)
	}
	return nil
}
