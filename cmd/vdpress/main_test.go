package main

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/foxzi/vdpress/internal/db"
	"github.com/foxzi/vdpress/internal/models"
	"github.com/foxzi/vdpress/internal/repository"
	"github.com/foxzi/vdpress/internal/validation"
)

func TestHashAPIKey(t *testing.T) {
	hash, err := hashAPIKey("a-very-long-api-key", "a-very-long-api-key")
	if err != nil {
		t.Fatalf("hashAPIKey() error = %v", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("a-very-long-api-key")); err != nil {
		t.Errorf("hash does not match key: %v", err)
	}

	tests := []struct {
		name, key, confirm string
	}{
		{"mismatch", "a-very-long-api-key", "another-long-api-key"},
		{"too short", "short", "short"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := hashAPIKey(tt.key, tt.confirm); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func setupStore(t *testing.T) *repository.Store {
	t.Helper()
	d, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	if err := d.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return repository.NewStore(d.DB)
}

func seed(t *testing.T, s *repository.Store, csv string) *models.Campaign {
	t.Helper()
	ctx := context.Background()

	list := &models.RecipientList{OrgID: "org-1", Name: "Spring"}
	if err := s.Recipients.CreateList(ctx, list); err != nil {
		t.Fatalf("CreateList() error = %v", err)
	}
	if csv != "" {
		if _, err := s.Recipients.ImportCSV(ctx, list.ID, strings.NewReader(csv)); err != nil {
			t.Fatalf("ImportCSV() error = %v", err)
		}
	}
	tmpl := &models.Template{OrgID: "org-1", Name: "Card", Document: `{"objects":[]}`}
	if err := s.Templates.Create(ctx, tmpl); err != nil {
		t.Fatalf("Create template error = %v", err)
	}
	c := &models.Campaign{OrgID: "org-1", Name: "Launch", TemplateID: tmpl.ID, RecipientListID: list.ID}
	if err := s.Campaigns.Create(ctx, c); err != nil {
		t.Fatalf("Create campaign error = %v", err)
	}
	return c
}

func TestValidateCampaign(t *testing.T) {
	s := setupStore(t)
	c := seed(t, s, "first_name,last_name,city\nJane,Doe,Springfield\nJohn,Roe,Shelbyville\n")

	res, err := validateCampaign(context.Background(), s, c.ID, "org-1")
	if err != nil {
		t.Fatalf("validateCampaign() error = %v", err)
	}
	if !res.OverallValid || res.Summary.TotalRecipients != 2 {
		t.Errorf("unexpected result %+v", res.Summary)
	}
}

func TestValidateCampaignErrors(t *testing.T) {
	s := setupStore(t)
	c := seed(t, s, "")

	if _, err := validateCampaign(context.Background(), s, c.ID, "org-1"); !errors.Is(err, validation.ErrNoRecipients) {
		t.Errorf("empty list error = %v, want ErrNoRecipients", err)
	}
	if _, err := validateCampaign(context.Background(), s, c.ID, "org-2"); err == nil {
		t.Error("expected error for campaign of another organization")
	}
}
