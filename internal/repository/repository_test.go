package repository

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/foxzi/vdpress/internal/db"
	"github.com/foxzi/vdpress/internal/models"
)

// setupTestStore creates a migrated SQLite database in a temp directory
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	d, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	if err := d.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return NewStore(d.DB)
}

func seedCampaign(t *testing.T, s *Store, org string) *models.Campaign {
	t.Helper()
	ctx := context.Background()

	list := &models.RecipientList{OrgID: org, Name: "Spring"}
	if err := s.Recipients.CreateList(ctx, list); err != nil {
		t.Fatalf("CreateList() error = %v", err)
	}
	tmpl := &models.Template{OrgID: org, Name: "Card", Document: `{"objects":[]}`}
	if err := s.Templates.Create(ctx, tmpl); err != nil {
		t.Fatalf("Create template error = %v", err)
	}
	c := &models.Campaign{OrgID: org, Name: "Launch", TemplateID: tmpl.ID, RecipientListID: list.ID}
	if err := s.Campaigns.Create(ctx, c); err != nil {
		t.Fatalf("Create campaign error = %v", err)
	}
	return c
}

func TestCampaignRepository_OrgScoped(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	c := seedCampaign(t, s, "org-1")

	got, err := s.GetCampaign(ctx, c.ID, "org-1")
	if err != nil || got == nil {
		t.Fatalf("GetCampaign() = %v, %v", got, err)
	}
	if got.Status != models.CampaignDraft || got.StartedAt != nil {
		t.Errorf("unexpected campaign %+v", got)
	}

	other, err := s.GetCampaign(ctx, c.ID, "org-2")
	if err != nil || other != nil {
		t.Errorf("GetCampaign(other org) = %v, %v; want nil, nil", other, err)
	}
	tmpl, err := s.GetTemplate(ctx, c.TemplateID, "org-2")
	if err != nil || tmpl != nil {
		t.Errorf("GetTemplate(other org) = %v, %v; want nil, nil", tmpl, err)
	}
}

func TestCampaignRepository_Status(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	c := seedCampaign(t, s, "org-1")

	ok, err := s.MarkSending(ctx, c.ID, "org-1")
	if err != nil || !ok {
		t.Fatalf("MarkSending() = %v, %v; want true", ok, err)
	}
	ok, err = s.MarkSending(ctx, c.ID, "org-1")
	if err != nil || ok {
		t.Errorf("second MarkSending() = %v, %v; want false", ok, err)
	}

	if err := s.UpdateCampaignStatus(ctx, c.ID, "org-1", models.CampaignCompleted); err != nil {
		t.Fatalf("UpdateCampaignStatus() error = %v", err)
	}
	got, _ := s.GetCampaign(ctx, c.ID, "org-1")
	if got.Status != models.CampaignCompleted || got.StartedAt == nil || got.CompletedAt == nil {
		t.Errorf("unexpected campaign after completion %+v", got)
	}
}

func TestRecipientRepository_ImportCSV(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	c := seedCampaign(t, s, "org-1")

	data := "First Name,last_name,Email,Street,City,ZIP Code,favorite_color\n" +
		"Jane,Doe,jane@example.com,1 Main St,Springfield,62701,blue\n" +
		",,,,,,\n" +
		"John,Roe,,2 Oak Ave,Shelbyville,62565,\n"

	res, err := s.Recipients.ImportCSV(ctx, c.RecipientListID, strings.NewReader(data))
	if err != nil {
		t.Fatalf("ImportCSV() error = %v", err)
	}
	want := &models.RecipientImportResult{Total: 3, Imported: 2, Skipped: 1}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Errorf("ImportCSV() mismatch (-want +got):\n%s", diff)
	}

	recipients, err := s.GetRecipients(ctx, c.RecipientListID, "org-1")
	if err != nil {
		t.Fatalf("GetRecipients() error = %v", err)
	}
	if len(recipients) != 2 {
		t.Fatalf("len(recipients) = %d, want 2", len(recipients))
	}
	jane := recipients[0]
	if jane.FirstName != "Jane" || jane.Address1 != "1 Main St" || jane.Zip != "62701" {
		t.Errorf("unexpected recipient %+v", jane)
	}
	if jane.Metadata["favorite_color"] != "blue" {
		t.Errorf("metadata = %v, want favorite_color", jane.Metadata)
	}
	if len(recipients[1].Metadata) != 0 {
		t.Errorf("metadata = %v, want empty", recipients[1].Metadata)
	}

	list, _ := s.Recipients.GetListByID(ctx, c.RecipientListID, "org-1")
	if list.TotalCount != 2 {
		t.Errorf("TotalCount = %d, want 2", list.TotalCount)
	}

	if other, _ := s.GetRecipients(ctx, c.RecipientListID, "org-2"); len(other) != 0 {
		t.Errorf("recipients leaked across organizations: %d", len(other))
	}
}

func TestRecipientRepository_ImportCSVUnknownHeader(t *testing.T) {
	s := setupTestStore(t)
	c := seedCampaign(t, s, "org-1")

	_, err := s.Recipients.ImportCSV(context.Background(), c.RecipientListID, strings.NewReader("foo,bar\n1,2\n"))
	if err == nil {
		t.Error("expected error for header without recipient columns")
	}
}

func TestTrackingRepository_Upsert(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	c := seedCampaign(t, s, "org-1")

	cr := &models.CampaignRecipient{
		CampaignID:   c.ID,
		RecipientID:  "r-1",
		OrgID:        "org-1",
		TrackingCode: "tok-1",
		ArtifactPath: "campaigns/c/r-1/postcard.pdf",
	}
	if err := s.SaveCampaignRecipient(ctx, cr); err != nil {
		t.Fatalf("SaveCampaignRecipient() error = %v", err)
	}

	again := &models.CampaignRecipient{
		CampaignID:   c.ID,
		RecipientID:  "r-1",
		OrgID:        "org-1",
		TrackingCode: "tok-1",
		ArtifactPath: "campaigns/c/r-1/postcard-v2.pdf",
	}
	if err := s.SaveCampaignRecipient(ctx, again); err != nil {
		t.Fatalf("second SaveCampaignRecipient() error = %v", err)
	}

	rows, err := s.Tracking.ListByCampaign(ctx, c.ID, "org-1")
	if err != nil {
		t.Fatalf("ListByCampaign() error = %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("len(rows) = %d, want 1 after upsert", len(rows))
	}
	if rows[0].ID != cr.ID || rows[0].ArtifactPath != "campaigns/c/r-1/postcard-v2.pdf" {
		t.Errorf("unexpected row %+v", rows[0])
	}

	byCode, err := s.GetCampaignRecipientByCode(ctx, "tok-1")
	if err != nil || byCode == nil || byCode.RecipientID != "r-1" {
		t.Errorf("GetCampaignRecipientByCode() = %+v, %v", byCode, err)
	}
	missing, err := s.GetCampaignRecipient(ctx, c.ID, "r-2")
	if err != nil || missing != nil {
		t.Errorf("GetCampaignRecipient(missing) = %v, %v; want nil, nil", missing, err)
	}
}

func TestLandingRepository_Upsert(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	c := seedCampaign(t, s, "org-1")

	lp := &models.LandingPage{OrgID: "org-1", CampaignID: c.ID, RecipientID: "r-1", TrackingCode: "tok-1", Headline: "Hi Jane"}
	if err := s.SaveLandingPage(ctx, lp); err != nil {
		t.Fatalf("SaveLandingPage() error = %v", err)
	}
	lp2 := &models.LandingPage{OrgID: "org-1", CampaignID: c.ID, RecipientID: "r-1", TrackingCode: "tok-1", Headline: "Hello Jane"}
	if err := s.SaveLandingPage(ctx, lp2); err != nil {
		t.Fatalf("second SaveLandingPage() error = %v", err)
	}

	got, err := s.GetLandingPage(ctx, "tok-1")
	if err != nil || got == nil {
		t.Fatalf("GetLandingPage() = %v, %v", got, err)
	}
	if got.ID != lp.ID || got.Headline != "Hello Jane" {
		t.Errorf("unexpected landing page %+v", got)
	}
}
