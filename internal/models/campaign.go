package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Campaign statuses
const (
	CampaignDraft     = "draft"
	CampaignSending   = "sending"
	CampaignCompleted = "completed"
	CampaignFailed    = "failed"
	CampaignPaused    = "paused"
)

// Campaign pairs one template with one recipient list
type Campaign struct {
	ID              string     `json:"id"`
	OrgID           string     `json:"organization_id"`
	Name            string     `json:"name"`
	TemplateID      string     `json:"template_id"`
	RecipientListID string     `json:"recipient_list_id"`
	Status          string     `json:"status"`
	SlotMetadata    string     `json:"slot_metadata"`  // snapshot taken at launch, JSON
	FieldMappings   string     `json:"field_mappings"` // JSON array
	Data            string     `json:"data"`           // JSON, may carry landingPage
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// LandingPageConfig is the optional landing page setup of a campaign
type LandingPageConfig struct {
	Enabled     bool   `json:"enabled"`
	Title       string `json:"title"`
	Headline    string `json:"headline"`
	Body        string `json:"body"`
	CTAText     string `json:"ctaText"`
	CTAURL      string `json:"ctaUrl"`
	RedirectURL string `json:"redirectUrl"`
}

// LandingPage returns the landing page config, or nil when none is set
func (c *Campaign) LandingPage() (*LandingPageConfig, error) {
	s := strings.TrimSpace(c.Data)
	if s == "" || s == "null" {
		return nil, nil
	}

	var data struct {
		LandingPage *LandingPageConfig `json:"landingPage"`
	}
	if err := json.Unmarshal([]byte(s), &data); err != nil {
		return nil, fmt.Errorf("failed to parse campaign data: %w", err)
	}
	if data.LandingPage == nil || !data.LandingPage.Enabled {
		return nil, nil
	}
	return data.LandingPage, nil
}

// CampaignRecipient is the per-recipient tracking row
type CampaignRecipient struct {
	ID             string    `json:"id"`
	CampaignID     string    `json:"campaign_id"`
	RecipientID    string    `json:"recipient_id"`
	OrgID          string    `json:"organization_id"`
	Document       string    `json:"document,omitempty"` // personalized snapshot, JSON
	TrackingCode   string    `json:"tracking_code"`
	CodeImagePath  string    `json:"code_image_path"`
	CodeImageURL   string    `json:"code_image_url"`
	ArtifactPath   string    `json:"artifact_path"`
	ArtifactURL    string    `json:"artifact_url"`
	LandingPageURL string    `json:"landing_page_url"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// LandingPage is a per-recipient landing page keyed by tracking code
type LandingPage struct {
	ID           string    `json:"id"`
	OrgID        string    `json:"organization_id"`
	CampaignID   string    `json:"campaign_id"`
	RecipientID  string    `json:"recipient_id"`
	TrackingCode string    `json:"tracking_code"`
	Title        string    `json:"title"`
	Headline     string    `json:"headline"`
	Body         string    `json:"body"`
	CTAText      string    `json:"cta_text"`
	CTAURL       string    `json:"cta_url"`
	RedirectURL  string    `json:"redirect_url"`
	CreatedAt    time.Time `json:"created_at"`
}
