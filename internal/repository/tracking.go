package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/foxzi/vdpress/internal/models"
	"github.com/google/uuid"
)

type TrackingRepository struct {
	db *sql.DB
}

func NewTrackingRepository(db *sql.DB) *TrackingRepository {
	return &TrackingRepository{db: db}
}

const campaignRecipientColumns = `id, campaign_id, recipient_id, organization_id, document, tracking_code,
	code_image_path, code_image_url, artifact_path, artifact_url, landing_page_url, created_at, updated_at`

// UpsertCampaignRecipient records the tracking row of one recipient.
// Re-running a campaign updates the existing row in place.
func (r *TrackingRepository) UpsertCampaignRecipient(ctx context.Context, cr *models.CampaignRecipient) error {
	if cr.ID == "" {
		cr.ID = uuid.New().String()
	}
	now := time.Now()
	if cr.CreatedAt.IsZero() {
		cr.CreatedAt = now
	}
	cr.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO campaign_recipients (`+campaignRecipientColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(campaign_id, recipient_id) DO UPDATE SET
			document = excluded.document,
			tracking_code = excluded.tracking_code,
			code_image_path = excluded.code_image_path,
			code_image_url = excluded.code_image_url,
			artifact_path = excluded.artifact_path,
			artifact_url = excluded.artifact_url,
			landing_page_url = excluded.landing_page_url,
			updated_at = excluded.updated_at`,
		cr.ID, cr.CampaignID, cr.RecipientID, cr.OrgID, nullJSON(cr.Document), cr.TrackingCode,
		cr.CodeImagePath, cr.CodeImageURL, cr.ArtifactPath, cr.ArtifactURL, cr.LandingPageURL,
		cr.CreatedAt, cr.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save campaign recipient: %w", err)
	}
	return nil
}

// GetCampaignRecipient returns the tracking row of a recipient in a campaign
func (r *TrackingRepository) GetCampaignRecipient(ctx context.Context, campaignID, recipientID string) (*models.CampaignRecipient, error) {
	return r.getOne(ctx, `SELECT `+campaignRecipientColumns+`
		FROM campaign_recipients WHERE campaign_id = ? AND recipient_id = ?`, campaignID, recipientID)
}

// GetByTrackingCode resolves a scanned token
func (r *TrackingRepository) GetByTrackingCode(ctx context.Context, code string) (*models.CampaignRecipient, error) {
	return r.getOne(ctx, `SELECT `+campaignRecipientColumns+`
		FROM campaign_recipients WHERE tracking_code = ?`, code)
}

// ListByCampaign returns all tracking rows of a campaign
func (r *TrackingRepository) ListByCampaign(ctx context.Context, campaignID, orgID string) ([]*models.CampaignRecipient, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+campaignRecipientColumns+`
		FROM campaign_recipients WHERE campaign_id = ? AND organization_id = ?
		ORDER BY created_at, rowid`, campaignID, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*models.CampaignRecipient{}
	for rows.Next() {
		cr, err := scanCampaignRecipient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cr)
	}
	return out, rows.Err()
}

func (r *TrackingRepository) getOne(ctx context.Context, query string, args ...any) (*models.CampaignRecipient, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanCampaignRecipient(rows)
}

func scanCampaignRecipient(rows *sql.Rows) (*models.CampaignRecipient, error) {
	cr := &models.CampaignRecipient{}
	var doc sql.NullString
	err := rows.Scan(&cr.ID, &cr.CampaignID, &cr.RecipientID, &cr.OrgID, &doc, &cr.TrackingCode,
		&cr.CodeImagePath, &cr.CodeImageURL, &cr.ArtifactPath, &cr.ArtifactURL, &cr.LandingPageURL,
		&cr.CreatedAt, &cr.UpdatedAt)
	if err != nil {
		return nil, err
	}
	cr.Document = doc.String
	return cr, nil
}
