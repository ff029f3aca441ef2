package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/foxzi/vdpress/internal/models"
	"github.com/google/uuid"
)

type CampaignRepository struct {
	db *sql.DB
}

func NewCampaignRepository(db *sql.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

// Create creates a new campaign
func (r *CampaignRepository) Create(ctx context.Context, c *models.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = models.CampaignDraft
	}
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO campaigns (id, organization_id, name, template_id, recipient_list_id, status, slot_metadata, field_mappings, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.OrgID, c.Name, c.TemplateID, c.RecipientListID, c.Status,
		nullJSON(c.SlotMetadata), nullJSON(c.FieldMappings), nullJSON(c.Data), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

// GetByID returns a campaign owned by the organization
func (r *CampaignRepository) GetByID(ctx context.Context, id, orgID string) (*models.Campaign, error) {
	c := &models.Campaign{}
	var meta, mappings, data sql.NullString
	var startedAt, completedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT id, organization_id, name, template_id, recipient_list_id, status, slot_metadata, field_mappings, data,
			started_at, completed_at, created_at, updated_at
		FROM campaigns WHERE id = ? AND organization_id = ?`, id, orgID,
	).Scan(&c.ID, &c.OrgID, &c.Name, &c.TemplateID, &c.RecipientListID, &c.Status, &meta, &mappings, &data,
		&startedAt, &completedAt, &c.CreatedAt, &c.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	c.SlotMetadata = meta.String
	c.FieldMappings = mappings.String
	c.Data = data.String
	if startedAt.Valid {
		c.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		c.CompletedAt = &completedAt.Time
	}
	return c, nil
}

// MarkSending moves a campaign to sending unless it is already there.
// It reports false when another run holds the campaign.
func (r *CampaignRepository) MarkSending(ctx context.Context, id, orgID string) (bool, error) {
	now := time.Now()
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET status = ?, started_at = ?, completed_at = NULL, updated_at = ?
		WHERE id = ? AND organization_id = ? AND status != ?`,
		models.CampaignSending, now, now, id, orgID, models.CampaignSending,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update campaign status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// UpdateStatus sets the campaign status. Terminal statuses stamp completed_at.
func (r *CampaignRepository) UpdateStatus(ctx context.Context, id, orgID, status string) error {
	now := time.Now()

	var completedAt any
	if status == models.CampaignCompleted || status == models.CampaignFailed {
		completedAt = now
	}

	_, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET status = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND organization_id = ?`,
		status, completedAt, now, id, orgID,
	)
	if err != nil {
		return fmt.Errorf("failed to update campaign status: %w", err)
	}
	return nil
}
