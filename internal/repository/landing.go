package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/foxzi/vdpress/internal/models"
	"github.com/google/uuid"
)

type LandingRepository struct {
	db *sql.DB
}

func NewLandingRepository(db *sql.DB) *LandingRepository {
	return &LandingRepository{db: db}
}

// UpsertLandingPage stores a per-recipient landing page keyed by tracking code
func (r *LandingRepository) UpsertLandingPage(ctx context.Context, lp *models.LandingPage) error {
	if lp.ID == "" {
		lp.ID = uuid.New().String()
	}
	if lp.CreatedAt.IsZero() {
		lp.CreatedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO landing_pages (id, organization_id, campaign_id, recipient_id, tracking_code,
			title, headline, body, cta_text, cta_url, redirect_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tracking_code) DO UPDATE SET
			title = excluded.title,
			headline = excluded.headline,
			body = excluded.body,
			cta_text = excluded.cta_text,
			cta_url = excluded.cta_url,
			redirect_url = excluded.redirect_url`,
		lp.ID, lp.OrgID, lp.CampaignID, lp.RecipientID, lp.TrackingCode,
		lp.Title, lp.Headline, lp.Body, lp.CTAText, lp.CTAURL, lp.RedirectURL, lp.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save landing page: %w", err)
	}
	return nil
}

// GetByTrackingCode returns the landing page for a scanned token
func (r *LandingRepository) GetByTrackingCode(ctx context.Context, code string) (*models.LandingPage, error) {
	lp := &models.LandingPage{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, organization_id, campaign_id, recipient_id, tracking_code,
			title, headline, body, cta_text, cta_url, redirect_url, created_at
		FROM landing_pages WHERE tracking_code = ?`, code,
	).Scan(&lp.ID, &lp.OrgID, &lp.CampaignID, &lp.RecipientID, &lp.TrackingCode,
		&lp.Title, &lp.Headline, &lp.Body, &lp.CTAText, &lp.CTAURL, &lp.RedirectURL, &lp.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return lp, nil
}
