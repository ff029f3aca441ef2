package repository

import (
	"context"
	"database/sql"

	"github.com/foxzi/vdpress/internal/models"
)

// Store bundles the repositories behind the operations the batch
// processor and API need
type Store struct {
	Campaigns  *CampaignRepository
	Templates  *TemplateRepository
	Recipients *RecipientRepository
	Tracking   *TrackingRepository
	Landing    *LandingRepository
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		Campaigns:  NewCampaignRepository(db),
		Templates:  NewTemplateRepository(db),
		Recipients: NewRecipientRepository(db),
		Tracking:   NewTrackingRepository(db),
		Landing:    NewLandingRepository(db),
	}
}

func (s *Store) GetCampaign(ctx context.Context, id, orgID string) (*models.Campaign, error) {
	return s.Campaigns.GetByID(ctx, id, orgID)
}

func (s *Store) GetTemplate(ctx context.Context, id, orgID string) (*models.Template, error) {
	return s.Templates.GetByID(ctx, id, orgID)
}

// GetRecipients returns the recipients of a list owned by the organization
func (s *Store) GetRecipients(ctx context.Context, listID, orgID string) ([]*models.Recipient, error) {
	list, err := s.Recipients.GetListByID(ctx, listID, orgID)
	if err != nil || list == nil {
		return nil, err
	}
	return s.Recipients.ListByListID(ctx, listID)
}

func (s *Store) MarkSending(ctx context.Context, id, orgID string) (bool, error) {
	return s.Campaigns.MarkSending(ctx, id, orgID)
}

func (s *Store) UpdateCampaignStatus(ctx context.Context, id, orgID, status string) error {
	return s.Campaigns.UpdateStatus(ctx, id, orgID, status)
}

func (s *Store) GetCampaignRecipient(ctx context.Context, campaignID, recipientID string) (*models.CampaignRecipient, error) {
	return s.Tracking.GetCampaignRecipient(ctx, campaignID, recipientID)
}

func (s *Store) GetCampaignRecipientByCode(ctx context.Context, code string) (*models.CampaignRecipient, error) {
	return s.Tracking.GetByTrackingCode(ctx, code)
}

func (s *Store) SaveCampaignRecipient(ctx context.Context, cr *models.CampaignRecipient) error {
	return s.Tracking.UpsertCampaignRecipient(ctx, cr)
}

func (s *Store) SaveLandingPage(ctx context.Context, lp *models.LandingPage) error {
	return s.Landing.UpsertLandingPage(ctx, lp)
}

func (s *Store) GetLandingPage(ctx context.Context, code string) (*models.LandingPage, error) {
	return s.Landing.GetByTrackingCode(ctx, code)
}
