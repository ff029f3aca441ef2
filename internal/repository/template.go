package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/foxzi/vdpress/internal/models"
	"github.com/google/uuid"
)

type TemplateRepository struct {
	db *sql.DB
}

func NewTemplateRepository(db *sql.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

// Create stores a new template
func (r *TemplateRepository) Create(ctx context.Context, t *models.Template) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO templates (id, organization_id, name, document, slot_metadata, surfaces, print_format, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.OrgID, t.Name, nullJSON(t.Document), nullJSON(t.SlotMetadata), nullJSON(t.Surfaces), t.PrintFormat, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}
	return nil
}

// GetByID returns a template owned by the organization
func (r *TemplateRepository) GetByID(ctx context.Context, id, orgID string) (*models.Template, error) {
	t := &models.Template{}
	var doc, meta, surfaces sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT id, organization_id, name, document, slot_metadata, surfaces, print_format, created_at, updated_at
		FROM templates WHERE id = ? AND organization_id = ?`, id, orgID,
	).Scan(&t.ID, &t.OrgID, &t.Name, &doc, &meta, &surfaces, &t.PrintFormat, &t.CreatedAt, &t.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.Document = doc.String
	t.SlotMetadata = meta.String
	t.Surfaces = surfaces.String
	return t, nil
}

// Update replaces the template design
func (r *TemplateRepository) Update(ctx context.Context, t *models.Template) error {
	t.UpdatedAt = time.Now()
	_, err := r.db.ExecContext(ctx, `
		UPDATE templates SET name = ?, document = ?, slot_metadata = ?, surfaces = ?, print_format = ?, updated_at = ?
		WHERE id = ? AND organization_id = ?`,
		t.Name, nullJSON(t.Document), nullJSON(t.SlotMetadata), nullJSON(t.Surfaces), t.PrintFormat, t.UpdatedAt, t.ID, t.OrgID,
	)
	if err != nil {
		return fmt.Errorf("failed to update template: %w", err)
	}
	return nil
}

func nullJSON(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
