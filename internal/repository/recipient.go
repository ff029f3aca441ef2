package repository

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/foxzi/vdpress/internal/models"
	"github.com/google/uuid"
)

type RecipientRepository struct {
	db *sql.DB
}

func NewRecipientRepository(db *sql.DB) *RecipientRepository {
	return &RecipientRepository{db: db}
}

const recipientColumns = `id, list_id, first_name, last_name, email, phone, address1, address2, city, state, zip, country, metadata, created_at`

// CreateList creates a new recipient list
func (r *RecipientRepository) CreateList(ctx context.Context, list *models.RecipientList) error {
	if list.ID == "" {
		list.ID = uuid.New().String()
	}
	if list.SourceType == "" {
		list.SourceType = "manual"
	}
	list.CreatedAt = time.Now()
	list.UpdatedAt = list.CreatedAt

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO recipient_lists (id, organization_id, name, description, source_type, total_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		list.ID, list.OrgID, list.Name, list.Description, list.SourceType, list.TotalCount, list.CreatedAt, list.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create recipient list: %w", err)
	}
	return nil
}

// GetListByID returns a recipient list owned by the organization
func (r *RecipientRepository) GetListByID(ctx context.Context, id, orgID string) (*models.RecipientList, error) {
	list := &models.RecipientList{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, organization_id, name, description, source_type, total_count, created_at, updated_at
		FROM recipient_lists WHERE id = ? AND organization_id = ?`, id, orgID,
	).Scan(&list.ID, &list.OrgID, &list.Name, &list.Description, &list.SourceType, &list.TotalCount, &list.CreatedAt, &list.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return list, nil
}

// UpdateListCounts recounts the recipients of a list
func (r *RecipientRepository) UpdateListCounts(ctx context.Context, listID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE recipient_lists SET
			total_count = (SELECT COUNT(*) FROM recipients WHERE list_id = ?),
			updated_at = ?
		WHERE id = ?`,
		listID, time.Now(), listID,
	)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertRecipient(ctx context.Context, ex execer, rec *models.Recipient) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	metadata, err := models.EncodeMetadata(rec.Metadata)
	if err != nil {
		return err
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO recipients (`+recipientColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ListID, rec.FirstName, rec.LastName, rec.Email, rec.Phone,
		rec.Address1, rec.Address2, rec.City, rec.State, rec.Zip, rec.Country,
		metadata, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add recipient: %w", err)
	}
	return nil
}

// AddRecipient adds a single recipient to a list
func (r *RecipientRepository) AddRecipient(ctx context.Context, rec *models.Recipient) error {
	if err := insertRecipient(ctx, r.db, rec); err != nil {
		return err
	}
	return r.UpdateListCounts(ctx, rec.ListID)
}

// GetRecipient returns a recipient by ID
func (r *RecipientRepository) GetRecipient(ctx context.Context, id string) (*models.Recipient, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+recipientColumns+` FROM recipients WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanRecipient(rows)
}

// ListByListID returns every recipient of a list in insertion order
func (r *RecipientRepository) ListByListID(ctx context.Context, listID string) ([]*models.Recipient, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recipientColumns+`
		FROM recipients WHERE list_id = ?
		ORDER BY created_at, rowid`, listID)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipients: %w", err)
	}
	defer rows.Close()

	recipients := []*models.Recipient{}
	for rows.Next() {
		rec, err := scanRecipient(rows)
		if err != nil {
			return nil, err
		}
		recipients = append(recipients, rec)
	}
	return recipients, rows.Err()
}

func scanRecipient(rows *sql.Rows) (*models.Recipient, error) {
	rec := &models.Recipient{}
	var metadata sql.NullString
	if err := rows.Scan(&rec.ID, &rec.ListID, &rec.FirstName, &rec.LastName, &rec.Email, &rec.Phone,
		&rec.Address1, &rec.Address2, &rec.City, &rec.State, &rec.Zip, &rec.Country,
		&metadata, &rec.CreatedAt); err != nil {
		return nil, err
	}

	m, err := models.ParseMetadata(metadata.String)
	if err != nil {
		return nil, fmt.Errorf("recipient %s: %w", rec.ID, err)
	}
	rec.Metadata = m
	return rec, nil
}

// column aliases accepted in CSV headers, keyed by normalized name
var csvColumns = map[string]string{
	"firstname":    "first_name",
	"first":        "first_name",
	"givenname":    "first_name",
	"lastname":     "last_name",
	"last":         "last_name",
	"surname":      "last_name",
	"familyname":   "last_name",
	"email":        "email",
	"emailaddress": "email",
	"phone":        "phone",
	"phonenumber":  "phone",
	"address":      "address1",
	"address1":     "address1",
	"addressline1": "address1",
	"street":       "address1",
	"address2":     "address2",
	"addressline2": "address2",
	"city":         "city",
	"state":        "state",
	"province":     "state",
	"zip":          "zip",
	"zipcode":      "zip",
	"postalcode":   "zip",
	"country":      "country",
}

func normalizeColumn(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '_', '-', ' ':
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(s)))
}

// ImportCSV imports recipients from CSV data. Known columns map to recipient
// fields, every other column is kept as metadata.
func (r *RecipientRepository) ImportCSV(ctx context.Context, listID string, reader io.Reader) (*models.RecipientImportResult, error) {
	result := &models.RecipientImportResult{}

	csvReader := csv.NewReader(reader)
	csvReader.FieldsPerRecord = -1
	csvReader.TrimLeadingSpace = true

	// Read header
	header, err := csvReader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	fields := make([]string, len(header))
	known := 0
	for i, col := range header {
		if f, ok := csvColumns[normalizeColumn(col)]; ok {
			fields[i] = f
			known++
		}
	}
	if known == 0 {
		return nil, fmt.Errorf("no recipient columns found in CSV header")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for {
		record, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		result.Total++
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: %v", result.Total, err))
			result.Skipped++
			continue
		}

		rec := &models.Recipient{ListID: listID}
		empty := true
		for i, value := range record {
			value = strings.TrimSpace(value)
			if value == "" || i >= len(header) {
				continue
			}
			empty = false
			if !setRecipientField(rec, fields[i], value) {
				if rec.Metadata == nil {
					rec.Metadata = make(map[string]string)
				}
				rec.Metadata[strings.TrimSpace(header[i])] = value
			}
		}
		if empty {
			result.Skipped++
			continue
		}

		if err := insertRecipient(ctx, tx, rec); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: %v", result.Total, err))
			result.Skipped++
			continue
		}
		result.Imported++
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit import: %w", err)
	}

	if err := r.UpdateListCounts(ctx, listID); err != nil {
		return result, fmt.Errorf("failed to update list counts: %w", err)
	}
	return result, nil
}

func setRecipientField(rec *models.Recipient, field, value string) bool {
	switch field {
	case "first_name":
		rec.FirstName = value
	case "last_name":
		rec.LastName = value
	case "email":
		rec.Email = value
	case "phone":
		rec.Phone = value
	case "address1":
		rec.Address1 = value
	case "address2":
		rec.Address2 = value
	case "city":
		rec.City = value
	case "state":
		rec.State = value
	case "zip":
		rec.Zip = value
	case "country":
		rec.Country = value
	default:
		return false
	}
	return true
}
