package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/foxzi/vdpress/internal/document"
)

// Template is a stored canvas design
type Template struct {
	ID           string    `json:"id"`
	OrgID        string    `json:"organization_id"`
	Name         string    `json:"name"`
	Document     string    `json:"document"`      // legacy single surface, JSON
	SlotMetadata string    `json:"slot_metadata"` // JSON
	Surfaces     string    `json:"surfaces"`      // JSON array of {side, document, slotMetadata}
	PrintFormat  string    `json:"print_format"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Layout decodes the stored surfaces
func (t *Template) Layout() (document.Layout, error) {
	var layout document.Layout

	if s := strings.TrimSpace(t.Document); s != "" && s != "null" {
		layout.Document = json.RawMessage(s)
	}

	meta, err := document.ParseSlotMetadata([]byte(t.SlotMetadata))
	if err != nil {
		return layout, err
	}
	layout.SlotMetadata = meta

	if s := strings.TrimSpace(t.Surfaces); s != "" && s != "null" {
		if err := json.Unmarshal([]byte(s), &layout.Surfaces); err != nil {
			return layout, fmt.Errorf("failed to parse template surfaces: %w", err)
		}
	}

	return layout, nil
}
