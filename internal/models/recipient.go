package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// RecipientList groups the recipients of one audience
type RecipientList struct {
	ID          string    `json:"id"`
	OrgID       string    `json:"organization_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	SourceType  string    `json:"source_type"` // manual, csv, purchase
	TotalCount  int       `json:"total_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Recipient is a single mail recipient. Read-only during processing.
type Recipient struct {
	ID        string            `json:"id"`
	ListID    string            `json:"list_id"`
	FirstName string            `json:"first_name"`
	LastName  string            `json:"last_name"`
	Email     string            `json:"email"`
	Phone     string            `json:"phone"`
	Address1  string            `json:"address1"`
	Address2  string            `json:"address2"`
	City      string            `json:"city"`
	State     string            `json:"state"`
	Zip       string            `json:"zip"`
	Country   string            `json:"country"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// FullName joins first and last name
func (r *Recipient) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(r.FirstName) + " " + strings.TrimSpace(r.LastName))
}

// DisplayName is used in progress events and error reports
func (r *Recipient) DisplayName() string {
	if name := r.FullName(); name != "" {
		return name
	}
	if r.Email != "" {
		return r.Email
	}
	return r.ID
}

// MetadataKeys returns metadata keys in sorted order
func (r *Recipient) MetadataKeys() []string {
	keys := make([]string, 0, len(r.Metadata))
	for k := range r.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ParseMetadata decodes a stored metadata object. Non-string values are
// kept in their JSON text form.
func ParseMetadata(raw string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return nil, nil
	}

	var values map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("failed to parse recipient metadata: %w", err)
	}

	out := make(map[string]string, len(values))
	for k, v := range values {
		if string(v) == "null" {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[k] = s
			continue
		}
		out[k] = string(v)
	}
	return out, nil
}

// EncodeMetadata is the inverse of ParseMetadata
func EncodeMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode recipient metadata: %w", err)
	}
	return string(data), nil
}

// RecipientImportResult holds the result of an import operation
type RecipientImportResult struct {
	Total    int      `json:"total"`
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors,omitempty"`
}
