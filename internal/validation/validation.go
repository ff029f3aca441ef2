// Package validation checks recipient data and field mappings against the
// requirements a template declares through its slot metadata.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/badoux/checkmail"

	"github.com/foxzi/vdpress/internal/document"
	"github.com/foxzi/vdpress/internal/models"
)

// ErrNoRecipients is returned when a batch has nothing to validate
var ErrNoRecipients = errors.New("no recipients to validate")

// Severity grades a finding
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Print quality thresholds
const (
	MinCanvasSide  = 800
	MinAspectRatio = 0.75
	MaxAspectRatio = 1.33
)

// Finding codes
const (
	CodeMissingFirstName = "missing_first_name"
	CodeMissingLastName  = "missing_last_name"
	CodeMissingAddress   = "missing_address"
	CodeMissingCity      = "missing_city"
	CodeMissingZip       = "missing_zip"
	CodeInvalidPhone     = "invalid_phone"
	CodeInvalidEmail     = "invalid_email"
	CodeNoTrackingID     = "no_tracking_id"
	CodeLowResolution    = "low_resolution"
	CodeAspectRatio      = "unusual_aspect_ratio"
	CodeUnmapped         = "unmapped_variable"
	CodeUnknownField     = "unknown_field"
)

var phoneRe = regexp.MustCompile(`^(\+1\s?)?(\(\d{3}\)\s?\d{3}-\d{4}|\d{3}-\d{3}-\d{4})$`)

// Finding is one validation message
type Finding struct {
	Severity       Severity `json:"severity"`
	Code           string   `json:"code"`
	Message        string   `json:"message"`
	Field          string   `json:"field,omitempty"`
	RecipientIndex int      `json:"recipientIndex"`
}

// Result is the validation outcome for a single recipient.
// A recipient is valid iff it has no errors.
type Result struct {
	RecipientID    string    `json:"recipientId,omitempty"`
	RecipientIndex int       `json:"recipientIndex"`
	IsValid        bool      `json:"isValid"`
	Errors         []Finding `json:"errors"`
	Warnings       []Finding `json:"warnings"`
	Info           []Finding `json:"info"`
}

func (r *Result) add(f Finding) {
	f.RecipientIndex = r.RecipientIndex
	switch f.Severity {
	case SeverityError:
		r.Errors = append(r.Errors, f)
	case SeverityWarning:
		r.Warnings = append(r.Warnings, f)
	default:
		r.Info = append(r.Info, f)
	}
}

// ValidateOne checks one recipient plus the canvas itself
func ValidateOne(doc *document.Document, meta document.SlotMetadata, r *models.Recipient) Result {
	res := validateRecipient(requiredKinds(doc, meta), r, 0)
	for _, f := range CheckCanvas(doc) {
		res.add(f)
	}
	return res
}

// CheckCanvas returns recipient-independent findings about the canvas.
// A canvas without stored dimensions is not checked.
func CheckCanvas(doc *document.Document) []Finding {
	if doc == nil || (doc.Width <= 0 && doc.Height <= 0) {
		return nil
	}

	var out []Finding
	if doc.Width < MinCanvasSide || doc.Height < MinCanvasSide {
		out = append(out, Finding{
			Severity: SeverityWarning,
			Code:     CodeLowResolution,
			Message:  fmt.Sprintf("Canvas is %gx%gpx, below the %dpx print quality minimum", doc.Width, doc.Height, MinCanvasSide),
		})
	}
	if doc.Width > 0 && doc.Height > 0 {
		ratio := doc.Width / doc.Height
		if ratio < MinAspectRatio || ratio > MaxAspectRatio {
			out = append(out, Finding{
				Severity: SeverityInfo,
				Code:     CodeAspectRatio,
				Message:  fmt.Sprintf("Canvas aspect ratio %.2f is unusual for standard mail formats", ratio),
			})
		}
	}
	return out
}

// requiredKinds returns the distinct non-shared slot kinds, in object order
func requiredKinds(doc *document.Document, meta document.SlotMetadata) []document.SlotKind {
	slots, _ := document.Resolve(doc, meta)

	seen := make(map[document.SlotKind]bool)
	var kinds []document.SlotKind
	for _, s := range slots.All() {
		if s.Shared || seen[s.Kind] {
			continue
		}
		seen[s.Kind] = true
		kinds = append(kinds, s.Kind)
	}
	return kinds
}

func validateRecipient(kinds []document.SlotKind, r *models.Recipient, index int) Result {
	res := Result{RecipientIndex: index}
	if r == nil {
		r = &models.Recipient{}
	}
	res.RecipientID = r.ID

	for _, kind := range kinds {
		switch kind {
		case document.SlotPersonName:
			if blank(r.FirstName) {
				res.add(Finding{Severity: SeverityError, Code: CodeMissingFirstName, Field: "firstName", Message: "First name is required"})
			}
			if blank(r.LastName) {
				res.add(Finding{Severity: SeverityWarning, Code: CodeMissingLastName, Field: "lastName", Message: "Last name is missing"})
			}
		case document.SlotPersonAddress:
			if blank(r.Address1) {
				res.add(Finding{Severity: SeverityWarning, Code: CodeMissingAddress, Field: "address1", Message: "Address line is missing"})
			}
			if blank(r.City) {
				res.add(Finding{Severity: SeverityInfo, Code: CodeMissingCity, Field: "city", Message: "City is missing"})
			}
			if blank(r.Zip) {
				res.add(Finding{Severity: SeverityInfo, Code: CodeMissingZip, Field: "zip", Message: "ZIP code is missing"})
			}
		case document.SlotPhoneNumber:
			if phone := strings.TrimSpace(r.Phone); phone != "" && !ValidPhone(phone) {
				res.add(Finding{Severity: SeverityWarning, Code: CodeInvalidPhone, Field: "phone", Message: "Phone number format is invalid"})
			}
		case document.SlotTrackingCode:
			if _, ok := TrackingID(r); !ok {
				res.add(Finding{Severity: SeverityWarning, Code: CodeNoTrackingID, Field: "trackingId", Message: "No tracking ID assigned, one will be generated"})
			}
		}
	}

	// email is checked whenever present, mapped or not
	if email := strings.TrimSpace(r.Email); email != "" && !ValidEmail(email) {
		res.add(Finding{Severity: SeverityWarning, Code: CodeInvalidEmail, Field: "email", Message: "Email address format is invalid"})
	}

	res.IsValid = len(res.Errors) == 0
	return res
}

// ValidPhone reports whether s is a North American phone number
func ValidPhone(s string) bool {
	return phoneRe.MatchString(strings.TrimSpace(s))
}

// ValidEmail reports whether s looks like local@domain.tld
func ValidEmail(s string) bool {
	if err := checkmail.ValidateFormat(s); err != nil {
		return false
	}
	at := strings.LastIndex(s, "@")
	domain := s[at+1:]
	dot := strings.LastIndex(domain, ".")
	return dot > 0 && len(domain)-dot-1 >= 2
}

// TrackingID returns a tracking identifier pre-assigned in recipient metadata
func TrackingID(r *models.Recipient) (string, bool) {
	for _, k := range r.MetadataKeys() {
		switch normalize(k) {
		case "trackingid", "trackingcode", "trackingtoken":
			if v := strings.TrimSpace(r.Metadata[k]); v != "" {
				return v, true
			}
		}
	}
	return "", false
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(s)
}
