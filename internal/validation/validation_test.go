package validation

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/foxzi/vdpress/internal/document"
	"github.com/foxzi/vdpress/internal/models"
	"github.com/foxzi/vdpress/internal/variables"
)

func parseDoc(t *testing.T, data string) *document.Document {
	t.Helper()
	doc, err := document.Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return doc
}

const sixByNine = `{"width":1800,"height":1500,"objects":[
	{"type":"text","text":"Hi {firstName}"},
	{"type":"text","text":"{address}"},
	{"type":"text","text":"{phone}"},
	{"type":"image","src":"qr.png"},
	{"type":"text","text":"Fine print"}
]}`

var fullMeta = document.SlotMetadata{
	"0": {Kind: document.SlotPersonName},
	"1": {Kind: document.SlotPersonAddress},
	"2": {Kind: document.SlotPhoneNumber},
	"3": {Kind: document.SlotTrackingCode},
	"4": {Kind: document.SlotPersonName, Shared: true},
}

func codes(fs []Finding) []string {
	var out []string
	for _, f := range fs {
		out = append(out, f.Code)
	}
	return out
}

func TestValidateOne(t *testing.T) {
	doc := parseDoc(t, sixByNine)

	tests := []struct {
		name      string
		recipient *models.Recipient
		valid     bool
		errors    []string
		warnings  []string
		info      []string
	}{
		{
			name: "complete",
			recipient: &models.Recipient{
				FirstName: "Jane", LastName: "Doe", Address1: "1 Main St", City: "Springfield", Zip: "62701",
				Phone: "(555) 123-4567", Email: "jane@example.com",
				Metadata: map[string]string{"tracking_id": "abc"},
			},
			valid: true,
		},
		{
			name:      "empty",
			recipient: &models.Recipient{},
			valid:     false,
			errors:    []string{CodeMissingFirstName},
			warnings:  []string{CodeMissingLastName, CodeMissingAddress, CodeNoTrackingID},
			info:      []string{CodeMissingCity, CodeMissingZip},
		},
		{
			name: "bad formats",
			recipient: &models.Recipient{
				FirstName: "Jane", LastName: "Doe", Address1: "1 Main St", City: "X", Zip: "1",
				Phone: "12345", Email: "jane@localhost",
				Metadata: map[string]string{"trackingCode": "t"},
			},
			valid:    true,
			warnings: []string{CodeInvalidPhone, CodeInvalidEmail},
		},
		{
			name: "whitespace first name",
			recipient: &models.Recipient{
				FirstName: "   ", LastName: "Doe", Address1: "1 Main St", City: "X", Zip: "1",
				Metadata: map[string]string{"trackingId": "t"},
			},
			valid:  false,
			errors: []string{CodeMissingFirstName},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ValidateOne(doc, fullMeta, tt.recipient)
			if res.IsValid != tt.valid {
				t.Errorf("IsValid = %v, want %v", res.IsValid, tt.valid)
			}
			if diff := cmp.Diff(tt.errors, codes(res.Errors)); diff != "" {
				t.Errorf("errors mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.warnings, codes(res.Warnings)); diff != "" {
				t.Errorf("warnings mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.info, codes(res.Info)); diff != "" {
				t.Errorf("info mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestValidateOneSharedSlotsSkipped(t *testing.T) {
	doc := parseDoc(t, sixByNine)
	meta := document.SlotMetadata{"4": {Kind: document.SlotPersonName, Shared: true}}

	res := ValidateOne(doc, meta, &models.Recipient{})
	if !res.IsValid || len(res.Warnings) != 0 {
		t.Errorf("shared slots must not be validated, got %+v", res)
	}
}

func TestEmailCheckedWithoutSlot(t *testing.T) {
	doc := parseDoc(t, sixByNine)
	res := ValidateOne(doc, nil, &models.Recipient{Email: "not-an-email"})
	if diff := cmp.Diff([]string{CodeInvalidEmail}, codes(res.Warnings)); diff != "" {
		t.Errorf("warnings mismatch (-want +got):\n%s", diff)
	}
}

func TestCheckCanvas(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want []string
	}{
		{"print quality", `{"width":1800,"height":1500}`, nil},
		{"small", `{"width":600,"height":600}`, []string{CodeLowResolution}},
		{"wide", `{"width":3300,"height":1200}`, []string{CodeAspectRatio}},
		{"small and tall", `{"width":400,"height":900}`, []string{CodeLowResolution, CodeAspectRatio}},
		{"no dimensions", `{"objects":[]}`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, codes(CheckCanvas(parseDoc(t, tt.doc)))); diff != "" {
				t.Errorf("CheckCanvas() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestValidPhone(t *testing.T) {
	valid := []string{"(555) 123-4567", "(555)123-4567", "555-123-4567", "+1 555-123-4567", "+1(555) 123-4567"}
	invalid := []string{"5551234567", "555.123.4567", "+44 555-123-4567", "123-4567", ""}

	for _, p := range valid {
		if !ValidPhone(p) {
			t.Errorf("ValidPhone(%q) = false", p)
		}
	}
	for _, p := range invalid {
		if ValidPhone(p) {
			t.Errorf("ValidPhone(%q) = true", p)
		}
	}
}

func TestValidEmail(t *testing.T) {
	tests := []struct {
		email string
		want  bool
	}{
		{"jane@example.com", true},
		{"jane.doe+mail@sub.example.co", true},
		{"jane@localhost", false},
		{"jane@example.c", false},
		{"@example.com", false},
		{"jane", false},
	}
	for _, tt := range tests {
		if got := ValidEmail(tt.email); got != tt.want {
			t.Errorf("ValidEmail(%q) = %v, want %v", tt.email, got, tt.want)
		}
	}
}

func batchOf(total, missingFirst int) []*models.Recipient {
	out := make([]*models.Recipient, total)
	for i := range out {
		r := &models.Recipient{ID: fmt.Sprintf("r-%d", i), FirstName: "Jane", LastName: "Doe"}
		if i < missingFirst {
			r.FirstName = ""
		}
		out[i] = r
	}
	return out
}

func TestValidateBatchCriticalErrors(t *testing.T) {
	doc := parseDoc(t, sixByNine)
	meta := document.SlotMetadata{"0": {Kind: document.SlotPersonName}}

	res, err := ValidateBatch(doc, meta, batchOf(10, 6))
	if err != nil {
		t.Fatalf("ValidateBatch() error = %v", err)
	}
	want := []string{"First name is required (affects 6/10 recipients)"}
	if diff := cmp.Diff(want, res.CriticalErrors); diff != "" {
		t.Errorf("CriticalErrors mismatch (-want +got):\n%s", diff)
	}
	if res.OverallValid {
		t.Error("OverallValid = true, want false")
	}
	wantSummary := Summary{TotalRecipients: 10, ValidRecipients: 4, InvalidRecipients: 6, TotalErrors: 6}
	if diff := cmp.Diff(wantSummary, res.Summary); diff != "" {
		t.Errorf("Summary mismatch (-want +got):\n%s", diff)
	}
	if res.Results[5].RecipientIndex != 5 || res.Results[5].Errors[0].RecipientIndex != 5 {
		t.Error("findings must be tagged with the recipient index")
	}

	res, err = ValidateBatch(doc, meta, batchOf(10, 4))
	if err != nil {
		t.Fatalf("ValidateBatch() error = %v", err)
	}
	if len(res.CriticalErrors) != 0 {
		t.Errorf("CriticalErrors = %v, want none for 4/10", res.CriticalErrors)
	}

	res, err = ValidateBatch(doc, meta, batchOf(10, 5))
	if err != nil {
		t.Fatalf("ValidateBatch() error = %v", err)
	}
	if len(res.CriticalErrors) != 0 {
		t.Errorf("CriticalErrors = %v, want none at exactly half", res.CriticalErrors)
	}
}

func TestValidateBatchEmpty(t *testing.T) {
	doc := parseDoc(t, sixByNine)
	if _, err := ValidateBatch(doc, fullMeta, nil); !errors.Is(err, ErrNoRecipients) {
		t.Errorf("error = %v, want ErrNoRecipients", err)
	}
}

func TestValidateSurfacesIncludesBack(t *testing.T) {
	front := &document.Surface{
		Side:     document.SideFront,
		Document: parseDoc(t, `{"objects":[{"type":"image","src":"qr.png"}]}`),
		Metadata: document.SlotMetadata{"0": {Kind: document.SlotTrackingCode}},
	}
	back := &document.Surface{
		Side:     document.SideBack,
		Document: parseDoc(t, `{"width":400,"height":400,"objects":[{"type":"text","text":"Dear {firstName}"}]}`),
		Metadata: document.SlotMetadata{"0": {Kind: document.SlotPersonName}},
	}

	res, err := ValidateSurfaces([]*document.Surface{front, back}, batchOf(2, 1))
	if err != nil {
		t.Fatalf("ValidateSurfaces() error = %v", err)
	}
	if diff := cmp.Diff([]string{CodeMissingFirstName}, codes(res.Results[0].Errors)); diff != "" {
		t.Errorf("back surface slot not validated (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{CodeNoTrackingID}, codes(res.Results[1].Warnings)); diff != "" {
		t.Errorf("front surface slot not validated (-want +got):\n%s", diff)
	}
	if len(res.Canvas) != 1 || res.Canvas[0].Code != CodeLowResolution {
		t.Fatalf("Canvas = %+v, want one low resolution finding", res.Canvas)
	}
	if want := "back: "; res.Canvas[0].Message[:len(want)] != want {
		t.Errorf("canvas message %q not prefixed with its side", res.Canvas[0].Message)
	}

	// front only matches ValidateBatch
	single, err := ValidateSurfaces([]*document.Surface{front, nil}, batchOf(2, 1))
	if err != nil {
		t.Fatalf("ValidateSurfaces() error = %v", err)
	}
	if !single.OverallValid {
		t.Errorf("front without a name slot should be valid, got %+v", single.Summary)
	}

	if _, err := ValidateSurfaces([]*document.Surface{front}, nil); !errors.Is(err, ErrNoRecipients) {
		t.Errorf("error = %v, want ErrNoRecipients", err)
	}
}

func TestValidateMappings(t *testing.T) {
	layout := document.Layout{
		Document: []byte(`{"objects":[{"type":"text","text":"Hi {firstName}"},{"type":"text","text":"{favorite_color}"},{"type":"image"},{"type":"text","text":"{city}"}]}`),
		SlotMetadata: document.SlotMetadata{
			"0": {Kind: document.SlotPersonName},
			"1": {Kind: document.SlotPlainText},
			"2": {Kind: document.SlotTrackingCode},
			"3": {Kind: document.SlotPersonAddress},
		},
	}
	surfaces, err := layout.Load(nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	vars := variables.Extract(surfaces)

	mappings := []FieldMapping{
		{TemplateVariable: "firstName", RecipientField: "first_name"},
		{TemplateVariable: "favorite_color", RecipientField: "favoriteColor"},
		{TemplateVariable: "unused", RecipientField: "shoe_size"},
	}

	got := ValidateMappings(vars, mappings, []string{"favorite_color"})

	var summary []string
	for _, f := range got {
		summary = append(summary, string(f.Severity)+":"+f.Field)
	}
	want := []string{"error:city", "warning:shoe_size"}
	if diff := cmp.Diff(want, summary); diff != "" {
		t.Errorf("ValidateMappings() mismatch (-want +got):\n%s", diff)
	}
}
