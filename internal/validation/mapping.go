package validation

import (
	"fmt"
	"strings"

	"github.com/foxzi/vdpress/internal/document"
	"github.com/foxzi/vdpress/internal/personalize"
	"github.com/foxzi/vdpress/internal/variables"
)

// FieldMapping binds a template variable to a recipient field.
// The engine does not read mappings; they only drive validation and UI state.
type FieldMapping struct {
	TemplateVariable string            `json:"templateVariableName" validate:"required"`
	RecipientField   string            `json:"recipientFieldName"`
	SlotKind         document.SlotKind `json:"slotKind"`
	Shared           bool              `json:"isShared"`
}

// ValidateMappings checks that every variable needing a mapping has one and
// that mapped fields exist. customFields lists metadata keys known to be
// present on the recipients.
func ValidateMappings(vars []variables.Variable, mappings []FieldMapping, customFields []string) []Finding {
	custom := make(map[string]bool, len(customFields))
	for _, f := range customFields {
		custom[personalize.Normalize(f)] = true
	}

	mapped := make(map[string]FieldMapping, len(mappings))
	for _, m := range mappings {
		mapped[m.TemplateVariable] = m
	}

	var out []Finding
	for _, v := range variables.NeedsMapping(vars) {
		m, ok := mapped[v.DisplayName]
		if !ok {
			m, ok = mapped[v.ID]
		}
		if !ok || (strings.TrimSpace(m.RecipientField) == "" && !m.Shared) {
			out = append(out, Finding{
				Severity: SeverityError,
				Code:     CodeUnmapped,
				Field:    v.DisplayName,
				Message:  fmt.Sprintf("Variable %q on the %s surface is not mapped to a recipient field", v.DisplayName, v.SurfaceSide),
			})
		}
	}

	for _, m := range mappings {
		field := strings.TrimSpace(m.RecipientField)
		if field == "" || m.Shared {
			continue
		}
		if !personalize.IsBuiltinField(field) && !custom[personalize.Normalize(field)] {
			out = append(out, Finding{
				Severity: SeverityWarning,
				Code:     CodeUnknownField,
				Field:    field,
				Message:  fmt.Sprintf("Field %q is not a standard recipient field or known metadata key", field),
			})
		}
	}

	for i := range out {
		out[i].RecipientIndex = -1
	}
	return out
}
