package validation

import (
	"fmt"

	"github.com/foxzi/vdpress/internal/document"
	"github.com/foxzi/vdpress/internal/models"
)

// Summary counts findings across a batch
type Summary struct {
	TotalRecipients   int `json:"totalRecipients"`
	ValidRecipients   int `json:"validRecipients"`
	InvalidRecipients int `json:"invalidRecipients"`
	TotalErrors       int `json:"totalErrors"`
	TotalWarnings     int `json:"totalWarnings"`
	TotalInfo         int `json:"totalInfo"`
}

// BatchResult is the aggregated validation outcome.
// Canvas findings are reported once, not per recipient.
type BatchResult struct {
	OverallValid   bool      `json:"overallValid"`
	Results        []Result  `json:"results"`
	Summary        Summary   `json:"summary"`
	CriticalErrors []string  `json:"criticalErrors"`
	Canvas         []Finding `json:"canvas,omitempty"`
}

// ValidateBatch validates every recipient and promotes error messages that
// affect more than half of the batch into CriticalErrors.
func ValidateBatch(doc *document.Document, meta document.SlotMetadata, recipients []*models.Recipient) (*BatchResult, error) {
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}
	return validateBatch(requiredKinds(doc, meta), CheckCanvas(doc), recipients), nil
}

// ValidateSurfaces validates recipients against the slots of every surface.
// A kind required by several surfaces is checked once per recipient, and
// canvas findings of non-front surfaces are prefixed with their side.
func ValidateSurfaces(surfaces []*document.Surface, recipients []*models.Recipient) (*BatchResult, error) {
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}

	seen := make(map[document.SlotKind]bool)
	var kinds []document.SlotKind
	var canvas []Finding
	for _, s := range surfaces {
		if s == nil {
			continue
		}
		for _, k := range requiredKinds(s.Document, s.Metadata) {
			if !seen[k] {
				seen[k] = true
				kinds = append(kinds, k)
			}
		}
		for _, f := range CheckCanvas(s.Document) {
			if s.Side != "" && s.Side != document.SideFront {
				f.Message = fmt.Sprintf("%s: %s", s.Side, f.Message)
			}
			canvas = append(canvas, f)
		}
	}
	return validateBatch(kinds, canvas, recipients), nil
}

func validateBatch(kinds []document.SlotKind, canvas []Finding, recipients []*models.Recipient) *BatchResult {
	total := len(recipients)

	out := &BatchResult{
		OverallValid:   true,
		Results:        make([]Result, 0, total),
		CriticalErrors: []string{},
		Canvas:         canvas,
	}

	var order []string
	affected := make(map[string]int)

	for i, r := range recipients {
		res := validateRecipient(kinds, r, i)
		out.Results = append(out.Results, res)

		if res.IsValid {
			out.Summary.ValidRecipients++
		} else {
			out.Summary.InvalidRecipients++
			out.OverallValid = false
		}
		out.Summary.TotalErrors += len(res.Errors)
		out.Summary.TotalWarnings += len(res.Warnings)
		out.Summary.TotalInfo += len(res.Info)

		seen := make(map[string]bool, len(res.Errors))
		for _, f := range res.Errors {
			if seen[f.Message] {
				continue
			}
			seen[f.Message] = true
			if _, ok := affected[f.Message]; !ok {
				order = append(order, f.Message)
			}
			affected[f.Message]++
		}
	}
	out.Summary.TotalRecipients = total

	for _, msg := range order {
		if n := affected[msg]; n*2 > total {
			out.CriticalErrors = append(out.CriticalErrors, fmt.Sprintf("%s (affects %d/%d recipients)", msg, n, total))
		}
	}

	return out
}
