package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/vdpress/internal/document"
	"github.com/foxzi/vdpress/internal/metrics"
	"github.com/foxzi/vdpress/internal/models"
	"github.com/foxzi/vdpress/internal/personalize"
	"github.com/foxzi/vdpress/internal/render"
	"github.com/foxzi/vdpress/internal/variables"
)

// VariablesResponse is the response for GET /templates/{id}/variables
type VariablesResponse struct {
	TemplateID   string               `json:"templateId"`
	Variables    []variables.Variable `json:"variables"`
	NeedsMapping []variables.Variable `json:"needsMapping"`
	Stale        []string             `json:"staleSlots,omitempty"`
}

// sampleRecipient fills previews
var sampleRecipient = &models.Recipient{
	ID:        "preview",
	FirstName: "Jane",
	LastName:  "Doe",
	Email:     "jane.doe@example.com",
	Phone:     "(555) 123-4567",
	Address1:  "123 Main Street",
	City:      "Springfield",
	State:     "IL",
	Zip:       "62701",
	Country:   "US",
}

// handleVariables handles GET /api/v1/templates/{id}/variables
func (s *Server) handleVariables(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	tmpl, ok := s.loadTemplate(w, r, id, orgID(r))
	if !ok {
		return
	}
	surfaces, ok := s.loadSurfaces(w, tmpl, nil)
	if !ok {
		return
	}

	vars := variables.Extract(surfaces)
	if vars == nil {
		vars = []variables.Variable{}
	}
	resp := VariablesResponse{
		TemplateID:   id,
		Variables:    vars,
		NeedsMapping: variables.NeedsMapping(vars),
	}
	for _, surface := range surfaces {
		resp.Stale = append(resp.Stale, surface.Stale...)
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// handlePreview handles GET /api/v1/templates/{id}/preview.
// The front surface is filled with sample data and a placeholder code.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if s.opts.Renderer == nil {
		s.sendError(w, http.StatusServiceUnavailable, "Preview rendering is not available")
		return
	}

	id := chi.URLParam(r, "id")
	tmpl, ok := s.loadTemplate(w, r, id, orgID(r))
	if !ok {
		return
	}
	surfaces, ok := s.loadSurfaces(w, tmpl, nil)
	if !ok {
		return
	}
	front, _ := document.Pick(surfaces)

	formatName := r.URL.Query().Get("format")
	if formatName == "" {
		formatName = tmpl.PrintFormat
	}
	if formatName == "" {
		formatName = s.opts.DefaultFormat
	}
	format, _ := render.LookupFormat(formatName)

	row := personalize.Flatten(sampleRecipient)
	res, err := s.opts.Engine.Personalize(r.Context(), personalize.Request{
		CampaignID:  "preview",
		RecipientID: sampleRecipient.ID,
		Document:    front.Document,
		Slots:       front.Slots,
		Row:         row,
		Code:        s.placeholderCode,
	})
	if err != nil {
		s.sendError(w, http.StatusUnprocessableEntity, "Failed to personalize preview", err.Error())
		return
	}

	start := time.Now()
	png, err := s.opts.Renderer.RenderPreview(r.Context(), render.Job{
		Front:  res.Document,
		Format: format,
		Fields: row.Values(),
	})
	metrics.ObserveRender("preview", time.Since(start))
	if err != nil {
		s.logger.Error("failed to render preview", "template_id", id, "error", err)
		metrics.IncAPIErrors("render")
		s.sendError(w, http.StatusBadGateway, "Failed to render preview")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (s *Server) placeholderCode(_ context.Context, _, _ string) (string, error) {
	if s.opts.Codes == nil {
		return "", nil
	}
	code, err := s.opts.Codes.Placeholder()
	if err != nil {
		return "", err
	}
	return code.DataURI(), nil
}
