package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/vdpress/internal/batch"
	"github.com/foxzi/vdpress/internal/document"
	"github.com/foxzi/vdpress/internal/metrics"
	"github.com/foxzi/vdpress/internal/models"
	"github.com/foxzi/vdpress/internal/ratelimit"
	"github.com/foxzi/vdpress/internal/validation"
	"github.com/foxzi/vdpress/internal/variables"
)

// ProcessResponse is the response for an asynchronous POST /process
type ProcessResponse struct {
	CampaignID  string `json:"campaignId"`
	Status      string `json:"status"`
	ProgressURL string `json:"progressUrl"`
}

// ValidateResponse is the response for POST /validate
type ValidateResponse struct {
	*validation.BatchResult
	Mappings []validation.Finding `json:"mappingFindings"`
}

// handleProcess handles POST /api/v1/campaigns/{id}/process.
// The run continues in the background unless ?wait=true.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	org := orgID(r)

	campaign, ok := s.loadCampaign(w, r, id, org)
	if !ok {
		return
	}
	if campaign.Status == models.CampaignSending {
		s.sendError(w, http.StatusConflict, "Campaign is already being processed")
		return
	}
	if campaign.TemplateID == "" || campaign.RecipientListID == "" {
		s.sendError(w, http.StatusUnprocessableEntity, "Campaign needs a template and a recipient list")
		return
	}

	if !s.claim(id) {
		s.sendError(w, http.StatusConflict, "Campaign is already being processed")
		return
	}
	if !s.reserveQuota(w, r, campaign) {
		s.release(id)
		return
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		defer s.release(id)
		res, err := s.opts.Processor.Process(r.Context(), id, org, nil)
		if err != nil {
			s.processError(w, id, err)
			return
		}
		s.sendJSON(w, http.StatusOK, res)
		return
	}

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		defer s.release(id)

		logger := s.logger.With("campaign_id", id, "organization_id", org)
		res, err := s.opts.Processor.Process(s.runCtx, id, org, nil)
		if err != nil {
			logger.Error("campaign run failed to start", "error", err)
			return
		}
		logger.Info("campaign run finished", "status", res.Status, "succeeded", res.SuccessCount, "failed", res.FailureCount)
	}()

	s.sendJSON(w, http.StatusAccepted, ProcessResponse{
		CampaignID:  id,
		Status:      models.CampaignSending,
		ProgressURL: "/api/v1/campaigns/" + id + "/progress",
	})
}

// reserveQuota charges the campaign's recipients against the print quota
func (s *Server) reserveQuota(w http.ResponseWriter, r *http.Request, campaign *models.Campaign) bool {
	if s.opts.Quota == nil {
		return true
	}

	recipients, err := s.opts.Store.GetRecipients(r.Context(), campaign.RecipientListID, campaign.OrgID)
	if err != nil {
		s.logger.Error("failed to load recipients", "campaign_id", campaign.ID, "error", err)
		metrics.IncAPIErrors("store")
		s.sendError(w, http.StatusInternalServerError, "Failed to load recipients")
		return false
	}
	if len(recipients) == 0 {
		// the processor reports the empty list
		return true
	}

	req := &ratelimit.Request{OrgID: campaign.OrgID}
	if addr, ok := s.filter.ClientAddr(r); ok {
		req.IP = addr.String()
	}
	res, err := s.opts.Quota.AllowN(r.Context(), req, len(recipients))
	if err != nil {
		s.logger.Error("failed to check print quota", "campaign_id", campaign.ID, "error", err)
		metrics.IncAPIErrors("quota")
		s.sendError(w, http.StatusInternalServerError, "Failed to check print quota")
		return false
	}
	if !res.Allowed {
		s.logger.Warn("print quota exceeded",
			"campaign_id", campaign.ID,
			"denied_by", res.DeniedBy,
			"requested", len(recipients),
			"remaining", res.Remaining)
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
		s.sendError(w, http.StatusTooManyRequests, "Print quota exceeded",
			fmt.Sprintf("%s quota allows %d more pieces, campaign has %d", res.DeniedBy, res.Remaining, len(recipients)))
		return false
	}
	return true
}

func (s *Server) processError(w http.ResponseWriter, id string, err error) {
	var setupErr *batch.SetupError
	switch {
	case errors.Is(err, batch.ErrAlreadyRunning):
		s.sendError(w, http.StatusConflict, "Campaign is already being processed")
	case errors.As(err, &setupErr):
		s.sendError(w, http.StatusUnprocessableEntity, setupErr.Error())
	default:
		s.logger.Error("failed to process campaign", "campaign_id", id, "error", err)
		metrics.IncAPIErrors("process")
		s.sendError(w, http.StatusInternalServerError, "Failed to process campaign")
	}
}

// claim marks a campaign as running in this process
func (s *Server) claim(id string) bool {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()
	if s.running[id] {
		return false
	}
	s.running[id] = true
	return true
}

func (s *Server) release(id string) {
	s.runsMu.Lock()
	delete(s.running, id)
	s.runsMu.Unlock()
}

// handleProgress handles GET /api/v1/campaigns/{id}/progress
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.loadCampaign(w, r, id, orgID(r)); !ok {
		return
	}
	if s.opts.Tracker == nil {
		s.sendError(w, http.StatusNotFound, "No progress recorded")
		return
	}

	ev, err := s.opts.Tracker.Latest(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to read progress", "campaign_id", id, "error", err)
		metrics.IncAPIErrors("progress")
		s.sendError(w, http.StatusInternalServerError, "Failed to read progress")
		return
	}
	if ev == nil {
		s.sendError(w, http.StatusNotFound, "No progress recorded")
		return
	}
	s.sendJSON(w, http.StatusOK, ev)
}

// handleValidate handles POST /api/v1/campaigns/{id}/validate
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	org := orgID(r)

	campaign, ok := s.loadCampaign(w, r, id, org)
	if !ok {
		return
	}
	tmpl, ok := s.loadTemplate(w, r, campaign.TemplateID, org)
	if !ok {
		return
	}

	snapshot, err := document.ParseSlotMetadata([]byte(campaign.SlotMetadata))
	if err != nil {
		s.sendError(w, http.StatusUnprocessableEntity, "Invalid campaign slot metadata", err.Error())
		return
	}
	surfaces, ok := s.loadSurfaces(w, tmpl, snapshot)
	if !ok {
		return
	}
	front, back := document.Pick(surfaces)

	recipients, err := s.opts.Store.GetRecipients(r.Context(), campaign.RecipientListID, org)
	if err != nil {
		s.logger.Error("failed to load recipients", "campaign_id", id, "error", err)
		metrics.IncAPIErrors("store")
		s.sendError(w, http.StatusInternalServerError, "Failed to load recipients")
		return
	}

	result, err := validation.ValidateSurfaces([]*document.Surface{front, back}, recipients)
	if err != nil {
		if errors.Is(err, validation.ErrNoRecipients) {
			s.sendError(w, http.StatusUnprocessableEntity, "Recipient list is empty")
			return
		}
		s.sendError(w, http.StatusInternalServerError, "Validation failed")
		return
	}

	resp := ValidateResponse{BatchResult: result, Mappings: []validation.Finding{}}

	if raw := strings.TrimSpace(campaign.FieldMappings); raw != "" && raw != "null" {
		var mappings []validation.FieldMapping
		if err := json.Unmarshal([]byte(raw), &mappings); err != nil {
			s.sendError(w, http.StatusUnprocessableEntity, "Invalid field mappings", err.Error())
			return
		}
		for i := range mappings {
			if err := s.validate.Struct(&mappings[i]); err != nil {
				s.sendError(w, http.StatusUnprocessableEntity, "Invalid field mappings", err.Error())
				return
			}
		}
		if findings := validation.ValidateMappings(variables.Extract(surfaces), mappings, customFields(recipients)); findings != nil {
			resp.Mappings = findings
		}
	}

	s.sendJSON(w, http.StatusOK, resp)
}

// customFields lists the metadata keys present on any recipient
func customFields(recipients []*models.Recipient) []string {
	seen := make(map[string]bool)
	var out []string
	for _, rec := range recipients {
		for _, k := range rec.MetadataKeys() {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	return out
}

func (s *Server) loadCampaign(w http.ResponseWriter, r *http.Request, id, org string) (*models.Campaign, bool) {
	campaign, err := s.opts.Store.GetCampaign(r.Context(), id, org)
	if err != nil {
		s.logger.Error("failed to get campaign", "campaign_id", id, "error", err)
		metrics.IncAPIErrors("store")
		s.sendError(w, http.StatusInternalServerError, "Failed to get campaign")
		return nil, false
	}
	if campaign == nil {
		s.sendError(w, http.StatusNotFound, "Campaign not found")
		return nil, false
	}
	return campaign, true
}

func (s *Server) loadTemplate(w http.ResponseWriter, r *http.Request, id, org string) (*models.Template, bool) {
	tmpl, err := s.opts.Store.GetTemplate(r.Context(), id, org)
	if err != nil {
		s.logger.Error("failed to get template", "template_id", id, "error", err)
		metrics.IncAPIErrors("store")
		s.sendError(w, http.StatusInternalServerError, "Failed to get template")
		return nil, false
	}
	if tmpl == nil {
		s.sendError(w, http.StatusNotFound, "Template not found")
		return nil, false
	}
	return tmpl, true
}

func (s *Server) loadSurfaces(w http.ResponseWriter, tmpl *models.Template, snapshot document.SlotMetadata) ([]*document.Surface, bool) {
	layout, err := tmpl.Layout()
	if err != nil {
		s.sendError(w, http.StatusUnprocessableEntity, "Invalid template", err.Error())
		return nil, false
	}
	surfaces, err := layout.Load(snapshot)
	if err != nil {
		s.sendError(w, http.StatusUnprocessableEntity, "Invalid template", err.Error())
		return nil, false
	}
	return surfaces, true
}
