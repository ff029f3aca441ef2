package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/foxzi/vdpress/internal/render"
)

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
	Running int    `json:"running_campaigns"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.runsMu.Lock()
	running := len(s.running)
	s.runsMu.Unlock()

	s.sendJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: s.opts.Version,
		Uptime:  time.Since(s.startTime).String(),
		Running: running,
	})
}

// handleFormats handles GET /api/v1/formats
func (s *Server) handleFormats(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]any{
		"default": s.opts.DefaultFormat,
		"formats": render.Formats(),
	})
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", "error", err)
	}
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, status int, message string, details ...string) {
	s.sendJSON(w, status, ErrorResponse{Error: message, Details: details})
}
