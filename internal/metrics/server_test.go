package metrics

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/foxzi/vdpress/internal/ipfilter"
)

func TestServerHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := New()
	m.CodeFallbacksTotal.Inc()

	filter := ipfilter.New([]string{"192.168.1.0/24"}, false, logger)
	s := NewServer(m, "", "", filter, logger)

	tests := []struct {
		name       string
		path       string
		remoteAddr string
		want       int
	}{
		{"allowed", "/metrics", "192.168.1.10:1", http.StatusOK},
		{"denied", "/metrics", "10.0.0.1:1", http.StatusForbidden},
		{"health is unfiltered", "/health", "10.0.0.1:1", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.path, nil)
			req.RemoteAddr = tt.remoteAddr
			rec := httptest.NewRecorder()

			s.Handler().ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.path == "/metrics" && tt.want == http.StatusOK &&
				!strings.Contains(rec.Body.String(), "vdpress_code_fallbacks_total 1") {
				t.Errorf("metrics output missing counter:\n%s", rec.Body.String())
			}
		})
	}
}

func TestNewServerDefaults(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewServer(New(), "", "", nil, logger)
	if s.addr != ":9090" || s.path != "/metrics" {
		t.Errorf("defaults = %s %s", s.addr, s.path)
	}
	if s.filter == nil || s.filter.Enabled() {
		t.Error("nil filter should allow all")
	}
}
