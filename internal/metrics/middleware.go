package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// HTTPMiddleware records request counts and latency per route
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := Global()
		if m == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		route := normalizePath(r)

		m.APIRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(code)).Inc()
		m.APIRequestDurationSeconds.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		if code >= 400 {
			m.APIErrorsTotal.WithLabelValues(categorizeStatus(code)).Inc()
		}
	})
}

// normalizePath returns the chi route pattern when one matched. Otherwise
// artifact keys collapse to their campaign/recipient shape and UUID
// segments become {id}.
func normalizePath(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" && p != "/files/*" {
			return p
		}
	}

	parts := strings.Split(r.URL.Path, "/")
	if len(parts) > 3 && parts[1] == "files" && parts[2] == "campaigns" {
		// files/campaigns/<campaign>/<recipient>/<file>
		out := []string{"", "files", "campaigns", "{campaign_id}", "{recipient_id}", "{file}"}
		return strings.Join(out[:min(len(parts), len(out))], "/")
	}

	for i, part := range parts {
		if isUUID(part) {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

func isUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	for i, c := range s {
		switch i {
		case 8, 13, 18, 23:
			if c != '-' {
				return false
			}
		default:
			if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
				return false
			}
		}
	}
	return true
}

// categorizeStatus maps an error status to the api_errors label
func categorizeStatus(status int) string {
	switch {
	case status >= 500:
		return "server_error"
	case status == http.StatusTooManyRequests:
		return "rate_limited"
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return "auth_error"
	case status == http.StatusNotFound:
		return "not_found"
	case status == http.StatusBadRequest:
		return "bad_request"
	case status >= 400:
		return "client_error"
	default:
		return "unknown"
	}
}
