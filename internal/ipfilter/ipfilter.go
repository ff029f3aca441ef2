// Package ipfilter restricts HTTP endpoints to configured networks
package ipfilter

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// Filter checks client addresses against allowed networks.
// An empty filter allows everything.
type Filter struct {
	prefixes   []netip.Prefix
	trustProxy bool
	logger     *slog.Logger
}

// Parse converts IPs and CIDRs into prefixes. Single addresses become
// host prefixes.
func Parse(entries []string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid CIDR %q: %w", entry, err)
			}
			out = append(out, p.Masked())
			continue
		}

		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid IP %q: %w", entry, err)
		}
		out = append(out, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
	}
	return out, nil
}

// New creates a filter. Invalid entries are logged and skipped; use Parse
// beforehand to reject them.
func New(entries []string, trustProxy bool, logger *slog.Logger) *Filter {
	f := &Filter{trustProxy: trustProxy, logger: logger}
	for _, entry := range entries {
		p, err := Parse([]string{entry})
		if err != nil {
			logger.Warn("ignoring allowed_ips entry", "entry", entry, "error", err)
			continue
		}
		f.prefixes = append(f.prefixes, p...)
	}
	return f
}

// Enabled reports whether any network is configured
func (f *Filter) Enabled() bool {
	return len(f.prefixes) > 0
}

// Count returns the number of allowed networks
func (f *Filter) Count() int {
	return len(f.prefixes)
}

// Allowed checks a single address
func (f *Filter) Allowed(addr netip.Addr) bool {
	if len(f.prefixes) == 0 {
		return true
	}
	addr = addr.Unmap()
	for _, p := range f.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientAddr returns the address of the caller. Forwarding headers are only
// honoured when the filter trusts a proxy in front of it.
func (f *Filter) ClientAddr(r *http.Request) (netip.Addr, bool) {
	if f.trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if addr, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
				return addr, true
			}
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			if addr, err := netip.ParseAddr(strings.TrimSpace(xri)); err == nil {
				return addr, true
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr, true
}

// Middleware rejects requests from addresses outside the allowed networks
func (f *Filter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !f.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		addr, ok := f.ClientAddr(r)
		if !ok {
			f.logger.Warn("could not parse client IP", "remote_addr", r.RemoteAddr)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		if !f.Allowed(addr) {
			f.logger.Warn("access denied by IP filter", "ip", addr.String(), "path", r.URL.Path)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}
