// Package observability provides the in-memory, read-only HTTP surface
// exposing server health, metrics, in-flight sessions, and recent
// operational events.
package observability

import (
	"net"
	"net/http"
)

// ACL controls HTTP access by IP/CIDR. Deny-by-default: only IPs contained
// in at least one CIDR are allowed.
type ACL struct {
	nets []*net.IPNet
}

// NewACL builds an ACL from already-parsed CIDRs (from
// config.ObservabilityConfig.ParsedCIDRs).
func NewACL(cidrs []*net.IPNet) *ACL {
	return &ACL{nets: cidrs}
}

// Middleware returns an http.Handler that checks the remote IP against the
// ACL, replying 403 Forbidden if it is not allowed.
func (a *ACL) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Allowed(r.RemoteAddr) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Allowed reports whether the remote address (host:port) is permitted.
func (a *ACL) Allowed(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}

	for _, cidr := range a.nets {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}
