package middleware

import (
	"context"
	"net/http"
	"net/netip"
	"strings"
)

// maxForwardedHeaderLength caps the X-Forwarded-For header to keep hostile
// clients from smuggling oversized values into logs and throttle keys.
const maxForwardedHeaderLength = 500

// MetadataConfig controls client IP extraction.
type MetadataConfig struct {
	// TrustedProxies lists the prefixes allowed to set X-Forwarded-For and
	// X-Real-IP. Empty means forwarding headers are never trusted.
	TrustedProxies []netip.Prefix
}

// Metadata extracts the client IP from the request and stores it in the
// context. Forwarding headers only count when the direct peer is a trusted
// proxy; otherwise RemoteAddr wins.
func Metadata(cfg *MetadataConfig) func(http.Handler) http.Handler {
	if cfg == nil {
		cfg = &MetadataConfig{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), clientIPKey{}, extractClientIP(r, cfg))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type clientIPKey struct{}

// GetClientIP retrieves the client IP placed in the context by Metadata.
func GetClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(clientIPKey{}).(string); ok {
		return ip
	}
	return "unknown"
}

func extractClientIP(r *http.Request, cfg *MetadataConfig) string {
	remoteIP := parseRemoteAddr(r.RemoteAddr)
	if remoteIP == "" {
		return "unknown"
	}

	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		if xri := r.Header.Get("X-Real-IP"); xri != "" && isTrustedProxy(remoteIP, cfg) {
			if len(xri) <= maxForwardedHeaderLength {
				return strings.TrimSpace(xri)
			}
		}
		return remoteIP
	}

	if !isTrustedProxy(remoteIP, cfg) {
		return remoteIP
	}
	if len(xff) > maxForwardedHeaderLength {
		return remoteIP
	}

	// First IP in the chain is the original client.
	clientIP := xff
	if before, _, ok := strings.Cut(xff, ","); ok {
		clientIP = before
	}
	clientIP = strings.TrimSpace(clientIP)

	if _, err := netip.ParseAddr(clientIP); err != nil {
		return remoteIP
	}
	return clientIP
}

func isTrustedProxy(ip string, cfg *MetadataConfig) bool {
	if len(cfg.TrustedProxies) == 0 {
		return false
	}

	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	for _, prefix := range cfg.TrustedProxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// parseRemoteAddr extracts the IP from RemoteAddr, stripping the port.
func parseRemoteAddr(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}

	// IPv6 with brackets: [::1]:port
	if strings.HasPrefix(remoteAddr, "[") {
		if idx := strings.LastIndex(remoteAddr, "]:"); idx != -1 {
			return remoteAddr[1:idx]
		}
		return strings.Trim(strings.Split(remoteAddr, "]:")[0], "[]")
	}

	if idx := strings.LastIndex(remoteAddr, ":"); idx != -1 {
		return remoteAddr[:idx]
	}
	return remoteAddr
}
