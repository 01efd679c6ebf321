// Package privacy provides helpers for keeping personally identifiable
// information out of logs. Audit events carry anonymized identifiers only.
package privacy

import (
	"fmt"
	"net"
)

// AnonymizeIP truncates an IP address to remove the host-identifying portion.
//
// IPv4 addresses get their last octet zeroed ("192.168.1.47" -> "192.168.1.0").
// IPv6 addresses keep only the /48 prefix. Returns "invalid" for unparseable
// input and "unknown" for empty strings.
func AnonymizeIP(ip string) string {
	if ip == "" || ip == "unknown" {
		return "unknown"
	}

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "invalid"
	}

	if v4 := parsed.To4(); v4 != nil {
		return fmt.Sprintf("%d.%d.%d.0", v4[0], v4[1], v4[2])
	}

	return fmt.Sprintf("%02x%02x:%02x%02x:%02x%02x::",
		parsed[0], parsed[1],
		parsed[2], parsed[3],
		parsed[4], parsed[5])
}

// AnonymizeIdentifier masks the middle of an account identifier (email or
// username) so log lines remain correlatable without exposing the value.
func AnonymizeIdentifier(identifier string) string {
	if identifier == "" {
		return "unknown"
	}
	if len(identifier) <= 8 {
		return identifier[:len(identifier)/2] + "***"
	}
	return identifier[:4] + "***" + identifier[len(identifier)-4:]
}
