package privacy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnonymizeIP(t *testing.T) {
	tests := []struct {
		name string
		ip   string
		want string
	}{
		{"ipv4", "192.168.1.47", "192.168.1.0"},
		{"ipv4 boundary", "10.0.0.255", "10.0.0.0"},
		{"ipv6", "2001:db8:85a3::8a2e:370:7334", "2001:0db8:85a3::"},
		{"empty", "", "unknown"},
		{"unknown passthrough", "unknown", "unknown"},
		{"garbage", "not-an-ip", "invalid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AnonymizeIP(tt.ip))
		})
	}
}

func TestAnonymizeIdentifier(t *testing.T) {
	assert.Equal(t, "alic***.com", AnonymizeIdentifier("alice@example.com"))
	assert.Equal(t, "bo***", AnonymizeIdentifier("bob1"))
	assert.Equal(t, "unknown", AnonymizeIdentifier(""))
}
