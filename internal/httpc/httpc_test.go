package httpc

import (
	"crypto/tls"
	"fmt"
	"testing"
)

func TestParseTLSVersion(t *testing.T) {
	tests := []struct {
		input    string
		expected uint16
	}{
		{"1.0", tls.VersionTLS10},
		{"tls1.0", tls.VersionTLS10},
		{"1.1", tls.VersionTLS11},
		{"tls11", tls.VersionTLS11},
		{"1.2", tls.VersionTLS12},
		{"tls1.2", tls.VersionTLS12},
		{"1.3", tls.VersionTLS13},
		{"TLS1.3", tls.VersionTLS13},
		{" 1.2 ", tls.VersionTLS12},
		{"", 0},
		{"invalid", 0},
		{"2.0", 0},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("input_%s", tt.input), func(t *testing.T) {
			if got := ParseTLSVersion(tt.input); got != tt.expected {
				t.Errorf("ParseTLSVersion(%q) = %d, expected %d", tt.input, got, tt.expected)
			}
		})
	}
}

func TestConfig_TLSConfig(t *testing.T) {
	cfg := Config{Insecure: true, MinTLSVersion: "1.2", MaxTLSVersion: "1.3"}.TLSConfig()
	if !cfg.InsecureSkipVerify {
		t.Fatalf("insecure not applied")
	}
	if cfg.MinVersion != tls.VersionTLS12 || cfg.MaxVersion != tls.VersionTLS13 {
		t.Fatalf("versions not applied: min=%d max=%d", cfg.MinVersion, cfg.MaxVersion)
	}
}

func TestHttpc_NewDefaultsMinTLS13(t *testing.T) {
	h := &Httpc{TlsConfig: &tls.Config{}}
	_ = h.New()
	if h.TlsConfig.MinVersion != tls.VersionTLS13 {
		t.Fatalf("expected default MinVersion TLS1.3, got %d", h.TlsConfig.MinVersion)
	}
}

func TestHttpc_NewNilConfig(t *testing.T) {
	h := &Httpc{}
	if c := h.New(); c == nil {
		t.Fatalf("expected client")
	}
}
