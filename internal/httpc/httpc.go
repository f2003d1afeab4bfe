package httpc

import (
	"crypto/tls"
	"strings"

	"github.com/go-resty/resty/v2"
)

// Config are the explicit TLS client options accepted from the pipelines document.
type Config struct {
	Insecure      bool   `mapstructure:"insecure" yaml:"insecure"`
	MinTLSVersion string `mapstructure:"min_tls_version" yaml:"min_tls_version"`
	MaxTLSVersion string `mapstructure:"max_tls_version" yaml:"max_tls_version"`
}

// TLSConfig builds a *tls.Config from the client options.
func (c Config) TLSConfig() *tls.Config {
	minV := ParseTLSVersion(c.MinTLSVersion)
	maxV := ParseTLSVersion(c.MaxTLSVersion)

	// #nosec G402 -- versions come from explicit user configuration
	cfg := &tls.Config{MinVersion: minV, MaxVersion: maxV}
	if c.Insecure {
		// #nosec G402 -- self-signed certificates are common on freshly started test containers
		cfg.InsecureSkipVerify = true
	}
	return cfg
}

// ParseTLSVersion converts a TLS version string to the corresponding crypto/tls constant.
// Supports various formats: "1.0", "10", "tls1.0", "tls10", etc.
// Returns 0 if the version string is not recognized.
func ParseTLSVersion(version string) uint16 {
	switch strings.TrimSpace(strings.ToLower(version)) {
	case "1.0", "10", "tls1.0", "tls10":
		return tls.VersionTLS10
	case "1.1", "11", "tls1.1", "tls11":
		return tls.VersionTLS11
	case "1.2", "12", "tls1.2", "tls12":
		return tls.VersionTLS12
	case "1.3", "13", "tls1.3", "tls13":
		return tls.VersionTLS13
	default:
		return 0
	}
}

type Httpc struct {
	TlsConfig *tls.Config
}

// New returns a resty.Client configured according to the receiver's TLS settings.
// Defaults: MinVersion TLS1.3 when MinVersion is zero.
func (h *Httpc) New() *resty.Client {
	c := resty.New()
	cfg := h.TlsConfig
	if cfg == nil {
		return c
	}
	if cfg.MinVersion == 0 {
		cfg.MinVersion = tls.VersionTLS13
	}
	// Apply TLS config via resty and ensure underlying client transport is set
	c.SetTLSClientConfig(cfg)
	return c
}

// FromConfig builds an Httpc from client options.
func FromConfig(c Config) *Httpc {
	return &Httpc{TlsConfig: c.TLSConfig()}
}
