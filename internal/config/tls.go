package config

import (
	"crypto/tls"
	"fmt"
)

type TLSConfig struct {
	CertFile string `env:"MUMBLE_TLS_CERT"`
	KeyFile  string `env:"MUMBLE_TLS_KEY"`
	// Murmur generates a self-signed certificate unless told otherwise.
	Insecure bool `env:"MUMBLE_TLS_INSECURE, default=true"`
	Disable  bool `env:"MUMBLE_TLS_DISABLE"`
}

// Build returns the client TLS configuration, or nil when TLS is disabled.
// A certificate without its key, or the reverse, is an error.
func (c *TLSConfig) Build() (*tls.Config, error) {
	if c.Disable {
		return nil, nil
	}
	cfg := &tls.Config{
		InsecureSkipVerify: c.Insecure,
		MinVersion:         tls.VersionTLS12,
	}
	switch {
	case c.CertFile == "" && c.KeyFile == "":
	case c.CertFile == "" || c.KeyFile == "":
		return nil, fmt.Errorf("MUMBLE_TLS_CERT and MUMBLE_TLS_KEY must be set together")
	default:
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}
