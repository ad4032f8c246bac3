// Package tlscert supplies the server certificate for the HTTPS listener,
// either loaded from configured files or self-signed for local development.
package tlscert

import (
	"crypto/tls"
	"fmt"

	"rel-graphql/internal/logging"
)

// Mode selects where the server certificate comes from.
type Mode string

const (
	// ModeFile serves a certificate pair from configured paths.
	ModeFile Mode = "file"
	// ModeAuto generates and reuses a self-signed development certificate.
	ModeAuto Mode = "auto"
)

// MinVersion is the lowest TLS version the server negotiates.
const MinVersion = tls.VersionTLS13

// Config selects and parameterizes the certificate source.
type Config struct {
	Mode Mode

	// File mode.
	CertFile string
	KeyFile  string

	// Auto mode.
	AutoDir   string
	AutoHosts []string
}

// Source yields the tls.Config an HTTP server listens with.
type Source interface {
	// TLSConfig returns a config ready for http.Server.TLSConfig.
	TLSConfig() (*tls.Config, error)

	// Describe returns a human-readable summary for startup logs.
	Describe() string

	// Close releases any resources held by the source.
	Close() error
}

// NewSource builds the certificate source for cfg.Mode. Construction
// validates the configured material so a bad certificate fails startup
// instead of the first handshake.
func NewSource(cfg Config, logger *logging.Logger) (Source, error) {
	switch cfg.Mode {
	case ModeFile:
		return newFileSource(cfg, logger)
	case ModeAuto:
		return newAutoSource(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported TLS mode %q (valid modes: file, auto)", cfg.Mode)
	}
}
