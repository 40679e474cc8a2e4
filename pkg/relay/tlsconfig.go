// Package relay — TLS trust configuration for the control-plane dial.
//
// The streamer authenticates the relay through the password challenge in
// the Hello/Identify handshake (auth.go), not through a client certificate,
// so this is deliberately simpler than mutual TLS: it only lets an operator
// pin a private CA when the streamer's certificate isn't signed by a public
// root.
package relay

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// TLSConfig configures how the control-plane WebSocket dial verifies the
// streamer's certificate.
type TLSConfig struct {
	// TrustedCAFile, if set, is a PEM file of CA certificates to trust in
	// place of the system root pool.
	TrustedCAFile string

	// InsecureSkipVerify disables certificate verification entirely. Only
	// meant for local development against a self-signed streamer.
	InsecureSkipVerify bool
}

// Build constructs a *tls.Config for dialing the streamer, or nil if cfg is
// nil or empty (meaning: use the system default trust store).
func (cfg *TLSConfig) Build() (*tls.Config, error) {
	if cfg == nil || (cfg.TrustedCAFile == "" && !cfg.InsecureSkipVerify) {
		return nil, nil
	}

	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.InsecureSkipVerify {
		tlsCfg.InsecureSkipVerify = true
		return tlsCfg, nil
	}

	caCert, err := os.ReadFile(cfg.TrustedCAFile)
	if err != nil {
		return nil, fmt.Errorf("read trusted CA %s: %w", cfg.TrustedCAFile, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("parse trusted CA certificate from %s", cfg.TrustedCAFile)
	}
	tlsCfg.RootCAs = pool
	return tlsCfg, nil
}
