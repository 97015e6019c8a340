// Package mtls handles the mutual-TLS side of the gating pipeline: building
// the server TLS configuration, extracting the client certificate Common
// Name, and correlating it with the verified token subject.
package mtls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"

	"skylink.org/internal/auth"
)

// Config mirrors the mTLS section of the gateway configuration.
type Config struct {
	Enabled  bool
	CertFile string
	KeyFile  string
	CAFile   string
}

// ServerTLSConfig builds a server-side TLS configuration that requires and
// verifies client certificates against the configured CA. Returns nil when
// mTLS is disabled.
func ServerTLSConfig(cfg Config) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("mtls: load server keypair: %w", err)
	}
	caPEM, err := os.ReadFile(cfg.CAFile)
	if err != nil {
		return nil, fmt.Errorf("mtls: read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("mtls: CA file contains no certificates")
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
	}, nil
}

// PeerCommonName extracts the Common Name from the request's verified peer
// leaf certificate. The CN is expected to carry the aircraft ID. Empty when
// the connection is not TLS or no client certificate was presented.
func PeerCommonName(r *http.Request) string {
	if r == nil || r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
		return ""
	}
	return r.TLS.PeerCertificates[0].Subject.CommonName
}

// Correlate cross-checks the transport identity against the token subject.
// The comparison is exact and case-sensitive: a valid token is not a valid
// request when the certificate disagrees. An empty CN skips the check and
// the request proceeds on JWT trust alone.
func Correlate(cn, subject string) error {
	if cn == "" {
		return nil
	}
	if subject != "" && cn != subject {
		return auth.ErrCertificateSubjectMismatch
	}
	return nil
}
