// Package keys owns the RSA key material used to sign and verify access
// tokens. Keys are loaded lazily on first use and cached for the process
// lifetime; key bytes never appear in logs or error messages.
package keys

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// pemMarker is how every PEM block begins. A configured value that does not
// start with it is treated as a file path and read from disk.
const pemMarker = "-----BEGIN"

// ErrKeyLoad indicates the key material could not be loaded. It is a
// startup-class failure: the service must not serve authenticated traffic
// when it is returned.
var ErrKeyLoad = errors.New("keys: key material unavailable")

// Store resolves and caches the RSA signing and verification keys.
// Concurrent first use performs a single load per key.
type Store struct {
	privateSource string
	publicSource  string

	privateOnce sync.Once
	privateKey  *rsa.PrivateKey
	privateErr  error

	publicOnce sync.Once
	publicKey  *rsa.PublicKey
	publicErr  error
}

// NewStore builds a Store from configured sources. Each source is either a
// literal PEM block or a path to a file containing one.
func NewStore(privateSource, publicSource string) *Store {
	return &Store{
		privateSource: strings.TrimSpace(privateSource),
		publicSource:  strings.TrimSpace(publicSource),
	}
}

// Private returns the RSA private key, loading it on first call.
func (s *Store) Private() (*rsa.PrivateKey, error) {
	s.privateOnce.Do(func() {
		pemData, err := resolvePEM(s.privateSource)
		if err != nil {
			s.privateErr = err
			return
		}
		s.privateKey, s.privateErr = parseRSAPrivateKey(pemData)
	})
	return s.privateKey, s.privateErr
}

// Public returns the RSA public key, loading it on first call.
func (s *Store) Public() (*rsa.PublicKey, error) {
	s.publicOnce.Do(func() {
		pemData, err := resolvePEM(s.publicSource)
		if err != nil {
			s.publicErr = err
			return
		}
		s.publicKey, s.publicErr = parseRSAPublicKey(pemData)
	})
	return s.publicKey, s.publicErr
}

// resolvePEM turns a configured source into PEM text. Error messages name
// the failure mode only, never the content.
func resolvePEM(source string) (string, error) {
	if source == "" {
		return "", fmt.Errorf("%w: source not configured", ErrKeyLoad)
	}
	if !strings.HasPrefix(source, pemMarker) {
		data, err := os.ReadFile(source)
		if err != nil {
			return "", fmt.Errorf("%w: read key file", ErrKeyLoad)
		}
		source = strings.TrimSpace(string(data))
	}
	if !strings.HasPrefix(source, pemMarker) {
		return "", fmt.Errorf("%w: content is not PEM encoded", ErrKeyLoad)
	}
	return source, nil
}

func parseRSAPrivateKey(pemData string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("%w: invalid PEM private key", ErrKeyLoad)
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: parse private key", ErrKeyLoad)
		}
		return key, nil
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: parse private key", ErrKeyLoad)
		}
		if rsaKey, ok := key.(*rsa.PrivateKey); ok {
			return rsaKey, nil
		}
		return nil, fmt.Errorf("%w: unsupported private key type", ErrKeyLoad)
	default:
		return nil, fmt.Errorf("%w: unsupported private key block %q", ErrKeyLoad, block.Type)
	}
}

func parseRSAPublicKey(pemData string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("%w: invalid PEM public key", ErrKeyLoad)
	}
	switch block.Type {
	case "PUBLIC KEY":
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: parse public key", ErrKeyLoad)
		}
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: not an RSA public key", ErrKeyLoad)
		}
		return rsaKey, nil
	case "RSA PUBLIC KEY":
		key, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: parse public key", ErrKeyLoad)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("%w: unsupported public key block %q", ErrKeyLoad, block.Type)
	}
}
