package httpsclient

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

// TrustStore holds the CA certificates peers are verified against. A nil
// or empty TrustStore puts sessions into insecure mode: traffic is still
// encrypted, but the server certificate chain is not checked.
type TrustStore struct {
	pool  *x509.CertPool
	count int
}

// LoadTrustStore reads a PEM bundle from path. The bundle may hold a root
// and any number of intermediates.
func LoadTrustStore(path string) (*TrustStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading trust store: %w", err)
	}

	ts, err := ParseTrustStore(data)
	if err != nil {
		return nil, fmt.Errorf("parsing trust store %s: %w", path, err)
	}

	return ts, nil
}

// ParseTrustStore builds a TrustStore from PEM data. Non-certificate
// blocks are skipped; a bundle without a single certificate is an error.
func ParseTrustStore(data []byte) (*TrustStore, error) {
	ts := &TrustStore{pool: x509.NewCertPool()}

	for len(data) > 0 {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}

		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("certificate %d: %w", ts.count+1, err)
		}

		ts.pool.AddCert(cert)
		ts.count++
	}

	if ts.count == 0 {
		return nil, fmt.Errorf("no certificates found in PEM data")
	}

	return ts, nil
}

// Len returns the number of certificates loaded.
func (t *TrustStore) Len() int {
	if t == nil {
		return 0
	}

	return t.count
}

// Empty reports whether no certificates are loaded.
func (t *TrustStore) Empty() bool {
	return t.Len() == 0
}

// Pool returns the underlying certificate pool, or nil when empty.
func (t *TrustStore) Pool() *x509.CertPool {
	if t.Empty() {
		return nil
	}

	return t.pool
}

// FindTrustStore returns the first candidate path that exists as a
// regular file. ok is false when none does.
func FindTrustStore(candidates []string) (path string, ok bool) {
	for _, p := range candidates {
		if p == "" {
			continue
		}

		info, err := os.Stat(p)
		if err == nil && info.Mode().IsRegular() {
			return p, true
		}
	}

	return "", false
}
