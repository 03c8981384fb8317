// Package testhelpers provides certificate fixtures for tests.
//
// It issues throwaway CAs, client certificates and SPIFFE X.509-SVIDs so
// tests can exercise trust policies and TLS handshakes without any external
// infrastructure.
//
// Example usage:
//
//	func TestSecureDomain(t *testing.T) {
//	    ca := testhelpers.NewCA(t, "Test Root")
//	    leaf := ca.Issue(t, testhelpers.CertOptions{CommonName: "alice"})
//	    // ... use leaf.Certificate or leaf.TLSCertificate() ...
//	}
package testhelpers

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// CA is a self-signed certificate authority for tests.
type CA struct {
	Certificate *x509.Certificate
	Key         crypto.Signer
}

// Leaf is an issued end-entity certificate with its key.
type Leaf struct {
	Certificate *x509.Certificate
	Key         crypto.Signer
	// Chain holds the intermediates between the leaf and the root, if any.
	Chain []*x509.Certificate
}

// CertOptions configures an issued certificate. Zero values pick sensible
// defaults: one hour validity starting a minute ago.
type CertOptions struct {
	CommonName string
	DNSNames   []string
	SPIFFEID   string
	NotBefore  time.Time
	NotAfter   time.Time
}

// NewCA creates a root CA with the given common name.
func NewCA(t testing.TB, commonName string) *CA {
	t.Helper()

	key := newKey(t)
	template := &x509.Certificate{
		SerialNumber:          serial(t),
		Subject:               pkix.Name{CommonName: commonName, Organization: []string{"geminid tests"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	return &CA{Certificate: create(t, template, template, key, key), Key: key}
}

// NewSPIFFECA creates a root CA for a SPIFFE trust domain.
func NewSPIFFECA(t testing.TB, trustDomain string) *CA {
	t.Helper()

	key := newKey(t)
	template := &x509.Certificate{
		SerialNumber:          serial(t),
		Subject:               pkix.Name{Organization: []string{"SPIFFE"}, CommonName: trustDomain},
		URIs:                  []*url.URL{{Scheme: "spiffe", Host: trustDomain}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	return &CA{Certificate: create(t, template, template, key, key), Key: key}
}

// Issue signs a new leaf certificate.
func (ca *CA) Issue(t testing.TB, opts CertOptions) *Leaf {
	t.Helper()

	template := leafTemplate(t, opts)
	key := newKey(t)
	return &Leaf{Certificate: create(t, template, ca.Certificate, key, ca.Key), Key: key}
}

// SelfSigned returns a self-signed leaf certificate.
func SelfSigned(t testing.TB, opts CertOptions) *Leaf {
	t.Helper()

	template := leafTemplate(t, opts)
	key := newKey(t)
	return &Leaf{Certificate: create(t, template, template, key, key), Key: key}
}

func leafTemplate(t testing.TB, opts CertOptions) *x509.Certificate {
	t.Helper()

	notBefore, notAfter := opts.NotBefore, opts.NotAfter
	if notBefore.IsZero() {
		notBefore = time.Now().Add(-time.Minute)
	}
	if notAfter.IsZero() {
		notAfter = time.Now().Add(time.Hour)
	}

	template := &x509.Certificate{
		SerialNumber: serial(t),
		Subject:      pkix.Name{CommonName: opts.CommonName},
		DNSNames:     opts.DNSNames,
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
	}
	if opts.SPIFFEID != "" {
		u, err := url.Parse(opts.SPIFFEID)
		if err != nil {
			t.Fatalf("invalid SPIFFE ID %q: %v", opts.SPIFFEID, err)
		}
		template.URIs = []*url.URL{u}
		template.Subject = pkix.Name{Organization: []string{"SPIRE"}}
	}
	return template
}

// TLSCertificate returns the leaf as a tls.Certificate including its chain.
func (l *Leaf) TLSCertificate() tls.Certificate {
	chain := [][]byte{l.Certificate.Raw}
	for _, c := range l.Chain {
		chain = append(chain, c.Raw)
	}
	return tls.Certificate{Certificate: chain, PrivateKey: l.Key, Leaf: l.Certificate}
}

// WritePEM writes the leaf certificate and key to dir and returns both paths.
func (l *Leaf) WritePEM(t testing.TB, dir string) (certFile, keyFile string) {
	t.Helper()

	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	writePEM(t, certFile, "CERTIFICATE", l.Certificate.Raw)

	der, err := x509.MarshalPKCS8PrivateKey(l.Key)
	if err != nil {
		t.Fatalf("failed to marshal key: %v", err)
	}
	writePEM(t, keyFile, "PRIVATE KEY", der)
	return certFile, keyFile
}

// WritePEM writes the CA certificate to path.
func (ca *CA) WritePEM(t testing.TB, path string) {
	t.Helper()
	writePEM(t, path, "CERTIFICATE", ca.Certificate.Raw)
}

func writePEM(t testing.TB, path, blockType string, der []byte) {
	t.Helper()

	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func newKey(t testing.TB) *ecdsa.PrivateKey {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return key
}

func serial(t testing.TB) *big.Int {
	t.Helper()

	n, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		t.Fatalf("failed to generate serial: %v", err)
	}
	return n.Add(n, big.NewInt(1))
}

func create(t testing.TB, template, parent *x509.Certificate, key crypto.Signer, signer crypto.Signer) *x509.Certificate {
	t.Helper()

	der, err := x509.CreateCertificate(rand.Reader, template, parent, key.Public(), signer)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("failed to parse certificate: %v", err)
	}
	return cert
}
