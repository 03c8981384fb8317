package authz

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"strings"
	"time"
)

// ClientIdentity describes the certificate a client presented during the
// TLS handshake. It is informational until a TrustPolicy accepts it.
type ClientIdentity struct {
	Certificate   *x509.Certificate
	Intermediates []*x509.Certificate

	Subject     string
	Issuer      string
	Serial      string // upper-case hex
	Version     int
	NotBefore   time.Time
	NotAfter    time.Time
	Fingerprint string // lower-case hex SHA-256 of the DER encoding
}

// IdentityFromState extracts the client identity from a completed handshake.
// It returns nil when the client sent no certificate.
func IdentityFromState(state tls.ConnectionState) *ClientIdentity {
	if len(state.PeerCertificates) == 0 {
		return nil
	}
	return NewClientIdentity(state.PeerCertificates[0], state.PeerCertificates[1:]...)
}

// NewClientIdentity builds a ClientIdentity for leaf and the intermediates
// that accompanied it.
func NewClientIdentity(leaf *x509.Certificate, intermediates ...*x509.Certificate) *ClientIdentity {
	sum := sha256.Sum256(leaf.Raw)
	return &ClientIdentity{
		Certificate:   leaf,
		Intermediates: intermediates,
		Subject:       leaf.Subject.String(),
		Issuer:        leaf.Issuer.String(),
		Serial:        strings.ToUpper(leaf.SerialNumber.Text(16)),
		Version:       leaf.Version,
		NotBefore:     leaf.NotBefore,
		NotAfter:      leaf.NotAfter,
		Fingerprint:   hex.EncodeToString(sum[:]),
	}
}

// Chain returns the leaf followed by its intermediates.
func (c *ClientIdentity) Chain() []*x509.Certificate {
	chain := make([]*x509.Certificate, 0, 1+len(c.Intermediates))
	chain = append(chain, c.Certificate)
	return append(chain, c.Intermediates...)
}

// RemainingDays is the number of whole days until NotAfter, rounded down.
// It is negative once the certificate has expired.
func (c *ClientIdentity) RemainingDays(now time.Time) int {
	d := c.NotAfter.Sub(now)
	days := int(d / (24 * time.Hour))
	if d < 0 && d%(24*time.Hour) != 0 {
		days--
	}
	return days
}

// withinValidity clamps now into the certificate validity window so that
// chain verification reports trust failures rather than expiry.
func (c *ClientIdentity) withinValidity(now time.Time) time.Time {
	if now.Before(c.NotBefore) {
		return c.NotBefore
	}
	if now.After(c.NotAfter) {
		return c.NotAfter
	}
	return now
}
