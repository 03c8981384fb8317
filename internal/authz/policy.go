package authz

import (
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"github.com/spiffe/go-spiffe/v2/bundle/x509bundle"
	"github.com/spiffe/go-spiffe/v2/spiffeid"
	"github.com/spiffe/go-spiffe/v2/spiffetls/tlsconfig"
	"github.com/spiffe/go-spiffe/v2/svid/x509svid"
)

// TrustPolicy decides whether a client certificate is acceptable for a
// secure domain. Verify does not check the leaf validity window; the
// Authorizer does that separately.
type TrustPolicy interface {
	Verify(id *ClientIdentity, now time.Time) error
}

// AllowAll accepts any client certificate.
type AllowAll struct{}

// Verify always succeeds.
func (AllowAll) Verify(*ClientIdentity, time.Time) error { return nil }

// TrustStore verifies the client chain against a fixed set of root
// certificates loaded from a PEM bundle.
type TrustStore struct {
	roots *x509.CertPool
}

// LoadTrustStore reads the PEM bundle at path. The trust domain only names
// the bundle; it has no effect on verification.
func LoadTrustStore(td spiffeid.TrustDomain, path string) (*TrustStore, error) {
	bundle, err := x509bundle.Load(td, path)
	if err != nil {
		return nil, fmt.Errorf("failed to load truststore %s: %w", path, err)
	}
	return NewTrustStore(bundle.X509Authorities()...)
}

// NewTrustStore returns a TrustStore trusting the given roots.
func NewTrustStore(roots ...*x509.Certificate) (*TrustStore, error) {
	if len(roots) == 0 {
		return nil, errors.New("truststore has no certificates")
	}
	pool := x509.NewCertPool()
	for _, root := range roots {
		pool.AddCert(root)
	}
	return &TrustStore{roots: pool}, nil
}

// Verify checks that the client chain leads to one of the trusted roots.
func (s *TrustStore) Verify(id *ClientIdentity, now time.Time) error {
	intermediates := x509.NewCertPool()
	for _, c := range id.Intermediates {
		intermediates.AddCert(c)
	}

	_, err := id.Certificate.Verify(x509.VerifyOptions{
		Roots:         s.roots,
		Intermediates: intermediates,
		CurrentTime:   id.withinValidity(now),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return fmt.Errorf("chain verification failed: %w", err)
	}
	return nil
}

// SPIFFE verifies that the client presented an X.509-SVID issued by the
// bundle's trust domain and that its SPIFFE ID satisfies the authorizer.
type SPIFFE struct {
	bundles    x509bundle.Source
	authorizer tlsconfig.Authorizer
}

// NewSPIFFE returns a SPIFFE policy. A nil authorizer accepts any verified ID.
func NewSPIFFE(bundles x509bundle.Source, authorizer tlsconfig.Authorizer) *SPIFFE {
	if authorizer == nil {
		authorizer = tlsconfig.AuthorizeAny()
	}
	return &SPIFFE{bundles: bundles, authorizer: authorizer}
}

// Verify runs SVID chain verification followed by the ID authorizer.
func (s *SPIFFE) Verify(id *ClientIdentity, now time.Time) error {
	spiffeID, chains, err := x509svid.Verify(id.Chain(), s.bundles, x509svid.WithTime(id.withinValidity(now)))
	if err != nil {
		return fmt.Errorf("svid verification failed: %w", err)
	}
	if err := s.authorizer(spiffeID, chains); err != nil {
		return fmt.Errorf("spiffe id %s not authorized: %w", spiffeID, err)
	}
	return nil
}

// NewIDAuthorizer builds a go-spiffe authorizer from an allowed SPIFFE ID or
// an allowed trust domain. With neither set any ID is accepted.
func NewIDAuthorizer(allowedID, allowedTrustDomain string) (tlsconfig.Authorizer, error) {
	if allowedID != "" {
		id, err := spiffeid.FromString(allowedID)
		if err != nil {
			return nil, fmt.Errorf("invalid allowed_id %q: %w", allowedID, err)
		}
		return tlsconfig.AuthorizeID(id), nil
	}
	if allowedTrustDomain != "" {
		td, err := spiffeid.TrustDomainFromString(allowedTrustDomain)
		if err != nil {
			return nil, fmt.Errorf("invalid allowed_trust_domain %q: %w", allowedTrustDomain, err)
		}
		return tlsconfig.AuthorizeMemberOf(td), nil
	}
	return tlsconfig.AuthorizeAny(), nil
}

var (
	_ TrustPolicy = AllowAll{}
	_ TrustPolicy = (*TrustStore)(nil)
	_ TrustPolicy = (*SPIFFE)(nil)
)
