// Package authz implements per-directory client certificate authorization.
//
// A secure domain is a path prefix paired with a TrustPolicy. Requests whose
// path falls under a secure domain must present a client certificate that
// the policy accepts and that is currently valid. Domains are checked in the
// order they were declared and the first matching prefix wins.
package authz

import (
	"fmt"
	"strings"
	"time"

	"github.com/sufield/geminid/internal/gemini"
)

// Domain is a secure domain rule.
type Domain struct {
	// Prefix is a path relative to the document root, without leading or
	// trailing slashes. An empty prefix covers the whole root.
	Prefix string
	Policy TrustPolicy
}

// Denial is an authorization failure carrying the response status.
type Denial struct {
	Status  gemini.Status
	Message string
	Err     error
}

func (d *Denial) Error() string {
	if d.Err != nil {
		return fmt.Sprintf("%d %s: %v", int(d.Status), d.Message, d.Err)
	}
	return fmt.Sprintf("%d %s", int(d.Status), d.Message)
}

func (d *Denial) Unwrap() error { return d.Err }

// Authorizer evaluates secure domains for request paths.
type Authorizer struct {
	domains []Domain
	now     func() time.Time
}

// Option configures an Authorizer.
type Option func(*Authorizer)

// WithClock sets the clock certificate validity is checked against.
// Defaults to time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Authorizer) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAuthorizer returns an Authorizer over domains, kept in the given order.
func NewAuthorizer(domains []Domain, opts ...Option) *Authorizer {
	cleaned := make([]Domain, len(domains))
	for i, d := range domains {
		cleaned[i] = Domain{Prefix: strings.Trim(d.Prefix, "/"), Policy: d.Policy}
	}
	a := &Authorizer{domains: cleaned, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Match returns the first domain covering relPath, a root-relative path
// without a leading slash.
func (a *Authorizer) Match(relPath string) (Domain, bool) {
	for _, d := range a.domains {
		if covers(d.Prefix, relPath) {
			return d, true
		}
	}
	return Domain{}, false
}

// Authorize checks id against the domain covering relPath. It returns the
// subject to record as the remote user, which is empty when no domain
// applies. Failures are *Denial.
func (a *Authorizer) Authorize(relPath string, id *ClientIdentity) (string, error) {
	d, ok := a.Match(relPath)
	if !ok {
		return "", nil
	}
	if id == nil {
		return "", &Denial{Status: gemini.StatusClientCertificateRequired, Message: "Authentication required"}
	}

	now := a.now()
	if err := d.Policy.Verify(id, now); err != nil {
		return "", &Denial{Status: gemini.StatusCertificateNotValid, Message: "Authorization denied", Err: err}
	}
	if now.After(id.NotAfter) {
		return "", &Denial{Status: gemini.StatusCertificateNotValid, Message: "Certificate has expired"}
	}
	if now.Before(id.NotBefore) {
		return "", &Denial{Status: gemini.StatusCertificateNotValid, Message: "Certificate is not yet valid"}
	}
	return id.Subject, nil
}

// Len reports the number of configured domains.
func (a *Authorizer) Len() int { return len(a.domains) }

func covers(prefix, relPath string) bool {
	if prefix == "" {
		return true
	}
	if !strings.HasPrefix(relPath, prefix) {
		return false
	}
	return len(relPath) == len(prefix) || relPath[len(prefix)] == '/'
}
