package config

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/spiffe/go-spiffe/v2/spiffeid"

	"github.com/sufield/geminid/internal/logging"
	"github.com/sufield/geminid/internal/mediatype"
)

// ErrInvalidConfig is returned when configuration validation fails
var ErrInvalidConfig = errors.New("invalid config")

// validate checks a FileConfig that already has defaults applied.
func validate(cfg *FileConfig) error {
	if err := validateServer(cfg); err != nil {
		return fmt.Errorf("%w: server: %w", ErrInvalidConfig, err)
	}
	if err := validateContent(cfg); err != nil {
		return fmt.Errorf("%w: content: %w", ErrInvalidConfig, err)
	}
	if err := validateTLS(cfg); err != nil {
		return fmt.Errorf("%w: tls: %w", ErrInvalidConfig, err)
	}
	for i := range cfg.SecureDomains {
		if err := validateSecureDomain(&cfg.SecureDomains[i]); err != nil {
			return fmt.Errorf("%w: secure_domains[%d]: %w", ErrInvalidConfig, i, err)
		}
	}
	if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("%w: log: %w", ErrInvalidConfig, err)
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: log: format must be text or json, got %q", ErrInvalidConfig, cfg.Log.Format)
	}
	return nil
}

// validateServer validates listener and worker settings
func validateServer(cfg *FileConfig) error {
	if cfg.Host == "" {
		return errors.New("host is required")
	}
	if cfg.Port < MinPort || cfg.Port > MaxPort {
		return fmt.Errorf("port must be between %d and %d, got %d", MinPort, MaxPort, cfg.Port)
	}
	if cfg.NumWorkers < 1 {
		return fmt.Errorf("num_workers must be positive, got %d", cfg.NumWorkers)
	}
	if cfg.MaxLocalRedirects != nil && *cfg.MaxLocalRedirects < 0 {
		return fmt.Errorf("max_local_redirects must be non-negative, got %d", *cfg.MaxLocalRedirects)
	}
	d, err := time.ParseDuration(cfg.ShutdownTimeout)
	if err != nil {
		return fmt.Errorf("invalid shutdown_timeout %q: %w", cfg.ShutdownTimeout, err)
	}
	if d < 0 {
		return fmt.Errorf("shutdown_timeout must not be negative, got %v", d)
	}
	return nil
}

// validateContent validates content type, charset and feed settings
func validateContent(cfg *FileConfig) error {
	if cfg.DefaultCharset != "" {
		if _, err := mediatype.CanonicalCharset(cfg.DefaultCharset); err != nil {
			return fmt.Errorf("default_charset: %w", err)
		}
	}
	for _, suffix := range cfg.TextGeminiSuffixes {
		if suffix == "" {
			return errors.New("text_gemini_suffixes must not contain empty entries")
		}
	}
	for _, page := range cfg.FeedPages {
		if escapesRoot(page) {
			return fmt.Errorf("feed page %q must be inside root", page)
		}
	}
	if cfg.CGIDir != "" && !path.IsAbs(cfg.CGIDir) && escapesRoot(cfg.CGIDir) {
		return fmt.Errorf("cgi_dir %q must be inside root", cfg.CGIDir)
	}
	return nil
}

// validateTLS validates server certificate settings
func validateTLS(cfg *FileConfig) error {
	if (cfg.TLS.CertFile == "") != (cfg.TLS.KeyFile == "") {
		return errors.New("cert_file and key_file must be set together")
	}
	if cfg.TLS.CertFile != "" && cfg.TLS.SPIRESocket != "" {
		return errors.New("cannot set both cert_file and spire_socket")
	}
	if cfg.TLS.SPIRESocket != "" && !strings.HasPrefix(cfg.TLS.SPIRESocket, "unix://") &&
		!strings.HasPrefix(cfg.TLS.SPIRESocket, "tcp://") {
		return fmt.Errorf("spire_socket must start with 'unix://' or 'tcp://', got %q", cfg.TLS.SPIRESocket)
	}
	d, err := time.ParseDuration(cfg.TLS.TemporaryCertValidity)
	if err != nil {
		return fmt.Errorf("invalid temporary_cert_validity %q: %w", cfg.TLS.TemporaryCertValidity, err)
	}
	if d <= 0 {
		return fmt.Errorf("temporary_cert_validity must be positive, got %v", d)
	}
	return nil
}

// validateSecureDomain validates one secure domain's path and trust policy
func validateSecureDomain(sd *SecureDomainSection) error {
	if escapesRoot(sd.Path) {
		return fmt.Errorf("path %q must be inside root", sd.Path)
	}
	if sd.TrustDomain != "" {
		if _, err := spiffeid.TrustDomainFromString(sd.TrustDomain); err != nil {
			return fmt.Errorf("invalid trust_domain %q: %w", sd.TrustDomain, err)
		}
	}
	if sd.SPIFFE == nil {
		return nil
	}

	if sd.Truststore != "" {
		return errors.New("cannot set both truststore and spiffe")
	}
	if sd.SPIFFE.Bundle == "" {
		return errors.New("spiffe.bundle must be set")
	}
	if _, err := spiffeid.TrustDomainFromString(sd.SPIFFE.TrustDomain); err != nil {
		return fmt.Errorf("invalid spiffe.trust_domain %q: %w", sd.SPIFFE.TrustDomain, err)
	}
	if sd.SPIFFE.AllowedID != "" && sd.SPIFFE.AllowedTrustDomain != "" {
		return errors.New("cannot set both spiffe.allowed_id and spiffe.allowed_trust_domain")
	}
	return nil
}

// escapesRoot reports whether a root-relative path climbs out of the root.
func escapesRoot(p string) bool {
	clean := path.Clean(strings.TrimPrefix(p, "/"))
	return clean == ".." || strings.HasPrefix(clean, "../")
}
