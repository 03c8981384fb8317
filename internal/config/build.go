package config

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/spiffe/go-spiffe/v2/bundle/x509bundle"
	"github.com/spiffe/go-spiffe/v2/spiffeid"

	"github.com/sufield/geminid/internal/authz"
	"github.com/sufield/geminid/internal/telemetry"
)

// TLS holds the resolved server certificate settings.
type TLS struct {
	CertFile              string
	KeyFile               string
	SPIRESocket           string
	TemporaryCertValidity time.Duration
}

// Config is the validated, immutable server configuration. It is shared
// read-only by every connection.
type Config struct {
	Root            string
	Host            string
	Port            int
	ControlAddress  string
	ShutdownTimeout time.Duration
	NumWorkers      int

	CGIDir            string
	MaxLocalRedirects int
	ModSSLVars        bool

	ForceCanonicalText     bool
	TextGeminiSuffixes     []string
	DefaultContentType     string
	EnableCharsetDetection bool
	DefaultCharset         string

	Favicon   string
	FeedPages []string
	LogDir    string

	TLS           TLS
	SecureDomains []authz.Domain
	Log           LogSection
	Telemetry     telemetry.Config
}

// Build applies defaults, validates the file configuration and loads the
// trust material of every secure domain.
func (fc FileConfig) Build() (Config, error) {
	applyDefaults(&fc)
	if err := validate(&fc); err != nil {
		return Config{}, err
	}

	root, err := filepath.Abs(fc.Root)
	if err != nil {
		return Config{}, fmt.Errorf("%w: root: %w", ErrInvalidConfig, err)
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return Config{}, fmt.Errorf("%w: root %s is not a directory", ErrInvalidConfig, root)
	}

	// Parse errors were ruled out by validate.
	shutdownTimeout, _ := time.ParseDuration(fc.ShutdownTimeout)
	certValidity, _ := time.ParseDuration(fc.TLS.TemporaryCertValidity)

	cfg := Config{
		Root:                   root,
		Host:                   fc.Host,
		Port:                   fc.Port,
		ControlAddress:         *fc.ControlAddress,
		ShutdownTimeout:        shutdownTimeout,
		NumWorkers:             fc.NumWorkers,
		CGIDir:                 fc.CGIDir,
		MaxLocalRedirects:      *fc.MaxLocalRedirects,
		ModSSLVars:             fc.ModSSLVars,
		ForceCanonicalText:     fc.ForceCanonicalText,
		TextGeminiSuffixes:     fc.TextGeminiSuffixes,
		DefaultContentType:     fc.DefaultContentType,
		EnableCharsetDetection: fc.EnableCharsetDetection,
		DefaultCharset:         fc.DefaultCharset,
		Favicon:                fc.Favicon,
		LogDir:                 fc.LogDir,
		TLS: TLS{
			CertFile:              fc.TLS.CertFile,
			KeyFile:               fc.TLS.KeyFile,
			SPIRESocket:           fc.TLS.SPIRESocket,
			TemporaryCertValidity: certValidity,
		},
		Log: fc.Log,
		Telemetry: telemetry.Config{
			OTLPEndpoint: fc.Telemetry.OTLPEndpoint,
			Insecure:     fc.Telemetry.Insecure,
			ServiceName:  fc.Telemetry.ServiceName,
		},
	}

	for _, page := range fc.FeedPages {
		cfg.FeedPages = append(cfg.FeedPages, path.Clean(strings.TrimPrefix(page, "/")))
	}

	for i, sd := range fc.SecureDomains {
		d, err := buildSecureDomain(sd, fc.Host)
		if err != nil {
			return Config{}, fmt.Errorf("%w: secure_domains[%d]: %w", ErrInvalidConfig, i, err)
		}
		cfg.SecureDomains = append(cfg.SecureDomains, d)
	}

	return cfg, nil
}

func buildSecureDomain(sd SecureDomainSection, host string) (authz.Domain, error) {
	prefix := path.Clean(strings.TrimPrefix(sd.Path, "/"))
	if prefix == "." {
		prefix = ""
	}

	switch {
	case sd.SPIFFE != nil:
		td, err := spiffeid.TrustDomainFromString(sd.SPIFFE.TrustDomain)
		if err != nil {
			return authz.Domain{}, fmt.Errorf("invalid spiffe.trust_domain: %w", err)
		}
		bundle, err := x509bundle.Load(td, sd.SPIFFE.Bundle)
		if err != nil {
			return authz.Domain{}, fmt.Errorf("failed to load spiffe bundle: %w", err)
		}
		authorizer, err := authz.NewIDAuthorizer(sd.SPIFFE.AllowedID, sd.SPIFFE.AllowedTrustDomain)
		if err != nil {
			return authz.Domain{}, err
		}
		return authz.Domain{Prefix: prefix, Policy: authz.NewSPIFFE(bundle, authorizer)}, nil

	case sd.Truststore != "":
		name := sd.TrustDomain
		if name == "" {
			name = strings.ToLower(host)
		}
		td, err := spiffeid.TrustDomainFromString(name)
		if err != nil {
			return authz.Domain{}, fmt.Errorf("invalid trust_domain %q: %w", name, err)
		}
		store, err := authz.LoadTrustStore(td, sd.Truststore)
		if err != nil {
			return authz.Domain{}, err
		}
		return authz.Domain{Prefix: prefix, Policy: store}, nil

	default:
		return authz.Domain{Prefix: prefix, Policy: authz.AllowAll{}}, nil
	}
}
