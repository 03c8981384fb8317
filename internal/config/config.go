package config

// TLSSection configures the server certificate. With neither files nor a
// SPIRE socket set, a temporary self-signed certificate is generated.
type TLSSection struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	// SPIRESocket is the Workload API address used to fetch the server
	// certificate, e.g. "unix:///tmp/spire-agent/public/api.sock".
	SPIRESocket string `yaml:"spire_socket"`

	// TemporaryCertValidity is how long a generated certificate is valid.
	// Use Go duration format: "24h", "720h", etc.
	TemporaryCertValidity string `yaml:"temporary_cert_validity"`
}

// SPIFFESection selects SPIFFE X.509-SVID verification for a secure domain.
type SPIFFESection struct {
	// Bundle is a PEM file holding the trust domain's X.509 authorities.
	Bundle      string `yaml:"bundle"`
	TrustDomain string `yaml:"trust_domain"`

	// At most one of these narrows which SPIFFE IDs are accepted.
	AllowedID          string `yaml:"allowed_id"`
	AllowedTrustDomain string `yaml:"allowed_trust_domain"`
}

// SecureDomainSection is a directory that requires client certificates.
//
// With neither Truststore nor SPIFFE set, any certificate is accepted.
type SecureDomainSection struct {
	// Path is relative to the document root.
	Path string `yaml:"path"`

	// Truststore is a PEM bundle of trusted roots.
	Truststore string `yaml:"truststore"`

	// TrustDomain names the truststore bundle. Defaults to the server host.
	TrustDomain string `yaml:"trust_domain"`

	SPIFFE *SPIFFESection `yaml:"spiffe"`
}

// LogSection configures the structured logger.
type LogSection struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TelemetrySection configures OpenTelemetry export.
type TelemetrySection struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
	ServiceName  string `yaml:"service_name"`
}

// FileConfig represents a geminid configuration file.
//
// YAML files, properties files and environment overrides all fill a
// FileConfig; Build turns it into the immutable Config.
type FileConfig struct {
	Root string `yaml:"root"`
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// ControlAddress is the loopback control listener. An explicit empty
	// string disables it.
	ControlAddress *string `yaml:"control_address"`

	// ShutdownTimeout uses Go duration format.
	ShutdownTimeout string `yaml:"shutdown_timeout"`
	NumWorkers      int    `yaml:"num_workers"`

	CGIDir            string `yaml:"cgi_dir"`
	MaxLocalRedirects *int   `yaml:"max_local_redirects"`
	ModSSLVars        bool   `yaml:"set_mod_ssl_cgi_meta_vars"`

	ForceCanonicalText     bool     `yaml:"force_canonical_text"`
	TextGeminiSuffixes     []string `yaml:"text_gemini_suffixes"`
	DefaultContentType     string   `yaml:"default_content_type"`
	EnableCharsetDetection bool     `yaml:"enable_charset_detection"`
	DefaultCharset         string   `yaml:"default_charset"`

	Favicon   string   `yaml:"favicon"`
	FeedPages []string `yaml:"feed_pages"`
	LogDir    string   `yaml:"log_dir"`

	TLS           TLSSection            `yaml:"tls"`
	SecureDomains []SecureDomainSection `yaml:"secure_domains"`
	Log           LogSection            `yaml:"log"`
	Telemetry     TelemetrySection      `yaml:"telemetry"`
}
