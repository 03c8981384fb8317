package config

import "time"

// Defaults for unset configuration values.
const (
	DefaultRoot                  = "/var/gemini"
	DefaultPort                  = 1965
	DefaultControlAddress        = "127.0.0.1:31965"
	DefaultShutdownTimeout       = 5 * time.Second
	DefaultNumWorkers            = 4
	DefaultMaxLocalRedirects     = 10
	DefaultContentType           = "text/plain"
	DefaultTemporaryCertValidity = 24 * time.Hour
	DefaultServiceName           = "geminid"

	MinPort = 1
	MaxPort = 65535
)

// DefaultTextGeminiSuffixes are the file suffixes served as text/gemini.
var DefaultTextGeminiSuffixes = []string{".gmi", ".gemini"}

// applyDefaults sets default values for unspecified configuration
func applyDefaults(cfg *FileConfig) {
	if cfg.Root == "" {
		cfg.Root = DefaultRoot
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.ControlAddress == nil {
		addr := DefaultControlAddress
		cfg.ControlAddress = &addr
	}
	if cfg.ShutdownTimeout == "" {
		cfg.ShutdownTimeout = DefaultShutdownTimeout.String()
	}
	if cfg.NumWorkers == 0 {
		cfg.NumWorkers = DefaultNumWorkers
	}
	if cfg.MaxLocalRedirects == nil {
		n := DefaultMaxLocalRedirects
		cfg.MaxLocalRedirects = &n
	}
	if cfg.TextGeminiSuffixes == nil {
		cfg.TextGeminiSuffixes = append([]string(nil), DefaultTextGeminiSuffixes...)
	}
	if cfg.DefaultContentType == "" {
		cfg.DefaultContentType = DefaultContentType
	}
	if cfg.TLS.TemporaryCertValidity == "" {
		cfg.TLS.TemporaryCertValidity = DefaultTemporaryCertValidity.String()
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}
