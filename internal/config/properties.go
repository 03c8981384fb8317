package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/magiconair/properties"
)

const secureDomainPrefix = "secureDomain."

// parseProperties reads a properties file. Keys are the camel-case forms of
// the YAML keys, with dotted sections:
//
//	root = /var/gemini
//	host = example.org
//	textGeminiSuffixes = .gmi,.gemini
//	tls.certFile = /etc/geminid/cert.pem
//	secureDomain.private = private:/etc/geminid/clients.pem
//
// secureDomain.<name> values are a path optionally followed by a colon and
// a truststore file. Domains keep the order they appear in the file.
func parseProperties(data []byte) (FileConfig, error) {
	var cfg FileConfig

	p, err := properties.Load(data, properties.UTF8)
	if err != nil {
		return cfg, err
	}
	r := propReader{p: p}

	r.str("root", &cfg.Root)
	r.str("host", &cfg.Host)
	r.int("port", &cfg.Port)
	if v, ok := p.Get("controlAddress"); ok {
		cfg.ControlAddress = &v
	}
	r.str("shutdownTimeout", &cfg.ShutdownTimeout)
	r.int("numWorkers", &cfg.NumWorkers)
	r.str("cgiDir", &cfg.CGIDir)
	if _, ok := p.Get("maxLocalRedirects"); ok {
		var n int
		r.int("maxLocalRedirects", &n)
		cfg.MaxLocalRedirects = &n
	}
	r.bool("setModSslCgiMetaVars", &cfg.ModSSLVars)
	r.bool("forceCanonicalText", &cfg.ForceCanonicalText)
	r.list("textGeminiSuffixes", &cfg.TextGeminiSuffixes)
	r.str("defaultContentType", &cfg.DefaultContentType)
	r.bool("enableCharsetDetection", &cfg.EnableCharsetDetection)
	r.str("defaultCharset", &cfg.DefaultCharset)
	r.str("favicon", &cfg.Favicon)
	r.list("feedPages", &cfg.FeedPages)
	r.str("logDir", &cfg.LogDir)

	r.str("tls.certFile", &cfg.TLS.CertFile)
	r.str("tls.keyFile", &cfg.TLS.KeyFile)
	r.str("tls.spireSocket", &cfg.TLS.SPIRESocket)
	r.str("tls.temporaryCertValidity", &cfg.TLS.TemporaryCertValidity)

	r.str("log.level", &cfg.Log.Level)
	r.str("log.format", &cfg.Log.Format)

	r.str("telemetry.otlpEndpoint", &cfg.Telemetry.OTLPEndpoint)
	r.bool("telemetry.insecure", &cfg.Telemetry.Insecure)
	r.str("telemetry.serviceName", &cfg.Telemetry.ServiceName)

	for _, key := range p.Keys() {
		if !strings.HasPrefix(key, secureDomainPrefix) {
			continue
		}
		value := p.GetString(key, "")
		path, truststore, _ := strings.Cut(value, ":")
		if path == "" {
			return cfg, fmt.Errorf("secure domain %s has no path", key)
		}
		cfg.SecureDomains = append(cfg.SecureDomains, SecureDomainSection{Path: path, Truststore: truststore})
	}

	return cfg, r.err
}

// propReader copies typed values out of a properties file, keeping the
// first conversion error.
type propReader struct {
	p   *properties.Properties
	err error
}

func (r *propReader) str(key string, dst *string) {
	if v, ok := r.p.Get(key); ok {
		*dst = v
	}
}

func (r *propReader) int(key string, dst *int) {
	v, ok := r.p.Get(key)
	if !ok || r.err != nil {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		r.err = fmt.Errorf("invalid %s %q: %w", key, v, err)
		return
	}
	*dst = n
}

func (r *propReader) bool(key string, dst *bool) {
	v, ok := r.p.Get(key)
	if !ok || r.err != nil {
		return
	}
	b, err := parseBool(v)
	if err != nil {
		r.err = fmt.Errorf("invalid %s: %w", key, err)
		return
	}
	*dst = b
}

func (r *propReader) list(key string, dst *[]string) {
	v, ok := r.p.Get(key)
	if !ok {
		return
	}
	out := []string{}
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}
