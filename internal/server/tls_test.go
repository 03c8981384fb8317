package server

import (
	"context"
	"crypto/x509"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sufield/geminid/internal/config"
	"github.com/sufield/geminid/internal/logging"
	"github.com/sufield/geminid/internal/testhelpers"
)

func TestTemporaryCertificate(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	cert, err := TemporaryCertificate("example.org", 24*time.Hour, now)
	require.NoError(t, err)
	require.NotNil(t, cert.Leaf)

	assert.Equal(t, "example.org", cert.Leaf.Subject.CommonName)
	assert.Equal(t, []string{"example.org"}, cert.Leaf.DNSNames)
	assert.Equal(t, now, cert.Leaf.NotBefore)
	assert.Equal(t, now.Add(24*time.Hour), cert.Leaf.NotAfter)
	assert.Equal(t, cert.Leaf.Subject.String(), cert.Leaf.Issuer.String(), "self-issued")
	assert.NoError(t, cert.Leaf.CheckSignature(cert.Leaf.SignatureAlgorithm, cert.Leaf.RawTBSCertificate, cert.Leaf.Signature),
		"self-signed")
	assert.False(t, cert.Leaf.IsCA)
	assert.Contains(t, cert.Leaf.ExtKeyUsage, x509.ExtKeyUsageServerAuth)

	ipCert, err := TemporaryCertificate("127.0.0.1", time.Hour, now)
	require.NoError(t, err)
	require.Len(t, ipCert.Leaf.IPAddresses, 1)
	assert.Equal(t, "127.0.0.1", ipCert.Leaf.IPAddresses[0].String())
}

func TestCheckServerName(t *testing.T) {
	assert.NoError(t, CheckServerName("", "example.org"))
	assert.NoError(t, CheckServerName("example.org", "example.org"))
	assert.NoError(t, CheckServerName("EXAMPLE.org.", "example.org"))
	assert.Error(t, CheckServerName("other.org", "example.org"))
}

func TestTLSConfig_CertificateFiles(t *testing.T) {
	dir := t.TempDir()
	leaf := testhelpers.SelfSigned(t, testhelpers.CertOptions{CommonName: "example.org", DNSNames: []string{"example.org"}})
	certFile, keyFile := leaf.WritePEM(t, dir)

	cfg := config.Config{Host: "example.org", TLS: config.TLS{CertFile: certFile, KeyFile: keyFile}}
	tlsCfg, closer, err := TLSConfig(context.Background(), cfg, logging.Discard())
	require.NoError(t, err)
	defer closer.Close()

	require.Len(t, tlsCfg.Certificates, 1)
	assert.Nil(t, tlsCfg.GetCertificate)
}

func TestTLSConfig_MissingFiles(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Config{
		Host: "example.org",
		TLS:  config.TLS{CertFile: filepath.Join(dir, "cert.pem"), KeyFile: filepath.Join(dir, "key.pem")},
	}

	_, _, err := TLSConfig(context.Background(), cfg, logging.Discard())
	assert.ErrorContains(t, err, "failed to load server certificate")
}

func TestTLSConfig_TemporaryCertificate(t *testing.T) {
	cfg := config.Config{Host: "example.org", TLS: config.TLS{TemporaryCertValidity: time.Hour}}

	tlsCfg, closer, err := TLSConfig(context.Background(), cfg, logging.Discard())
	require.NoError(t, err)
	defer closer.Close()

	require.Len(t, tlsCfg.Certificates, 1)
	assert.Equal(t, "example.org", tlsCfg.Certificates[0].Leaf.Subject.CommonName)
	require.NotNil(t, tlsCfg.GetConfigForClient)
}

func TestNormalizeToAddr(t *testing.T) {
	assert.Equal(t, "unix:///tmp/agent.sock", normalizeToAddr("unix:///tmp/agent.sock"))
	assert.Equal(t, "tcp://agent:8081", normalizeToAddr("tcp://agent:8081"))
	assert.Equal(t, "unix:///tmp/agent.sock", normalizeToAddr("/tmp/agent.sock"))
}

func TestSPIRESource_ClosedSource(t *testing.T) {
	s := &SPIRESource{}
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close(), "idempotent")

	_, err := s.GetCertificate(nil)
	assert.ErrorIs(t, err, ErrSourceClosed)
}
