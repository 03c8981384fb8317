package server

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net"
	"strings"
	"time"

	"github.com/sufield/geminid/internal/config"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// TLSConfig builds the listener's TLS configuration.
//
// The certificate comes from cert_file/key_file, from a SPIRE agent when
// spire_socket is set, or is generated on the spot. Client certificates
// are requested but not verified during the handshake; secure domains
// verify them per request. The returned closer releases the certificate
// source.
func TLSConfig(ctx context.Context, cfg config.Config, logger *slog.Logger) (*tls.Config, io.Closer, error) {
	tlsCfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ClientAuth: tls.RequestClientCert,
		GetConfigForClient: func(hello *tls.ClientHelloInfo) (*tls.Config, error) {
			return nil, CheckServerName(hello.ServerName, cfg.Host)
		},
	}

	switch {
	case cfg.TLS.CertFile != "":
		cert, err := tls.LoadX509KeyPair(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load server certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
		logger.Info("Using server certificate", slog.String("cert_file", cfg.TLS.CertFile))
		return tlsCfg, nopCloser{}, nil

	case cfg.TLS.SPIRESocket != "":
		source, err := NewSPIRESource(ctx, cfg.TLS.SPIRESocket)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create SPIRE source: %w", err)
		}
		tlsCfg.GetCertificate = source.GetCertificate
		logger.Info("Using SPIRE server certificate", slog.String("spire_socket", cfg.TLS.SPIRESocket))
		return tlsCfg, source, nil

	default:
		cert, err := TemporaryCertificate(cfg.Host, cfg.TLS.TemporaryCertValidity, time.Now())
		if err != nil {
			return nil, nil, err
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
		logger.Warn("Using temporary self-signed server certificate",
			slog.String("host", cfg.Host),
			slog.Duration("validity", cfg.TLS.TemporaryCertValidity),
		)
		return tlsCfg, nopCloser{}, nil
	}
}

// CheckServerName rejects a ClientHello whose SNI names another host.
// Clients that send no SNI are accepted.
func CheckServerName(serverName, host string) error {
	if serverName == "" || strings.EqualFold(strings.TrimSuffix(serverName, "."), host) {
		return nil
	}
	return fmt.Errorf("unrecognized server name %q", serverName)
}

// TemporaryCertificate generates a self-signed certificate for host, valid
// from now for validity.
func TemporaryCertificate(host string, validity time.Duration, now time.Time) (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to generate serial number: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: host},
		NotBefore:             now,
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	if ip := net.ParseIP(host); ip != nil {
		template.IPAddresses = []net.IP{ip}
	} else {
		template.DNSNames = []string{host}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to create certificate: %w", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to parse certificate: %w", err)
	}

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}, nil
}
