package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/spiffe/go-spiffe/v2/spiffetls/tlsconfig"
	"github.com/spiffe/go-spiffe/v2/workloadapi"
)

// ErrSourceClosed is returned for handshakes after the source was closed.
var ErrSourceClosed = errors.New("certificate source is closed")

// SPIRESource serves the server certificate from a SPIRE agent's Workload
// API. The underlying X509Source rotates the certificate in the background.
//
// Call Close when done to release connections and goroutines.
type SPIRESource struct {
	mu     sync.RWMutex
	source *workloadapi.X509Source

	closeOnce sync.Once
	closeErr  error
}

// NewSPIRESource connects to the Workload API at socket and waits for the
// first SVID. ctx only bounds that initial fetch.
//
// Accepts "unix://" and "tcp://" addresses; a bare filesystem path is
// treated as a unix socket.
func NewSPIRESource(ctx context.Context, socket string) (*SPIRESource, error) {
	if ctx == nil {
		return nil, errors.New("context cannot be nil")
	}

	var opts []workloadapi.X509SourceOption
	if socket != "" {
		opts = append(opts, workloadapi.WithClientOptions(workloadapi.WithAddr(normalizeToAddr(socket))))
	}

	x509src, err := workloadapi.NewX509Source(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create X509Source: %w", err)
	}
	return &SPIRESource{source: x509src}, nil
}

// GetCertificate implements tls.Config.GetCertificate.
func (s *SPIRESource) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.source == nil {
		return nil, ErrSourceClosed
	}
	return tlsconfig.GetCertificate(s.source)(hello)
}

// Close releases the source. It is idempotent.
func (s *SPIRESource) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.source != nil {
			s.closeErr = s.source.Close()
			s.source = nil
		}
	})
	return s.closeErr
}

// normalizeToAddr prefixes bare filesystem paths with "unix://".
func normalizeToAddr(raw string) string {
	if strings.HasPrefix(raw, "unix://") || strings.HasPrefix(raw, "tcp://") {
		return raw
	}
	return "unix://" + raw
}
