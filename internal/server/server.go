// Package server accepts TLS connections and hands each one to the request
// handler on a bounded pool of workers.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sufield/geminid/internal/bg"
	"github.com/sufield/geminid/internal/handler"
)

// DefaultHandshakeTimeout bounds the TLS handshake of each connection.
const DefaultHandshakeTimeout = 10 * time.Second

// Backoff between retried accept failures.
const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// ConnHandler serves one connection and closes it.
type ConnHandler interface {
	ServeConn(ctx context.Context, conn handler.Conn)
}

// Server runs the accept loop. At most the configured number of workers
// serve connections at once; further connections wait in the listen
// backlog.
type Server struct {
	handler          ConnHandler
	tlsConfig        *tls.Config
	logger           *slog.Logger
	HandshakeTimeout time.Duration

	// Runner runs each accepted connection. Defaults to bg.Async; bg.Sync
	// serves connections one by one on the accept loop.
	Runner bg.Runner

	sem     chan struct{}
	wg      sync.WaitGroup
	closing atomic.Bool
	stop    chan struct{}
	stopped sync.Once

	mu       sync.Mutex
	listener net.Listener
}

// New returns a Server. numWorkers below one is treated as one.
func New(h ConnHandler, tlsConfig *tls.Config, numWorkers int, logger *slog.Logger) *Server {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		handler:          h,
		tlsConfig:        tlsConfig,
		logger:           logger,
		HandshakeTimeout: DefaultHandshakeTimeout,
		Runner:           bg.Async{},
		sem:              make(chan struct{}, numWorkers),
		stop:             make(chan struct{}),
	}
}

// Serve accepts connections on ln until Shutdown is called, then returns
// nil. Timeouts and exhausted resources such as EMFILE are retried with
// backoff; any other accept failure is returned. ctx is passed to every
// connection and is not used to stop the loop.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.closing.Load() {
		s.mu.Unlock()
		_ = ln.Close()
		return nil
	}
	s.listener = ln
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	s.logger.Info("Listening", slog.String("addr", ln.Addr().String()))

	var delay time.Duration
	for {
		raw, err := ln.Accept()
		if err != nil {
			if s.closing.Load() {
				return nil
			}
			if !retryableAcceptError(err) {
				return fmt.Errorf("accept failed: %w", err)
			}
			delay = min(max(2*delay, minAcceptDelay), maxAcceptDelay)
			s.logger.Warn("Accept failed, retrying",
				slog.Any("error", err),
				slog.Duration("retry_in", delay),
			)
			select {
			case <-time.After(delay):
			case <-s.stop:
				return nil
			}
			continue
		}
		delay = 0

		s.sem <- struct{}{}
		s.wg.Add(1)
		s.Runner.Do(func() {
			defer s.wg.Done()
			defer func() { <-s.sem }()
			s.serveConn(ctx, raw)
		})
	}
}

// retryableAcceptError reports whether an accept failure is expected to
// clear up on its own.
func retryableAcceptError(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	for _, errno := range []syscall.Errno{
		syscall.EMFILE, syscall.ENFILE, syscall.ENOBUFS, syscall.ENOMEM,
		syscall.ECONNABORTED, syscall.ECONNRESET,
	} {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}

func (s *Server) serveConn(ctx context.Context, raw net.Conn) {
	conn := tls.Server(raw, s.tlsConfig)

	if s.HandshakeTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(s.HandshakeTimeout))
	}
	if err := conn.HandshakeContext(ctx); err != nil {
		s.logger.Debug("TLS handshake failed",
			slog.String("remote_addr", raw.RemoteAddr().String()),
			slog.Any("error", err),
		)
		_ = conn.Close()
		return
	}
	_ = conn.SetDeadline(time.Time{})

	s.handler.ServeConn(ctx, conn)
}

// Shutdown closes the listener and waits for running connections until ctx
// is done. Running connections are not interrupted.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing.Store(true)
	ln := s.listener
	s.mu.Unlock()
	s.stopped.Do(func() { close(s.stop) })

	var closeErr error
	if ln != nil {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			closeErr = fmt.Errorf("failed to close listener: %w", err)
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return closeErr
	case <-ctx.Done():
		return fmt.Errorf("connections still running: %w", ctx.Err())
	}
}
