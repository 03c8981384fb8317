// Package geminid runs a Gemini protocol server.
//
// It serves static files from a document root, runs CGI scripts for a
// configured subtree and protects directories with client certificates.
// Everything is driven by a YAML or properties configuration file.
//
// Quick Start:
//
//	shutdown, err := geminid.Start("geminid.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer shutdown()
//
// Or, blocking until SIGINT/SIGTERM with the path taken from GEMINID_CONFIG:
//
//	func main() {
//	    geminid.Run()
//	}
package geminid

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/sufield/geminid/internal/accesslog"
	"github.com/sufield/geminid/internal/config"
	"github.com/sufield/geminid/internal/handler"
	"github.com/sufield/geminid/internal/logging"
	"github.com/sufield/geminid/internal/server"
	"github.com/sufield/geminid/internal/telemetry"
	"github.com/sufield/geminid/internal/version"
)

// ConfigEnv names the environment variable Run reads the config path from.
const ConfigEnv = "GEMINID_CONFIG"

// resolveConfigPath returns the config file path from GEMINID_CONFIG.
func resolveConfigPath() (string, error) {
	if path := os.Getenv(ConfigEnv); path != "" {
		return path, nil
	}
	return "", fmt.Errorf("%s environment variable not set; either set %s or call Start() with an explicit config path", ConfigEnv, ConfigEnv)
}

// Run starts the server from GEMINID_CONFIG and blocks until SIGINT,
// SIGTERM or a control API shutdown request, then shuts down gracefully.
// Startup failures are fatal.
func Run() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	path, err := resolveConfigPath()
	if err != nil {
		log.Fatal(err)
	}
	if err := Serve(ctx, path); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// Serve runs the server for configPath until ctx is canceled or a shutdown
// is requested over the control API.
func Serve(ctx context.Context, configPath string) error {
	inst, err := start(configPath)
	if err != nil {
		return err
	}

	return inst.wait(ctx)
}

// wait blocks until ctx is done, a shutdown is requested or a listener
// fails, and returns the shutdown result.
func (inst *instance) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		inst.logger.Info("Shutting down gracefully")
	case <-inst.stopping:
	case <-inst.failed:
		inst.logger.Error("Listener failed, shutting down")
	}
	return inst.shutdown()
}

// Start loads configPath, binds the listeners and serves in the
// background.
//
// The returned shutdown function closes the listeners, waits up to
// shutdown_timeout for running requests and releases the certificate
// source, access log and telemetry. It is safe to call more than once;
// later calls return the first result.
func Start(configPath string) (shutdown func() error, err error) {
	inst, err := start(configPath)
	if err != nil {
		return nil, err
	}
	return inst.shutdown, nil
}

// instance is one running server.
type instance struct {
	cfg       config.Config
	logger    *slog.Logger
	providers *telemetry.Providers
	access    *accesslog.Logger
	certs     io.Closer
	gemini    *server.Server
	control   *http.Server
	group     *errgroup.Group

	// failed is closed when a listener goroutine returns an error.
	failed   <-chan struct{}
	stopping chan struct{}

	shutdownOnce sync.Once
	shutdownErr  error
}

func start(configPath string) (*instance, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	ctx := context.Background()
	inst := &instance{cfg: cfg, stopping: make(chan struct{})}
	ok := false
	defer func() {
		if !ok {
			_ = inst.release(ctx)
		}
	}()

	inst.providers, err = telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}
	inst.logger, err = logging.New(logging.Options{
		Level:          cfg.Log.Level,
		Format:         cfg.Log.Format,
		LoggerProvider: inst.providers.LoggerProvider,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	metrics, err := telemetry.NewMetrics(inst.providers.MeterProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	inst.access, err = accesslog.Open(cfg.LogDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open access log: %w", err)
	}

	h, err := handler.New(cfg, handler.Options{
		AccessLog: inst.access,
		Metrics:   metrics,
		Logger:    inst.logger,
	})
	if err != nil {
		return nil, err
	}

	tlsCfg, certs, err := server.TLSConfig(ctx, cfg, inst.logger)
	if err != nil {
		return nil, err
	}
	inst.certs = certs

	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(cfg.Port)))
	if err != nil {
		return nil, fmt.Errorf("failed to listen on port %d: %w", cfg.Port, err)
	}

	var controlLn net.Listener
	if cfg.ControlAddress != "" {
		controlLn, err = net.Listen("tcp", cfg.ControlAddress)
		if err != nil {
			_ = ln.Close()
			return nil, fmt.Errorf("failed to listen on control address %s: %w", cfg.ControlAddress, err)
		}
		control := server.NewControlHandler(inst.requestStop, inst.logger)
		inst.control = &http.Server{
			Handler: otelhttp.NewHandler(control, "control",
				otelhttp.WithMeterProvider(inst.providers.MeterProvider)),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	inst.gemini = server.New(h, tlsCfg, cfg.NumWorkers, inst.logger)
	group, gctx := errgroup.WithContext(ctx)
	inst.group = group
	inst.failed = gctx.Done()
	inst.group.Go(func() error {
		return inst.gemini.Serve(ctx, ln)
	})
	if inst.control != nil {
		inst.logger.Info("Control listening", slog.String("addr", controlLn.Addr().String()))
		inst.group.Go(func() error {
			if err := inst.control.Serve(controlLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("control server failed: %w", err)
			}
			return nil
		})
	}

	inst.logger.Info("Server started",
		slog.String("version", version.Version),
		slog.String("root", cfg.Root),
		slog.String("host", cfg.Host),
		slog.Int("port", cfg.Port),
		slog.Int("workers", cfg.NumWorkers),
		slog.Int("secure_domains", len(cfg.SecureDomains)),
	)
	go inst.watch()

	ok = true
	return inst, nil
}

// watch shuts the instance down when a listener fails, so a server started
// with Start does not keep running without accepting connections.
func (inst *instance) watch() {
	select {
	case <-inst.failed:
	case <-inst.stopping:
		return
	}
	select {
	case <-inst.stopping:
		// The group context is also canceled when shutdown waits on it.
		return
	default:
	}
	inst.logger.Error("Listener failed, shutting down")
	if err := inst.shutdown(); err != nil {
		inst.logger.Error("Shutdown after listener failure", slog.Any("error", err))
	}
}

// requestStop handles a control API shutdown request. A blocking Serve
// wakes up and waits for the same shutdown to finish.
func (inst *instance) requestStop() {
	if err := inst.shutdown(); err != nil {
		inst.logger.Error("Shutdown failed", slog.Any("error", err))
	}
}

func (inst *instance) shutdown() error {
	inst.shutdownOnce.Do(func() {
		close(inst.stopping)

		ctx, cancel := context.WithTimeout(context.Background(), inst.cfg.ShutdownTimeout)
		defer cancel()

		var errs []error
		if inst.control != nil {
			if err := inst.control.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("control shutdown: %w", err))
			}
		}
		if err := inst.gemini.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := inst.group.Wait(); err != nil {
			errs = append(errs, err)
		}
		inst.logger.Info("Server stopped")

		if err := inst.release(context.Background()); err != nil {
			errs = append(errs, err)
		}
		inst.shutdownErr = errors.Join(errs...)
	})
	return inst.shutdownErr
}

// release frees everything start acquired before the listeners.
func (inst *instance) release(ctx context.Context) error {
	var errs []error
	if inst.certs != nil {
		if err := inst.certs.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close certificate source: %w", err))
		}
	}
	if inst.access != nil {
		if err := inst.access.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close access log: %w", err))
		}
	}
	if inst.providers != nil {
		if err := inst.providers.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}
