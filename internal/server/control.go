package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sufield/geminid/internal/version"
)

// NewControlHandler returns the loopback control API:
//
//	GET  /healthz   liveness
//	GET  /version   server software and version
//	POST /shutdown  starts a graceful shutdown
//
// shutdown runs on its own goroutine so the response is sent first.
func NewControlHandler(shutdown func(), logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok\n")); err != nil {
			logger.Debug("Control write failed", slog.Any("error", err))
		}
	})

	r.Get("/version", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if _, err := w.Write([]byte(version.Software() + "\n")); err != nil {
			logger.Debug("Control write failed", slog.Any("error", err))
		}
	})

	r.Post("/shutdown", func(w http.ResponseWriter, req *http.Request) {
		logger.Info("Shutdown requested over control API", slog.String("remote_addr", req.RemoteAddr))
		w.WriteHeader(http.StatusAccepted)
		if _, err := w.Write([]byte("shutting down\n")); err != nil {
			logger.Debug("Control write failed", slog.Any("error", err))
		}
		go shutdown()
	})

	return r
}
