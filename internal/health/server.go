// Package health serves the liveness and platform health endpoints.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/edgard/joingate/internal/config"
	"github.com/edgard/joingate/internal/logger"
)

const (
	// LivenessBody is returned by the liveness listener.
	LivenessBody = "Bot is running..."
	// HealthBody is returned by the platform health listener.
	HealthBody = "I'm alive"

	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// Server runs the two plain-text HTTP listeners.
type Server struct {
	cfg    config.HTTPConfig
	logger *slog.Logger
}

// New creates a server for the ports in cfg.
func New(cfg config.HTTPConfig, log *slog.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	return &Server{cfg: cfg, logger: log.With("component", "health")}
}

// Handler answers every GET or HEAD request with body.
func Handler(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(body))
	})
}

// Run listens on both configured ports until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	var lc net.ListenConfig

	live, err := lc.Listen(ctx, "tcp", ":"+strconv.Itoa(s.cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.cfg.Port, err)
	}
	health, err := lc.Listen(ctx, "tcp", ":"+strconv.Itoa(s.cfg.HealthPort))
	if err != nil {
		_ = live.Close()
		return fmt.Errorf("failed to listen on port %d: %w", s.cfg.HealthPort, err)
	}

	return s.Serve(ctx, live, health)
}

// Serve runs both servers on the given listeners and shuts them down
// gracefully once ctx is done.
func (s *Server) Serve(ctx context.Context, live, health net.Listener) error {
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.serve(gCtx, "liveness", live, Handler(LivenessBody)) })
	g.Go(func() error { return s.serve(gCtx, "health", health, Handler(HealthBody)) })
	return g.Wait()
}

func (s *Server) serve(ctx context.Context, name string, ln net.Listener, h http.Handler) error {
	log := s.logger.With("server", name, "addr", ln.Addr().String())
	srv := &http.Server{Handler: h, ReadHeaderTimeout: readHeaderTimeout}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server started")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		log.Error("HTTP server stopped unexpectedly", "error", err)
		return fmt.Errorf("%s server: %w", name, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", "error", err)
		return fmt.Errorf("%s server shutdown: %w", name, err)
	}
	log.Info("HTTP server stopped gracefully")
	return nil
}
