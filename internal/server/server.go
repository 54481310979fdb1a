// Package server exposes the runtime over HTTP: script status, broadcasts,
// the lifecycle journal and a server-sent event stream.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/leapstack-labs/leapscript/internal/manager"
	"github.com/leapstack-labs/leapscript/internal/notifier"
	"github.com/leapstack-labs/leapscript/internal/script"
	"github.com/leapstack-labs/leapscript/internal/state"
	"golang.org/x/sync/errgroup"
)

// Runtime is the part of the manager the server needs.
type Runtime interface {
	Scripts() []script.Status
	Lookup(name string) (script.Status, bool)
	Broadcast(op string, args ...any) manager.BroadcastResult
	Pending() int
}

// Config holds configuration for the server.
type Config struct {
	Runtime  Runtime
	Journal  *state.Journal // optional; /history is 404 without it
	Notifier *notifier.Notifier
	Port     int
	Logger   *slog.Logger
}

// Server serves the HTTP surface.
type Server struct {
	runtime  Runtime
	journal  *state.Journal
	notifier *notifier.Notifier
	port     int
	logger   *slog.Logger
}

// New creates a server.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	n := cfg.Notifier
	if n == nil {
		n = notifier.New()
	}
	return &Server{
		runtime:  cfg.Runtime,
		journal:  cfg.Journal,
		notifier: n,
		port:     cfg.Port,
		logger:   logger,
	}
}

// Notifier returns the notifier feeding /events.
func (s *Server) Notifier() *notifier.Notifier {
	return s.notifier
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewMux()
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
	)
	s.routes(r)
	return r
}

// Serve starts the server and blocks until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("starting HTTP server", slog.String("addr", fmt.Sprintf("http://localhost:%d", s.port)))

	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Debug("shutting down HTTP server")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}
