// Package server runs the HTTP API next to the in-process background
// components and stops both in order when the process is told to exit.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"time"
)

// Config holds the listener settings.
type Config struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type component struct {
	name string
	stop func(ctx context.Context) error
}

// Server owns the HTTP listener and the components started through Go or
// registered with OnShutdown.
type Server struct {
	http   *http.Server
	grace  time.Duration
	logger *slog.Logger

	mu         sync.Mutex
	components []component
}

// New creates a server for handler.
func New(handler http.Handler, cfg Config, logger *slog.Logger) *Server {
	return &Server{
		http: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
		},
		grace:  cfg.ShutdownTimeout,
		logger: logger.With("component", "server"),
	}
}

// OnShutdown registers stop to run after the HTTP server has drained.
// Components stop in reverse registration order, so resources registered
// first (database, cache) outlive the workers that use them.
func (s *Server) OnShutdown(name string, stop func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.components = append(s.components, component{name: name, stop: stop})
}

// Go starts fn in the background. Its context is cancelled on shutdown and
// shutdown waits for fn to return. A component that exits on its own is
// logged and not restarted.
func (s *Server) Go(name string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		s.logger.Info("component started", "name", name)
		if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("component exited", "name", name, "error", err)
		}
	}()

	s.OnShutdown(name, func(stopCtx context.Context) error {
		cancel()
		select {
		case <-done:
			return nil
		case <-stopCtx.Done():
			return fmt.Errorf("still running after %s", s.grace)
		}
	})
}

// Run listens on the configured port and serves until ctx is done, the
// process receives SIGINT or SIGTERM, or the listener fails. Everything is
// then shut down.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return errors.Join(fmt.Errorf("listen on %s: %w", s.http.Addr, err), s.shutdown())
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	served := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", ln.Addr().String())
		served <- s.http.Serve(ln)
	}()

	select {
	case err := <-served:
		return errors.Join(fmt.Errorf("serve http: %w", err), s.shutdown())
	case <-ctx.Done():
		s.logger.Info("shutdown requested", "grace", s.grace)
	}
	return s.shutdown()
}

// shutdown drains HTTP first and then stops components newest first, all
// within one grace period. Every failure is reported.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.grace)
	defer cancel()

	var errs []error
	s.http.SetKeepAlivesEnabled(false)
	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain http: %w", err))
	}

	s.mu.Lock()
	components := slices.Clone(s.components)
	s.mu.Unlock()

	for _, c := range slices.Backward(components) {
		start := time.Now()
		if err := c.stop(ctx); err != nil {
			s.logger.Error("component stop failed", "name", c.name, "error", err)
			errs = append(errs, fmt.Errorf("stop %s: %w", c.name, err))
			continue
		}
		s.logger.Info("component stopped", "name", c.name, "took", time.Since(start))
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	s.logger.Info("shutdown complete")
	return nil
}
