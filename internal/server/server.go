// Package server exposes the gateway callback, the portal API and the admin
// API over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/mohit83k/hotspot/internal/logger"
)

const shutdownTimeout = 10 * time.Second

// Server serves the HTTP surface until its context is cancelled.
type Server struct {
	Addr    string
	Handler http.Handler
	Logger  logger.Logger
}

// NewServer returns a server for the routes built from deps.
func NewServer(addr string, deps Deps) *Server {
	return &Server{
		Addr:    addr,
		Handler: NewRouter(deps),
		Logger:  deps.Log,
	}
}

// ListenAndServe listens on Addr and serves requests. Cancelling ctx drains
// in-flight requests and returns nil.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.Logger.Info("HTTP server listening on " + ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		s.Logger.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}
