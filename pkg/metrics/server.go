package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/marmos91/vdevq/internal/logger"
)

// StatsFunc returns a JSON-encodable snapshot served at /stats.
type StatsFunc func() any

// Server exposes /metrics, /health and /stats over HTTP.
//
// The server supports graceful shutdown with a fixed timeout.
type Server struct {
	server       *http.Server
	addr         string
	listener     net.Listener
	shutdownOnce sync.Once
}

// NewServer creates a metrics server for addr (for example ":9090").
// stats may be nil.
//
// Returns a configured but not yet started Server. GetRegistry must be
// non-nil; call InitRegistry first.
func NewServer(addr string, stats StatsFunc) *Server {
	return &Server{
		addr: addr,
		server: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(GetRegistry(), stats),
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
}

// Listen binds the listening socket so that Addr reports the real port.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("metrics server listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Start serves until ctx is cancelled or the server fails.
func (s *Server) Start(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Metrics server listening", "addr", s.Addr())
		if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case errChan <- err:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		// The cancelled ctx would abort shutdown immediately.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("metrics server failed: %w", err)
	}
}

// Stop shuts the server down. It is safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("metrics server shutdown error: %w", err)
			logger.Error("Metrics server shutdown error", logger.KeyError, err)
		} else {
			logger.Debug("Metrics server stopped")
		}
	})
	return shutdownErr
}
