// Package http runs an auxiliary HTTP endpoint, such as the metrics
// listener, as an App component.
package http

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/fluxsets/cargo"
	"gocloud.dev/server"
	"gocloud.dev/server/health"
	"gocloud.dev/server/requestlog"
)

// HealthCheckerRetriever returns the checkers reported on /healthz/readiness,
// read when the server starts.
type HealthCheckerRetriever func() []health.Checker

func NewServer(addr string, h http.Handler, healthCheck HealthCheckerRetriever, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		addr:        addr,
		handler:     h,
		healthCheck: healthCheck,
	}
	s.logger = logger.With("component", s.Name())
	return s
}

type Server struct {
	addr        string
	logger      *slog.Logger
	handler     http.Handler
	healthCheck HealthCheckerRetriever

	mu      sync.Mutex
	srv     *server.Server
	stopped bool
	healthy cargo.HealthCheck
}

func (s *Server) Name() string {
	return "http@" + s.addr
}

func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting HTTP server, listening on " + s.addr)
	var checks []health.Checker
	if s.healthCheck != nil {
		checks = s.healthCheck()
	}
	hs := server.New(s.handler, &server.Options{
		HealthChecks:  checks,
		RequestLogger: requestlog.NewNCSALogger(&logWriter{logger: s.logger}, func(err error) {
			s.logger.Warn("request log error", "error", err)
		}),
		Driver: server.NewDefaultDriver(),
	})
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.srv = hs
	s.mu.Unlock()
	s.healthy.SetHealthy(true)
	defer s.healthy.SetHealthy(false)
	if err := hs.ListenAndServe(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	hs := s.srv
	s.stopped = true
	s.mu.Unlock()
	if hs == nil {
		return
	}
	s.logger.Info("stopping HTTP server")
	if err := hs.Shutdown(ctx); err != nil {
		s.logger.Warn("error shutting down http server", "error", err)
	}
}

func (s *Server) CheckHealth() error {
	return s.healthy.CheckHealth()
}

// logWriter forwards NCSA request log lines to slog.
type logWriter struct {
	logger *slog.Logger
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.logger.Debug(string(bytes.TrimRight(p, "\r\n")))
	return len(p), nil
}

var _ cargo.Component = (*Server)(nil)
