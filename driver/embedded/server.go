package embedded

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/fluxsets/cargo"
	"gocloud.dev/server"
	"gocloud.dev/server/health"
	"gocloud.dev/server/requestlog"
	"go.uber.org/multierr"
)

// Server is the in-process container created by the embedded driver.
type Server struct {
	*server.Server
	cfg       cargo.ContainerConfig
	lifecycle string
	logger    *slog.Logger
	health    *cargo.HealthCheck

	mu        sync.Mutex
	listener  net.Listener
	realm     *Realm
	tree      *HandlerTree
	serving   bool
	done      chan struct{}
	serveErr  error
	onStop    []cargo.HookFunc
	stopOnce  sync.Once
	stopError error
}

func newServer(cfg cargo.ContainerConfig, lifecycle string, logger *slog.Logger) *Server {
	return &Server{
		cfg:       cfg,
		lifecycle: lifecycle,
		logger:    logger,
		health:    &cargo.HealthCheck{},
		done:      make(chan struct{}),
	}
}

// Started reports whether the accept loop has been launched.
func (s *Server) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serving
}

// Addr is the address the connector is bound to, nil before ConfigureConnectors.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Done is closed when the accept loop has ended.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

func (s *Server) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serveErr
}

// OnStop registers a hook fired by Stop.
func (s *Server) OnStop(fns ...cargo.HookFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStop = append(s.onStop, fns...)
}

func (s *Server) bind(port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return errors.New("connector already bound to " + s.listener.Addr().String())
	}
	ln, err := net.Listen("tcp", net.JoinHostPort(s.cfg.BindAddress, strconv.Itoa(port)))
	if err != nil {
		return err
	}
	s.listener = ln
	return nil
}

func (s *Server) install(tree *HandlerTree) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tree != nil {
		return errors.New("handler tree already installed")
	}
	if s.listener == nil {
		return errors.New("no connector configured")
	}
	s.tree = tree
	s.Server = server.New(tree, &server.Options{
		HealthChecks:  []health.Checker{s.health},
		RequestLogger: &requestLogger{logger: s.logger},
		Driver:        &listenerDriver{ln: s.listener},
	})
	return nil
}

// serve starts the handlers registered so far and launches the accept loop.
func (s *Server) serve() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.serving {
		return nil
	}
	if s.tree == nil {
		return errors.New("handler tree not installed")
	}
	if err := s.tree.start(); err != nil {
		return err
	}
	s.serving = true
	s.health.SetHealthy(true)
	hs, addr := s.Server, s.listener.Addr().String()
	go func() {
		err := hs.ListenAndServe(addr)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.mu.Lock()
		s.serveErr = err
		s.mu.Unlock()
		close(s.done)
	}()
	s.logger.Info("accepting requests", "addr", addr)
	return nil
}

// stop shuts the accept loop down, stops every handler and fires the stop
// hooks. Later calls return the first result.
func (s *Server) stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		serving, hs, ln, tree := s.serving, s.Server, s.listener, s.tree
		hooks := s.onStop
		s.mu.Unlock()

		s.health.SetHealthy(false)
		var err error
		switch {
		case serving:
			err = multierr.Append(err, hs.Shutdown(ctx))
			select {
			case <-s.done:
			case <-ctx.Done():
				err = multierr.Append(err, ctx.Err())
			}
		case ln != nil:
			if cerr := ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
				err = multierr.Append(err, cerr)
			}
		}
		if tree != nil {
			err = multierr.Append(err, tree.stop())
		}
		err = multierr.Append(err, cargo.RunHooks(ctx, hooks))
		s.stopError = err
	})
	return s.stopError
}

// listenerDriver serves on the listener bound by ConfigureConnectors so a
// busy port is reported before the server starts.
type listenerDriver struct {
	ln  net.Listener
	srv http.Server
}

func (d *listenerDriver) ListenAndServe(_ string, h http.Handler) error {
	d.srv.Handler = h
	return d.srv.Serve(d.ln)
}

func (d *listenerDriver) Shutdown(ctx context.Context) error {
	return d.srv.Shutdown(ctx)
}

type requestLogger struct {
	logger *slog.Logger
}

func (l *requestLogger) Log(e *requestlog.Entry) {
	l.logger.Debug("request",
		"method", e.RequestMethod,
		"url", e.RequestURL,
		"status", e.Status,
		"latency", e.Latency,
		"remote_ip", e.RemoteIP,
	)
}
