// Package embedded implements a container driver hosting web archives in an
// in-process HTTP server built on gocloud.dev/server.
//
// The server binds its connector in ConfigureConnectors, routes requests
// through a HandlerTree installed once per lifecycle, and answers the
// reserved health-check context from its own health state. Handlers deployed
// before Start are started with the server; handlers deployed afterwards are
// started by Deploy.
package embedded

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fluxsets/cargo"
	"github.com/google/uuid"
)

const Name = "embedded"

type Driver struct {
	logger *slog.Logger

	mu     sync.Mutex
	server *Server
}

func New(logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{logger: logger.With("driver", Name)}
}

func (d *Driver) Name() string {
	return Name
}

// CreateServer returns the server of the current lifecycle, creating it on
// first use. Concurrent callers all observe the same server.
func (d *Driver) CreateServer(_ context.Context, cfg cargo.ContainerConfig) (cargo.Server, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.server != nil {
		return d.server, nil
	}
	lifecycle := uuid.NewString()
	srv := newServer(cfg, lifecycle, d.logger.With("lifecycle", lifecycle))
	d.server = srv
	return srv, nil
}

// Current returns the server of the current lifecycle, nil when none exists.
func (d *Driver) Current() *Server {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.server
}

func (d *Driver) ConfigureConnectors(_ context.Context, srv cargo.Server, port int) error {
	s, err := d.own(srv)
	if err != nil {
		return err
	}
	if port < 0 || port > 65535 {
		return fmt.Errorf("%w: invalid port %d", cargo.ErrConfiguration, port)
	}
	if err := s.bind(port); err != nil {
		return fmt.Errorf("%w: bind port %d: %w", cargo.ErrConfiguration, port, err)
	}
	s.logger.Info("connector bound", "addr", s.Addr().String())
	return nil
}

func (d *Driver) ConfigureSecurity(_ context.Context, srv cargo.Server, principals []cargo.Principal) error {
	if len(principals) == 0 {
		return nil
	}
	s, err := d.own(srv)
	if err != nil {
		return err
	}
	realm, err := NewRealm(s.cfg.RealmName, principals)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.realm = realm
	s.mu.Unlock()
	s.logger.Info("realm installed", "realm", realm.Name(), "principals", len(principals))
	return nil
}

func (d *Driver) InstallHandlerTree(_ context.Context, srv cargo.Server) (cargo.HandlerRegistry, error) {
	s, err := d.own(srv)
	if err != nil {
		return nil, err
	}
	tree := newHandlerTree(s.lifecycle)
	if err := s.install(tree); err != nil {
		return nil, fmt.Errorf("%w: %w", cargo.ErrInvalidState, err)
	}
	return tree, nil
}

// Deploy mounts a web archive. The reserved health-check context is served
// from the server's health state instead of an archive.
func (d *Driver) Deploy(_ context.Context, reg cargo.HandlerRegistry, dep cargo.Deployable, principals []cargo.Principal) (cargo.HandlerHandle, error) {
	if dep.Type != cargo.WAR {
		return cargo.HandlerHandle{}, fmt.Errorf("%w: %s: got %s [%s]",
			cargo.ErrUnsupportedDeployableType, errNotWebApp, dep.Type, dep.FilePath)
	}
	tree, s, err := d.tree(reg)
	if err != nil {
		return cargo.HandlerHandle{}, err
	}

	var h contextHandler
	if dep.Context() == cargo.HealthCheckContext {
		h = &healthHandler{check: s.health}
	} else {
		s.mu.Lock()
		realm := s.realm
		s.mu.Unlock()
		if realm == nil && len(principals) > 0 {
			if realm, err = NewRealm(s.cfg.RealmName, principals); err != nil {
				return cargo.HandlerHandle{}, err
			}
		}
		h = newWebApp(dep, realm)
	}

	handle := cargo.HandlerHandle{
		ID:          uuid.NewString(),
		ContextPath: dep.Context(),
		Issuer:      tree.lifecycle,
	}
	if err := tree.add(handle.ID, h); err != nil {
		return cargo.HandlerHandle{}, cargo.WrapDriverError(Name, "deploy", &dep, err)
	}
	return handle, nil
}

func (d *Driver) Undeploy(_ context.Context, reg cargo.HandlerRegistry, h cargo.HandlerHandle) error {
	if h.IsZero() {
		return nil
	}
	tree, _, err := d.tree(reg)
	if err != nil {
		return err
	}
	if h.Issuer != tree.lifecycle {
		return &cargo.DriverError{Driver: Name, Op: "undeploy", Deployable: h.ContextPath,
			Err: fmt.Errorf("handle %s was not issued by this server", h.ID)}
	}
	if err := tree.remove(h.ID); err != nil {
		return &cargo.DriverError{Driver: Name, Op: "undeploy", Deployable: h.ContextPath, Err: err}
	}
	return nil
}

// Start launches the accept loop in the background. Handlers mounted so far
// are started first; a handler that cannot start fails the call.
func (d *Driver) Start(_ context.Context, srv cargo.Server) error {
	s, err := d.own(srv)
	if err != nil {
		return err
	}
	return cargo.WrapDriverError(Name, "start", nil, s.serve())
}

// Stop ends the lifecycle: the server shuts down, its hooks fire and every
// handle it issued becomes invalid. The next CreateServer builds a new server.
func (d *Driver) Stop(ctx context.Context, srv cargo.Server) error {
	s, err := d.own(srv)
	if err != nil {
		return err
	}
	err = s.stop(ctx)
	d.mu.Lock()
	if d.server == s {
		d.server = nil
	}
	d.mu.Unlock()
	s.logger.Info("server stopped")
	return cargo.WrapDriverError(Name, "stop", nil, err)
}

func (d *Driver) own(srv cargo.Server) (*Server, error) {
	s, ok := srv.(*Server)
	if !ok || s == nil {
		return nil, &cargo.DriverError{Driver: Name, Op: "resolve server", Err: fmt.Errorf("foreign server %T", srv)}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.server != s {
		return nil, &cargo.DriverError{Driver: Name, Op: "resolve server", Err: fmt.Errorf("server lifecycle %s has ended", s.lifecycle)}
	}
	return s, nil
}

func (d *Driver) tree(reg cargo.HandlerRegistry) (*HandlerTree, *Server, error) {
	tree, ok := reg.(*HandlerTree)
	if !ok || tree == nil {
		return nil, nil, &cargo.DriverError{Driver: Name, Op: "resolve registry", Err: fmt.Errorf("foreign registry %T", reg)}
	}
	d.mu.Lock()
	s := d.server
	d.mu.Unlock()
	if s == nil || s.lifecycle != tree.lifecycle {
		return nil, nil, &cargo.DriverError{Driver: Name, Op: "resolve registry", Err: fmt.Errorf("registry lifecycle %s has ended", tree.lifecycle)}
	}
	return tree, s, nil
}

var _ cargo.ContainerDriver = (*Driver)(nil)
