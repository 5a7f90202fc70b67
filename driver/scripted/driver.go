// Package scripted implements a container driver for a remote domain that is
// configured through generated script commands rather than direct API calls.
//
// Nothing is sent to the domain before Start: security, resource and
// deployment commands are queued and handed to the Executor as one batch.
// Once the domain runs, each Deploy and Undeploy is executed immediately.
package scripted

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"sync"

	"github.com/fluxsets/cargo"
	"github.com/fluxsets/cargo/script"
	"github.com/google/uuid"
)

const Name = "scripted"

const defaultHost = "localhost"

// Executor runs a script against the remote domain.
type Executor interface {
	Execute(ctx context.Context, s script.Script) error
}

type Driver struct {
	executor Executor
	logger   *slog.Logger

	mu     sync.Mutex
	domain *Domain
}

func New(executor Executor, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{executor: executor, logger: logger.With("driver", Name)}
}

func (d *Driver) Name() string {
	return Name
}

// CreateServer returns the domain handle of the current lifecycle, creating
// it on first use.
func (d *Driver) CreateServer(_ context.Context, cfg cargo.ContainerConfig) (cargo.Server, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.domain != nil {
		return d.domain, nil
	}
	lifecycle := uuid.NewString()
	d.domain = &Domain{
		cfg:       cfg,
		lifecycle: lifecycle,
		logger:    d.logger.With("lifecycle", lifecycle),
	}
	return d.domain, nil
}

// Current returns the domain of the current lifecycle, nil when none exists.
func (d *Driver) Current() *Domain {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.domain
}

// ConfigureConnectors points the domain handle at the admin server port.
func (d *Driver) ConfigureConnectors(_ context.Context, srv cargo.Server, port int) error {
	dom, err := d.own(srv)
	if err != nil {
		return err
	}
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%w: invalid admin port %d", cargo.ErrConfiguration, port)
	}
	host := dom.cfg.BindAddress
	if host == "" {
		host = defaultHost
	}
	dom.mu.Lock()
	defer dom.mu.Unlock()
	if dom.adminURL != "" {
		return fmt.Errorf("%w: domain already targets %s", cargo.ErrConfiguration, dom.adminURL)
	}
	dom.adminURL = "t3://" + net.JoinHostPort(host, strconv.Itoa(port))
	return nil
}

func (d *Driver) ConfigureSecurity(_ context.Context, srv cargo.Server, principals []cargo.Principal) error {
	if len(principals) == 0 {
		return nil
	}
	dom, err := d.own(srv)
	if err != nil {
		return err
	}
	dom.mu.Lock()
	defer dom.mu.Unlock()
	dom.pending = append(dom.pending, script.Users(principals)...)
	return nil
}

func (d *Driver) InstallHandlerTree(_ context.Context, srv cargo.Server) (cargo.HandlerRegistry, error) {
	dom, err := d.own(srv)
	if err != nil {
		return nil, err
	}
	dom.mu.Lock()
	defer dom.mu.Unlock()
	if dom.registry != nil {
		return nil, fmt.Errorf("%w: deployment registry already installed", cargo.ErrInvalidState)
	}
	dom.registry = &Registry{lifecycle: dom.lifecycle, deployments: map[string]deployment{}}
	return dom.registry, nil
}

// Deploy queues a deployment command, or executes it when the domain runs.
// Modules the domain cannot host are rejected.
func (d *Driver) Deploy(ctx context.Context, reg cargo.HandlerRegistry, dep cargo.Deployable, _ []cargo.Principal) (cargo.HandlerHandle, error) {
	switch dep.Type {
	case cargo.WAR, cargo.EAR, cargo.EJB, cargo.RAR:
	default:
		return cargo.HandlerHandle{}, fmt.Errorf("%w: %s cannot be deployed to a remote domain [%s]",
			cargo.ErrUnsupportedDeployableType, dep.Type, dep.FilePath)
	}
	dom, r, err := d.registry(reg)
	if err != nil {
		return cargo.HandlerHandle{}, err
	}
	h := cargo.HandlerHandle{ID: uuid.NewString(), ContextPath: dep.Context(), Issuer: r.lifecycle}
	if err := dom.submit(ctx, d.executor, script.DeployDeployable(dep)); err != nil {
		return cargo.HandlerHandle{}, cargo.WrapDriverError(Name, "deploy", &dep, err)
	}
	r.add(h.ID, deployment{id: script.DeployableID(dep), deployable: dep})
	return h, nil
}

func (d *Driver) Undeploy(ctx context.Context, reg cargo.HandlerRegistry, h cargo.HandlerHandle) error {
	if h.IsZero() {
		return nil
	}
	dom, r, err := d.registry(reg)
	if err != nil {
		return err
	}
	if h.Issuer != r.lifecycle {
		return &cargo.DriverError{Driver: Name, Op: "undeploy", Deployable: h.ContextPath,
			Err: fmt.Errorf("handle %s was not issued by this domain", h.ID)}
	}
	dep, ok := r.get(h.ID)
	if !ok {
		return nil
	}
	if err := dom.submit(ctx, d.executor, script.UndeployDeployable(dep.id)); err != nil {
		return cargo.WrapDriverError(Name, "undeploy", &dep.deployable, err)
	}
	r.remove(h.ID)
	return nil
}

// Start resolves the configured resources into commands and executes them,
// followed by everything queued so far, as one script. A batch with an
// unresolved reference is rejected before anything is sent.
func (d *Driver) Start(ctx context.Context, srv cargo.Server) error {
	dom, err := d.own(srv)
	if err != nil {
		return err
	}
	resources, err := script.Build(dom.cfg.Resources)
	if err != nil {
		return err
	}
	dom.mu.Lock()
	defer dom.mu.Unlock()
	if dom.running {
		return nil
	}
	if dom.adminURL == "" {
		return fmt.Errorf("%w: no admin port configured", cargo.ErrConfiguration)
	}
	batch := script.Script{
		Target:   dom.adminURL,
		Commands: append(resources, dom.pending...),
	}
	if err := d.executor.Execute(ctx, batch); err != nil {
		return &cargo.DriverError{Driver: Name, Op: "start", Err: err}
	}
	dom.pending = nil
	dom.running = true
	dom.logger.Info("domain configured", "target", dom.adminURL, "commands", len(batch.Commands))
	return nil
}

// Stop ends the lifecycle of the domain handle. The remote domain itself
// keeps running; commands still queued are dropped.
func (d *Driver) Stop(ctx context.Context, srv cargo.Server) error {
	dom, err := d.own(srv)
	if err != nil {
		return err
	}
	dom.mu.Lock()
	dropped := len(dom.pending)
	dom.pending = nil
	dom.running = false
	hooks := dom.onStop
	dom.mu.Unlock()

	d.mu.Lock()
	if d.domain == dom {
		d.domain = nil
	}
	d.mu.Unlock()
	if dropped > 0 {
		dom.logger.Warn("dropping queued commands", "commands", dropped)
	}
	return cargo.WrapDriverError(Name, "stop", nil, cargo.RunHooks(ctx, hooks))
}

func (d *Driver) own(srv cargo.Server) (*Domain, error) {
	dom, ok := srv.(*Domain)
	if !ok || dom == nil {
		return nil, &cargo.DriverError{Driver: Name, Op: "resolve domain", Err: fmt.Errorf("foreign server %T", srv)}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.domain != dom {
		return nil, &cargo.DriverError{Driver: Name, Op: "resolve domain", Err: fmt.Errorf("domain lifecycle %s has ended", dom.lifecycle)}
	}
	return dom, nil
}

func (d *Driver) registry(reg cargo.HandlerRegistry) (*Domain, *Registry, error) {
	r, ok := reg.(*Registry)
	if !ok || r == nil {
		return nil, nil, &cargo.DriverError{Driver: Name, Op: "resolve registry", Err: fmt.Errorf("foreign registry %T", reg)}
	}
	d.mu.Lock()
	dom := d.domain
	d.mu.Unlock()
	if dom == nil || dom.lifecycle != r.lifecycle {
		return nil, nil, &cargo.DriverError{Driver: Name, Op: "resolve registry", Err: fmt.Errorf("registry lifecycle %s has ended", r.lifecycle)}
	}
	return dom, r, nil
}

// Domain is the handle of a remote domain for one lifecycle.
type Domain struct {
	cfg       cargo.ContainerConfig
	lifecycle string
	logger    *slog.Logger

	mu       sync.Mutex
	adminURL string
	registry *Registry
	pending  []script.Command
	running  bool
	onStop   []cargo.HookFunc
}

func (dom *Domain) Started() bool {
	dom.mu.Lock()
	defer dom.mu.Unlock()
	return dom.running
}

// AdminURL is the admin server address commands are sent to.
func (dom *Domain) AdminURL() string {
	dom.mu.Lock()
	defer dom.mu.Unlock()
	return dom.adminURL
}

// Pending returns a copy of the commands queued for the next Start.
func (dom *Domain) Pending() []script.Command {
	dom.mu.Lock()
	defer dom.mu.Unlock()
	return slices.Clone(dom.pending)
}

// OnStop registers a hook fired when the lifecycle ends.
func (dom *Domain) OnStop(fns ...cargo.HookFunc) {
	dom.mu.Lock()
	defer dom.mu.Unlock()
	dom.onStop = append(dom.onStop, fns...)
}

// submit queues cmd before start and executes it right away afterwards.
func (dom *Domain) submit(ctx context.Context, executor Executor, cmd script.Command) error {
	dom.mu.Lock()
	defer dom.mu.Unlock()
	if !dom.running {
		dom.pending = append(dom.pending, cmd)
		return nil
	}
	return executor.Execute(ctx, script.Script{Target: dom.adminURL, Commands: []script.Command{cmd}})
}

type deployment struct {
	id         string
	deployable cargo.Deployable
}

// Registry tracks the deployments of one domain lifecycle.
type Registry struct {
	lifecycle string

	mu          sync.Mutex
	deployments map[string]deployment
}

func (r *Registry) Contexts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	contexts := make([]string, 0, len(r.deployments))
	for _, dep := range r.deployments {
		contexts = append(contexts, dep.deployable.Context())
	}
	slices.Sort(contexts)
	return contexts
}

func (r *Registry) add(id string, dep deployment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deployments[id] = dep
}

func (r *Registry) get(id string) (deployment, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dep, ok := r.deployments[id]
	return dep, ok
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.deployments, id)
}

var _ cargo.ContainerDriver = (*Driver)(nil)
