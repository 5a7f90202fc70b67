package cargo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// TopicLifecycle is the event bus topic lifecycle transitions are published on.
const TopicLifecycle = "cargo-lifecycle"

// EventPublisher receives lifecycle events.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, body []byte, metadata map[string]string) error
}

// LifecycleEvent is the payload published for each state transition.
type LifecycleEvent struct {
	Container string    `json:"container"`
	Driver    string    `json:"driver"`
	From      State     `json:"from"`
	To        State     `json:"to"`
	Error     string    `json:"error,omitempty"`
	Time      time.Time `json:"time"`
}

type OrchestratorOption func(o *Orchestrator)

func WithLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

func WithEventPublisher(events EventPublisher) OrchestratorOption {
	return func(o *Orchestrator) {
		o.events = events
	}
}

func WithMetrics(metrics *Metrics) OrchestratorOption {
	return func(o *Orchestrator) {
		o.metrics = metrics
	}
}

// WithName sets the container name used in logs and events.
func WithName(name string) OrchestratorOption {
	return func(o *Orchestrator) {
		o.name = name
	}
}

// Orchestrator owns the lifecycle of one container and the handles of the
// applications deployed into it.
//
// Start, Deploy, Undeploy and Stop must be serialized by the caller. State,
// Handles and Done may be called from any goroutine.
type Orchestrator struct {
	name    string
	driver  ContainerDriver
	load    ConfigLoader
	logger  *slog.Logger
	events  EventPublisher
	metrics *Metrics

	mu       sync.Mutex
	state    State
	cfg      ContainerConfig
	server   Server
	registry HandlerRegistry
	handles  map[string]HandlerHandle
	done     chan struct{}
	closed   bool
}

func NewOrchestrator(driver ContainerDriver, load ConfigLoader, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		name:    driver.Name(),
		driver:  driver,
		load:    load,
		logger:  slog.Default(),
		state:   StateCreated,
		handles: map[string]HandlerHandle{},
		done:    make(chan struct{}),
		closed:  true,
	}
	close(o.done)
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "orchestrator", "container", o.name, "driver", driver.Name())
	return o
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Handles returns a copy of the deployed handles keyed by context path.
func (o *Orchestrator) Handles() map[string]HandlerHandle {
	o.mu.Lock()
	defer o.mu.Unlock()
	handles := make(map[string]HandlerHandle, len(o.handles))
	for k, h := range o.handles {
		handles[k] = h
	}
	return handles
}

func (o *Orchestrator) Handle(contextPath string) (HandlerHandle, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	h, ok := o.handles[NormalizeContext(contextPath)]
	return h, ok
}

// Done is closed when the current server lifecycle ends, by Stop or by failure.
func (o *Orchestrator) Done() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.done
}

// Start brings the container up. It runs the driver sequence strictly in
// order and abandons it at the first failure, leaving the state failed.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.state.canStart() {
		return fmt.Errorf("%w: cannot start from %s", ErrInvalidState, o.state)
	}
	o.done = make(chan struct{})
	o.closed = false
	o.transition(ctx, StateStarting, nil)

	if err := o.startSequence(ctx); err != nil {
		o.logger.Error("start failed", "error", err)
		o.abort(ctx)
		o.endLifecycle()
		o.transition(ctx, StateFailed, err)
		return err
	}
	o.transition(ctx, StateRunning, nil)
	if w, ok := o.server.(Watcher); ok {
		go o.watch(o.server, w)
	}
	return nil
}

func (o *Orchestrator) startSequence(ctx context.Context) error {
	cfg, err := o.load()
	if err != nil {
		if !errors.Is(err, ErrConfiguration) {
			err = fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	o.cfg = cfg

	srv, err := o.driver.CreateServer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	o.server = srv
	if err := o.driver.ConfigureConnectors(ctx, srv, cfg.Port); err != nil {
		return fmt.Errorf("configure connectors on port %d: %w", cfg.Port, err)
	}
	if len(cfg.Principals) > 0 {
		if err := o.driver.ConfigureSecurity(ctx, srv, cfg.Principals); err != nil {
			return fmt.Errorf("configure security: %w", err)
		}
	}
	reg, err := o.driver.InstallHandlerTree(ctx, srv)
	if err != nil {
		return fmt.Errorf("install handler tree: %w", err)
	}
	o.registry = reg

	for _, d := range cfg.Deployables {
		if err := o.deploy(ctx, d); err != nil {
			return err
		}
	}
	if err := o.deploy(ctx, HealthCheckDeployable(cfg.Home)); err != nil {
		return err
	}

	if err := o.driver.Start(ctx, srv); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	o.logger.Info("container started", "port", cfg.Port, "deployables", len(o.handles))
	return nil
}

// Deploy adds d to the running container.
func (o *Orchestrator) Deploy(ctx context.Context, d Deployable) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateRunning {
		return fmt.Errorf("%w: cannot deploy %s while %s", ErrInvalidState, d.FilePath, o.state)
	}
	return o.deploy(ctx, d)
}

func (o *Orchestrator) deploy(ctx context.Context, d Deployable) error {
	key := d.Context()
	if _, ok := o.handles[key]; ok {
		return fmt.Errorf("%w: context %s already deployed, undeploy it first", ErrDuplicateDeployment, key)
	}
	h, err := o.driver.Deploy(ctx, o.registry, d, o.cfg.Principals)
	o.metrics.recordOperation(o.driver.Name(), "deploy", err)
	if err != nil {
		return fmt.Errorf("deploy %s at %s: %w", d.FilePath, key, err)
	}
	o.handles[key] = h
	o.metrics.setHandlers(o.driver.Name(), len(o.handles))
	o.logger.Debug("deployed", "context", key, "file", d.FilePath, "handle", h.ID)
	return nil
}

// Undeploy removes the application at contextPath. An unknown context path
// is a no-op.
func (o *Orchestrator) Undeploy(ctx context.Context, contextPath string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateRunning {
		return fmt.Errorf("%w: cannot undeploy %s while %s", ErrInvalidState, contextPath, o.state)
	}
	key := NormalizeContext(contextPath)
	h, ok := o.handles[key]
	if !ok {
		return nil
	}
	err := o.driver.Undeploy(ctx, o.registry, h)
	o.metrics.recordOperation(o.driver.Name(), "undeploy", err)
	if err != nil {
		return fmt.Errorf("undeploy %s: %w", key, err)
	}
	delete(o.handles, key)
	o.metrics.setHandlers(o.driver.Name(), len(o.handles))
	o.logger.Debug("undeployed", "context", key, "handle", h.ID)
	return nil
}

// Stop shuts the container down. The state ends up stopped even when the
// driver fails to stop cleanly; that failure is still returned.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateRunning {
		return fmt.Errorf("%w: cannot stop while %s", ErrInvalidState, o.state)
	}
	o.transition(ctx, StateStopping, nil)

	stopCtx, cancel := context.WithTimeout(ctx, o.cfg.ShutdownTimeout)
	defer cancel()
	err := WrapDriverError(o.driver.Name(), "stop", nil, o.driver.Stop(stopCtx, o.server))
	if err != nil {
		o.logger.Warn("container did not stop cleanly", "error", err)
	}
	o.endLifecycle()
	o.transition(ctx, StateStopped, err)
	return err
}

func (o *Orchestrator) watch(srv Server, w Watcher) {
	<-w.Done()
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.server != srv || o.state != StateRunning {
		return
	}
	cause := w.Err()
	if cause == nil {
		cause = errors.New("server terminated")
	}
	err := &DriverError{Driver: o.driver.Name(), Op: "serve", Err: cause}
	o.logger.Error("server terminated unexpectedly", "error", err)
	ctx := context.Background()
	o.abort(ctx)
	o.endLifecycle()
	o.transition(ctx, StateFailed, err)
}

// abort releases a partially started or dead server so that a later start
// can create it again.
func (o *Orchestrator) abort(ctx context.Context) {
	if o.server == nil {
		return
	}
	timeout := o.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := o.driver.Stop(stopCtx, o.server); err != nil {
		o.logger.Warn("cleanup after failure", "error", err)
	}
}

func (o *Orchestrator) endLifecycle() {
	o.server = nil
	o.registry = nil
	clear(o.handles)
	o.metrics.setHandlers(o.driver.Name(), 0)
	if !o.closed {
		close(o.done)
		o.closed = true
	}
}

func (o *Orchestrator) transition(ctx context.Context, to State, cause error) {
	from := o.state
	o.state = to
	o.metrics.recordTransition(o.driver.Name(), to)
	o.logger.Info("lifecycle transition", "from", from, "to", to)
	if o.events == nil {
		return
	}
	ev := LifecycleEvent{
		Container: o.name,
		Driver:    o.driver.Name(),
		From:      from,
		To:        to,
		Time:      time.Now().UTC(),
	}
	if cause != nil {
		ev.Error = cause.Error()
	}
	body, err := json.Marshal(ev)
	if err != nil {
		o.logger.Warn("encode lifecycle event", "error", err)
		return
	}
	meta := map[string]string{
		"name":      TopicLifecycle,
		"container": o.name,
		"state":     to.String(),
	}
	if err := o.events.Publish(context.WithoutCancel(ctx), TopicLifecycle, body, meta); err != nil {
		o.logger.Warn("publish lifecycle event", "error", err)
	}
}
