package cargo

import "context"

// Server is the vendor-native server object created by a driver. Only the
// driver that created it may interpret it.
type Server interface {
	Started() bool
}

// Watcher is implemented by servers whose background task may end without a
// Stop call. Done is closed once the task has ended; Err reports why.
type Watcher interface {
	Done() <-chan struct{}
	Err() error
}

// HandlerRegistry is the composite structure a server uses to route requests
// to deployed applications.
type HandlerRegistry interface {
	Contexts() []string
}

// HandlerHandle references one deployed handler. It is valid only for the
// driver lifecycle named by Issuer.
type HandlerHandle struct {
	ID          string `json:"id"`
	ContextPath string `json:"context_path"`
	Issuer      string `json:"issuer"`
}

// IsZero reports whether h is the null handle.
func (h HandlerHandle) IsZero() bool {
	return h.ID == ""
}

// ContainerDriver adapts one server family to the container lifecycle.
//
// The orchestrator calls CreateServer, ConfigureConnectors, ConfigureSecurity
// (only with principals), InstallHandlerTree, Deploy for each static
// deployable and finally Start. Deploy and Undeploy may be called again while
// the server runs; Stop ends the lifecycle and invalidates every handle.
type ContainerDriver interface {
	Name() string

	// CreateServer returns the existing server for this driver instance if
	// one exists, otherwise creates it. Safe for concurrent callers.
	CreateServer(ctx context.Context, cfg ContainerConfig) (Server, error)

	// ConfigureConnectors binds the server's listener to port. An invalid or
	// busy port is an ErrConfiguration.
	ConfigureConnectors(ctx context.Context, srv Server, port int) error

	// ConfigureSecurity installs a realm built from principals; no-op when
	// principals is empty.
	ConfigureSecurity(ctx context.Context, srv Server, principals []Principal) error

	// InstallHandlerTree runs exactly once per server lifecycle, before any Deploy.
	InstallHandlerTree(ctx context.Context, srv Server) (HandlerRegistry, error)

	// Deploy registers a handler for d and starts it when the server already
	// runs. Unsupported artifact types fail with ErrUnsupportedDeployableType.
	Deploy(ctx context.Context, reg HandlerRegistry, d Deployable, principals []Principal) (HandlerHandle, error)

	// Undeploy removes and stops the handler. A zero or already removed
	// handle is a no-op.
	Undeploy(ctx context.Context, reg HandlerRegistry, h HandlerHandle) error

	// Start puts the server in its accept loop on a background task and
	// returns without waiting for it to end.
	Start(ctx context.Context, srv Server) error

	// Stop shuts the server down gracefully and fires its shutdown hooks.
	Stop(ctx context.Context, srv Server) error
}
