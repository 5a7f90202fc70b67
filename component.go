package cargo

import (
	"context"
	"fmt"
	"time"

	"gocloud.dev/server/health"
)

// Component is a long-running part of the App. Start blocks until the
// component ends; Stop asks it to end.
type Component interface {
	health.Checker
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context)
}

// ContainerComponent runs an Orchestrator as an App component: Start brings
// the container up and holds until it is stopped or fails.
type ContainerComponent struct {
	orch    *Orchestrator
	timeout time.Duration
}

func NewContainerComponent(orch *Orchestrator, shutdownTimeout time.Duration) *ContainerComponent {
	return &ContainerComponent{orch: orch, timeout: shutdownTimeout}
}

func (c *ContainerComponent) Name() string {
	return "container@" + c.orch.name
}

func (c *ContainerComponent) Start(ctx context.Context) error {
	if err := c.orch.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return nil
	case <-c.orch.Done():
	}
	if state := c.orch.State(); state == StateFailed {
		return fmt.Errorf("%w: container %s failed", ErrDriverInvocation, c.orch.name)
	}
	return nil
}

func (c *ContainerComponent) Stop(ctx context.Context) {
	if c.orch.State() != StateRunning {
		return
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if err := c.orch.Stop(ctx); err != nil {
		c.orch.logger.Warn("stop container", "error", err)
	}
}

func (c *ContainerComponent) CheckHealth() error {
	if state := c.orch.State(); state != StateRunning {
		return fmt.Errorf("container %s is %s", c.orch.name, state)
	}
	return nil
}

var _ Component = (*ContainerComponent)(nil)
