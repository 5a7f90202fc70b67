package cargo

import "context"

type CommandFunc func(ctx context.Context) error

// NewCommand wraps fn as a one-shot component. When fn returns the App
// shuts down.
func NewCommand(name string, fn CommandFunc) Component {
	return &command{name: name, fn: fn}
}

type command struct {
	name string
	fn   CommandFunc
}

func (cmd *command) CheckHealth() error {
	return nil
}

func (cmd *command) Name() string {
	return "command@" + cmd.name
}

func (cmd *command) Start(ctx context.Context) error {
	return cmd.fn(ctx)
}

func (cmd *command) Stop(ctx context.Context) {}
