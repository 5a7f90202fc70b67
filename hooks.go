package cargo

import (
	"context"

	"go.uber.org/multierr"
)

type Hooks interface {
	OnStart(fns ...HookFunc)
	OnStop(fns ...HookFunc)
}

type HookFunc func(ctx context.Context) error

type hooks struct {
	onStarts []HookFunc
	onStops  []HookFunc
}

func (hooks *hooks) OnStart(fns ...HookFunc) {
	hooks.onStarts = append(hooks.onStarts, fns...)
}

func (hooks *hooks) OnStop(fns ...HookFunc) {
	hooks.onStops = append(hooks.onStops, fns...)
}

var _ Hooks = new(hooks)

// RunHooks calls every fn in order and returns their combined errors; a
// failing hook does not prevent the following ones from running.
func RunHooks(ctx context.Context, fns []HookFunc) error {
	var err error
	for _, fn := range fns {
		err = multierr.Append(err, fn(ctx))
	}
	return err
}
