package scripted

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/fluxsets/cargo/eventbus"
	"github.com/fluxsets/cargo/script"
)

// TopicScript is the event bus topic script commands are published on.
const TopicScript = "cargo-script"

type ExecutorFunc func(ctx context.Context, s script.Script) error

func (fn ExecutorFunc) Execute(ctx context.Context, s script.Script) error {
	return fn(ctx, s)
}

// EventBusExecutor hands scripts to a remote scripting agent through the
// event bus: one message per command, JSON encoded, in script order.
type EventBusExecutor struct {
	bus   eventbus.EventBus
	topic string
}

func NewEventBusExecutor(bus eventbus.EventBus, topic string) *EventBusExecutor {
	if topic == "" {
		topic = TopicScript
	}
	return &EventBusExecutor{bus: bus, topic: topic}
}

func (e *EventBusExecutor) Execute(ctx context.Context, s script.Script) error {
	for i, cmd := range s.Commands {
		body, err := json.Marshal(cmd)
		if err != nil {
			return fmt.Errorf("encode command %q: %w", cmd.Name, err)
		}
		meta := map[string]string{
			eventbus.KeyName: cmd.Template,
			"target":         s.Target,
			"seq":            strconv.Itoa(i),
			"count":          strconv.Itoa(len(s.Commands)),
		}
		if err := e.bus.Publish(ctx, e.topic, body, meta); err != nil {
			return fmt.Errorf("publish command %q: %w", cmd.Name, err)
		}
	}
	return nil
}

var _ Executor = (*EventBusExecutor)(nil)
