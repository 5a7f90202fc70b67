package eventbus

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"gocloud.dev/pubsub"
)

type HandlerFunc func(ctx context.Context, msg *pubsub.Message) error

var errNotReceiving = errors.New("subscriber not receiving")

// Subscriber receives messages of one topic and hands them to a handler
// until it is stopped. Handler errors are logged; the message is acked
// either way.
type Subscriber struct {
	topic   string
	bus     EventBus
	handler HandlerFunc
	logger  *slog.Logger

	mu        sync.Mutex
	subs      *pubsub.Subscription
	receiving bool
}

func NewSubscriber(bus EventBus, topic string, h HandlerFunc, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Subscriber{
		topic:   topic,
		bus:     bus,
		handler: h,
	}
	s.logger = logger.With("component", s.Name())
	return s
}

func (s *Subscriber) Name() string {
	return "subscriber@" + s.topic
}

// Open subscribes to the topic. Start calls it when needed; calling it
// first guarantees no message sent afterwards is missed.
func (s *Subscriber) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs != nil {
		return nil
	}
	subs, err := s.bus.Subscription(s.topic)
	if err != nil {
		return err
	}
	s.subs = subs
	return nil
}

func (s *Subscriber) Start(ctx context.Context) error {
	if err := s.Open(); err != nil {
		return err
	}
	s.mu.Lock()
	subs := s.subs
	s.receiving = true
	s.mu.Unlock()
	s.logger.Info("starting subscriber")

	var err error
	for {
		var msg *pubsub.Message
		msg, err = subs.Receive(ctx)
		if err != nil {
			break
		}
		if herr := s.handler(ctx, msg); herr != nil {
			s.logger.Error("message handle error", "topic", s.topic, "error", herr)
		}
		msg.Ack()
	}

	s.mu.Lock()
	s.receiving = false
	s.mu.Unlock()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *Subscriber) Stop(ctx context.Context) {
	s.mu.Lock()
	subs := s.subs
	s.mu.Unlock()
	if subs == nil {
		return
	}
	if err := subs.Shutdown(ctx); err != nil {
		s.logger.Error("subscription shutdown error", "topic", s.topic, "error", err)
	}
	s.logger.Info("subscriber shut down")
}

func (s *Subscriber) CheckHealth() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.receiving {
		return errNotReceiving
	}
	return nil
}
