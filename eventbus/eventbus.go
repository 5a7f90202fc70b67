package eventbus

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"go.uber.org/multierr"
	"gocloud.dev/pubsub"
	"gocloud.dev/pubsub/kafkapubsub"
	"gocloud.dev/pubsub/mempubsub"
)

// KeyName is the metadata key carrying the event name.
const KeyName = "name"

const (
	ProviderMem   = "mem"
	ProviderKafka = "kafka"
)

const defaultAckDeadline = time.Minute

type EventBus interface {
	Init(options map[string]TopicOption)
	Subscription(topic string) (*pubsub.Subscription, error)
	Topic(topic string) (*pubsub.Topic, error)
	Publish(ctx context.Context, topic string, body []byte, metadata map[string]string) error
	Close(ctx context.Context) error
}

// TopicOption selects the provider backing one topic. Topics without an
// option live in memory.
type TopicOption struct {
	Provider    string            `json:"provider"`
	AckDeadline time.Duration     `json:"ack_deadline"`
	Kafka       *KafkaTopicOption `json:"kafka,omitempty"`
}

type KafkaTopicOption struct {
	Servers      []string           `json:"servers"`
	Topic        string             `json:"topic"`
	Subscription *KafkaSubscription `json:"subscription"`
}

type KafkaSubscription struct {
	Group string `json:"group"`
}

var errNoKafkaOptions = errors.New("no kafka options specified")

// provider opens topics and subscriptions of one backend.
type provider interface {
	topic(id string, o TopicOption) (*pubsub.Topic, error)
	subscription(id string, o TopicOption) (*pubsub.Subscription, error)
}

// memProvider keeps one in-process topic per id so that publishers and
// subscribers of the same id meet.
type memProvider struct {
	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

func (p *memProvider) topic(id string, _ TopicOption) (*pubsub.Topic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.topics[id]
	if !ok {
		t = mempubsub.NewTopic()
		p.topics[id] = t
	}
	return t, nil
}

func (p *memProvider) subscription(id string, o TopicOption) (*pubsub.Subscription, error) {
	t, _ := p.topic(id, o)
	deadline := o.AckDeadline
	if deadline <= 0 {
		deadline = defaultAckDeadline
	}
	return mempubsub.NewSubscription(t, deadline), nil
}

type kafkaProvider struct{}

func (kafkaProvider) topic(_ string, o TopicOption) (*pubsub.Topic, error) {
	if o.Kafka == nil {
		return nil, errNoKafkaOptions
	}
	return kafkapubsub.OpenTopic(o.Kafka.Servers, kafkapubsub.MinimalConfig(), o.Kafka.Topic, nil)
}

func (kafkaProvider) subscription(_ string, o TopicOption) (*pubsub.Subscription, error) {
	if o.Kafka == nil {
		return nil, errNoKafkaOptions
	}
	if o.Kafka.Subscription == nil || o.Kafka.Subscription.Group == "" {
		return nil, errors.New("no subscription.group specified")
	}
	return kafkapubsub.OpenSubscription(o.Kafka.Servers, kafkapubsub.MinimalConfig(),
		o.Kafka.Subscription.Group, []string{o.Kafka.Topic}, nil)
}

type pubSub struct {
	mem   *memProvider
	kafka kafkaProvider

	mu      sync.RWMutex
	options map[string]TopicOption
	topics  map[string]*pubsub.Topic
}

func New() EventBus {
	return &pubSub{
		mem:     &memProvider{topics: map[string]*pubsub.Topic{}},
		options: map[string]TopicOption{},
		topics:  map[string]*pubsub.Topic{},
	}
}

func (ps *pubSub) Init(options map[string]TopicOption) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	maps.Copy(ps.options, options)
}

func (ps *pubSub) provider(id string) (provider, TopicOption) {
	ps.mu.RLock()
	o := ps.options[id]
	ps.mu.RUnlock()
	if o.Provider == ProviderKafka {
		return ps.kafka, o
	}
	return ps.mem, o
}

// Subscription opens a new subscription; the caller owns and shuts it down.
func (ps *pubSub) Subscription(id string) (*pubsub.Subscription, error) {
	p, o := ps.provider(id)
	sub, err := p.subscription(id, o)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", id, err)
	}
	return sub, nil
}

// Topic returns the topic for id, opening it on first use.
func (ps *pubSub) Topic(id string) (*pubsub.Topic, error) {
	ps.mu.RLock()
	t, ok := ps.topics[id]
	ps.mu.RUnlock()
	if ok {
		return t, nil
	}

	p, o := ps.provider(id)
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if t, ok := ps.topics[id]; ok {
		return t, nil
	}
	t, err := p.topic(id, o)
	if err != nil {
		return nil, fmt.Errorf("open topic %s: %w", id, err)
	}
	ps.topics[id] = t
	return t, nil
}

// Publish sends one message on topic. The metadata gets KeyName set to the
// topic when the caller did not name the event.
func (ps *pubSub) Publish(ctx context.Context, topic string, body []byte, metadata map[string]string) error {
	t, err := ps.Topic(topic)
	if err != nil {
		return err
	}
	meta := make(map[string]string, len(metadata)+1)
	maps.Copy(meta, metadata)
	if meta[KeyName] == "" {
		meta[KeyName] = topic
	}
	return t.Send(ctx, &pubsub.Message{Body: body, Metadata: meta})
}

// Close shuts down every topic opened through Topic or Publish.
func (ps *pubSub) Close(ctx context.Context) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	var err error
	for _, t := range ps.topics {
		err = multierr.Append(err, t.Shutdown(ctx))
	}
	clear(ps.topics)
	return err
}
