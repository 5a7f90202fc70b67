package eventbus

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/pubsub"
)

func TestEventBus_PublishDefaultsName(t *testing.T) {
	bus := New()
	defer bus.Close(context.Background())
	sub, err := bus.Subscription("orders")
	require.NoError(t, err)
	defer sub.Shutdown(context.Background())

	meta := map[string]string{"container": "web"}
	require.NoError(t, bus.Publish(context.Background(), "orders", []byte("one"), meta))
	require.NoError(t, bus.Publish(context.Background(), "orders", []byte("two"), map[string]string{KeyName: "custom"}))
	assert.NotContains(t, meta, KeyName)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := sub.Receive(ctx)
	require.NoError(t, err)
	msg.Ack()
	assert.Equal(t, "one", string(msg.Body))
	assert.Equal(t, "orders", msg.Metadata[KeyName])
	assert.Equal(t, "web", msg.Metadata["container"])

	msg, err = sub.Receive(ctx)
	require.NoError(t, err)
	msg.Ack()
	assert.Equal(t, "custom", msg.Metadata[KeyName])
}

func TestEventBus_TopicIsShared(t *testing.T) {
	bus := New()
	defer bus.Close(context.Background())
	a, err := bus.Topic("t")
	require.NoError(t, err)
	b, err := bus.Topic("t")
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestEventBus_KafkaRequiresOptions(t *testing.T) {
	bus := New()
	bus.Init(map[string]TopicOption{
		"remote": {Provider: ProviderKafka},
		"nogroup": {Provider: ProviderKafka, Kafka: &KafkaTopicOption{
			Servers: []string{"localhost:9092"},
			Topic:   "x",
		}},
	})
	_, err := bus.Topic("remote")
	assert.Error(t, err)
	_, err = bus.Subscription("remote")
	assert.Error(t, err)
	_, err = bus.Subscription("nogroup")
	assert.Error(t, err)
}

func TestSubscriber(t *testing.T) {
	bus := New()
	defer bus.Close(context.Background())

	var mu sync.Mutex
	var got []string
	received := make(chan struct{}, 2)
	s := NewSubscriber(bus, "events", func(ctx context.Context, msg *pubsub.Message) error {
		mu.Lock()
		got = append(got, string(msg.Body))
		mu.Unlock()
		received <- struct{}{}
		return nil
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Equal(t, "subscriber@events", s.Name())
	require.NoError(t, s.Open())
	assert.Error(t, s.CheckHealth())

	require.NoError(t, bus.Publish(context.Background(), "events", []byte("a"), nil))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Start(ctx) }()

	require.NoError(t, bus.Publish(context.Background(), "events", []byte("b"), nil))
	for range 2 {
		select {
		case <-received:
		case <-time.After(time.Second):
			t.Fatal("message not delivered")
		}
	}
	assert.NoError(t, s.CheckHealth())

	cancel()
	require.NoError(t, <-errc)
	s.Stop(context.Background())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b"}, got)
}
