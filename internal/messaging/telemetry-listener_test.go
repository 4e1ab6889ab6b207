package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type scriptedBroker struct {
	mu             sync.Mutex
	connectErrs    []error
	connects       int
	subscribes     int
	subscribeTopic string
	handler        func(context.Context, string, []byte)
	lostFn         func(error)
}

func (b *scriptedBroker) Connect(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connects++
	if len(b.connectErrs) > 0 {
		err := b.connectErrs[0]
		b.connectErrs = b.connectErrs[1:]
		return err
	}
	return nil
}

func (b *scriptedBroker) Close(context.Context) error { return nil }
func (b *scriptedBroker) IsConnected() bool           { return true }

func (b *scriptedBroker) Publish(context.Context, string, QoS, bool, []byte) error { return nil }
func (b *scriptedBroker) PublishJSON(context.Context, string, QoS, bool, any) error {
	return nil
}

func (b *scriptedBroker) Subscribe(_ context.Context, topic string, _ QoS, handler func(context.Context, string, []byte)) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribes++
	b.subscribeTopic = topic
	b.handler = handler
	return nil, nil
}

func (b *scriptedBroker) NotifyConnectionLost(fn func(error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lostFn = fn
}

func (b *scriptedBroker) deliver(ctx context.Context, topic string, payload []byte) {
	b.mu.Lock()
	h := b.handler
	b.mu.Unlock()
	h(ctx, topic, payload)
}

func (b *scriptedBroker) dropConnection() {
	b.mu.Lock()
	fn := b.lostFn
	b.mu.Unlock()
	fn(errors.New("connection reset"))
}

func (b *scriptedBroker) counts() (connects, subscribes int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connects, b.subscribes
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition not met in time")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestListenerDeliversInOrder(t *testing.T) {
	broker := &scriptedBroker{}
	var mu sync.Mutex
	var got []string
	listener := NewTelemetryListener(broker, "telemetry/#", 10*time.Millisecond,
		func(_ context.Context, _ string, payload []byte) {
			mu.Lock()
			got = append(got, string(payload))
			mu.Unlock()
		})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go listener.Run(ctx)

	waitFor(t, func() bool { _, subs := broker.counts(); return subs == 1 })
	broker.mu.Lock()
	assert.Equal(t, "telemetry/#", broker.subscribeTopic)
	broker.mu.Unlock()

	for _, p := range []string{"a", "b", "c"} {
		broker.deliver(ctx, "telemetry/x", []byte(p))
	}
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	})
	mu.Lock()
	assert.Equal(t, []string{"a", "b", "c"}, got)
	mu.Unlock()
}

func TestListenerReconnectsAfterConnectionLost(t *testing.T) {
	broker := &scriptedBroker{}
	listener := NewTelemetryListener(broker, "telemetry/#", time.Millisecond,
		func(context.Context, string, []byte) {})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go listener.Run(ctx)

	waitFor(t, func() bool { _, subs := broker.counts(); return subs == 1 })

	broker.dropConnection()

	// The loop backs off, reconnects, and arms the same filter again.
	waitFor(t, func() bool { _, subs := broker.counts(); return subs == 2 })
	connects, _ := broker.counts()
	assert.GreaterOrEqual(t, connects, 2)
}

func TestListenerRetriesFailedConnect(t *testing.T) {
	broker := &scriptedBroker{connectErrs: []error{errors.New("broker down"), errors.New("broker down")}}
	listener := NewTelemetryListener(broker, "telemetry/#", time.Millisecond,
		func(context.Context, string, []byte) {})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go listener.Run(ctx)

	// Two failures burn off, the third attempt subscribes.
	waitFor(t, func() bool { _, subs := broker.counts(); return subs == 1 })
	connects, _ := broker.counts()
	assert.GreaterOrEqual(t, connects, 3)
}

func TestListenerStopsOnContextCancel(t *testing.T) {
	broker := &scriptedBroker{}
	listener := NewTelemetryListener(broker, "telemetry/#", time.Millisecond,
		func(context.Context, string, []byte) {})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		listener.Run(ctx)
		close(done)
	}()

	waitFor(t, func() bool { _, subs := broker.counts(); return subs == 1 })
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
}
