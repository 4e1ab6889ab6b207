package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nexcode/iotcoss/internal/logging"
)

type BrokerConfig struct {
	BrokerURL        string
	ClientName       string
	ConnectTimeout   time.Duration
	PublishTimeout   time.Duration
	SubscribeTimeout time.Duration
}

type MsgBroker struct {
	config      BrokerConfig
	client      mqtt.Client
	mu          sync.RWMutex
	subs        map[string]mqtt.Token
	lostFuncs   []func(err error)
	newClientFn func(*mqtt.ClientOptions) mqtt.Client // test seam
}

func NewMsgBroker(cfg BrokerConfig) *MsgBroker {
	return &MsgBroker{
		config:      cfg,
		subs:        make(map[string]mqtt.Token),
		newClientFn: mqtt.NewClient,
	}
}

func (b *MsgBroker) Connect(ctx context.Context) error {
	b.mu.Lock()
	if b.client == nil {
		b.client = b.newClientFn(b.optionsFromConfig())
	}
	client := b.client
	b.mu.Unlock()

	if client.IsConnected() {
		return nil
	}

	t := client.Connect()
	done := make(chan struct{})
	go func() {
		t.Wait()
		close(done)
	}()

	select {
	case <-done:
		return t.Error()
	case <-ctx.Done():
		client.Disconnect(250)
		return ctx.Err()
	}
}

// getClient is the synchronized read side; the client is created lazily
// on the first Connect and may be observed concurrently from HTTP
// handler goroutines.
func (b *MsgBroker) getClient() mqtt.Client {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.client
}

func (b *MsgBroker) optionsFromConfig() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().AddBroker(b.config.BrokerURL)
	opts.SetClientID("iotcoss-" + b.config.ClientName)
	// Reconnect policy lives in the listener loop, not in paho.
	opts.SetAutoReconnect(false)
	opts.SetOrderMatters(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		b.onConnectionLost(err)
	})
	return opts
}

func (b *MsgBroker) NotifyConnectionLost(fn func(err error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lostFuncs = append(b.lostFuncs, fn)
}

func (b *MsgBroker) onConnectionLost(err error) {
	logging.Warn("mqtt connection lost", "clientName", b.config.ClientName, "error", err)
	b.mu.RLock()
	funcsCopy := make([]func(error), len(b.lostFuncs))
	copy(funcsCopy, b.lostFuncs)
	b.mu.RUnlock()

	for _, fn := range funcsCopy {
		fn(err)
	}
}

func (b *MsgBroker) IsConnected() bool {
	client := b.getClient()
	return client != nil && client.IsConnected()
}

func (b *MsgBroker) Close(ctx context.Context) error {
	client := b.getClient()
	if client == nil {
		return nil
	}
	// Graceful disconnect with short timeout
	done := make(chan struct{})
	go func() {
		// 250 ms quiesce period
		client.Disconnect(250)
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *MsgBroker) Publish(ctx context.Context, topic string, qos QoS, retain bool, payload []byte) error {
	client := b.getClient()
	if client == nil {
		return errors.New("client not initialized")
	}
	qosByte, wait := qosToByte(qos)
	token := client.Publish(topic, qosByte, retain, payload)
	if !wait {
		return nil
	}
	timeout := b.config.PublishTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	select {
	case <-token.Done():
		return token.Error()
	case <-time.After(timeout):
		return fmt.Errorf("publish timeout after %v", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func qosToByte(qos QoS) (byte, bool) {
	if qos > 2 {
		return 0, false
	}
	return byte(qos), true
}

func (b *MsgBroker) PublishJSON(ctx context.Context, topic string, qos QoS, retain bool, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Publish(ctx, topic, qos, retain, data)
}

// Subscribe registers handler and waits for SUBACK with timeout.
// Handlers run inline on paho's router goroutine so that a blocking
// handler exerts back-pressure instead of reordering messages.
func (b *MsgBroker) Subscribe(ctx context.Context, topic string, qos QoS, handler func(context.Context, string, []byte)) (Subscription, error) {
	client := b.getClient()
	if client == nil {
		return nil, errors.New("client not initialized")
	}
	onMessageHandler := func(_ mqtt.Client, msg mqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				logging.Error("mqtt handler panic", "clientName", b.config.ClientName, "topic", msg.Topic(), "err", r)
			}
		}()
		handler(ctx, msg.Topic(), msg.Payload())
	}
	token := client.Subscribe(topic, byte(qos), onMessageHandler)

	timeout := b.config.SubscribeTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return nil, err
		}

		b.mu.Lock()
		b.subs[topic] = token
		b.mu.Unlock()

		return &msgSubscription{broker: b, topic: topic}, nil

	case <-time.After(timeout):
		return nil, fmt.Errorf("subscribe timeout for %s", topic)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// subscription wrapper
type msgSubscription struct {
	broker *MsgBroker
	topic  string
}

func (s *msgSubscription) Unsubscribe(ctx context.Context) error {
	b := s.broker
	token := b.getClient().Unsubscribe(s.topic)
	timeout := 3 * time.Second
	select {
	case <-token.Done():
		return token.Error()
	case <-time.After(timeout):
		return fmt.Errorf("unsubscribe timeout for %s", s.topic)
	case <-ctx.Done():
		return ctx.Err()
	}
}
