package messaging

import (
	"context"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type immediateToken struct{ err error }

func (t *immediateToken) Wait() bool                     { return true }
func (t *immediateToken) WaitTimeout(time.Duration) bool { return true }
func (t *immediateToken) Error() error                   { return t.err }
func (t *immediateToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type stubClient struct {
	mu        sync.Mutex
	connected bool
	published int
}

func (c *stubClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *stubClient) IsConnectionOpen() bool { return c.IsConnected() }

func (c *stubClient) Connect() mqtt.Token {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return &immediateToken{}
}

func (c *stubClient) Disconnect(uint) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

func (c *stubClient) Publish(string, byte, bool, interface{}) mqtt.Token {
	c.mu.Lock()
	c.published++
	c.mu.Unlock()
	return &immediateToken{}
}

func (c *stubClient) Subscribe(string, byte, mqtt.MessageHandler) mqtt.Token {
	return &immediateToken{}
}

func (c *stubClient) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return &immediateToken{}
}

func (c *stubClient) Unsubscribe(...string) mqtt.Token { return &immediateToken{} }

func (c *stubClient) AddRoute(string, mqtt.MessageHandler) {}

func (c *stubClient) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

func newStubBroker() (*MsgBroker, *stubClient) {
	stub := &stubClient{}
	b := NewMsgBroker(BrokerConfig{BrokerURL: "tcp://localhost:1883", ClientName: "test"})
	b.newClientFn = func(*mqtt.ClientOptions) mqtt.Client { return stub }
	return b, stub
}

func TestBrokerConnectAndPublish(t *testing.T) {
	b, stub := newStubBroker()

	assert.False(t, b.IsConnected(), "no session before the first Connect")
	require.NoError(t, b.Connect(context.Background()))
	assert.True(t, b.IsConnected())

	require.NoError(t, b.Publish(context.Background(), "t", AtLeastOnce, false, []byte("x")))
	assert.Equal(t, 1, stub.published)

	require.NoError(t, b.Close(context.Background()))
	assert.False(t, b.IsConnected())
}

func TestBrokerPublishBeforeConnect(t *testing.T) {
	b, _ := newStubBroker()
	err := b.Publish(context.Background(), "t", AtLeastOnce, false, []byte("x"))
	assert.Error(t, err)
}

// The lazy first-Connect client creation may race with status and
// publish reads from other goroutines; all of them must go through the
// broker's lock.
func TestBrokerConcurrentConnectAndStatus(t *testing.T) {
	b, _ := newStubBroker()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Connect(context.Background())
			b.IsConnected()
			_ = b.Publish(context.Background(), "t", AtMostOnce, false, []byte("x"))
		}()
	}
	wg.Wait()
	assert.True(t, b.IsConnected())
}
