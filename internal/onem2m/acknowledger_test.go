package onem2m

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexcode/iotcoss/internal/messaging"
)

type publishedMsg struct {
	topic   string
	payload []byte
}

type fakeBroker struct {
	published  []publishedMsg
	publishErr error
}

func (f *fakeBroker) Connect(context.Context) error    { return nil }
func (f *fakeBroker) Close(context.Context) error      { return nil }
func (f *fakeBroker) IsConnected() bool                { return true }
func (f *fakeBroker) NotifyConnectionLost(func(error)) {}
func (f *fakeBroker) Subscribe(context.Context, string, messaging.QoS, func(context.Context, string, []byte)) (messaging.Subscription, error) {
	return nil, nil
}

func (f *fakeBroker) Publish(_ context.Context, topic string, _ messaging.QoS, _ bool, payload []byte) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, publishedMsg{topic: topic, payload: payload})
	return nil
}

func (f *fakeBroker) PublishJSON(ctx context.Context, topic string, qos messaging.QoS, retain bool, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return f.Publish(ctx, topic, qos, retain, data)
}

func TestAckEchoesRequestID(t *testing.T) {
	broker := &fakeBroker{}
	ack := NewAcknowledger(broker)

	ack.Ack(context.Background(), "/oneM2M/req/Mobius2/json", "req-42")

	require.Len(t, broker.published, 1)
	msg := broker.published[0]
	assert.Equal(t, "/oneM2M/resp/Mobius2/json", msg.topic)

	var resp struct {
		RSC int            `json:"rsc"`
		RQI string         `json:"rqi"`
		PC  map[string]any `json:"pc"`
	}
	require.NoError(t, json.Unmarshal(msg.payload, &resp))
	assert.Equal(t, 2000, resp.RSC)
	assert.Equal(t, "req-42", resp.RQI)
	assert.Empty(t, resp.PC)
}

func TestAckPublishFailureIsSwallowed(t *testing.T) {
	broker := &fakeBroker{publishErr: errors.New("broker down")}
	ack := NewAcknowledger(broker)

	assert.NotPanics(t, func() {
		ack.Ack(context.Background(), "/oneM2M/req/Mobius2/json", "req-42")
	})
}
