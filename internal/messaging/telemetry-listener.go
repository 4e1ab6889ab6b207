package messaging

import (
	"context"
	"time"

	"github.com/nexcode/iotcoss/internal/logging"
)

// MessageHandler consumes one inbound message. The listener waits for it
// to return before pulling the next message, so per-device ordering is
// preserved and a slow handler delays further ingestion.
type MessageHandler func(ctx context.Context, topic string, payload []byte)

type inboundMessage struct {
	topic   string
	payload []byte
}

// TelemetryListener owns the subscribing side of the broker session:
// it arms a single topic filter, serializes delivery to its handler,
// and reconnects with a fixed backoff whenever the session drops.
type TelemetryListener struct {
	broker  Broker
	filter  string
	backoff time.Duration
	handler MessageHandler

	msgCh  chan inboundMessage
	lostCh chan struct{}
}

func NewTelemetryListener(broker Broker, filter string, backoff time.Duration, handler MessageHandler) *TelemetryListener {
	if backoff <= 0 {
		backoff = 5 * time.Second
	}
	l := &TelemetryListener{
		broker:  broker,
		filter:  filter,
		backoff: backoff,
		handler: handler,
		msgCh:   make(chan inboundMessage, 64),
		lostCh:  make(chan struct{}, 1),
	}
	broker.NotifyConnectionLost(func(error) {
		select {
		case l.lostCh <- struct{}{}:
		default:
		}
	})
	return l
}

// Run blocks until ctx is cancelled. It never returns on transport
// failure: connect errors, subscribe errors and dropped sessions all
// fall through to the same backoff-and-retry path.
func (l *TelemetryListener) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := l.broker.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			logging.Warn("mqtt connect failed, retrying", "filter", l.filter, "backoff", l.backoff, "error", err)
			if !sleepCtx(ctx, l.backoff) {
				return
			}
			continue
		}

		if _, err := l.broker.Subscribe(ctx, l.filter, AtMostOnce, l.enqueue); err != nil {
			if ctx.Err() != nil {
				return
			}
			logging.Warn("mqtt subscribe failed, retrying", "filter", l.filter, "error", err)
			if !sleepCtx(ctx, l.backoff) {
				return
			}
			continue
		}
		logging.Info("mqtt listener armed", "filter", l.filter)

		l.drain(ctx)
		if ctx.Err() != nil {
			return
		}
		// Session dropped; the subscription died with it. Back off,
		// then reconnect and re-arm the same filter.
		if !sleepCtx(ctx, l.backoff) {
			return
		}
	}
}

func (l *TelemetryListener) enqueue(ctx context.Context, topic string, payload []byte) {
	// Copy: paho may reuse the payload buffer after the callback returns.
	msg := inboundMessage{topic: topic, payload: append([]byte(nil), payload...)}
	select {
	case l.msgCh <- msg:
	case <-ctx.Done():
	}
}

func (l *TelemetryListener) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.lostCh:
			return
		case m := <-l.msgCh:
			l.handler(ctx, m.topic, m.payload)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
