package onem2m

import (
	"context"
	"strings"

	"github.com/nexcode/iotcoss/internal/logging"
	"github.com/nexcode/iotcoss/internal/messaging"
)

// rsc 2000 = OK in oneM2M response status codes.
const responseStatusOK = 2000

// ResponseEnvelope is the protocol-level handshake a request-shaped
// sender expects, independent of whether telemetry parsing succeeded.
type ResponseEnvelope struct {
	RSC int      `json:"rsc"`
	RQI string   `json:"rqi"`
	PC  struct{} `json:"pc"`
}

// ResponseTopic derives the reply topic by substituting the request
// namespace segment, e.g. /oneM2M/req/... -> /oneM2M/resp/...
func ResponseTopic(requestTopic string) string {
	return strings.Replace(requestTopic, "/req/", "/resp/", 1)
}

// Acknowledger publishes success responses for request envelopes.
type Acknowledger struct {
	broker messaging.Broker
}

func NewAcknowledger(broker messaging.Broker) *Acknowledger {
	return &Acknowledger{broker: broker}
}

// Ack echoes the request identifier back on the derived response topic.
// Failures are logged and swallowed; the ingestion path never stalls on
// a handshake.
func (a *Acknowledger) Ack(ctx context.Context, requestTopic, requestID string) {
	resp := ResponseEnvelope{RSC: responseStatusOK, RQI: requestID}
	topic := ResponseTopic(requestTopic)
	if err := a.broker.PublishJSON(ctx, topic, messaging.AsyncNoWait, false, resp); err != nil {
		logging.Warn("ack publish failed", "topic", topic, "rqi", requestID, "error", err)
	}
}
