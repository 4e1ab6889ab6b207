package hub

// Wire event types for the viewer protocol.
const (
	TypeDeviceStatus  = "device_status"
	TypeDeviceUpdate  = "device_update"
	TypeEnergySummary = "energy_summary"
	TypeSystemLog     = "system_log"
	TypeMQTTMessage   = "mqtt_message"
	TypePing          = "ping"
	TypePong          = "pong"
)

// Event is the single wire shape pushed to viewers; unused fields are
// omitted per type.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`

	// mqtt_message fields
	Broker          string `json:"broker,omitempty"`
	Topic           string `json:"topic,omitempty"`
	SubscribeFilter string `json:"subscribe_filter,omitempty"`
	Payload         any    `json:"payload,omitempty"`

	// system_log fields
	Message string `json:"message,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

func DeviceStatusEvent(data any) Event { return Event{Type: TypeDeviceStatus, Data: data} }
func DeviceUpdateEvent(data any) Event { return Event{Type: TypeDeviceUpdate, Data: data} }
func EnergySummaryEvent(data any) Event {
	return Event{Type: TypeEnergySummary, Data: data}
}

func SystemLogEvent(message, detail string) Event {
	return Event{Type: TypeSystemLog, Message: message, Detail: detail}
}

func MQTTMessageEvent(broker, topic, filter string, payload any) Event {
	return Event{Type: TypeMQTTMessage, Broker: broker, Topic: topic, SubscribeFilter: filter, Payload: payload}
}

func PongEvent() Event { return Event{Type: TypePong} }
