// Package onem2m unwraps the nested oneM2M notification envelopes that
// smart plugs publish and turns them into flat device samples.
package onem2m

import (
	"encoding/json"
	"regexp"
	"strconv"
	"time"
)

// ct field layout, e.g. "20260829T153012"
const ContentTimeLayout = "20060102T150405"

var macShape = regexp.MustCompile(`^([0-9A-Fa-f]{2}:){5}[0-9A-Fa-f]{2}$`)

type EnvelopeKind int

const (
	Unrecognized EnvelopeKind = iota
	Request                   // carries a primitive-content wrapper (pc), expects a response
	Notification              // bare m2m:sgn at the top level
	BareContent               // the payload itself is the content instance
)

// ContentInstance is the innermost object carrying sensor values and
// metadata. con may itself be a JSON object or a nested JSON string.
type ContentInstance struct {
	Created string          `json:"ct"`
	Labels  []any           `json:"lbl"`
	Content json.RawMessage `json:"con"`
}

// Envelope is the decoded outer wrapper.
type Envelope struct {
	Kind      EnvelopeKind
	RequestID string
	CIN       *ContentInstance
}

// IsRequest reports whether the sender expects a protocol response.
func (e Envelope) IsRequest() bool { return e.RequestID != "" }

// wirePayload is a superset of the three accepted shapes; which fields
// are populated decides the variant.
type wirePayload struct {
	RQI string            `json:"rqi"`
	PC  *primitiveContent `json:"pc"`
	SGN *signal           `json:"m2m:sgn"`

	// bare content-instance fields
	Created string          `json:"ct"`
	Labels  []any           `json:"lbl"`
	Content json.RawMessage `json:"con"`
}

type primitiveContent struct {
	SGN *signal `json:"m2m:sgn"`
}

type signal struct {
	NEV *notificationEvent `json:"nev"`
}

type notificationEvent struct {
	Rep representation `json:"rep"`
}

type representation struct {
	CIN *ContentInstance `json:"m2m:cin"`
}

// DecodeEnvelope probes the payload shape in priority order: request
// wrapper, then notification signal, then bare content. A payload that
// matches none of them is Unrecognized, not an error; only malformed
// JSON fails.
func DecodeEnvelope(payload []byte) (Envelope, error) {
	var wire wirePayload
	if err := json.Unmarshal(payload, &wire); err != nil {
		return Envelope{}, err
	}

	env := Envelope{RequestID: wire.RQI}
	switch {
	case wire.PC != nil:
		env.Kind = Request
		env.CIN = cinFromSignal(wire.PC.SGN)
	case wire.SGN != nil:
		env.Kind = Notification
		env.CIN = cinFromSignal(wire.SGN)
	case wire.Content != nil:
		env.Kind = BareContent
		env.CIN = &ContentInstance{Created: wire.Created, Labels: wire.Labels, Content: wire.Content}
	default:
		env.Kind = Unrecognized
	}
	return env, nil
}

func cinFromSignal(sgn *signal) *ContentInstance {
	if sgn == nil || sgn.NEV == nil {
		return nil
	}
	return sgn.NEV.Rep.CIN
}

// DeviceMAC scans the label list for the first token shaped like a MAC
// address. Absence means the content instance is not device telemetry.
func (c *ContentInstance) DeviceMAC() (string, bool) {
	for _, item := range c.Labels {
		s, ok := item.(string)
		if ok && macShape.MatchString(s) {
			return s, true
		}
	}
	return "", false
}

// CreatedAt parses the ct field in the given zone. A missing or
// malformed ct yields ok=false rather than an error; the rest of the
// sample stays usable.
func (c *ContentInstance) CreatedAt(loc *time.Location) (time.Time, bool) {
	if c.Created == "" {
		return time.Time{}, false
	}
	ts, err := time.ParseInLocation(ContentTimeLayout, c.Created, loc)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// SensorFields holds the optional readings carried in con. Every field
// is independent; a missing or unreadable one leaves the others intact.
type SensorFields struct {
	Temperature *float64
	Humidity    *float64
	CurrentAmps *float64
	RelayStatus string // "on", "off" or empty
}

// Sensor decodes the content body. Devices sometimes double-encode con
// as a JSON string, so one level of string nesting is unwrapped first.
func (c *ContentInstance) Sensor() SensorFields {
	raw := c.Content
	if len(raw) == 0 {
		return SensorFields{}
	}
	var nested string
	if err := json.Unmarshal(raw, &nested); err == nil {
		raw = []byte(nested)
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return SensorFields{}
	}

	var f SensorFields
	f.Temperature = toFloat(body["temp"])
	f.Humidity = toFloat(body["humi"])
	f.CurrentAmps = toFloat(body["energy"])
	if v, ok := body["status"]; ok {
		f.RelayStatus = toStatus(v)
	}
	return f
}

func toFloat(v any) *float64 {
	switch x := v.(type) {
	case float64:
		return &x
	case string:
		if n, err := strconv.ParseFloat(x, 64); err == nil {
			return &n
		}
	}
	return nil
}

func toStatus(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		if x {
			return "on"
		}
		return "off"
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return ""
}
