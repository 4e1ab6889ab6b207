package onem2m

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const requestPayload = `{
	"rqi": "req-123",
	"pc": {
		"m2m:sgn": {
			"nev": {
				"rep": {
					"m2m:cin": {
						"ct": "20260829T120500",
						"lbl": ["outlet", "AA:BB:CC:DD:EE:FF"],
						"con": {"temp": 24.5, "humi": 41.2, "energy": 0.53, "status": "on"}
					}
				}
			}
		}
	}
}`

const notificationPayload = `{
	"m2m:sgn": {
		"nev": {
			"rep": {
				"m2m:cin": {
					"ct": "20260829T120500",
					"lbl": ["AA:BB:CC:DD:EE:FF"],
					"con": {"energy": 0.5}
				}
			}
		}
	}
}`

func TestDecodeRequestEnvelope(t *testing.T) {
	env, err := DecodeEnvelope([]byte(requestPayload))
	require.NoError(t, err)
	assert.Equal(t, Request, env.Kind)
	assert.True(t, env.IsRequest())
	assert.Equal(t, "req-123", env.RequestID)
	require.NotNil(t, env.CIN)

	mac, ok := env.CIN.DeviceMAC()
	require.True(t, ok)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", mac)

	ts, ok := env.CIN.CreatedAt(time.UTC)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 8, 29, 12, 5, 0, 0, time.UTC), ts)

	fields := env.CIN.Sensor()
	require.NotNil(t, fields.Temperature)
	assert.InDelta(t, 24.5, *fields.Temperature, 1e-9)
	require.NotNil(t, fields.CurrentAmps)
	assert.InDelta(t, 0.53, *fields.CurrentAmps, 1e-9)
	assert.Equal(t, "on", fields.RelayStatus)
}

func TestDecodeNotificationEnvelope(t *testing.T) {
	env, err := DecodeEnvelope([]byte(notificationPayload))
	require.NoError(t, err)
	assert.Equal(t, Notification, env.Kind)
	assert.False(t, env.IsRequest())
	require.NotNil(t, env.CIN)
}

func TestDecodeBareContent(t *testing.T) {
	payload := `{"ct": "20260829T120500", "lbl": ["AA:BB:CC:DD:EE:FF"], "con": {"temp": 20}}`
	env, err := DecodeEnvelope([]byte(payload))
	require.NoError(t, err)
	assert.Equal(t, BareContent, env.Kind)
	require.NotNil(t, env.CIN)

	mac, ok := env.CIN.DeviceMAC()
	require.True(t, ok)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", mac)
}

func TestDecodeUnrecognized(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"hello": "world"}`))
	require.NoError(t, err)
	assert.Equal(t, Unrecognized, env.Kind)
	assert.Nil(t, env.CIN)
}

func TestDecodeMalformedJSON(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`{not json`))
	assert.Error(t, err)
}

func TestBadTimestampIsAbsentNotFatal(t *testing.T) {
	payload := `{"ct": "2026-08-29 12:05", "lbl": ["AA:BB:CC:DD:EE:FF"], "con": {"energy": 0.4}}`
	env, err := DecodeEnvelope([]byte(payload))
	require.NoError(t, err)

	_, ok := env.CIN.CreatedAt(time.UTC)
	assert.False(t, ok)

	fields := env.CIN.Sensor()
	require.NotNil(t, fields.CurrentAmps)
	assert.InDelta(t, 0.4, *fields.CurrentAmps, 1e-9)
}

func TestDeviceMACScansLabels(t *testing.T) {
	cases := []struct {
		name   string
		labels []any
		want   string
		found  bool
	}{
		{"first match wins", []any{"11:22:33:44:55:66", "AA:BB:CC:DD:EE:FF"}, "11:22:33:44:55:66", true},
		{"non-string labels skipped", []any{42.0, true, "AA:BB:CC:DD:EE:FF"}, "AA:BB:CC:DD:EE:FF", true},
		{"no mac shape", []any{"outlet", "not:a:mac"}, "", false},
		{"empty", nil, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cin := &ContentInstance{Labels: tc.labels}
			mac, ok := cin.DeviceMAC()
			assert.Equal(t, tc.found, ok)
			assert.Equal(t, tc.want, mac)
		})
	}
}

func TestSensorNestedJSONString(t *testing.T) {
	// devices sometimes double-encode con as a JSON string
	payload := `{"lbl": ["AA:BB:CC:DD:EE:FF"], "con": "{\"temp\": \"25.5\", \"status\": true}"}`
	env, err := DecodeEnvelope([]byte(payload))
	require.NoError(t, err)

	fields := env.CIN.Sensor()
	require.NotNil(t, fields.Temperature)
	assert.InDelta(t, 25.5, *fields.Temperature, 1e-9)
	assert.Equal(t, "on", fields.RelayStatus)
	assert.Nil(t, fields.Humidity)
	assert.Nil(t, fields.CurrentAmps)
}

func TestSensorFieldsIndependentlyOptional(t *testing.T) {
	cin := &ContentInstance{Content: []byte(`{"humi": 55, "energy": "not a number"}`)}
	fields := cin.Sensor()
	require.NotNil(t, fields.Humidity)
	assert.InDelta(t, 55.0, *fields.Humidity, 1e-9)
	assert.Nil(t, fields.CurrentAmps, "unparseable field is absent, not fatal")
	assert.Nil(t, fields.Temperature)
}

func TestResponseTopic(t *testing.T) {
	assert.Equal(t, "/oneM2M/resp/Mobius2/json", ResponseTopic("/oneM2M/req/Mobius2/json"))
	assert.Equal(t, "plain/topic", ResponseTopic("plain/topic"))
}
