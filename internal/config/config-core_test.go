package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	raw := `{
		// local broker
		"brokerUrl": "tcp://localhost:1883",
		"topicFilter": "/oneM2M/req/+/json"
	}`
	cfg, err := LoadCoreConfigFromReader(strings.NewReader(raw))
	require.NoError(t, err)

	assert.Equal(t, "core", cfg.ClientName)
	assert.Equal(t, ":8000", cfg.HTTPAddr)
	assert.Equal(t, 220.0, cfg.LineVoltage)
	assert.Equal(t, "Asia/Seoul", cfg.Timezone)
	assert.Equal(t, 30, cfg.OfflineThresholdSec)
	assert.Equal(t, 5, cfg.SweepIntervalSec)
	assert.Equal(t, 5, cfg.ReconnectBackoffSec)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	raw := `{"brokerUrl": "tcp://x:1883", "topicFilter": "t", "mystery": 1}`
	_, err := LoadCoreConfigFromReader(strings.NewReader(raw))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON")
}

func TestValidateRequiredFields(t *testing.T) {
	_, err := LoadCoreConfigFromReader(strings.NewReader(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "brokerUrl")
	assert.Contains(t, err.Error(), "topicFilter")
}

func TestValidateBadTimezone(t *testing.T) {
	raw := `{"brokerUrl": "tcp://x:1883", "topicFilter": "t", "timezone": "Mars/Olympus"}`
	_, err := LoadCoreConfigFromReader(strings.NewReader(raw))
	assert.Error(t, err)
}
