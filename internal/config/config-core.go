// internal/config/config-core.go
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"
)

/* =========================
   Types
   ========================= */

type CoreConfig struct {
	BrokerURL   string `json:"brokerUrl"`
	ClientName  string `json:"clientName"`
	TopicFilter string `json:"topicFilter"` // inbound telemetry subscription filter

	HTTPAddr       string   `json:"httpAddr"`
	AllowedOrigins []string `json:"allowedOrigins"`

	DatabasePath string `json:"databasePath"`

	LineVoltage float64 `json:"lineVoltage"` // volts, for amps -> watt-hours
	Timezone    string  `json:"timezone"`    // local zone for day rollover

	OfflineThresholdSec int `json:"offlineThresholdSec"`
	SweepIntervalSec    int `json:"sweepIntervalSec"`
	ReconnectBackoffSec int `json:"reconnectBackoffSec"`
}

/* =========================
   Helpers
   ========================= */

func (c *CoreConfig) OfflineThreshold() time.Duration {
	return time.Duration(c.OfflineThresholdSec) * time.Second
}
func (c *CoreConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSec) * time.Second
}
func (c *CoreConfig) ReconnectBackoff() time.Duration {
	return time.Duration(c.ReconnectBackoffSec) * time.Second
}

func (c *CoreConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

/* =========================
   Strict load + validate
   ========================= */

func LoadCoreConfig(path string) (*CoreConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return loadCoreConfig(raw)
}

func LoadCoreConfigFromReader(r io.Reader) (*CoreConfig, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return loadCoreConfig(raw)
}

func loadCoreConfig(raw []byte) (*CoreConfig, error) {
	clean := stripJSONComments(raw)

	dec := json.NewDecoder(strings.NewReader(string(clean)))
	dec.DisallowUnknownFields()

	var cfg CoreConfig
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *CoreConfig) Validate() error {
	var errs multiErr

	if strings.TrimSpace(c.BrokerURL) == "" {
		errs.add("brokerUrl is required (e.g., tcp://localhost:1883)")
	}
	if strings.TrimSpace(c.TopicFilter) == "" {
		errs.add("topicFilter is required (e.g., /oneM2M/req/+/json)")
	}
	if c.ClientName == "" {
		c.ClientName = "core"
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8000"
	}
	if c.DatabasePath == "" {
		c.DatabasePath = "iotcoss.db"
	}
	if c.LineVoltage == 0 {
		c.LineVoltage = 220
	}
	if c.LineVoltage < 0 {
		errs.add("lineVoltage cannot be negative")
	}
	if c.Timezone == "" {
		c.Timezone = "Asia/Seoul"
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs.addf("timezone %q: %v", c.Timezone, err)
	}
	if c.OfflineThresholdSec == 0 {
		c.OfflineThresholdSec = 30
	}
	if c.SweepIntervalSec == 0 {
		c.SweepIntervalSec = 5
	}
	if c.ReconnectBackoffSec == 0 {
		c.ReconnectBackoffSec = 5
	}
	if c.OfflineThresholdSec < 0 || c.SweepIntervalSec < 0 || c.ReconnectBackoffSec < 0 {
		errs.add("intervals cannot be negative")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

/* =========================
   Comment stripping + utils
   ========================= */

var (
	lineComments  = regexp.MustCompile(`(?m)//[^\n\r]*`)
	blockComments = regexp.MustCompile(`(?s)/\*.*?\*/`)
)

func stripJSONComments(in []byte) []byte {
	text := string(in)
	text = blockComments.ReplaceAllString(text, "")
	text = lineComments.ReplaceAllString(text, "")
	return []byte(text)
}

// small multi-error
type multiErr []string

func (m *multiErr) add(s string)            { *m = append(*m, s) }
func (m *multiErr) addf(f string, a ...any) { *m = append(*m, fmt.Sprintf(f, a...)) }
func (m multiErr) Error() string            { return "validation errors: " + strings.Join(m, "; ") }
