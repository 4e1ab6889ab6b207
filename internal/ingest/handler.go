// Package ingest is the per-message pipeline: unwrap the envelope,
// update presence and energy state, broadcast the fast-path update,
// then persist and log.
package ingest

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/nexcode/iotcoss/internal/directory"
	"github.com/nexcode/iotcoss/internal/energy"
	"github.com/nexcode/iotcoss/internal/hub"
	"github.com/nexcode/iotcoss/internal/logging"
	"github.com/nexcode/iotcoss/internal/onem2m"
	"github.com/nexcode/iotcoss/internal/presence"
	"github.com/nexcode/iotcoss/internal/store"
)

// SampleStore is the slice of the persistence layer the pipeline needs.
type SampleStore interface {
	AppendSample(ctx context.Context, row store.SampleRow) error
	AppendSystemLog(ctx context.Context, logType, level, source, message, detail string, ts time.Time) error
}

// DeviceUpdate is the fast-path dashboard payload.
type DeviceUpdate struct {
	DeviceMAC      string   `json:"device_mac"`
	DeviceName     string   `json:"device_name"`
	Location       string   `json:"location"`
	Temperature    *float64 `json:"temperature"`
	Humidity       *float64 `json:"humidity"`
	EnergyAmps     *float64 `json:"energy_amp"`
	RelayStatus    string   `json:"relay_status"`
	Timestamp      string   `json:"timestamp"`
	IsOnline       bool     `json:"is_online"`
	TodayEnergyKWh float64  `json:"today_energy_kwh"`
}

// EnergySummary is pushed whenever the running total moves.
type EnergySummary struct {
	TodayEnergyKWh float64 `json:"today_energy_kwh"`
}

type Service struct {
	BrokerURL   string
	TopicFilter string
	Location    *time.Location

	Acknowledger *onem2m.Acknowledger
	Directory    *directory.Cache
	Presence     *presence.Tracker
	Energy       *energy.Accumulator
	Store        SampleStore
	Hub          *hub.Hub
}

// HandleMessage is the messaging.MessageHandler for the telemetry
// filter. It never returns an error: every failure mode here is either
// recovered or logged, the ingestion loop must not die.
func (s *Service) HandleMessage(ctx context.Context, topic string, payload []byte) {
	env, err := onem2m.DecodeEnvelope(payload)
	if err != nil {
		logging.Debug("dropping malformed payload", "topic", topic, "error", err)
		return
	}

	// Protocol handshake first; the sender expects it regardless of
	// whether the body parses as telemetry.
	if env.IsRequest() {
		s.Acknowledger.Ack(ctx, topic, env.RequestID)
	}

	var update *DeviceUpdate
	var sampledAt time.Time
	var hasTS bool
	if env.CIN != nil {
		if mac, ok := env.CIN.DeviceMAC(); ok {
			sampledAt, hasTS = env.CIN.CreatedAt(s.Location)
			fields := env.CIN.Sensor()

			s.Presence.RecordSeen(mac)

			todayWh := s.Energy.TodayWh()
			if fields.CurrentAmps != nil {
				var at time.Time
				if hasTS {
					at = sampledAt
				}
				todayWh = s.Energy.Integrate(mac, *fields.CurrentAmps, at)
			}

			entry, _ := s.Directory.Lookup(ctx, mac)
			update = &DeviceUpdate{
				DeviceMAC:      mac,
				DeviceName:     entry.DeviceName,
				Location:       entry.Location,
				Temperature:    fields.Temperature,
				Humidity:       fields.Humidity,
				EnergyAmps:     fields.CurrentAmps,
				RelayStatus:    fields.RelayStatus,
				IsOnline:       true,
				TodayEnergyKWh: round4(todayWh / 1000),
			}
			if hasTS {
				update.Timestamp = sampledAt.Format(time.RFC3339)
			}
		}
	}

	// Fast path: the dashboard update goes out before any persistence.
	if update != nil {
		s.Hub.Broadcast(ctx, hub.DeviceUpdateEvent(update))
	}

	// Slow path: persist the sample plus a message log, and push the
	// remaining events. Failures are logged, never fatal; the fast
	// path already happened.
	s.slowPath(ctx, topic, payload, update, sampledAt, hasTS)
}

func (s *Service) slowPath(ctx context.Context, topic string, payload []byte, update *DeviceUpdate, sampledAt time.Time, hasTS bool) {
	logTS := time.Now()
	if hasTS {
		logTS = sampledAt
	}

	mqttDetail, _ := json.Marshal(map[string]any{
		"broker":           s.BrokerURL,
		"topic":            topic,
		"subscribe_filter": s.TopicFilter,
		"payload":          json.RawMessage(payload),
	})

	var sensorMessage, sensorDetail string
	if update != nil {
		detail, _ := json.Marshal(map[string]any{
			"table":        "samples",
			"action":       "INSERT",
			"device_name":  update.DeviceName,
			"device_mac":   update.DeviceMAC,
			"temperature":  update.Temperature,
			"humidity":     update.Humidity,
			"energy_amp":   update.EnergyAmps,
			"relay_status": update.RelayStatus,
			"timestamp":    update.Timestamp,
		})
		sensorDetail = string(detail)
		sensorMessage = "[samples] INSERT: " + update.DeviceName + " (" + update.DeviceMAC + ")"
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.Store.AppendSystemLog(ctx, "MESSAGE", "info", "MQTT", "topic: "+topic, string(mqttDetail), logTS); err != nil {
			logging.Error("system log save failed", "error", err)
		}
		if update == nil {
			return
		}
		row := store.SampleRow{
			DeviceMAC:   update.DeviceMAC,
			DeviceName:  update.DeviceName,
			Temperature: update.Temperature,
			Humidity:    update.Humidity,
			CurrentAmps: update.EnergyAmps,
			RelayStatus: update.RelayStatus,
		}
		if hasTS {
			at := sampledAt
			row.SampledAt = &at
		}
		if err := s.Store.AppendSample(ctx, row); err != nil {
			logging.Error("sample save failed", "mac", update.DeviceMAC, "error", err)
		}
		if err := s.Store.AppendSystemLog(ctx, "SYSTEM", "info", "App", sensorMessage, sensorDetail, logTS); err != nil {
			logging.Error("system log save failed", "error", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Hub.Broadcast(ctx, hub.MQTTMessageEvent(s.BrokerURL, topic, s.TopicFilter, json.RawMessage(payload)))
		if update != nil {
			s.Hub.Broadcast(ctx, hub.SystemLogEvent(sensorMessage, sensorDetail))
			s.Hub.Broadcast(ctx, hub.EnergySummaryEvent(EnergySummary{TodayEnergyKWh: round4(s.Energy.TodayWh() / 1000)}))
		}
	}()

	wg.Wait()
}

// HandleOffline is the presence sweeper's transition callback. Blank
// name and location when the registry has never heard of the device.
func (s *Service) HandleOffline(ctx context.Context, mac string) {
	entry, _ := s.Directory.Lookup(ctx, mac)
	logging.Info("device went offline", "mac", mac, "name", entry.DeviceName)
	s.Hub.Broadcast(ctx, hub.DeviceUpdateEvent(&DeviceUpdate{
		DeviceMAC:      mac,
		DeviceName:     entry.DeviceName,
		Location:       entry.Location,
		IsOnline:       false,
		TodayEnergyKWh: round4(s.Energy.TodayWh() / 1000),
	}))
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
