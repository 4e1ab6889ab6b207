package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nexcode/iotcoss/internal/config"
	"github.com/nexcode/iotcoss/internal/directory"
	"github.com/nexcode/iotcoss/internal/energy"
	"github.com/nexcode/iotcoss/internal/httpapi"
	"github.com/nexcode/iotcoss/internal/hub"
	"github.com/nexcode/iotcoss/internal/ingest"
	"github.com/nexcode/iotcoss/internal/logging"
	"github.com/nexcode/iotcoss/internal/messaging"
	"github.com/nexcode/iotcoss/internal/onem2m"
	"github.com/nexcode/iotcoss/internal/presence"
	"github.com/nexcode/iotcoss/internal/store"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func loadConfig() *config.CoreConfig {
	if path := os.Getenv("CORE_CONFIG_PATH"); path != "" {
		cfg, err := config.LoadCoreConfig(path)
		if err != nil {
			logging.Fatal("core config error", "error", err)
		}
		return cfg
	}

	// No config file: assemble from environment with defaults.
	cfg := &config.CoreConfig{
		BrokerURL:    getenv("MQTT_URL", "tcp://localhost:1883"),
		ClientName:   getenv("CORE_NAME", "core"),
		TopicFilter:  getenv("MQTT_TOPIC", "/oneM2M/req/+/json"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8000"),
		DatabasePath: getenv("DB_PATH", "iotcoss.db"),
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = strings.Split(origins, ",")
	}
	if err := cfg.Validate(); err != nil {
		logging.Fatal("core config error", "error", err)
	}
	return cfg
}

func main() {
	logging.Init()
	cfg := loadConfig()

	loc, err := cfg.Location()
	if err != nil {
		logging.Fatal("timezone error", "error", err)
	}

	logging.Info("loaded config",
		"broker", cfg.BrokerURL,
		"filter", cfg.TopicFilter,
		"http", cfg.HTTPAddr,
		"db", cfg.DatabasePath,
	)

	// Graceful shutdown context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sampleStore, err := store.Open(cfg.DatabasePath)
	if err != nil {
		logging.Fatal("store open", "error", err)
	}
	defer sampleStore.Close()

	cache := directory.NewCache(sampleStore)
	tracker := presence.NewTracker(cfg.OfflineThreshold())
	accumulator := energy.NewAccumulator(cfg.LineVoltage, loc)

	rebuildToday(ctx, sampleStore, accumulator, loc)

	broker := messaging.NewMsgBroker(messaging.BrokerConfig{
		BrokerURL:        cfg.BrokerURL,
		ClientName:       cfg.ClientName,
		ConnectTimeout:   10 * time.Second,
		PublishTimeout:   5 * time.Second,
		SubscribeTimeout: 5 * time.Second,
	})

	broadcastHub := hub.NewHub()

	pipeline := &ingest.Service{
		BrokerURL:    cfg.BrokerURL,
		TopicFilter:  cfg.TopicFilter,
		Location:     loc,
		Acknowledger: onem2m.NewAcknowledger(broker),
		Directory:    cache,
		Presence:     tracker,
		Energy:       accumulator,
		Store:        sampleStore,
		Hub:          broadcastHub,
	}

	listener := messaging.NewTelemetryListener(broker, cfg.TopicFilter, cfg.ReconnectBackoff(), pipeline.HandleMessage)
	go listener.Run(ctx)
	defer broker.Close(context.Background())

	sweeper := presence.NewSweeper(tracker, cfg.SweepInterval(), pipeline.HandleOffline)
	go sweeper.Run(ctx)
	go accumulator.RunRolloverCheck(ctx, time.Minute, func() {
		broadcastHub.Broadcast(ctx, hub.EnergySummaryEvent(ingest.EnergySummary{TodayEnergyKWh: 0}))
	})

	api := &httpapi.Server{
		ServiceName:    "IoTCOSS Core",
		BrokerURL:      cfg.BrokerURL,
		TopicFilter:    cfg.TopicFilter,
		LineVoltage:    cfg.LineVoltage,
		Location:       loc,
		Broker:         broker,
		Store:          sampleStore,
		Hub:            broadcastHub,
		Presence:       tracker,
		Energy:         accumulator,
		Cache:          cache,
		AllowedOrigins: cfg.AllowedOrigins,
	}
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: api.Router()}
	go func() {
		logging.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal("http server", "error", err)
		}
	}()

	// Wait for SIGINT/SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	logging.Info("shutting down", "signal", s)

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	logging.Info("bye")
}

// rebuildToday replays the current day's stored samples through the
// accumulator so the running total and per-device last readings survive
// a restart. A failure here is logged and the day starts from zero.
func rebuildToday(ctx context.Context, s *store.Store, a *energy.Accumulator, loc *time.Location) {
	now := time.Now().In(loc)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	samples, err := s.HistoryBetween(ctx, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		logging.Error("energy rebuild failed, starting from zero", "error", err)
		return
	}
	for _, sample := range samples {
		a.Integrate(sample.DeviceMAC, sample.Amps, sample.At)
	}
	logging.Info("energy accumulator rebuilt", "samples", len(samples), "todayWh", a.TodayWh())
}
