// Package httpapi exposes the viewer websocket, the health and power
// summaries, and the small registry/control surface around the core.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/nexcode/iotcoss/internal/directory"
	"github.com/nexcode/iotcoss/internal/energy"
	"github.com/nexcode/iotcoss/internal/hub"
	"github.com/nexcode/iotcoss/internal/messaging"
	"github.com/nexcode/iotcoss/internal/presence"
	"github.com/nexcode/iotcoss/internal/store"
)

type Server struct {
	ServiceName string
	BrokerURL   string
	TopicFilter string
	LineVoltage float64
	Location    *time.Location

	Broker   messaging.Broker
	Store    *store.Store
	Hub      *hub.Hub
	Presence *presence.Tracker
	Energy   *energy.Accumulator
	Cache    *directory.Cache

	AllowedOrigins []string
}

func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/power/summary", s.handlePowerSummary).Methods(http.MethodGet)
	r.HandleFunc("/api/devices", s.handleListDevices).Methods(http.MethodGet)
	r.HandleFunc("/api/devices/{mac}", s.handleUpsertDevice).Methods(http.MethodPut)
	r.HandleFunc("/api/devices/{mac}", s.handleDeleteDevice).Methods(http.MethodDelete)
	r.HandleFunc("/api/devices/{mac}/switch", s.handleSwitch).Methods(http.MethodPost)
	r.HandleFunc("/ws/devices", s.handleWebsocket)

	origins := s.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)(r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":        s.ServiceName,
		"status":         "healthy",
		"mqtt_connected": s.Broker.IsConnected(),
		"mqtt_broker":    s.BrokerURL,
		"mqtt_topic":     s.TopicFilter,
		"server_time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
