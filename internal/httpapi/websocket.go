package httpapi

import (
	"encoding/json"
	"math"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/nexcode/iotcoss/internal/hub"
	"github.com/nexcode/iotcoss/internal/ingest"
	"github.com/nexcode/iotcoss/internal/logging"
	"github.com/nexcode/iotcoss/internal/store"
)

const snapshotLimit = 20

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browsers connect from the dashboard origin; CORS for the REST
	// surface is handled separately and the ws payloads are read-only.
	CheckOrigin: func(*http.Request) bool { return true },
}

// deviceStatusRow is one snapshot entry: the stored sample plus the
// tracker's current verdict.
type deviceStatusRow struct {
	store.SampleRow
	IsOnline bool `json:"is_online"`
}

// handleWebsocket serves one live viewer: a full snapshot and an energy
// summary on connect, then incremental pushes via the hub; the read
// side only answers pings.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	sock, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("websocket upgrade failed", "error", err)
		return
	}

	conn := hub.NewConnection(sock)
	s.Hub.Register(conn)
	defer func() {
		s.Hub.Unregister(conn)
		_ = sock.Close()
	}()

	if err := s.Hub.SendTo(conn, hub.DeviceStatusEvent(s.snapshot(r))); err != nil {
		return
	}
	summary := ingest.EnergySummary{TodayEnergyKWh: roundKWh(s.Energy.TodayWh())}
	if err := s.Hub.SendTo(conn, hub.EnergySummaryEvent(summary)); err != nil {
		return
	}

	for {
		_, raw, err := sock.ReadMessage()
		if err != nil {
			return
		}
		var msg struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(raw, &msg) != nil {
			continue
		}
		if msg.Type == hub.TypePing {
			if err := s.Hub.SendTo(conn, hub.PongEvent()); err != nil {
				return
			}
		}
	}
}

func (s *Server) snapshot(r *http.Request) []deviceStatusRow {
	rows, err := s.Store.RecentSamples(r.Context(), snapshotLimit)
	if err != nil {
		logging.Error("snapshot query failed", "error", err)
		return []deviceStatusRow{}
	}
	out := make([]deviceStatusRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, deviceStatusRow{
			SampleRow: row,
			IsOnline:  s.Presence.IsOnline(row.DeviceMAC),
		})
	}
	return out
}

func roundKWh(wh float64) float64 {
	return math.Round(wh/1000*10000) / 10000
}
