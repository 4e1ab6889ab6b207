package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/nexcode/iotcoss/internal/directory"
	"github.com/nexcode/iotcoss/internal/logging"
	"github.com/nexcode/iotcoss/internal/messaging"
)

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	entries, err := s.Store.ListDevices(r.Context())
	if err != nil {
		logging.Error("list devices failed", "error", err)
		writeError(w, http.StatusInternalServerError, "registry unavailable")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleUpsertDevice(w http.ResponseWriter, r *http.Request) {
	mac := mux.Vars(r)["mac"]
	var body struct {
		DeviceName string `json:"device_name"`
		Location   string `json:"location"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	entry := directory.Entry{DeviceMAC: mac, DeviceName: body.DeviceName, Location: body.Location}
	if err := s.Store.UpsertDevice(r.Context(), entry); err != nil {
		logging.Error("upsert device failed", "mac", mac, "error", err)
		writeError(w, http.StatusInternalServerError, "registry unavailable")
		return
	}
	// Registry mutated: drop the whole lookup cache so the next sample
	// sees the fresh entry.
	s.Cache.Invalidate()
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	mac := mux.Vars(r)["mac"]
	if err := s.Store.DeleteDevice(r.Context(), mac); err != nil {
		logging.Error("delete device failed", "mac", mac, "error", err)
		writeError(w, http.StatusInternalServerError, "registry unavailable")
		return
	}
	s.Cache.Invalidate()
	w.WriteHeader(http.StatusNoContent)
}

// commandTopic is where a plug listens for desired-state envelopes.
func commandTopic(mac string) string {
	return fmt.Sprintf("iotcoss/device/%s/cmd", mac)
}

// switchCommand is the control envelope sent downstream; the device
// backend answers by publishing its actual state as regular telemetry.
type switchCommand struct {
	CIN struct {
		Con struct {
			Status string `json:"status"`
		} `json:"con"`
	} `json:"m2m:cin"`
}

func (s *Server) handleSwitch(w http.ResponseWriter, r *http.Request) {
	mac := mux.Vars(r)["mac"]
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if body.Status != "on" && body.Status != "off" {
		writeError(w, http.StatusBadRequest, "status must be 'on' or 'off'")
		return
	}

	var cmd switchCommand
	cmd.CIN.Con.Status = body.Status
	if err := s.Broker.PublishJSON(r.Context(), commandTopic(mac), messaging.AtLeastOnce, false, cmd); err != nil {
		logging.Warn("switch command rejected", "mac", mac, "status", body.Status, "error", err)
		writeError(w, http.StatusBadGateway, "device backend rejected command")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"device_mac":    mac,
		"desired_state": body.Status,
		"result":        "accepted",
	})
}
