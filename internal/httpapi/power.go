package httpapi

import (
	"net/http"
	"time"

	"github.com/nexcode/iotcoss/internal/energy"
	"github.com/nexcode/iotcoss/internal/logging"
)

// handlePowerSummary reconstructs yesterday's and the month-to-date
// totals from stored samples with the same trapezoidal rule the live
// accumulator uses; today's figure comes straight from the accumulator.
func (s *Server) handlePowerSummary(w http.ResponseWriter, r *http.Request) {
	now := time.Now().In(s.Location)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.Location)
	yesterday := today.AddDate(0, 0, -1)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, s.Location)

	yesterdaySamples, err := s.Store.HistoryBetween(r.Context(), yesterday, today)
	if err != nil {
		logging.Error("power summary query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	monthSamples, err := s.Store.HistoryBetween(r.Context(), monthStart, today)
	if err != nil {
		logging.Error("power summary query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}

	todayWh := s.Energy.TodayWh()
	yesterdayWh := energy.ReconstructWh(yesterdaySamples, s.LineVoltage)
	monthWh := energy.ReconstructWh(monthSamples, s.LineVoltage) + todayWh

	writeJSON(w, http.StatusOK, map[string]any{
		"server_date":       today.Format("2006-01-02"),
		"today_kwh":         roundKWh(todayWh),
		"yesterday_kwh":     roundKWh(yesterdayWh),
		"month_to_date_kwh": roundKWh(monthWh),
	})
}
