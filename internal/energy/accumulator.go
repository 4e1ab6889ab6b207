// Package energy maintains the running today's-energy total by
// trapezoidal integration of per-device current readings.
package energy

import (
	"context"
	"sync"
	"time"

	"github.com/nexcode/iotcoss/internal/logging"
)

// MaxGap bounds the elapsed time between two readings that may be
// integrated. Larger gaps mean a device dropout or a clock jump;
// integrating across them would double-count whole outages. The same
// bound applies to historical reconstruction so a restart rebuild
// matches live accumulation exactly.
const MaxGap = time.Hour

const DefaultLineVoltage = 220

// Reading is a device's last accepted current sample. At may be zero
// when the sample carried no parseable timestamp.
type Reading struct {
	Amps float64
	At   time.Time
}

// Accumulator holds the day's running watt-hour total. Single writer
// role (ingestion plus rollover), guarded for the multi-goroutine
// runtime.
type Accumulator struct {
	mu      sync.Mutex
	voltage float64
	loc     *time.Location
	totalWh float64
	day     civilDate
	last    map[string]Reading
	now     func() time.Time
}

type civilDate struct {
	year       int
	month      time.Month
	dayOfMonth int
}

func NewAccumulator(voltage float64, loc *time.Location) *Accumulator {
	if voltage <= 0 {
		voltage = DefaultLineVoltage
	}
	if loc == nil {
		loc = time.UTC
	}
	a := &Accumulator{
		voltage: voltage,
		loc:     loc,
		last:    make(map[string]Reading),
		now:     time.Now,
	}
	a.day = a.dateOf(a.now())
	return a
}

func (a *Accumulator) dateOf(t time.Time) civilDate {
	y, m, d := t.In(a.loc).Date()
	return civilDate{y, m, d}
}

// Integrate folds one sample into the running total and returns today's
// watt-hours. The trapezoid between this reading and the device's
// previous one is added only when 0 < dt < MaxGap; the last-reading is
// replaced either way so recovery after a gap is clean. sampledAt may
// be zero (timestamp absent), which stores the reading but adds nothing.
func (a *Accumulator) Integrate(mac string, amps float64, sampledAt time.Time) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !sampledAt.IsZero() {
		a.rolloverTo(a.dateOf(sampledAt))
	}

	prev, ok := a.last[mac]
	if ok && !prev.At.IsZero() && !sampledAt.IsZero() {
		dt := sampledAt.Sub(prev.At)
		if dt > 0 && dt < MaxGap {
			a.totalWh += (prev.Amps + amps) / 2 * a.voltage * dt.Hours()
		}
	}
	a.last[mac] = Reading{Amps: amps, At: sampledAt}
	return a.totalWh
}

// CheckRollover is the explicit periodic variant of the lazy per-sample
// check, so the total resets at midnight even if no samples arrive. It
// reports whether a rollover actually happened.
func (a *Accumulator) CheckRollover() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rolloverTo(a.dateOf(a.now()))
}

// rolloverTo resets the total and clears all last-readings when the
// local date advances. A regressed date (out-of-order straggler from
// yesterday) does not reset; its energy is rejected by the dt > 0 check.
func (a *Accumulator) rolloverTo(day civilDate) bool {
	if day == a.day || day.before(a.day) {
		return false
	}
	logging.Info("energy day rollover", "totalWh", a.totalWh)
	a.totalWh = 0
	a.last = make(map[string]Reading)
	a.day = day
	return true
}

func (d civilDate) before(other civilDate) bool {
	if d.year != other.year {
		return d.year < other.year
	}
	if d.month != other.month {
		return d.month < other.month
	}
	return d.dayOfMonth < other.dayOfMonth
}

// RunRolloverCheck drives CheckRollover on a ticker until ctx is done,
// so the total resets at midnight even on a quiet day. onRollover, if
// non-nil, runs after each reset so the fresh zero can be announced.
func (a *Accumulator) RunRolloverCheck(ctx context.Context, interval time.Duration, onRollover func()) {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if a.CheckRollover() && onRollover != nil {
				onRollover()
			}
		}
	}
}

func (a *Accumulator) TodayWh() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalWh
}

// HistorySample is one stored reading used for replay.
type HistorySample struct {
	DeviceMAC string
	Amps      float64
	At        time.Time
}

// ReconstructWh replays the trapezoidal rule over stored samples,
// independent of live state. The input must be ordered by (device,
// time); used for restart rebuilds and for yesterday / month-to-date
// summaries.
func ReconstructWh(samples []HistorySample, voltage float64) float64 {
	if voltage <= 0 {
		voltage = DefaultLineVoltage
	}
	last := make(map[string]Reading)
	total := 0.0
	for _, s := range samples {
		if prev, ok := last[s.DeviceMAC]; ok && !prev.At.IsZero() && !s.At.IsZero() {
			dt := s.At.Sub(prev.At)
			if dt > 0 && dt < MaxGap {
				total += (prev.Amps + s.Amps) / 2 * voltage * dt.Hours()
			}
		}
		last[s.DeviceMAC] = Reading{Amps: s.Amps, At: s.At}
	}
	return total
}
