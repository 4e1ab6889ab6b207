package presence

import (
	"context"
	"time"

	"github.com/nexcode/iotcoss/internal/logging"
)

const SweepInterval = 5 * time.Second

// OfflineFunc is called once per device per online-to-offline edge.
type OfflineFunc func(ctx context.Context, mac string)

// Sweeper periodically diffs the online set against the previous sweep
// and reports devices that fell silent. This is the only path that
// detects offline transitions: a device that never sends again is still
// flagged because the sweep runs independently of ingestion.
type Sweeper struct {
	tracker    *Tracker
	interval   time.Duration
	onOffline  OfflineFunc
	prevOnline map[string]struct{}
}

func NewSweeper(tracker *Tracker, interval time.Duration, onOffline OfflineFunc) *Sweeper {
	if interval <= 0 {
		interval = SweepInterval
	}
	return &Sweeper{
		tracker:    tracker,
		interval:   interval,
		onOffline:  onOffline,
		prevOnline: make(map[string]struct{}),
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	logging.Info("presence sweeper started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			logging.Info("presence sweeper ctx done")
			return
		case <-t.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	online := s.tracker.OnlineSet()
	for mac := range s.prevOnline {
		if _, still := online[mac]; !still {
			s.onOffline(ctx, mac)
		}
	}
	s.prevOnline = online
}
