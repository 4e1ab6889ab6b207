package presence

import (
	"sync"
	"time"
)

const OfflineThreshold = 30 * time.Second

// Tracker records when each device was last heard from. Written only by
// the ingestion path, read by the sweep; no persistence, every device
// starts unknown after a restart.
type Tracker struct {
	mu        sync.RWMutex
	lastSeen  map[string]time.Time
	threshold time.Duration
	now       func() time.Time
}

func NewTracker(threshold time.Duration) *Tracker {
	if threshold <= 0 {
		threshold = OfflineThreshold
	}
	return &Tracker{
		lastSeen:  make(map[string]time.Time),
		threshold: threshold,
		now:       time.Now,
	}
}

func (t *Tracker) RecordSeen(mac string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSeen[mac] = t.now()
}

func (t *Tracker) IsOnline(mac string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	seen, ok := t.lastSeen[mac]
	return ok && t.now().Sub(seen) <= t.threshold
}

// OnlineSet returns the MACs currently within the threshold.
func (t *Tracker) OnlineSet() map[string]struct{} {
	t.mu.RLock()
	defer t.mu.RUnlock()
	now := t.now()
	online := make(map[string]struct{})
	for mac, seen := range t.lastSeen {
		if now.Sub(seen) <= t.threshold {
			online[mac] = struct{}{}
		}
	}
	return online
}
