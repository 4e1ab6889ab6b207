package directory

import (
	"context"
	"sync"

	"github.com/nexcode/iotcoss/internal/logging"
)

// Entry is the read-only directory record for one registered plug.
type Entry struct {
	DeviceMAC  string `json:"device_mac"`
	DeviceName string `json:"device_name"`
	Location   string `json:"location"`
}

// Registry is the external device registry. A (Entry{}, false, nil)
// return means the MAC is simply not registered.
type Registry interface {
	GetDevice(ctx context.Context, mac string) (Entry, bool, error)
}

// Cache memoizes registry lookups. Hits are cached; misses are not, so
// a not-yet-registered device is retried on every sample. Registry
// errors are treated as misses so the ingestion path keeps moving.
type Cache struct {
	registry Registry
	mu       sync.RWMutex
	entries  map[string]Entry
}

func NewCache(registry Registry) *Cache {
	return &Cache{
		registry: registry,
		entries:  make(map[string]Entry),
	}
}

func (c *Cache) Lookup(ctx context.Context, mac string) (Entry, bool) {
	c.mu.RLock()
	entry, ok := c.entries[mac]
	c.mu.RUnlock()
	if ok {
		return entry, true
	}

	entry, ok, err := c.registry.GetDevice(ctx, mac)
	if err != nil {
		logging.Warn("device registry lookup failed", "mac", mac, "error", err)
		return Entry{}, false
	}
	if !ok {
		return Entry{}, false
	}

	c.mu.Lock()
	c.entries[mac] = entry
	c.mu.Unlock()
	return entry, true
}

// Invalidate clears the whole cache. Coarse on purpose: registry edits
// are rare administrative actions, the next lookup re-reads.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Entry)
}
