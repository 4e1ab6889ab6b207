// Package hub fans state-change events out to live viewer connections.
// Delivery is best effort: no queuing, no retry, a missed event is
// missed until the viewer reconnects and takes a fresh snapshot.
package hub

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/nexcode/iotcoss/internal/logging"
)

// Socket is the write side of one viewer session. *websocket.Conn
// satisfies it.
type Socket interface {
	WriteJSON(v any) error
	Close() error
}

// Connection wraps a viewer socket with an identity and a write lock
// (gorilla allows one concurrent writer per connection).
type Connection struct {
	ID      string
	sock    Socket
	writeMu sync.Mutex
}

func NewConnection(sock Socket) *Connection {
	return &Connection{ID: uuid.NewString(), sock: sock}
}

func (c *Connection) send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.sock.WriteJSON(v)
}

// Hub owns the registry of live connections but not their lifecycle: a
// connection leaves when its owner disconnects or when a delivery to it
// fails.
type Hub struct {
	mu    sync.RWMutex
	conns map[*Connection]struct{}
}

func NewHub() *Hub {
	return &Hub{conns: make(map[*Connection]struct{})}
}

func (h *Hub) Register(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c] = struct{}{}
	logging.Debug("viewer registered", "conn", c.ID, "viewers", len(h.conns))
}

func (h *Hub) Unregister(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, c)
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Broadcast delivers event to every registered connection. Scatter-
// gather: one goroutine per connection, all awaited, individual
// failures collected; a failing connection is dropped from the registry
// without affecting the others.
func (h *Hub) Broadcast(ctx context.Context, event Event) {
	h.mu.RLock()
	targets := make([]*Connection, 0, len(h.conns))
	for c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	var wg sync.WaitGroup
	failed := make(chan *Connection, len(targets))
	for _, c := range targets {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			if err := c.send(event); err != nil {
				logging.Debug("viewer delivery failed", "conn", c.ID, "type", event.Type, "error", err)
				failed <- c
			}
		}(c)
	}
	wg.Wait()
	close(failed)

	for c := range failed {
		h.Unregister(c)
		_ = c.sock.Close()
	}
}

// SendTo unicasts, used for the connection-establishment snapshot.
func (h *Hub) SendTo(c *Connection, event Event) error {
	return c.send(event)
}
