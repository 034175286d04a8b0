package viz

import (
	"context"
	"sync"

	"github.com/gofiber/websocket/v2"

	"trajtrack-core/utils"
)

// Conn is the part of a websocket connection the hub writes to
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Hub fans messages out to every connected websocket client
type Hub struct {
	log        *utils.Logger
	clients    map[Conn]struct{}
	broadcast  chan Message
	register   chan Conn
	unregister chan Conn
	done       chan struct{}
	mutex      sync.RWMutex
}

// NewHub returns a hub with no clients. Call Run to start delivery.
func NewHub(log *utils.Logger) *Hub {
	return &Hub{
		log:        log.Named("hub"),
		clients:    make(map[Conn]struct{}),
		broadcast:  make(chan Message, 256),
		register:   make(chan Conn),
		unregister: make(chan Conn),
		done:       make(chan struct{}),
	}
}

// Run serves registrations and broadcasts until ctx is done, then closes
// every client.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case c := <-h.register:
			h.mutex.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mutex.Unlock()
			h.log.Info("viz client registered (%d connected)", n)

		case c := <-h.unregister:
			h.remove(c)

		case msg := <-h.broadcast:
			h.handleBroadcast(msg)
		}
	}
}

func (h *Hub) handleBroadcast(msg Message) {
	h.mutex.RLock()
	var failed []Conn
	for c := range h.clients {
		if err := c.WriteJSON(msg); err != nil {
			h.log.Warn("send %s failed: %v", msg.Type, err)
			failed = append(failed, c)
		}
	}
	h.mutex.RUnlock()

	for _, c := range failed {
		h.remove(c)
	}
}

func (h *Hub) remove(c Conn) {
	h.mutex.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mutex.Unlock()
	if ok {
		_ = c.Close()
		h.log.Info("viz client unregistered (%d connected)", n)
	}
}

func (h *Hub) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for c := range h.clients {
		_ = c.Close()
		delete(h.clients, c)
	}
}

// Broadcast queues msg for every client. It never blocks: when the queue is
// full the message is dropped.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.log.Warn("broadcast queue full, dropping %s", msg.Type)
	}
}

// Register adds c; it is a no-op once the hub has stopped.
func (h *Hub) Register(c Conn) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

// Unregister removes and closes c.
func (h *Hub) Unregister(c Conn) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// ClientCount is the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// ServeWS registers the connection and reads from it until the client goes
// away. Clients only listen; anything they send is discarded.
func (h *Hub) ServeWS(c *websocket.Conn) {
	h.Register(c)
	defer h.Unregister(c)

	for {
		if _, _, err := c.ReadMessage(); err != nil {
			h.log.Debug("viz client read: %v", err)
			return
		}
	}
}
