package bridge

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/haymant/evolve/pkg/logger"
)

// ErrNoActiveClient is returned when delivery is attempted with no socket
// connected.
var ErrNoActiveClient = errors.New("bridge: no active socket client")

// EventSink receives engine lifecycle events read off socket clients.
type EventSink interface {
	HandleSocketEvent(event string, body json.RawMessage)
}

// Hub maintains the set of connected socket clients and designates one of
// them as the active delivery target. The most recently connected client
// is active; when it disconnects, delivery fails over to another connected
// client if any remain.
type Hub struct {
	// Registered clients.
	clients map[*Client]bool

	// The designated delivery target.
	active *Client

	// Register requests from clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Mutex for thread-safe access.
	mu sync.RWMutex

	// Run is idempotent; the bridge may be brought up more than once per
	// process and the hub outlives each server instance.
	runOnce sync.Once

	sink EventSink
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// SetEventSink sets the receiver for lifecycle events from clients.
func (h *Hub) SetEventSink(sink EventSink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sink = sink
}

// HandleEvent forwards a lifecycle event from a client to the sink.
func (h *Hub) HandleEvent(event string, body json.RawMessage) {
	h.mu.RLock()
	sink := h.sink
	h.mu.RUnlock()

	if sink == nil {
		logger.Warn().Str("event", event).Msg("Socket event received but no sink configured")
		return
	}
	sink.HandleSocketEvent(event, body)
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	h.runOnce.Do(h.loop)
}

func (h *Hub) loop() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.active = client
			h.mu.Unlock()
			logger.Info().Str("client_id", client.id).Msg("Socket client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)

				if h.active == client {
					h.active = nil
					for other := range h.clients {
						h.active = other
						break
					}
				}
			}
			h.mu.Unlock()
			logger.Info().Str("client_id", client.id).Msg("Socket client disconnected")
		}
	}
}

// Register adds a client to the hub and makes it the active target.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Deliver sends an event frame to the active client only.
func (h *Hub) Deliver(event string, body any) error {
	data, err := json.Marshal(EventMessage{Type: TypeDAPEvent, Event: event, Body: body})
	if err != nil {
		return err
	}

	h.mu.RLock()
	active := h.active
	h.mu.RUnlock()

	if active == nil {
		return ErrNoActiveClient
	}

	select {
	case active.send <- data:
		return nil
	default:
		return errors.New("bridge: active client buffer full")
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HasActive reports whether a delivery target is connected.
func (h *Hub) HasActive() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.active != nil
}
