package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/haymant/evolve/internal/capability"
	"github.com/haymant/evolve/pkg/logger"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period.
	pingPeriod = 30 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 1024 * 1024 // 1MB
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Loopback-only listener; origin carries no signal here.
	},
}

// Client represents an engine WebSocket connection.
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	invoker     capability.Invoker
	id          string
	connectedAt time.Time
}

// NewClient creates a new client.
func NewClient(hub *Hub, conn *websocket.Conn, invoker capability.Invoker) *Client {
	return &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, 256),
		invoker:     invoker,
		id:          uuid.New().String(),
		connectedAt: time.Now(),
	}
}

// readPump pumps messages from the WebSocket connection to the hub.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Error().Err(err).Str("client_id", c.id).Msg("Socket read error")
			}
			break
		}

		c.handleMessage(message)
	}
}

// handleMessage processes an incoming socket message: lifecycle events go
// to the hub's sink, anything else is an RPC call answered in place.
func (c *Client) handleMessage(message []byte) {
	var msg SocketMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		logger.Error().Err(err).Str("client_id", c.id).Msg("Failed to parse socket message")
		c.sendResponse(RPCResponse{ID: nil, Success: false, Error: "invalid message: " + err.Error()})
		return
	}

	logger.Debug().
		Str("client_id", c.id).
		Str("type", msg.Type).
		Msg("Received socket message")

	if msg.Type == TypeDAPEvent {
		c.hub.HandleEvent(msg.Event, msg.Body)
		return
	}
	// Some engines send lifecycle events unwrapped, with the event name as
	// the type tag.
	if isLifecycleEvent(msg.Type) {
		c.hub.HandleEvent(msg.Type, msg.Body)
		return
	}

	go c.serveRPC(msg)
}

// serveRPC invokes a host capability and replies with the correlated id.
func (c *Client) serveRPC(msg SocketMessage) {
	var params map[string]any
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			c.sendResponse(RPCResponse{ID: msg.ID, Success: false, Error: "invalid params: " + err.Error()})
			return
		}
	}

	result, err := c.invoker.Invoke(context.Background(), msg.Type, params)
	if err != nil {
		c.sendResponse(RPCResponse{ID: msg.ID, Success: false, Error: err.Error()})
		return
	}
	c.sendResponse(RPCResponse{ID: msg.ID, Success: true, Result: result})
}

// writePump pumps messages from the hub to the WebSocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Error().Err(err).Str("client_id", c.id).Msg("Socket write error")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendResponse queues an RPC response for the write pump.
func (c *Client) sendResponse(resp RPCResponse) {
	data, _ := json.Marshal(resp)
	select {
	case c.send <- data:
	default:
		// Buffer full
	}
}

// ServeWs authenticates and upgrades a WebSocket handshake. Credentials
// arrive as token and session query parameters; a mismatch closes the
// connection with policy-violation (1008) after the upgrade, mirroring how
// launched engines expect rejection to look.
func ServeWs(hub *Hub, creds Credentials, invoker capability.Invoker, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to upgrade socket connection")
		return
	}

	q := r.URL.Query()
	if !creds.TokenMatches(q.Get("token")) || !creds.SessionMatches(q.Get("session")) {
		logger.Warn().Str("remote", r.RemoteAddr).Msg("Socket handshake rejected")
		deadline := time.Now().Add(writeWait)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthorized"), deadline)
		conn.Close()
		return
	}

	client := NewClient(hub, conn, invoker)
	hub.Register(client)

	go client.writePump()
	go client.readPump()
}
