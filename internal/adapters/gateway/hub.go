// Package gateway exposes job events to browsers over WebSocket. Clients join
// rooms ("job:<id>" or "user:<id>") and receive every envelope the relay
// forwards to those rooms.
package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/target/docpipe/internal/core"
	"github.com/target/docpipe/internal/domain/model"
)

const (
	defaultSendBuffer = 32

	// writeWait bounds every write, including control frames.
	writeWait = 10 * time.Second
	// pongWait is how long a connection may stay silent before it is
	// considered dead; pings go out early enough to keep a live one talking.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(*http.Request) bool {
		// The gateway sits behind the app's own reverse proxy.
		return true
	},
}

// clientCommand is the inbound message shape: {"action":"join","room":"job:x"}.
type clientCommand struct {
	Action string `json:"action"`
	Room   string `json:"room"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte

	mu    sync.Mutex
	rooms map[string]struct{}
}

// HubOptions configures the WebSocket hub.
type HubOptions struct {
	Logger *slog.Logger

	// SendBuffer is the per-client outbound queue; defaults to 32. A client
	// that cannot drain its queue is disconnected rather than slowing the
	// rest of the room down.
	SendBuffer int
}

// Hub tracks connected clients and their room memberships.
type Hub struct {
	logger     *slog.Logger
	sendBuffer int

	mu      sync.RWMutex
	rooms   map[string]map[*client]struct{}
	clients map[*client]struct{}
}

var _ core.Broadcaster = (*Hub)(nil)

// NewHub constructs a new Hub.
func NewHub(opts HubOptions) *Hub {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sendBuffer := opts.SendBuffer
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	return &Hub{
		logger:     logger.With("component", "ws_gateway"),
		sendBuffer: sendBuffer,
		rooms:      make(map[string]map[*client]struct{}),
		clients:    make(map[*client]struct{}),
	}
}

// Broadcast marshals the envelope once and fans it out to every connection in
// the room. Clients whose queue is full are dropped.
func (h *Hub) Broadcast(room string, env model.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("marshal event envelope", "room", room, "error", err)
		return
	}

	// Sends happen under the read lock and unregister closes c.send under
	// the write lock, so a send can never race a close. The sends are
	// non-blocking, so holding the lock here never stalls on a client.
	var dropped []*client
	h.mu.RLock()
	for c := range h.rooms[room] {
		select {
		case c.send <- data:
		default:
			dropped = append(dropped, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range dropped {
		h.logger.Warn("dropping slow websocket client", "room", room)
		h.unregister(c)
	}
}

// RoomSize reports the number of connections joined to a room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// ServeHTTP upgrades the connection and pumps events until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		conn:  conn,
		send:  make(chan []byte, h.sendBuffer),
		rooms: make(map[string]struct{}),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug("websocket client connected", "total", total)

	// An initial room can be supplied on the query string.
	if room := r.URL.Query().Get("room"); room != "" {
		h.join(c, room)
	}

	go h.writePump(c)
	h.readLoop(c)
}

func (h *Hub) readLoop(c *client) {
	defer h.unregister(c)

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", "error", err)
			}
			return
		}

		var cmd clientCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			h.logger.Debug("ignoring malformed client command", "error", err)
			continue
		}

		switch cmd.Action {
		case "join":
			if cmd.Room != "" {
				h.join(c, cmd.Room)
			}
		case "leave":
			if cmd.Room != "" {
				h.leave(c, cmd.Room)
			}
		default:
			h.logger.Debug("ignoring unknown client action", "action", cmd.Action)
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				// The hub dropped the client; say goodbye before hanging up.
				_ = c.conn.WriteControl(websocket.CloseMessage, nil, time.Now().Add(writeWait))
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.unregister(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.unregister(c)
				return
			}
		}
	}
}

func (h *Hub) join(c *client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*client]struct{})
	}
	h.rooms[room][c] = struct{}{}

	c.mu.Lock()
	c.rooms[room] = struct{}{}
	c.mu.Unlock()
}

func (h *Hub) leave(c *client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeFromRoom(c, room)

	c.mu.Lock()
	delete(c.rooms, room)
	c.mu.Unlock()
}

// removeFromRoom must be called with h.mu held.
func (h *Hub) removeFromRoom(c *client, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, registered := h.clients[c]
	if registered {
		delete(h.clients, c)
		c.mu.Lock()
		for room := range c.rooms {
			h.removeFromRoom(c, room)
		}
		c.mu.Unlock()
		// Closed under the write lock so no Broadcast send can be in flight.
		close(c.send)
	}
	remaining := len(h.clients)
	h.mu.Unlock()

	if registered {
		h.logger.Debug("websocket client disconnected", "remaining", remaining)
	}
}
