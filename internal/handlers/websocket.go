package handlers

import (
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

const (
	wsWriteTimeout = 5 * time.Second
	// wsSendBuffer is how many messages a subscriber may fall behind
	// before it is disconnected.
	wsSendBuffer = 16
)

// Message types sent over the directory feed.
const (
	MessageRoomJoined = "room_joined"
	MessageRoomLeft   = "room_left"
	messagePing       = "ping"
	messagePong       = "pong"
)

// WebSocketMessage is the envelope of every feed message.
type WebSocketMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// RoomPayload names the room a membership message is about.
type RoomPayload struct {
	RoomID string `json:"room_id"`
}

// DirectoryHub fans membership changes out to websocket subscribers. It
// is safe for concurrent use.
type DirectoryHub struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	log     zerolog.Logger
}

// wsClient owns one subscriber connection. Only writePump writes to conn.
type wsClient struct {
	conn *websocket.Conn
	out  chan WebSocketMessage
	done chan struct{}
	once sync.Once
}

func newWSClient(conn *websocket.Conn, buffer int) *wsClient {
	return &wsClient{
		conn: conn,
		out:  make(chan WebSocketMessage, buffer),
		done: make(chan struct{}),
	}
}

// enqueue queues msg without blocking. It reports false when the client
// is stopped or its queue is full.
func (c *wsClient) enqueue(msg WebSocketMessage) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- msg:
		return true
	default:
		return false
	}
}

// stop makes writePump send a close frame and release the connection.
func (c *wsClient) stop() {
	c.once.Do(func() { close(c.done) })
}

func (c *wsClient) writePump(log *zerolog.Logger) {
	defer c.conn.Close()
	for {
		select {
		case msg := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteJSON(msg); err != nil {
				log.Debug().Err(err).Str("type", msg.Type).Msg("Failed to write to subscriber")
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(wsWriteTimeout))
			return
		}
	}
}

func NewDirectoryHub(log zerolog.Logger) *DirectoryHub {
	return &DirectoryHub{
		clients: make(map[*wsClient]struct{}),
		log:     log.With().Str("component", "directory_ws").Logger(),
	}
}

// RoomJoined implements service.MembershipObserver.
func (hub *DirectoryHub) RoomJoined(roomID string) {
	hub.broadcast(WebSocketMessage{Type: MessageRoomJoined, Payload: RoomPayload{RoomID: roomID}})
}

// RoomLeft implements service.MembershipObserver.
func (hub *DirectoryHub) RoomLeft(roomID string) {
	hub.broadcast(WebSocketMessage{Type: MessageRoomLeft, Payload: RoomPayload{RoomID: roomID}})
}

// Len returns the number of connected subscribers.
func (hub *DirectoryHub) Len() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.clients)
}

// Close disconnects every subscriber.
func (hub *DirectoryHub) Close() {
	hub.mu.Lock()
	clients := hub.clients
	hub.clients = make(map[*wsClient]struct{})
	hub.mu.Unlock()

	for c := range clients {
		c.stop()
	}
}

func (hub *DirectoryHub) register(c *wsClient) {
	hub.mu.Lock()
	hub.clients[c] = struct{}{}
	hub.mu.Unlock()
}

func (hub *DirectoryHub) unregister(c *wsClient) {
	hub.mu.Lock()
	delete(hub.clients, c)
	hub.mu.Unlock()
}

// broadcast queues msg for every subscriber and never blocks. A subscriber
// whose queue is full is disconnected.
func (hub *DirectoryHub) broadcast(msg WebSocketMessage) {
	hub.mu.RLock()
	clients := make([]*wsClient, 0, len(hub.clients))
	for c := range hub.clients {
		clients = append(clients, c)
	}
	hub.mu.RUnlock()

	for _, c := range clients {
		if !c.enqueue(msg) {
			hub.log.Debug().Str("type", msg.Type).Msg("Dropping subscriber that fell behind")
			hub.unregister(c)
			c.stop()
		}
	}
}

// WebSocketHandler upgrades subscribers onto the hub.
type WebSocketHandler struct {
	hub      *DirectoryHub
	upgrader websocket.Upgrader
}

func NewWebSocketHandler(hub *DirectoryHub, allowedOrigins []string) *WebSocketHandler {
	return &WebSocketHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}

// HandleWebSocket keeps a subscriber connected until it goes away. The
// only message a client may send is a ping.
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := newWSClient(conn, wsSendBuffer)
	h.hub.register(client)
	go client.writePump(log)
	defer func() {
		h.hub.unregister(client)
		client.stop()
	}()
	log.Debug().Msg("Directory subscriber connected")

	for {
		var msg WebSocketMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("WebSocket closed unexpectedly")
			}
			return
		}
		switch msg.Type {
		case messagePing:
			if !client.enqueue(WebSocketMessage{Type: messagePong}) {
				return
			}
		default:
			log.Debug().Str("type", msg.Type).Msg("Ignoring unknown message type")
		}
	}
}
