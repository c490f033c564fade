package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"livetalk-economy/internal/logging"
	"livetalk-economy/internal/models"
	"livetalk-economy/internal/services"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// Message types sent to websocket clients besides the room events.
const (
	MessageBalanceUpdate = "BALANCE_UPDATE"
	MessagePong          = "PONG"
	MessageJoined        = "JOINED"
	MessageLeft          = "LEFT"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Message struct {
	Type   string      `json:"type"`
	RoomID string      `json:"room_id,omitempty"`
	Data   interface{} `json:"data,omitempty"`
}

type inboundMessage struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

type Client struct {
	UserID string
	conn   *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// enqueue drops the message when the client is gone or too slow.
func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

type membership struct {
	client *Client
	roomID string
	join   bool
}

type roomMessage struct {
	roomID string
	data   []byte
}

// WebSocketHub fans room events out to the clients that joined the room.
// Its maps are owned by the Run goroutine.
type WebSocketHub struct {
	clients    map[*Client]map[string]bool
	rooms      map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	membership chan membership
	broadcast  chan roomMessage
	done       chan struct{}
	logger     zerolog.Logger
}

func NewWebSocketHub(logger zerolog.Logger) *WebSocketHub {
	return &WebSocketHub{
		clients:    make(map[*Client]map[string]bool),
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		membership: make(chan membership),
		broadcast:  make(chan roomMessage, 256),
		done:       make(chan struct{}),
		logger:     logging.WithComponent(logger, "ws-hub"),
	}
}

func (hub *WebSocketHub) Run(ctx context.Context) {
	defer close(hub.done)
	for {
		select {
		case <-ctx.Done():
			for client := range hub.clients {
				client.close()
			}
			return

		case client := <-hub.register:
			hub.clients[client] = make(map[string]bool)
			hub.logger.Debug().Str("user_id", client.UserID).Msg("Client registered")

		case client := <-hub.unregister:
			hub.drop(client)

		case m := <-hub.membership:
			joined, ok := hub.clients[m.client]
			if !ok {
				continue
			}
			msgType := MessageLeft
			if m.join {
				msgType = MessageJoined
				joined[m.roomID] = true
				if hub.rooms[m.roomID] == nil {
					hub.rooms[m.roomID] = make(map[*Client]bool)
				}
				hub.rooms[m.roomID][m.client] = true
			} else {
				delete(joined, m.roomID)
				hub.leave(m.roomID, m.client)
			}
			m.client.enqueue(encode(Message{Type: msgType, RoomID: m.roomID}))

		case msg := <-hub.broadcast:
			for client := range hub.rooms[msg.roomID] {
				if !client.enqueue(msg.data) {
					hub.logger.Warn().Str("user_id", client.UserID).Str("room_id", msg.roomID).Msg("Dropping slow client")
					hub.drop(client)
				}
			}
		}
	}
}

// BroadcastRoom queues a room event. It never blocks the caller.
func (hub *WebSocketHub) BroadcastRoom(roomID, messageType string, payload interface{}) {
	data := encode(Message{Type: messageType, RoomID: roomID, Data: payload})
	if data == nil {
		return
	}
	select {
	case hub.broadcast <- roomMessage{roomID: roomID, data: data}:
	default:
		hub.logger.Warn().Str("room_id", roomID).Str("type", messageType).Msg("Broadcast queue full, event dropped")
	}
}

// submit hands op to the Run goroutine unless it already stopped.
func submit[T any](hub *WebSocketHub, ch chan T, op T) bool {
	select {
	case ch <- op:
		return true
	case <-hub.done:
		return false
	}
}

func (hub *WebSocketHub) drop(client *Client) {
	for roomID := range hub.clients[client] {
		hub.leave(roomID, client)
	}
	if _, ok := hub.clients[client]; ok {
		delete(hub.clients, client)
		hub.logger.Debug().Str("user_id", client.UserID).Msg("Client unregistered")
	}
	client.close()
}

func (hub *WebSocketHub) leave(roomID string, client *Client) {
	delete(hub.rooms[roomID], client)
	if len(hub.rooms[roomID]) == 0 {
		delete(hub.rooms, roomID)
	}
}

type WebSocketHandler struct {
	econ   *services.Economy
	hub    *WebSocketHub
	logger zerolog.Logger
}

func NewWebSocketHandler(econ *services.Economy, hub *WebSocketHub, logger zerolog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		econ:   econ,
		hub:    hub,
		logger: logging.WithComponent(logger, "ws"),
	}
}

// HandleWebSocket streams balance updates of the caller and the events of every room
// the caller joins. Disconnecting leaves those rooms, flushing pending settlements.
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	userID := currentUser(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade to WebSocket")
		return
	}

	client := &Client{UserID: userID, conn: conn, send: make(chan []byte, sendBuffer)}
	if !submit(h.hub, h.hub.register, client) {
		conn.Close()
		return
	}
	go client.writePump()

	ctx, cancel := context.WithCancel(context.Background())
	joined := make(map[string]bool)
	defer func() {
		cancel()
		submit(h.hub, h.hub.unregister, client)
		conn.Close()
		for roomID := range joined {
			lctx, lcancel := context.WithTimeout(context.Background(), writeWait)
			if _, err := h.econ.LeaveRoom(lctx, roomID, userID); err != nil {
				l := logging.WithRoom(h.logger, roomID, userID)
				l.Warn().Err(err).Msg("Failed to leave room on disconnect")
			}
			lcancel()
		}
	}()

	err = h.econ.Watch(ctx, userID, func(b models.UserBalance) {
		client.enqueue(encode(Message{Type: MessageBalanceUpdate, Data: services.BalanceView(b)}))
	})
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to watch balance")
		return
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Str("user_id", userID).Msg("WebSocket error")
			}
			return
		}

		switch msg.Type {
		case "PING":
			client.enqueue(encode(Message{Type: MessagePong, Data: gin.H{"timestamp": time.Now().Unix()}}))
		case "JOIN_ROOM":
			if msg.RoomID != "" {
				joined[msg.RoomID] = true
				submit(h.hub, h.hub.membership, membership{client: client, roomID: msg.RoomID, join: true})
			}
		case "LEAVE_ROOM":
			if joined[msg.RoomID] {
				delete(joined, msg.RoomID)
				submit(h.hub, h.hub.membership, membership{client: client, roomID: msg.RoomID})
				if _, err := h.econ.LeaveRoom(ctx, msg.RoomID, userID); err != nil {
					l := logging.WithRoom(h.logger, msg.RoomID, userID)
					l.Warn().Err(err).Msg("Failed to leave room")
				}
			}
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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

func encode(msg Message) []byte {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil
	}
	return data
}
