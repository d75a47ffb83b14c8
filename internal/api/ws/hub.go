package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/your-org/photovault/internal/models"
	"github.com/your-org/photovault/internal/observability"
	"github.com/your-org/photovault/pkg/dto"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is a connected WebSocket client.
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	userID int64 // 0 receives every user's events
}

type message struct {
	userID int64
	data   []byte
}

// Hub keeps the connected clients and fans face events out to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan message
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run starts the hub event loop. Call this in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			observability.WSConnections.Inc()
			slog.Debug("ws client connected", "user_id", client.userID)

		case client := <-h.unregister:
			h.drop(client)

		case msg := <-h.broadcast:
			var slow []*Client
			h.mu.RLock()
			for client := range h.clients {
				if client.userID != 0 && client.userID != msg.userID {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					slow = append(slow, client)
				}
			}
			h.mu.RUnlock()
			for _, client := range slow {
				slog.Warn("ws client too slow, disconnecting", "user_id", client.userID)
				h.drop(client)
			}
		}
	}
}

func (h *Hub) drop(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		observability.WSConnections.Dec()
		slog.Debug("ws client disconnected", "user_id", client.userID)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastEvent sends a face event to every client watching its user.
func (h *Hub) BroadcastEvent(event models.FaceEvent) {
	data, err := json.Marshal(dto.WSEvent{
		ID:        event.ID.String(),
		Type:      event.Type,
		UserID:    event.UserID,
		PhotoID:   event.PhotoID,
		RegionID:  event.RegionID,
		PersonID:  event.PersonID,
		Detected:  event.Detected,
		Inserted:  event.Inserted,
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
	})
	if err != nil {
		slog.Error("marshal ws event", "error", err)
		return
	}
	h.broadcast <- message{userID: event.UserID, data: data}
}

// HandleWS upgrades GET /v1/ws. ?user_id=N limits the stream to one user.
func (h *Hub) HandleWS(c *gin.Context) {
	var userID int64
	if v := c.Query("user_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid user_id"})
			return
		}
		userID = id
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "error", err)
		return
	}

	client := &Client{
		conn:   conn,
		send:   make(chan []byte, 64),
		userID: userID,
	}

	h.register <- client

	go client.writePump()
	go client.readPump(h)
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()

	for {
		// Incoming messages are ignored; reading detects disconnects.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
