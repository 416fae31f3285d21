package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"trading-platform/internal/auth"
	"trading-platform/internal/events"
	"trading-platform/internal/logging"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type wsClient struct {
	conn   *websocket.Conn
	send   chan []byte
	userID string
}

type userMessage struct {
	userID string
	data   []byte
}

// Hub fans events out to each user's websocket connections
type Hub struct {
	mu          sync.RWMutex
	userClients map[string]map[*wsClient]bool

	userCast   chan userMessage
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}

	logger *logging.Logger
}

func newHub(logger *logging.Logger) *Hub {
	return &Hub{
		userClients: make(map[string]map[*wsClient]bool),
		userCast:    make(chan userMessage, 256),
		register:    make(chan *wsClient),
		unregister:  make(chan *wsClient),
		done:        make(chan struct{}),
		logger:      logger.WithComponent("websocket"),
	}
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.userClients[client.userID] == nil {
				h.userClients[client.userID] = make(map[*wsClient]bool)
			}
			h.userClients[client.userID][client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.userClients[client.userID]; ok {
				if clients[client] {
					delete(clients, client)
					close(client.send)
				}
				if len(clients) == 0 {
					delete(h.userClients, client.userID)
				}
			}
			h.mu.Unlock()

		case msg := <-h.userCast:
			h.mu.RLock()
			for client := range h.userClients[msg.userID] {
				select {
				case client.send <- msg.data:
				default:
					// Slow consumer: drop the message, not the publisher
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) stop() {
	close(h.done)
}

// broadcastToUser pushes a payload to one user's connections
func (h *Hub) broadcastToUser(userID string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal websocket payload")
		return
	}
	select {
	case h.userCast <- userMessage{userID: userID, data: data}:
	default:
		h.logger.Warn("Websocket cast channel full, dropping message", "userId", userID)
	}
}

// wireEventBroadcasts hooks the events package's broadcast callbacks to
// this hub. Publishing packages call events.Broadcast* without importing
// api, which breaks the import cycle.
func (h *Hub) wireEventBroadcasts() {
	events.SetBroadcastEvaluation(func(userID string, data interface{}) {
		h.broadcastToUser(userID, data)
	})
	events.SetBroadcastTrade(func(userID string, data interface{}) {
		h.broadcastToUser(userID, data)
	})
	events.SetBroadcastAlert(func(userID string, data interface{}) {
		h.broadcastToUser(userID, data)
	})
}

// handleWebSocket upgrades an authenticated connection. Browsers cannot
// set headers on upgrade requests so the access token arrives as a
// query parameter.
func (s *Server) handleWebSocket(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		errorResponse(c, http.StatusUnauthorized, "UNAUTHORIZED", "token query parameter required")
		return
	}
	claims, err := s.jwtManager.ValidateAccessToken(token)
	if err != nil {
		errorResponse(c, http.StatusUnauthorized, "INVALID_TOKEN", "invalid or expired token")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	client := &wsClient{
		conn:   conn,
		send:   make(chan []byte, 64),
		userID: claims.UserID,
	}
	s.hub.register <- client

	go client.writePump()
	go client.readPump(s.hub)

	welcome, _ := json.Marshal(gin.H{
		"type":      "CONNECTED",
		"timestamp": time.Now().UTC(),
	})
	select {
	case client.send <- welcome:
	default:
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) readPump(hub *Hub) {
	defer func() {
		hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// requireUser pulls the authenticated user from the context
func requireUser(c *gin.Context) (string, bool) {
	userID, ok := auth.UserID(c)
	if !ok {
		errorResponse(c, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
	}
	return userID, ok
}
