package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/finova-net/finova-sub005/pkg/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// DashboardEvent is one message pushed to subscribers of the live
// dashboard stream: the level-ups and tier changes published by the
// activity handler (SPEC_FULL.md's addition to spec.md §6 for
// operator/user visibility).
type DashboardEvent struct {
	Type   string       `json:"type"`
	UserID models.UserId `json:"user_id"`
	Detail any          `json:"detail,omitempty"`
	At     time.Time    `json:"at"`
}

// Hub maintains the set of active websocket subscribers and fans out
// DashboardEvents to all of them, grounded on the teacher's websocket.go
// Hub but generalized to push typed events instead of raw bytes.
type Hub struct {
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	mutex     sync.Mutex
	logger    zerolog.Logger
}

// NewHub constructs a Hub. Run must be started in its own goroutine.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		broadcast: make(chan []byte, 256),
		clients:   make(map[*websocket.Conn]bool),
		logger:    logger,
	}
}

// Run drains the broadcast channel and fans each message out to every
// connected client, dropping any client whose write fails or stalls.
func (h *Hub) Run() {
	for message := range h.broadcast {
		h.mutex.Lock()
		for client := range h.clients {
			_ = client.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Warn().Err(err).Msg("api: websocket write failed, dropping client")
				client.Close()
				delete(h.clients, client)
			}
		}
		h.mutex.Unlock()
	}
}

// Subscribe upgrades the request to a websocket and registers the
// connection as a broadcast target until it disconnects.
func (h *Hub) Subscribe(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("api: websocket upgrade failed")
		return
	}

	h.mutex.Lock()
	h.clients[conn] = true
	count := len(h.clients)
	h.mutex.Unlock()
	h.logger.Info().Int("clients", count).Msg("api: websocket client connected")

	go func() {
		defer func() {
			h.mutex.Lock()
			delete(h.clients, conn)
			remaining := len(h.clients)
			h.mutex.Unlock()
			conn.Close()
			h.logger.Info().Int("clients", remaining).Msg("api: websocket client disconnected")
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					h.logger.Warn().Err(err).Msg("api: websocket read error")
				}
				break
			}
		}
	}()
}

// Publish JSON-encodes event and enqueues it for broadcast. Encoding
// failures are logged and the event is dropped; a malformed event must
// never block the caller's own request/response cycle.
func (h *Hub) Publish(event DashboardEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Warn().Err(err).Msg("api: dashboard event marshal failed")
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn().Msg("api: dashboard broadcast channel full, dropping event")
	}
}
