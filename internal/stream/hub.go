package stream

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vunnix/vunnix/internal/common/logger"
	"github.com/vunnix/vunnix/internal/events/bus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The webhook secret guards writes; the stream is read-only status data.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans task status events out to connected websocket clients.
type Hub struct {
	logger *logger.Logger

	mu      sync.RWMutex
	clients map[*Client]bool

	sub bus.Subscription
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		logger:  log,
		clients: make(map[*Client]bool),
	}
}

// AttachBus subscribes the hub to task status changes on the event bus.
func (h *Hub) AttachBus(eventBus bus.EventBus) error {
	sub, err := eventBus.Subscribe(bus.SubjectTaskStatusChanged, func(event *bus.Event) {
		h.Broadcast(event)
	})
	if err != nil {
		return err
	}
	h.sub = sub
	return nil
}

// Close drops the bus subscription and disconnects all clients.
func (h *Hub) Close() {
	if h.sub != nil {
		_ = h.sub.Unsubscribe()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

// Broadcast sends an event to every client subscribed to its task.
func (h *Hub) Broadcast(event *bus.Event) {
	taskID, _ := event.Data["task_id"].(float64)
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !client.wants(int64(taskID)) {
			continue
		}
		select {
		case client.send <- payload:
		default:
			// Slow consumer, drop the message rather than block the hub.
		}
	}
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[client] {
		delete(h.clients, client)
		close(client.send)
	}
}

// RegisterRoutes registers the websocket endpoint on the router.
func (h *Hub) RegisterRoutes(router *gin.Engine) {
	router.GET("/api/v1/stream", h.HandleStream)
}

// HandleStream upgrades the connection and starts the pumps.
// GET /api/v1/stream
func (h *Hub) HandleStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, 64),
		logger:  h.logger,
		taskIDs: make(map[int64]bool),
		all:     true,
	}

	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()

	go client.WritePump()
	go client.ReadPump()
}
