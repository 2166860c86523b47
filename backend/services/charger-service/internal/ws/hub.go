package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"ampease/backend/services/charger-service/internal/models"
	"ampease/backend/services/charger-service/internal/scheduler"
)

// StatusMessage is pushed to subscribers on connect and on every scheduler event.
type StatusMessage struct {
	Event     string       `json:"event"`
	State     models.State `json:"state"`
	ExpiresAt *time.Time   `json:"expires_at,omitempty"`
	At        time.Time    `json:"at"`
}

// Hub tracks status subscribers and fans scheduler events out to them.
type Hub struct {
	mu           sync.RWMutex
	connections  map[*Connection]struct{}
	snapshot     func() models.Session
	writeTimeout time.Duration
	pingInterval time.Duration
	logger       *zap.Logger
	upgrader     websocket.Upgrader
}

// NewHub creates a new status hub. snapshot supplies the state sent to new subscribers.
func NewHub(snapshot func() models.Session, writeTimeout, pingInterval time.Duration, logger *zap.Logger) *Hub {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &Hub{
		connections:  make(map[*Connection]struct{}),
		snapshot:     snapshot,
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
		logger:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleWS is HTTP handler for /ws/status endpoint.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	c := newConnection(conn, h.writeTimeout, h.pingInterval, h.logger)
	h.add(c)
	defer h.remove(c)

	if msg, err := json.Marshal(messageFor("snapshot", h.snapshot(), time.Now().UTC())); err == nil {
		c.Send(msg)
	}

	go c.writePump()
	c.readPump()
}

func (h *Hub) add(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[c] = struct{}{}
}

func (h *Hub) remove(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.connections, c)
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Broadcast sends msg to every subscriber.
func (h *Hub) Broadcast(msg StatusMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to encode status message", zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.connections {
		c.Send(data)
	}
}

// HandleEvent is a scheduler subscriber.
func (h *Hub) HandleEvent(ev scheduler.Event) {
	h.Broadcast(messageFor(string(ev.Type), ev.Session, ev.At))
}

// Run closes every subscriber once ctx is done.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.connections {
		c.Close()
	}
}

func messageFor(event string, session models.Session, at time.Time) StatusMessage {
	msg := StatusMessage{Event: event, State: session.State(), At: at}
	if session.Active {
		expiresAt := session.ExpiresAt
		msg.ExpiresAt = &expiresAt
	}
	return msg
}
