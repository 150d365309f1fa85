package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jdefouw/EvoNash-sub001/pkg/core"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// Hub maintains the set of active websocket connections and broadcasts
// bus events to them as JSON envelopes.
type Hub struct {
	bus    *Bus
	logger *slog.Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}

	upgrader websocket.Upgrader
}

// NewHub creates a hub attached to the given bus.
func NewHub(bus *Bus, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		bus:    bus,
		logger: logger,
		conns:  make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// envelope is the wire form of a broadcast event.
type envelope struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

func envelopeFor(e core.Event) envelope {
	env := envelope{Timestamp: time.Now(), Data: e}
	switch e.(type) {
	case *core.WorkerRegistered:
		env.Type = "worker_registered"
	case *core.WorkerDisconnected:
		env.Type = "worker_disconnected"
	case *core.AssignmentDispatched:
		env.Type = "assignment_dispatched"
	case *core.AssignmentClaimed:
		env.Type = "assignment_claimed"
	case *core.AssignmentReleased:
		env.Type = "assignment_released"
	case *core.AssignmentSettled:
		env.Type = "assignment_completed"
	case *core.GenerationRecorded:
		env.Type = "generation_recorded"
	case *core.ExperimentFinished:
		env.Type = "experiment_completed"
	case *core.ExperimentHalted:
		env.Type = "experiment_stopped"
	default:
		env.Type = "event"
	}
	return env
}

// Run consumes the bus and broadcasts until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ch, cancel := h.bus.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case e, ok := <-ch:
			if !ok {
				h.closeAll()
				return
			}
			h.broadcast(envelopeFor(e))
		}
	}
}

// ServeHTTP upgrades the request to a websocket and keeps the connection
// registered until the peer goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()

	go h.keepAlive(conn)
}

func (h *Hub) broadcast(env envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("marshal event", "type", env.Type, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			delete(h.conns, conn)
			conn.Close()
		}
	}
}

// keepAlive pings the peer and drains its reads; a failed ping or read
// drops the connection.
func (h *Hub) keepAlive(conn *websocket.Conn) {
	defer h.drop(conn)

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for range ticker.C {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
	conn.Close()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		conn.Close()
		delete(h.conns, conn)
	}
}
