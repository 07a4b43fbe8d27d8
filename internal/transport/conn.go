package transport

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/yourusername/task-relay/pkg/tasks"
)

// Role is what a connection declared itself to be
type Role int

const (
	RoleUnclassified Role = iota
	RoleWorker
	RoleObserver
)

func (r Role) String() string {
	switch r {
	case RoleWorker:
		return "worker"
	case RoleObserver:
		return "observer"
	default:
		return "unclassified"
	}
}

// Conn is one WebSocket connection. It implements orchestrator.Peer.
type Conn struct {
	id      string
	ws      *websocket.Conn
	config  *Config
	metrics *Metrics
	send    chan []byte

	mu     sync.Mutex
	role   Role
	closed bool
}

func newConn(ws *websocket.Conn, config *Config, metrics *Metrics) *Conn {
	return &Conn{
		id:      uuid.NewString(),
		ws:      ws,
		config:  config,
		metrics: metrics,
		send:    make(chan []byte, config.SendBuffer),
	}
}

// ID returns the connection identity
func (c *Conn) ID() string {
	return c.id
}

// Role returns the declared role
func (c *Conn) Role() Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

func (c *Conn) setRole(role Role) Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	previous := c.role
	c.role = role
	return previous
}

// Send queues an event for the write loop without blocking.
// It returns false if the connection is closed or its buffer is full.
func (c *Conn) Send(event string, payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to encode payload", "conn_id", c.id, "event", event, "error", err)
		return false
	}
	frame, err := json.Marshal(tasks.Envelope{Event: event, Data: data})
	if err != nil {
		slog.Error("failed to encode frame", "conn_id", c.id, "event", event, "error", err)
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}

	select {
	case c.send <- frame:
		return true
	default:
		c.metrics.framesDropped.Inc()
		return false
	}
}

// close stops the write loop; safe to call more than once
func (c *Conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// readLoop decodes frames and hands them to deliver until the socket fails.
// Frames that are not valid envelopes are skipped.
func (c *Conn) readLoop(deliver func(tasks.Envelope) bool) {
	c.ws.SetReadLimit(c.config.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.config.PongWait))
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("connection read failed", "conn_id", c.id, "error", err)
			}
			return
		}

		var env tasks.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.metrics.framesMalformed.Inc()
			slog.Warn("malformed frame ignored", "conn_id", c.id, "error", err)
			continue
		}
		if env.Event == "" {
			slog.Debug("frame without event ignored", "conn_id", c.id)
			continue
		}
		if !deliver(env) {
			return
		}
	}
}

// writeLoop drains the send buffer and keeps the connection alive with pings
func (c *Conn) writeLoop() {
	ticker := time.NewTicker(c.config.PingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				slog.Warn("connection write failed", "conn_id", c.id, "error", err)
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
