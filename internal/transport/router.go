package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/yourusername/task-relay/internal/orchestrator"
	"github.com/yourusername/task-relay/pkg/tasks"
)

// Coordinator is the set of coordinator operations the router drives
type Coordinator interface {
	RegisterWorker(peer orchestrator.Peer)
	UnregisterWorker(id string)
	AddObserver(peer orchestrator.Peer)
	RemoveObserver(id string)
	CompleteCurrent(event string, success bool, errText string)
	RelayChallengeImage(payload json.RawMessage)
	RelayChallengeResponse(payload json.RawMessage)
	RelayCommand(payload json.RawMessage)
}

// inbound is an event read from a connection, or its disconnect
type inbound struct {
	conn       *Conn
	env        tasks.Envelope
	disconnect bool
}

// Router accepts WebSocket connections, classifies them by role and feeds
// their events to the coordinator from a single dispatcher loop.
type Router struct {
	coord    Coordinator
	config   *Config
	metrics  *Metrics
	upgrader websocket.Upgrader

	inbound chan inbound
	done    chan struct{}
	stop    sync.Once

	conns map[string]*Conn
	mu    sync.Mutex
}

// NewRouter creates a router; call Run to start dispatching
func NewRouter(coord Coordinator, config *Config, metrics *Metrics) *Router {
	if config == nil {
		config = DefaultConfig()
	}

	return &Router{
		coord:   coord,
		config:  config,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Observers load the dashboard from any origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		inbound: make(chan inbound, config.InboundBuffer),
		done:    make(chan struct{}),
		conns:   make(map[string]*Conn),
	}
}

// ServeHTTP upgrades the request and starts the connection's read and write loops
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "remote", req.RemoteAddr, "error", err)
		return
	}

	conn := newConn(ws, r.config, r.metrics)

	// shutdown closes every conn under mu, so the done check must share it
	r.mu.Lock()
	select {
	case <-r.done:
		r.mu.Unlock()
		ws.Close()
		return
	default:
	}
	r.conns[conn.id] = conn
	r.mu.Unlock()
	r.metrics.connections.WithLabelValues(RoleUnclassified.String()).Inc()

	slog.Debug("connection opened", "conn_id", conn.id, "remote", req.RemoteAddr)

	go conn.writeLoop()
	go func() {
		conn.readLoop(func(env tasks.Envelope) bool {
			return r.push(inbound{conn: conn, env: env})
		})
		r.push(inbound{conn: conn, disconnect: true})
	}()
}

// push hands an event to the dispatcher; false once the router is stopped
func (r *Router) push(ev inbound) bool {
	select {
	case r.inbound <- ev:
		return true
	case <-r.done:
		return false
	}
}

// Run dispatches inbound events until ctx is cancelled
func (r *Router) Run(ctx context.Context) error {
	slog.Info("connection router started")

	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			slog.Info("connection router stopped")
			return ctx.Err()
		case ev := <-r.inbound:
			r.route(ev)
		}
	}
}

// Connections returns the number of open connections
func (r *Router) Connections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

func (r *Router) route(ev inbound) {
	conn := ev.conn

	if ev.disconnect {
		r.disconnect(conn)
		return
	}

	r.metrics.framesIn.WithLabelValues(metricEventLabel(ev.env.Event)).Inc()

	switch ev.env.Event {
	case tasks.EventRegisterWorker:
		previous := conn.setRole(RoleWorker)
		if previous == RoleObserver {
			r.coord.RemoveObserver(conn.id)
		}
		r.classified(conn, previous, RoleWorker)
		r.coord.RegisterWorker(conn)

	case tasks.EventRegisterObserver:
		previous := conn.setRole(RoleObserver)
		if previous == RoleWorker {
			r.coord.UnregisterWorker(conn.id)
		}
		r.classified(conn, previous, RoleObserver)
		r.coord.AddObserver(conn)

	case tasks.EventTaskCompleted:
		var done tasks.Completion
		if err := json.Unmarshal(ev.env.Data, &done); err != nil {
			slog.Warn("malformed completion ignored", "conn_id", conn.id, "error", err)
			return
		}
		r.coord.CompleteCurrent(done.Event, done.Success, done.Error)

	case tasks.EventChallengeImage:
		r.coord.RelayChallengeImage(ev.env.Data)

	case tasks.EventChallengeResponse:
		r.coord.RelayChallengeResponse(ev.env.Data)

	case tasks.EventDirectCommand:
		r.coord.RelayCommand(ev.env.Data)

	default:
		slog.Debug("unknown event ignored", "conn_id", conn.id, "event", ev.env.Event)
	}
}

func (r *Router) classified(conn *Conn, previous, role Role) {
	if previous == role {
		return
	}
	r.metrics.connections.WithLabelValues(previous.String()).Dec()
	r.metrics.connections.WithLabelValues(role.String()).Inc()
	slog.Info("connection classified", "conn_id", conn.id, "role", role.String())
}

func (r *Router) disconnect(conn *Conn) {
	r.mu.Lock()
	_, known := r.conns[conn.id]
	delete(r.conns, conn.id)
	r.mu.Unlock()
	if !known {
		return
	}

	role := conn.Role()
	switch role {
	case RoleWorker:
		r.coord.UnregisterWorker(conn.id)
	case RoleObserver:
		r.coord.RemoveObserver(conn.id)
	}
	conn.close()
	r.metrics.connections.WithLabelValues(role.String()).Dec()

	slog.Debug("connection closed", "conn_id", conn.id, "role", role.String())
}

func (r *Router) shutdown() {
	r.stop.Do(func() {
		close(r.done)
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, conn := range r.conns {
		conn.close()
		delete(r.conns, id)
	}
}

func metricEventLabel(event string) string {
	switch event {
	case tasks.EventRegisterWorker, tasks.EventRegisterObserver, tasks.EventTaskCompleted,
		tasks.EventChallengeImage, tasks.EventChallengeResponse, tasks.EventDirectCommand:
		return event
	default:
		return "unknown"
	}
}
