package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"loudfits/internal/auth"
	"loudfits/pkg/protocol"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ReceiptHandler records read receipts sent over the socket
type ReceiptHandler interface {
	MarkRead(ctx context.Context, identity Identity, notificationID string) error
	MarkAllRead(ctx context.Context, identity Identity) error
}

// UnreadSource provides the notifications a user missed while offline
type UnreadSource interface {
	Unread(ctx context.Context, identity Identity) ([]protocol.Notification, error)
}

// Hub owns the registry, the broadcaster and the lifecycle of every socket.
// Each connection runs a read and a write goroutine; shared state lives in the registry.
type Hub struct {
	Registry    *Registry
	Broadcaster *Broadcaster
	Metrics     *Metrics

	opts     Options
	receipts ReceiptHandler
	unread   UnreadSource
	upgrader websocket.Upgrader
	log      zerolog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// NewHub wires a registry and broadcaster sharing the same metrics
func NewHub(opts Options, metrics *Metrics, log zerolog.Logger) *Hub {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	registry := NewRegistry(log)
	h := &Hub{
		Registry:    registry,
		Broadcaster: NewBroadcaster(registry, metrics, log),
		Metrics:     metrics,
		opts:        opts,
		log:         log,
		done:        make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// SetReceiptHandler plugs the durable store in for mark_read / mark_all_read
func (h *Hub) SetReceiptHandler(r ReceiptHandler) { h.receipts = r }

// SetUnreadSource plugs the durable store in for the post-register sync
func (h *Hub) SetUnreadSource(u UnreadSource) { h.unread = u }

// Options returns the socket options in use
func (h *Hub) Options() Options { return h.opts }

// Run drops idle connections until Shutdown is called
func (h *Hub) Run() {
	if h.opts.IdleTimeout <= 0 {
		<-h.done
		return
	}
	interval := h.opts.IdleTimeout / 2
	if interval > time.Minute {
		interval = time.Minute
	}
	h.Registry.StartCleanupRoutine(interval, h.opts.IdleTimeout, h.done)
}

// Shutdown stops the cleanup routine and closes every connection
func (h *Hub) Shutdown() {
	h.closeOnce.Do(func() {
		close(h.done)
		h.Registry.CloseAll()
	})
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if h.opts.AllowAnyOrigin {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		// non-browser clients (CLI, services) send no Origin
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == origin {
			return true
		}
	}
	return false
}

// Upgrade turns the HTTP request into a served websocket connection
func (h *Hub) Upgrade(w http.ResponseWriter, r *http.Request, claims *auth.Claims) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	h.Serve(conn, claims)
	return nil
}

// Serve registers the socket as an anonymous connection and starts its pumps
func (h *Hub) Serve(conn *websocket.Conn, claims *auth.Claims) *Connection {
	c := NewConnection(conn, claims, h.opts)
	h.attach(c)

	go c.WritePump(h.opts)
	go c.ReadPump(h.opts,
		func(frame []byte) { h.HandleFrame(context.Background(), c, frame) },
		func(err error) { h.detach(c, err) },
	)
	return c
}

func (h *Hub) attach(c *Connection) {
	h.Registry.Add(c)
	h.Metrics.ActiveConnections.Inc()
	h.log.Info().Str("client_id", c.ID).Msg("client_connected")
}

func (h *Hub) detach(c *Connection, err error) {
	h.Registry.Unregister(c)
	c.Close()
	h.Metrics.ActiveConnections.Dec()

	event := h.log.Info().Str("client_id", c.ID)
	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		event = h.log.Warn().Str("client_id", c.ID).Err(err)
	}
	event.Msg("client_disconnected")
}
