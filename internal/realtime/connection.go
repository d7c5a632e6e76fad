package realtime

import (
	"errors"
	"sync"
	"time"

	"loudfits/internal/auth"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full")
)

// Options tune every socket served by the hub
type Options struct {
	WriteWait      time.Duration // max time to write a frame to the peer
	PongWait       time.Duration // no pong within this window = dead peer
	MaxMessageSize int64         // inbound frame limit
	SendBuffer     int           // queued outbound frames per connection
	RateLimit      float64       // inbound messages per second
	RateBurst      int
	IdleTimeout    time.Duration // drop connections silent for longer than this (0 = never)

	AllowedOrigins      []string
	AllowAnyOrigin      bool
	TrustClientIdentity bool // accept register payload identity without a verified token
}

// DefaultOptions mirrors the config defaults
func DefaultOptions() Options {
	return Options{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		MaxMessageSize: 4096,
		SendBuffer:     256,
		RateLimit:      10,
		RateBurst:      20,
		IdleTimeout:    5 * time.Minute,
	}
}

// PingPeriod is 90% of the pong wait to leave room for network jitter
func (o Options) PingPeriod() time.Duration {
	return (o.PongWait * 9) / 10
}

// Identity attached by the register handshake
type Identity struct {
	UserID  string
	IsAdmin bool
}

// Connection is one live socket. It starts anonymous and gains an identity on register.
type Connection struct {
	ID          string
	ConnectedAt time.Time

	conn    *websocket.Conn // nil for in-process connections
	send    chan []byte     // outbound frames drained by WritePump
	limiter *rate.Limiter   // inbound rate limit
	claims  *auth.Claims    // verified at upgrade time, may be nil

	mu         sync.RWMutex
	identity   *Identity
	lastSeenAt time.Time
	closed     bool
}

// NewConnection wraps a socket. conn may be nil, frames then stay in the queue.
func NewConnection(conn *websocket.Conn, claims *auth.Claims, opts Options) *Connection {
	if opts.SendBuffer < 1 {
		opts.SendBuffer = 1
	}
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	now := time.Now()
	return &Connection{
		ID:          uuid.NewString(),
		ConnectedAt: now,
		conn:        conn,
		send:        make(chan []byte, opts.SendBuffer),
		limiter:     rate.NewLimiter(limit, opts.RateBurst),
		claims:      claims,
		lastSeenAt:  now,
	}
}

// Identity returns the registered identity, false while anonymous
func (c *Connection) Identity() (Identity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.identity == nil {
		return Identity{}, false
	}
	return *c.identity, true
}

func (c *Connection) setIdentity(identity Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = &identity
}

// Claims returns the token claims verified when the socket was opened
func (c *Connection) Claims() *auth.Claims {
	return c.claims
}

// Touch records inbound activity
func (c *Connection) Touch() {
	c.mu.Lock()
	c.lastSeenAt = time.Now()
	c.mu.Unlock()
}

// LastSeenAt is the time of the last inbound message
func (c *Connection) LastSeenAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSeenAt
}

// IsOpen reports whether frames can still be queued
func (c *Connection) IsOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

// Send queues a frame without blocking
func (c *Connection) Send(frame []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnectionClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close stops the write pump, which then closes the socket. Safe to call twice.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// allow consumes one token of the inbound rate limit
func (c *Connection) allow() bool {
	return c.limiter.Allow()
}

// ReadPump reads frames until the peer goes away, handing each to onFrame.
// onClose runs exactly once when the loop exits.
func (c *Connection) ReadPump(opts Options, onFrame func([]byte), onClose func(err error)) {
	var readErr error
	defer func() {
		onClose(readErr)
		c.conn.Close()
	}()

	if opts.MaxMessageSize > 0 {
		c.conn.SetReadLimit(opts.MaxMessageSize)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.Touch()
		return c.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			readErr = err
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
		onFrame(frame)
	}
}

// WritePump drains the send queue and keeps the peer alive with protocol pings
func (c *Connection) WritePump(opts Options) {
	ticker := time.NewTicker(opts.PingPeriod())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			if !ok {
				// queue closed by Close(): shutdown or idle cleanup, the client should come back
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server going away"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
