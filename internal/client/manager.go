package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"loudfits/pkg/protocol"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrGaveUp       = errors.New("reconnect attempts exhausted")
)

// Status of the logical connection
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusGivenUp // retries exhausted; only Reconnect leaves this state
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusGivenUp:
		return "given_up"
	default:
		return "disconnected"
	}
}

// Identity is sent in the register envelope after every open
type Identity struct {
	UserID  string
	Role    string
	IsAdmin bool
}

// Listener receives envelopes of the types it subscribed to
type Listener func(env protocol.Envelope)

// ManagerOptions configure a Manager
type ManagerOptions struct {
	URL      string
	Policy   Policy
	Identity *Identity // nil: no register is sent

	OnFatal  func(err error) // once per exhaustion
	OnStatus func(s Status)  // every transition
}

// Manager owns one logical connection: it dials, re-registers on every open,
// keeps the socket alive with pings and retries with capped exponential backoff.
type Manager struct {
	opts   ManagerOptions
	policy Policy
	dialer Dialer
	log    zerolog.Logger

	mu       sync.Mutex
	ctx      context.Context
	status   Status
	attempt  int    // retries scheduled since the last open
	gen      uint64 // bumped on every dial, Stop and Reconnect; stale callbacks compare it
	socket   Socket
	timer    *time.Timer
	stopPing chan struct{}
	engine   *backoff.ExponentialBackOff
	lastSeen time.Time
	stopped  bool

	lmu       sync.RWMutex
	nextID    int
	listeners map[protocol.MessageType]map[int]Listener
	catchAll  map[int]Listener
}

// NewManager builds an idle Manager; call Start to connect
func NewManager(opts ManagerOptions, dialer Dialer, log zerolog.Logger) *Manager {
	policy := opts.Policy.withDefaults()
	return &Manager{
		opts:      opts,
		policy:    policy,
		dialer:    dialer,
		log:       log,
		ctx:       context.Background(),
		engine:    policy.newBackOff(),
		listeners: make(map[protocol.MessageType]map[int]Listener),
		catchAll:  make(map[int]Listener),
	}
}

// Start connects in the background. ctx bounds every dial.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.ctx = ctx
	m.stopped = false
	m.mu.Unlock()
	go m.connect()
}

// Stop closes with code 1000 and cancels pending timers; nothing reconnects afterwards
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.gen++
	sock := m.teardownLocked()
	changed := m.setStatusLocked(StatusDisconnected)
	m.mu.Unlock()

	if sock != nil {
		_ = sock.CloseWith(websocket.CloseNormalClosure, "client stop")
	}
	m.emitStatus(changed, StatusDisconnected)
}

// Reconnect is always permitted: it drops the current socket and any pending
// retry, resets the attempt counter and dials again.
func (m *Manager) Reconnect() {
	m.mu.Lock()
	m.stopped = false
	m.gen++
	sock := m.teardownLocked()
	m.attempt = 0
	m.engine.Reset()
	m.mu.Unlock()

	if sock != nil {
		_ = sock.CloseWith(websocket.CloseNormalClosure, "client reconnect")
	}
	go m.connect()
}

// teardownLocked cancels the retry timer and the ping loop and detaches the socket
func (m *Manager) teardownLocked() Socket {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.stopPing != nil {
		close(m.stopPing)
		m.stopPing = nil
	}
	sock := m.socket
	m.socket = nil
	return sock
}

func (m *Manager) connect() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.gen++
	gen := m.gen
	ctx := m.ctx
	changed := m.setStatusLocked(StatusConnecting)
	m.mu.Unlock()
	m.emitStatus(changed, StatusConnecting)

	sock, err := m.dialer.Dial(ctx, m.opts.URL)

	m.mu.Lock()
	if gen != m.gen || m.stopped {
		// superseded by Stop or Reconnect while dialing
		m.mu.Unlock()
		if sock != nil {
			_ = sock.CloseWith(websocket.CloseNormalClosure, "superseded")
		}
		return
	}
	if err != nil {
		m.log.Warn().Err(err).Int("attempt", m.attempt).Msg("ws_dial_failed")
		m.scheduleRetryLocked(gen, err)
		return
	}

	m.socket = sock
	m.attempt = 0
	m.engine.Reset()
	m.lastSeen = time.Now()
	stop := make(chan struct{})
	m.stopPing = stop
	changed = m.setStatusLocked(StatusConnected)
	m.mu.Unlock()

	m.log.Info().Str("url", m.opts.URL).Msg("ws_connected")
	m.emitStatus(changed, StatusConnected)

	if id := m.opts.Identity; id != nil {
		isAdmin := id.IsAdmin
		if err := m.Send(protocol.TypeRegister, protocol.RegisterData{
			ID:      protocol.FlexibleID(id.UserID),
			Role:    id.Role,
			IsAdmin: &isAdmin,
		}); err != nil {
			m.log.Warn().Err(err).Msg("ws_register_failed")
		}
	}

	go m.pingLoop(stop)
	go m.readLoop(gen, sock)
}

// scheduleRetryLocked must be called with mu held; it releases it
func (m *Manager) scheduleRetryLocked(gen uint64, cause error) {
	if m.attempt >= m.policy.MaxAttempts {
		changed := m.setStatusLocked(StatusGivenUp)
		attempts := m.attempt
		m.mu.Unlock()

		m.log.Error().Err(cause).Int("attempts", attempts).Msg("ws_reconnect_gave_up")
		m.emitStatus(changed, StatusGivenUp)
		// the status only changes once per exhaustion, so this fires once
		if changed && m.opts.OnFatal != nil {
			m.opts.OnFatal(fmt.Errorf("%w after %d attempts: %v", ErrGaveUp, attempts, cause))
		}
		return
	}

	delay := m.engine.NextBackOff()
	m.attempt++
	attempt := m.attempt
	m.timer = time.AfterFunc(delay, func() { m.retry(gen) })
	changed := m.setStatusLocked(StatusDisconnected)
	m.mu.Unlock()

	m.log.Info().Dur("delay", delay).Int("attempt", attempt).Msg("ws_reconnect_scheduled")
	m.emitStatus(changed, StatusDisconnected)
}

func (m *Manager) retry(gen uint64) {
	m.mu.Lock()
	stale := gen != m.gen || m.stopped
	if !stale {
		m.timer = nil
	}
	m.mu.Unlock()
	if stale {
		return
	}
	m.connect()
}

func (m *Manager) readLoop(gen uint64, sock Socket) {
	for {
		frame, err := sock.ReadFrame()
		if err != nil {
			m.handleDrop(gen, sock, err)
			return
		}
		m.mu.Lock()
		m.lastSeen = time.Now()
		m.mu.Unlock()
		m.dispatch(frame)
	}
}

func (m *Manager) handleDrop(gen uint64, sock Socket, err error) {
	m.mu.Lock()
	if gen != m.gen || m.socket != sock {
		m.mu.Unlock()
		return
	}
	m.teardownLocked()
	defer func() { _ = sock.CloseWith(websocket.CloseNormalClosure, "") }()

	// Stop and Reconnect bump gen first, so anything reaching here was not
	// asked for by this side, a server-sent 1000 included
	m.log.Warn().Err(err).Int("close_code", closeCode(err)).Msg("ws_connection_lost")
	m.scheduleRetryLocked(gen, err)
}

func (m *Manager) pingLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(m.policy.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := m.Send(protocol.TypePing, nil); err != nil {
				m.log.Debug().Err(err).Msg("ws_ping_failed")
			}
		}
	}
}

// Send writes one envelope if the socket is open
func (m *Manager) Send(msgType protocol.MessageType, payload any) error {
	m.mu.Lock()
	sock := m.socket
	connected := m.status == StatusConnected
	m.mu.Unlock()
	if sock == nil || !connected {
		return ErrNotConnected
	}

	frame, err := protocol.Encode(msgType, payload)
	if err != nil {
		return err
	}
	return sock.WriteFrame(frame)
}

// Subscribe registers fn for one message type and returns its unsubscribe func
func (m *Manager) Subscribe(msgType protocol.MessageType, fn Listener) func() {
	m.lmu.Lock()
	defer m.lmu.Unlock()
	id := m.nextID
	m.nextID++
	if m.listeners[msgType] == nil {
		m.listeners[msgType] = make(map[int]Listener)
	}
	m.listeners[msgType][id] = fn
	return func() {
		m.lmu.Lock()
		defer m.lmu.Unlock()
		delete(m.listeners[msgType], id)
	}
}

// SubscribeAll registers fn for every envelope
func (m *Manager) SubscribeAll(fn Listener) func() {
	m.lmu.Lock()
	defer m.lmu.Unlock()
	id := m.nextID
	m.nextID++
	m.catchAll[id] = fn
	return func() {
		m.lmu.Lock()
		defer m.lmu.Unlock()
		delete(m.catchAll, id)
	}
}

func (m *Manager) dispatch(frame []byte) {
	env, err := protocol.ParseEnvelope(frame)
	if err != nil {
		m.log.Warn().Err(err).Msg("ws_invalid_message")
		return
	}

	m.lmu.RLock()
	targets := make([]Listener, 0, len(m.listeners[env.Type])+len(m.catchAll))
	for _, fn := range m.listeners[env.Type] {
		targets = append(targets, fn)
	}
	for _, fn := range m.catchAll {
		targets = append(targets, fn)
	}
	m.lmu.RUnlock()

	for _, fn := range targets {
		m.invoke(fn, env)
	}
}

func (m *Manager) invoke(fn Listener, env protocol.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Interface("panic", r).Str("type", env.Type.String()).Msg("ws_listener_panic")
		}
	}()
	fn(env)
}

func (m *Manager) setStatusLocked(s Status) bool {
	if m.status == s {
		return false
	}
	m.status = s
	return true
}

func (m *Manager) emitStatus(changed bool, s Status) {
	if changed && m.opts.OnStatus != nil {
		m.opts.OnStatus(s)
	}
}

// Status returns the current connection state
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Attempt returns the number of retries scheduled since the last successful open
func (m *Manager) Attempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt
}

// LastSeen is the time of the last open or inbound frame
func (m *Manager) LastSeen() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSeen
}

// Connected reports whether Send would reach the socket
func (m *Manager) Connected() bool {
	return m.Status() == StatusConnected
}
