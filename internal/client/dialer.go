package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Socket is one open connection as seen by the Manager
type Socket interface {
	ReadFrame() ([]byte, error)
	WriteFrame(frame []byte) error
	CloseWith(code int, reason string) error
}

// Dialer opens sockets; tests swap in fakes
type Dialer interface {
	Dial(ctx context.Context, url string) (Socket, error)
}

// WebSocketDialer dials with gorilla/websocket
type WebSocketDialer struct {
	Header    http.Header
	WriteWait time.Duration
	dialer    *websocket.Dialer
}

func NewWebSocketDialer(header http.Header) *WebSocketDialer {
	return &WebSocketDialer{
		Header:    header,
		WriteWait: 10 * time.Second,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

func (d *WebSocketDialer) Dial(ctx context.Context, u string) (Socket, error) {
	conn, resp, err := d.dialer.DialContext(ctx, u, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", u, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", u, err)
	}
	return &wsSocket{conn: conn, writeWait: d.WriteWait}, nil
}

type wsSocket struct {
	conn      *websocket.Conn
	writeWait time.Duration
	mu        sync.Mutex // gorilla allows one concurrent writer
}

func (s *wsSocket) ReadFrame() ([]byte, error) {
	_, frame, err := s.conn.ReadMessage()
	return frame, err
}

func (s *wsSocket) WriteFrame(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

func (s *wsSocket) CloseWith(code int, reason string) error {
	s.mu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	s.mu.Unlock()
	return s.conn.Close()
}

// closeCode extracts the close frame code, 0 when the socket died without one
func closeCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return 0
}

// WebSocketURL derives the socket URL from the API base URL: http -> ws, https -> wss.
// A non-empty token is passed as ?token= since browsers cannot set headers on upgrade.
func WebSocketURL(apiURL, path, token string) (string, error) {
	u, err := url.Parse(apiURL)
	if err != nil {
		return "", fmt.Errorf("invalid api url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("api url %q has no host", apiURL)
	}
	if path == "" {
		path = "/ws"
	}
	u.Path = "/" + strings.TrimLeft(path, "/")
	q := url.Values{}
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()
	u.Fragment = ""
	return u.String(), nil
}
