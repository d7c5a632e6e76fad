package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"loudfits/internal/events"
	"loudfits/internal/realtime"
	"loudfits/pkg/protocol"
)

// Transport wraps a RoundTripper; a chain of them is the client's middleware
type Transport func(next http.RoundTripper) http.RoundTripper

// RoundTripperFunc adapts a function to http.RoundTripper
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// Chain applies transports so the first one sees the request first
func Chain(base http.RoundTripper, transports ...Transport) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	rt := base
	for i := len(transports) - 1; i >= 0; i-- {
		rt = transports[i](rt)
	}
	return rt
}

// withHeader never touches the caller's request
func withHeader(key, value string) Transport {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			if value == "" || r.Header.Get(key) != "" {
				return next.RoundTrip(r)
			}
			r = r.Clone(r.Context())
			r.Header.Set(key, value)
			return next.RoundTrip(r)
		})
	}
}

// BearerToken sets Authorization on every request
func BearerToken(token string) Transport {
	if token == "" {
		return withHeader("Authorization", "")
	}
	return withHeader("Authorization", "Bearer "+token)
}

// AdminID sets the X-Admin-ID header used by the admin API
func AdminID(id string) Transport {
	return withHeader("X-Admin-ID", id)
}

// APIError is a non-2xx answer from the API
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("api request failed with status %d: %s", e.StatusCode, e.Message)
}

// BroadcastResult is the answer to SendTestEvent
type BroadcastResult struct {
	Type       protocol.MessageType `json:"type"`
	Recipients string               `json:"recipients"`
	Result     realtime.Result      `json:"result"`
}

// APIClient talks to the collaborator HTTP endpoints over one http.Client
type APIClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewAPIClient builds a client whose transport is rt (see Chain)
func NewAPIClient(baseURL string, rt http.RoundTripper, timeout time.Duration) *APIClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &APIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Transport: rt, Timeout: timeout},
	}
}

// FetchHistory returns recent broadcasts, newest first
func (c *APIClient) FetchHistory(ctx context.Context, limit int) ([]events.HistoryEntry, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		Events []events.HistoryEntry `json:"events"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/admin/events", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// FetchNotifications returns the caller's recent notifications from the server
func (c *APIClient) FetchNotifications(ctx context.Context) ([]protocol.Notification, error) {
	var resp struct {
		Notifications []protocol.Notification `json:"notifications"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/notifications", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Notifications, nil
}

// SendTestEvent triggers a broadcast through the admin API
func (c *APIClient) SendTestEvent(ctx context.Context, req events.TestEventRequest) (*BroadcastResult, error) {
	var result BroadcastResult
	if err := c.do(ctx, http.MethodPost, "/api/admin/events", nil, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Stats returns the live connection counters
func (c *APIClient) Stats(ctx context.Context) (*events.WSStats, error) {
	var stats events.WSStats
	if err := c.do(ctx, http.MethodGet, "/api/admin/ws-stats", nil, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *APIClient) do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	response, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(response.Body).Decode(&e)
		return &APIError{StatusCode: response.StatusCode, Message: e.Error}
	}
	if out == nil || response.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(response.Body).Decode(out)
}

// MarkRead marks one notification read through the REST API
func (c *APIClient) MarkRead(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPut, "/api/notifications/"+url.PathEscape(id)+"/read", nil, nil, nil)
}

// MarkAllRead marks every notification of the caller read
func (c *APIClient) MarkAllRead(ctx context.Context) error {
	return c.do(ctx, http.MethodPut, "/api/notifications/read-all", nil, nil, nil)
}
