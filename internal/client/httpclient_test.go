package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"loudfits/internal/events"
	"loudfits/pkg/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChain_OrderAndIsolation(t *testing.T) {
	var order []string
	mark := func(name string) Transport {
		return func(next http.RoundTripper) http.RoundTripper {
			return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
				order = append(order, name)
				return next.RoundTrip(r)
			})
		}
	}
	var seen http.Header
	base := RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
		seen = r.Header.Clone()
		return &http.Response{StatusCode: http.StatusNoContent, Body: http.NoBody, Request: r}, nil
	})

	rt := Chain(base, mark("first"), BearerToken("tok"), AdminID("admin-1"), mark("last"))
	req, err := http.NewRequest(http.MethodGet, "http://example.test/", nil)
	require.NoError(t, err)

	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, []string{"first", "last"}, order)
	assert.Equal(t, "Bearer tok", seen.Get("Authorization"))
	assert.Equal(t, "admin-1", seen.Get("X-Admin-ID"))
	assert.Empty(t, req.Header.Get("Authorization"), "caller's request is not mutated")
}

func TestAPIClient(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/admin/events", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodGet:
			assert.Equal(t, "5", r.URL.Query().Get("limit"))
			json.NewEncoder(w).Encode(map[string]any{"events": []events.HistoryEntry{{
				Type:       protocol.TypeStockAlert,
				Data:       json.RawMessage(`{"productId":"5"}`),
				Recipients: "admins",
				Timestamp:  time.Now().UTC(),
			}}})
		case http.MethodPost:
			var req events.TestEventRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			if req.Type == protocol.TypeRegister {
				w.WriteHeader(http.StatusBadRequest)
				json.NewEncoder(w).Encode(map[string]string{"error": "type must be a server-to-client message type"})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"type": req.Type, "recipients": "all", "result": map[string]int{"targeted": 2, "delivered": 2}})
		}
	})
	mux.HandleFunc("/api/admin/ws-stats", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"connections": map[string]int{"total": 4, "admins": 1}, "counters": map[string]float64{"activeConnections": 4}})
	})
	mux.HandleFunc("/api/notifications", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"notifications":[{"id":"n1","type":"order","title":"Shipped","createdAt":"2024-05-01 12:00:00"}]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewAPIClient(srv.URL+"/", Chain(nil, BearerToken("tok")), time.Second)
	ctx := context.Background()

	history, err := c.FetchHistory(ctx, 5)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "admins", history[0].Recipients)

	result, err := c.SendTestEvent(ctx, events.TestEventRequest{Type: protocol.TypeBroadcast, Data: json.RawMessage(`{}`)})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Result.Delivered)

	_, err = c.SendTestEvent(ctx, events.TestEventRequest{Type: protocol.TypeRegister})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Error(), "server-to-client")

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Connections.Total)
	assert.Equal(t, 4.0, stats.Counters.ActiveConnections)

	notes, err := c.FetchNotifications(ctx)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, 2024, notes[0].CreatedAt.Year())
}
