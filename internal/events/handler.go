package events

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"loudfits/internal/realtime"
	"loudfits/pkg/protocol"

	"github.com/gin-gonic/gin"
)

// HistoryReader serves GET /api/admin/events
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]HistoryEntry, error)
}

// StatsSource serves GET /api/admin/ws-stats
type StatsSource interface {
	Stats() realtime.Stats
}

// MetricsSource adds counters to the ws-stats response
type MetricsSource interface {
	Snapshot() realtime.MetricsSnapshot
}

// TestEventRequest is the body of POST /api/admin/events
type TestEventRequest struct {
	Type       protocol.MessageType `json:"type" binding:"required"`
	Data       json.RawMessage      `json:"data"`
	Recipients json.RawMessage      `json:"recipients"`
}

// WSStats is the ws-stats response body
type WSStats struct {
	Connections realtime.Stats           `json:"connections"`
	Counters    realtime.MetricsSnapshot `json:"counters"`
}

type AdminHandler struct {
	history   HistoryReader
	publisher *Publisher
	stats     StatsSource
	metrics   MetricsSource
}

func NewAdminHandler(history HistoryReader, publisher *Publisher, stats StatsSource, metrics MetricsSource) *AdminHandler {
	return &AdminHandler{history: history, publisher: publisher, stats: stats, metrics: metrics}
}

// RegisterRoutes expects rg to sit behind AuthMiddleware and RequireAdmin
func (h *AdminHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/events", h.ListEvents)
	rg.POST("/events", h.SendTestEvent)
	rg.GET("/ws-stats", h.WSStats)
}

// ListEvents returns the most recent broadcasts, newest first
func (h *AdminHandler) ListEvents(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	if h.history == nil {
		c.JSON(http.StatusOK, gin.H{"events": []HistoryEntry{}})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	events, err := h.history.Recent(ctx, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events})
}

// SendTestEvent broadcasts an arbitrary server-to-client envelope
func (h *AdminHandler) SendTestEvent(c *gin.Context) {
	var req TestEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Type.Direction() != protocol.DirectionOutbound {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type must be a server-to-client message type"})
		return
	}

	to, err := realtime.ParseRecipients(req.Recipients)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	data := req.Data
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	result, err := h.publisher.Broadcast(ctx, req.Type, data, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"type":       req.Type,
		"recipients": to.String(),
		"result":     result,
	})
}

// WSStats reports live connection counters
func (h *AdminHandler) WSStats(c *gin.Context) {
	resp := WSStats{Connections: h.stats.Stats()}
	if h.metrics != nil {
		resp.Counters = h.metrics.Snapshot()
	}
	c.JSON(http.StatusOK, resp)
}
