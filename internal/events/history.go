package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"loudfits/internal/realtime"
	"loudfits/pkg/protocol"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// HistoryEntry is one broadcast as shown by GET /api/admin/events
type HistoryEntry struct {
	Type       protocol.MessageType `json:"type"`
	Data       json.RawMessage      `json:"data"`
	Recipients string               `json:"recipients"`
	Timestamp  time.Time            `json:"timestamp"`
	Result     realtime.Result      `json:"result"`
}

// History keeps the most recent broadcasts in a capped Redis list, newest first
type History struct {
	client redis.Cmdable
	key    string
	limit  int
	log    zerolog.Logger
}

func NewHistory(client redis.Cmdable, key string, limit int, log zerolog.Logger) *History {
	if limit <= 0 {
		limit = 200
	}
	return &History{client: client, key: key, limit: limit, log: log}
}

// Append pushes the entry and trims the list to the configured size
func (h *History) Append(ctx context.Context, entry HistoryEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal history entry: %w", err)
	}
	_, err = h.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, h.key, raw)
		pipe.LTrim(ctx, h.key, 0, int64(h.limit-1))
		return nil
	})
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first. Undecodable entries are skipped.
func (h *History) Recent(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if limit <= 0 || limit > h.limit {
		limit = h.limit
	}
	values, err := h.client.LRange(ctx, h.key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}

	entries := make([]HistoryEntry, 0, len(values))
	for _, v := range values {
		var entry HistoryEntry
		if err := json.Unmarshal([]byte(v), &entry); err != nil {
			h.log.Warn().Err(err).Msg("history_entry_skipped")
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
