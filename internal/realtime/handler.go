package realtime

import (
	"context"
	"errors"
	"time"

	"loudfits/internal/middleware"
	"loudfits/pkg/protocol"

	"github.com/gin-gonic/gin"
)

var ErrUnverifiedIdentity = errors.New("identity must come from a verified token")

const storeTimeout = 5 * time.Second

// WSHandler: handle upgrade request from HTTP connection to WebSocket.
// Claims are optional; the connection stays anonymous until it sends register.
func WSHandler(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, _ := middleware.ClaimsFrom(c)
		if err := hub.Upgrade(c.Writer, c.Request, claims); err != nil {
			// the upgrader already wrote the HTTP error
			hub.log.Warn().Err(err).Str("remote_addr", c.ClientIP()).Msg("websocket_upgrade_failed")
		}
	}
}

// HandleFrame dispatches one inbound frame. Bad frames are logged and dropped,
// the connection is never torn down because of them.
func (h *Hub) HandleFrame(ctx context.Context, c *Connection, frame []byte) {
	c.Touch()

	if !c.allow() {
		h.Metrics.DroppedFrames.WithLabelValues("rate_limited").Inc()
		h.log.Warn().Str("client_id", c.ID).Msg("rate_limit_exceeded")
		_ = h.Broadcaster.SendTo(c, protocol.TypeError, protocol.ErrorData{Message: "rate limit exceeded"})
		return
	}

	env, err := protocol.ParseEnvelope(frame)
	if err != nil {
		h.Metrics.DroppedFrames.WithLabelValues("malformed").Inc()
		h.log.Warn().Str("client_id", c.ID).Err(err).Msg("invalid_json_received")
		return
	}
	h.Metrics.InboundMessages.WithLabelValues(env.Type.String()).Inc()

	switch env.Type {
	case protocol.TypeRegister, protocol.TypeAuth:
		h.handleRegister(ctx, c, env)
	case protocol.TypePing:
		// Touch above is all a ping needs
	case protocol.TypeMarkRead:
		h.handleMarkRead(ctx, c, env)
	case protocol.TypeMarkAllRead:
		h.handleMarkAllRead(ctx, c)
	case protocol.TypeMessage, protocol.TypeTest:
		if err := h.Broadcaster.SendTo(c, protocol.TypeEcho, env.Data); err != nil {
			h.log.Debug().Str("client_id", c.ID).Err(err).Msg("echo_failed")
		}
	default:
		h.Metrics.DroppedFrames.WithLabelValues("unknown_type").Inc()
		h.log.Warn().Str("client_id", c.ID).Str("type", env.Type.String()).Msg("unknown_message_type")
	}
}

func (h *Hub) handleRegister(ctx context.Context, c *Connection, env protocol.Envelope) {
	var data protocol.RegisterData
	if err := env.Decode(&data); err != nil {
		h.reject(c, "invalid register payload", err)
		return
	}

	identity, err := h.resolveIdentity(c, data)
	if err != nil {
		h.reject(c, "registration refused", err)
		return
	}

	h.Registry.Register(c, identity)
	h.Metrics.Registrations.Inc()

	if err := h.Broadcaster.SendTo(c, protocol.TypeRegistered, protocol.RegisteredData{
		ConnectionID: c.ID,
		UserID:       identity.UserID,
		IsAdmin:      identity.IsAdmin,
	}); err != nil {
		h.log.Warn().Str("client_id", c.ID).Err(err).Msg("registered_reply_failed")
		return
	}

	// push what the user missed while offline
	go h.syncUnread(c, identity)
}

// resolveIdentity prefers the verified token; the payload is only trusted when configured so
func (h *Hub) resolveIdentity(c *Connection, data protocol.RegisterData) (Identity, error) {
	if claims := c.Claims(); claims != nil {
		if data.ID != "" && data.ID.String() != claims.UserID {
			h.log.Warn().
				Str("client_id", c.ID).
				Str("claimed_id", data.ID.String()).
				Str("token_user_id", claims.UserID).
				Msg("register_identity_mismatch")
		}
		return Identity{UserID: claims.UserID, IsAdmin: claims.IsAdmin()}, nil
	}
	if !h.opts.TrustClientIdentity {
		return Identity{}, ErrUnverifiedIdentity
	}
	if data.ID == "" {
		return Identity{}, errors.New("missing id")
	}
	return Identity{UserID: data.ID.String(), IsAdmin: data.Admin()}, nil
}

func (h *Hub) syncUnread(c *Connection, identity Identity) {
	if h.unread == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	unread, err := h.unread.Unread(ctx, identity)
	if err != nil {
		h.log.Error().Str("user_id", identity.UserID).Err(err).Msg("unread_sync_failed")
		return
	}
	if len(unread) == 0 {
		return
	}

	msgType := protocol.TypeUnreadNotifications
	if identity.IsAdmin {
		msgType = protocol.TypeAdminNotifications
	}
	if err := h.Broadcaster.SendTo(c, msgType, unread); err != nil {
		h.log.Warn().Str("client_id", c.ID).Err(err).Msg("unread_sync_send_failed")
		return
	}
	h.log.Info().Str("user_id", identity.UserID).Int("count", len(unread)).Msg("unread_synced")
}

func (h *Hub) handleMarkRead(ctx context.Context, c *Connection, env protocol.Envelope) {
	identity, ok := c.Identity()
	if !ok || h.receipts == nil {
		h.log.Debug().Str("client_id", c.ID).Msg("receipt_ignored")
		return
	}
	var data protocol.MarkReadData
	if err := env.Decode(&data); err != nil || data.NotificationID == "" {
		h.log.Warn().Str("client_id", c.ID).Msg("invalid_mark_read_payload")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	if err := h.receipts.MarkRead(ctx, identity, data.NotificationID); err != nil {
		h.log.Warn().
			Str("user_id", identity.UserID).
			Str("notification_id", data.NotificationID).
			Err(err).
			Msg("mark_read_failed")
	}
}

func (h *Hub) handleMarkAllRead(ctx context.Context, c *Connection) {
	identity, ok := c.Identity()
	if !ok || h.receipts == nil {
		h.log.Debug().Str("client_id", c.ID).Msg("receipt_ignored")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	if err := h.receipts.MarkAllRead(ctx, identity); err != nil {
		h.log.Warn().Str("user_id", identity.UserID).Err(err).Msg("mark_all_read_failed")
	}
}

func (h *Hub) reject(c *Connection, message string, err error) {
	h.log.Warn().Str("client_id", c.ID).Err(err).Msg(message)
	_ = h.Broadcaster.SendTo(c, protocol.TypeError, protocol.ErrorData{Message: message + ": " + err.Error()})
}
