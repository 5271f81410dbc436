package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/coursepulse/notifyd/internal/store"
)

// NotificationStore is the durable-record collaborator behind the control
// channel. The hub reads and mutates through it but never owns the data.
// *store.Store satisfies it.
type NotificationStore interface {
	CountByStatus(ctx context.Context, userID, status string) (int, error)
	ListByUserID(ctx context.Context, userID string, opts store.ListOptions) ([]store.Notification, error)
	MarkAsRead(ctx context.Context, id uuid.UUID, userID string) (bool, error)
	MarkAllAsRead(ctx context.Context, userID string) (int64, error)
}

// handleInbound interprets one client message. Malformed payloads and
// unknown types earn an error reply on the originating connection only;
// the connection is never closed for a bad message.
func (h *Hub) handleInbound(ctx context.Context, c *Connection, raw []byte) {
	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.errorReply(c, "malformed message")
		return
	}

	switch msg.Type {
	case inPing:
		// Application-level heartbeat for client UIs. Distinct from the
		// transport ping/pong the health monitor drives.
		h.pushToConn(c, msgPong, map[string]any{
			"server_time": time.Now().UTC(),
		})

	case inMarkRead:
		var p struct {
			NotificationID uuid.UUID `json:"notification_id"`
		}
		if err := json.Unmarshal(msg.Payload, &p); err != nil || p.NotificationID == uuid.Nil {
			h.errorReply(c, "malformed mark_read payload")
			return
		}
		ok, err := h.notifications.MarkAsRead(ctx, p.NotificationID, c.UserID)
		if err != nil {
			h.log.Warn().Err(err).Str("user", c.UserID).Msg("mark_read store failure, skipping push")
			return
		}
		if !ok {
			h.errorReply(c, "notification not found")
			return
		}
		// Cross-device sync: every live connection of the user gets the
		// fresh state, not just the one that asked.
		h.pushUnreadCount(ctx, c.UserID)
		h.pushToUser(c.UserID, msgNotificationRead, map[string]any{
			"notification_id": p.NotificationID,
		})

	case inMarkAllRead:
		marked, err := h.notifications.MarkAllAsRead(ctx, c.UserID)
		if err != nil {
			h.log.Warn().Err(err).Str("user", c.UserID).Msg("mark_all_read store failure, skipping push")
			return
		}
		h.pushUnreadCount(ctx, c.UserID)
		h.pushToUser(c.UserID, msgAllNotificationsRead, map[string]any{
			"marked": marked,
		})

	case inGetNotifications:
		var p struct {
			Limit int `json:"limit"`
		}
		if len(msg.Payload) > 0 {
			if err := json.Unmarshal(msg.Payload, &p); err != nil {
				h.errorReply(c, "malformed get_notifications payload")
				return
			}
		}
		list, err := h.notifications.ListByUserID(ctx, c.UserID, store.ListOptions{Limit: p.Limit})
		if err != nil {
			h.log.Warn().Err(err).Str("user", c.UserID).Msg("get_notifications store failure, skipping push")
			return
		}
		h.pushToUser(c.UserID, msgRecentNotifications, map[string]any{
			"notifications": list,
		})

	case inSubscribe:
		var p struct {
			Types []string `json:"types"`
		}
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			h.errorReply(c, "malformed subscribe payload")
			return
		}
		// Per-connection filter: one device narrows what it renders
		// without affecting sibling devices of the same user.
		c.setFilter(p.Types)
		h.log.Debug().Str("user", c.UserID).Stringer("conn", c.ID).Strs("types", p.Types).Msg("connection subscribed")

	default:
		h.errorReply(c, fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

// pushUnreadCount pushes an idempotent full-state unread snapshot to every
// live connection of the user. Snapshots, not deltas, so out-of-order
// delivery across tabs is harmless.
func (h *Hub) pushUnreadCount(ctx context.Context, userID string) {
	count, err := h.notifications.CountByStatus(ctx, userID, "unread")
	if err != nil {
		h.log.Warn().Err(err).Str("user", userID).Msg("unread count store failure, skipping push")
		return
	}
	h.pushToUser(userID, msgUnreadCount, map[string]any{"count": count})
}
