package hub

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/coursepulse/notifyd/internal/store"
)

// Notification types understood by per-connection filters.
const (
	TypeInfo       = "info"
	TypeSuccess    = "success"
	TypeWarning    = "warning"
	TypeError      = "error"
	TypeAssignment = "assignment"
	TypeCourse     = "course"
	TypeSystem     = "system"
)

// Delivery channels evaluated by the preference gate. Email and push are
// sibling channels owned by external senders; they share the gate contract
// but only websocket delivery is implemented here.
const (
	ChannelWebsocket = "websocket"
	ChannelPush      = "push"
	ChannelEmail     = "email"
)

// Outbound message types.
const (
	msgWelcome              = "welcome"
	msgPong                 = "pong"
	msgNotification         = "notification"
	msgUnreadCount          = "unread_count"
	msgRecentNotifications  = "recent_notifications"
	msgNotificationRead     = "notification_read"
	msgAllNotificationsRead = "all_notifications_read"
	msgErrorReply           = "error"
)

// Inbound message types.
const (
	inPing             = "ping"
	inMarkRead         = "mark_read"
	inMarkAllRead      = "mark_all_read"
	inGetNotifications = "get_notifications"
	inSubscribe        = "subscribe"
)

// Event is the transient delivery payload fanned out to live connections.
// The durable record lives in the notification store; the hub never owns it.
type Event struct {
	ID        uuid.UUID      `json:"id"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Type      string         `json:"type"`
	Priority  string         `json:"priority"`
	RelatedID *string        `json:"related_id,omitempty"`
	ActionURL *string        `json:"action_url,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
}

// EventFromNotification converts a stored row into a delivery payload.
func EventFromNotification(n store.Notification) Event {
	return Event{
		ID:        n.ID,
		Title:     n.Title,
		Message:   n.Message,
		Type:      n.Type,
		Priority:  n.Priority,
		RelatedID: n.RelatedID,
		ActionURL: n.ActionURL,
		Metadata:  n.Metadata,
		CreatedAt: n.CreatedAt,
		ExpiresAt: n.ExpiresAt,
	}
}

// inbound is the client envelope. Payload stays raw until the dispatch
// switch knows which shape to decode; malformed payloads earn an error
// reply, never a closed connection.
type inbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outbound struct {
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

func marshalOutbound(typ string, data any) ([]byte, error) {
	return json.Marshal(outbound{Type: typ, Data: data, Timestamp: time.Now().UTC()})
}
