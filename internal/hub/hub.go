// Package hub implements the real-time notification hub: per-connection
// goroutines over websockets, a preference gate, fan-out to a user's live
// devices, and a liveness sweep that reaps half-open sockets.
package hub

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/coursepulse/notifyd/internal/config"
	"github.com/coursepulse/notifyd/internal/logging"
	"github.com/coursepulse/notifyd/internal/metrics"
)

// ErrAlreadyStarted is returned when Start is called twice; the hub is
// single-instance-per-process.
var ErrAlreadyStarted = errors.New("hub already started")

// Hub owns the connection registry and fan-out logic. It is constructed
// once at startup and injected into whatever needs to trigger
// notifications; there is no hidden global instance.
type Hub struct {
	auth          *Authenticator
	registry      *Registry
	gate          *Gate
	fanout        *Fanout
	monitor       *HealthMonitor
	notifications NotificationStore
	upgrader      websocket.Upgrader
	log           zerolog.Logger

	sendBuffer      int
	writeTimeout    time.Duration
	maxMessageBytes int64

	started atomic.Bool
	closed  atomic.Bool
	cancel  context.CancelFunc
}

func New(cfg *config.Config, notifications NotificationStore, preferences PreferenceStore) *Hub {
	log := logging.Component("hub")

	h := &Hub{
		auth:          NewAuthenticator(cfg.Auth.Secret),
		registry:      NewRegistry(),
		notifications: notifications,
		log:           log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The hub sits behind the platform gateway, which owns origin policy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		sendBuffer:      cfg.Hub.SendBuffer,
		writeTimeout:    cfg.Hub.WriteTimeout,
		maxMessageBytes: cfg.Hub.MaxMessageBytes,
	}
	h.gate = NewGate(preferences, logging.Component("gate"))
	h.fanout = NewFanout(h.registry, h.gate, h.reapConn, logging.Component("fanout"))
	h.monitor = NewHealthMonitor(h.registry, cfg.Hub.ProbeInterval, cfg.Hub.WriteTimeout, h.reapConn, logging.Component("health"))
	return h
}

// Fanout exposes the delivery entry point for external triggers (a grade
// was posted, an assignment was created, ...).
func (h *Hub) Fanout() *Fanout { return h.fanout }

// ConnectedUserIDs returns the ids of users with at least one live
// connection.
func (h *Hub) ConnectedUserIDs() []string { return h.registry.UserIDs() }

// Start launches the health monitor. Calling it twice is an error.
func (h *Hub) Start(ctx context.Context) error {
	if !h.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	mctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	go h.monitor.Run(mctx)
	return nil
}

// Shutdown stops accepting new connections, closes every open socket, and
// stops the health monitor. Socket close may race final in-flight writes;
// no strict ordering is guaranteed.
func (h *Hub) Shutdown(ctx context.Context) error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	if h.cancel != nil {
		h.cancel()
	}
	for _, c := range h.registry.SnapshotAll() {
		h.drop(c)
	}
	for {
		if _, total := h.registry.Stats(); total == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// Stats is the introspection snapshot.
type Stats struct {
	ConnectedUsers            int     `json:"connected_users"`
	TotalConnections          int     `json:"total_connections"`
	AverageConnectionsPerUser float64 `json:"average_connections_per_user"`
}

func (h *Hub) Stats() Stats {
	users, total := h.registry.Stats()
	s := Stats{ConnectedUsers: users, TotalConnections: total}
	if users > 0 {
		s.AverageConnectionsPerUser = float64(total) / float64(users)
	}
	return s
}

// ServeWS is the upgrade endpoint. The bearer credential rides the query
// string; verification failure rejects the upgrade outright and no
// Connection is ever allocated.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	if h.closed.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	ident, err := h.auth.Verify(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("upgrade failed")
		return
	}

	c := newConnection(ident, ws, h.sendBuffer)
	ws.SetReadLimit(h.maxMessageBytes)
	ws.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})

	h.registry.Add(c)
	metrics.IncConnect()
	h.log.Info().Str("user", c.UserID).Stringer("conn", c.ID).Msg("connection registered")

	h.pushToConn(c, msgWelcome, map[string]any{
		"user_id":       c.UserID,
		"role":          c.Role,
		"connection_id": c.ID,
	})
	if count, err := h.notifications.CountByStatus(r.Context(), c.UserID, "unread"); err == nil {
		h.pushToConn(c, msgUnreadCount, map[string]any{"count": count})
	} else {
		h.log.Warn().Err(err).Str("user", c.UserID).Msg("initial unread count failed, skipping push")
	}

	go h.writeLoop(c)
	go h.readLoop(c)
}

// readLoop drives one connection's inbound traffic. Any read error is a
// disconnect; the deferred drop funnels every exit through remove exactly
// once.
func (h *Hub) readLoop(c *Connection) {
	defer h.drop(c)

	for {
		_, data, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug().Err(err).Stringer("conn", c.ID).Msg("read error")
			}
			return
		}
		// Inbound traffic proves liveness as well as a pong does.
		c.alive.Store(true)
		h.dispatch(c, data)
	}
}

// dispatch isolates a handler panic to the connection that caused it.
func (h *Hub) dispatch(c *Connection, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error().Any("panic", r).Stringer("conn", c.ID).Msg("handler panic isolated")
			h.errorReply(c, "internal error")
		}
	}()
	h.handleInbound(context.Background(), c, data)
}

// writeLoop is the single writer for one socket. Transport pings are not
// sent here; the health monitor owns liveness probing via WriteControl,
// which gorilla permits concurrently with one writer.
func (h *Hub) writeLoop(c *Connection) {
	for data := range c.send {
		_ = c.sock.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		if err := c.sock.WriteMessage(websocket.TextMessage, data); err != nil {
			h.drop(c)
			return
		}
	}
	// Channel closed: the connection was shut down elsewhere.
	_ = c.sock.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	_ = c.sock.WriteMessage(websocket.CloseMessage, []byte{})
}

// drop removes the connection from the registry before closing the socket,
// so a concurrent snapshot can no longer hand the dying connection to a
// sender. Safe to call from any close path, any number of times.
func (h *Hub) drop(c *Connection) {
	removed := h.registry.Remove(c)
	c.shutdown()
	if removed {
		metrics.IncDisconnect()
		h.log.Info().Str("user", c.UserID).Stringer("conn", c.ID).Msg("connection removed")
	}
}

// reapConn is drop plus bookkeeping for forced terminations.
func (h *Hub) reapConn(c *Connection) {
	metrics.IncReap()
	h.drop(c)
}

// pushToConn queues a control-plane message for one connection. These are
// state snapshots, not notifications, so they bypass the preference gate
// and per-connection type filters.
func (h *Hub) pushToConn(c *Connection, typ string, data any) {
	b, err := marshalOutbound(typ, data)
	if err != nil {
		h.log.Error().Err(err).Str("type", typ).Msg("marshal outbound")
		return
	}
	if !c.trySend(b) {
		h.reapConn(c)
	}
}

// pushToUser queues a control-plane message for every live connection of a
// user.
func (h *Hub) pushToUser(userID, typ string, data any) {
	b, err := marshalOutbound(typ, data)
	if err != nil {
		h.log.Error().Err(err).Str("type", typ).Msg("marshal outbound")
		return
	}
	for _, c := range h.registry.Snapshot(userID) {
		if !c.trySend(b) {
			h.reapConn(c)
		}
	}
}

func (h *Hub) errorReply(c *Connection, msg string) {
	h.pushToConn(c, msgErrorReply, map[string]any{"error": msg})
}
