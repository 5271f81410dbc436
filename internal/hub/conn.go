package hub

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// socket is the subset of *websocket.Conn the hub touches. Narrowed to an
// interface so component tests run without a network peer.
type socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Connection is the ephemeral per-socket state. It exists only between a
// successful handshake and whichever close path fires first; the registry
// is its sole owner.
type Connection struct {
	ID        uuid.UUID
	UserID    string
	Role      string
	CreatedAt time.Time

	sock socket
	send chan []byte

	// alive is flipped false by each health probe and back true by the
	// transport pong; two silent probes in a row mean reap.
	alive atomic.Bool

	closed    atomic.Bool
	closeOnce sync.Once

	mu     sync.RWMutex
	filter map[string]struct{} // nil = all types
}

func newConnection(ident *Identity, sock socket, sendBuffer int) *Connection {
	c := &Connection{
		ID:        uuid.New(),
		UserID:    ident.UserID,
		Role:      ident.Role,
		CreatedAt: time.Now().UTC(),
		sock:      sock,
		send:      make(chan []byte, sendBuffer),
	}
	c.alive.Store(true)
	return c
}

// trySend queues data for the write loop without blocking. It returns
// false when the connection is closed or the buffer is full; a full buffer
// marks a slow consumer the caller should reap rather than queue behind.
func (c *Connection) trySend(data []byte) (sent bool) {
	// close(c.send) can race the send below; recovering is cheaper than
	// serializing every send against close.
	defer func() {
		if r := recover(); r != nil {
			sent = false
		}
	}()

	if c.closed.Load() {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// shutdown closes the send channel and the socket exactly once. Callers
// must have removed the connection from the registry first.
func (c *Connection) shutdown() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.send)
		if c.sock != nil {
			_ = c.sock.Close()
		}
	})
}

// ping sends a transport-level ping control frame.
func (c *Connection) ping(deadline time.Time) error {
	if c.sock == nil {
		return nil
	}
	return c.sock.WriteControl(websocket.PingMessage, nil, deadline)
}

// setFilter attaches a per-connection type allow-list. An empty list
// clears the filter back to "all types".
func (c *Connection) setFilter(types []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(types) == 0 {
		c.filter = nil
		return
	}
	f := make(map[string]struct{}, len(types))
	for _, t := range types {
		f[t] = struct{}{}
	}
	c.filter = f
}

// allowsType reports whether this connection wants events of the given
// type. No filter means everything.
func (c *Connection) allowsType(typ string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.filter == nil {
		return true
	}
	_, ok := c.filter[typ]
	return ok
}
