package hub

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/coursepulse/notifyd/internal/config"
	"github.com/coursepulse/notifyd/internal/logging"
	"github.com/coursepulse/notifyd/internal/store"
)

type fakePrefs struct {
	mu      sync.Mutex
	prefs   map[string]*store.Preference
	err     error
	created int
}

func newFakePrefs() *fakePrefs {
	return &fakePrefs{prefs: make(map[string]*store.Preference)}
}

func (f *fakePrefs) GetPreference(_ context.Context, userID string) (*store.Preference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if p, ok := f.prefs[userID]; ok {
		return p, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakePrefs) CreateDefaultPreference(_ context.Context, userID string) (*store.Preference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	p := store.DefaultPreference(userID)
	f.prefs[userID] = p
	f.created++
	return p, nil
}

func (f *fakePrefs) set(p *store.Preference) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prefs[p.UserID] = p
}

type fakeNotifications struct {
	mu     sync.Mutex
	unread map[string]int
	recent []store.Notification
	err    error
}

func newFakeNotifications() *fakeNotifications {
	return &fakeNotifications{unread: make(map[string]int)}
}

func (f *fakeNotifications) CountByStatus(_ context.Context, userID, status string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	if status != "unread" {
		return 0, nil
	}
	return f.unread[userID], nil
}

func (f *fakeNotifications) ListByUserID(_ context.Context, _ string, _ store.ListOptions) ([]store.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.recent, nil
}

func (f *fakeNotifications) MarkAsRead(_ context.Context, _ uuid.UUID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if f.unread[userID] > 0 {
		f.unread[userID]--
		return true, nil
	}
	return false, nil
}

func (f *fakeNotifications) MarkAllAsRead(_ context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	n := int64(f.unread[userID])
	f.unread[userID] = 0
	return n, nil
}

// fakeSocket satisfies the socket interface without a network peer.
type fakeSocket struct {
	mu      sync.Mutex
	pings   int
	pingErr error
	closed  bool
}

func (s *fakeSocket) ReadMessage() (int, []byte, error) {
	select {} // tests never drive the read loop through a fake socket
}

func (s *fakeSocket) WriteMessage(int, []byte) error { return nil }

func (s *fakeSocket) WriteControl(int, []byte, time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pingErr != nil {
		return s.pingErr
	}
	s.pings++
	return nil
}

func (s *fakeSocket) SetReadLimit(int64)                {}
func (s *fakeSocket) SetPongHandler(func(string) error) {}
func (s *fakeSocket) SetWriteDeadline(time.Time) error  { return nil }

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSocket) pingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pings
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Auth.Secret = "test-secret"
	cfg.Hub.SendBuffer = 8
	cfg.Hub.ProbeInterval = time.Second
	cfg.Hub.WriteTimeout = time.Second
	cfg.Hub.MaxMessageBytes = 32 * 1024
	return cfg
}

func newTestHub(notifications NotificationStore, prefs PreferenceStore) *Hub {
	return New(testConfig(), notifications, prefs)
}

func testConn(userID string, buf int) *Connection {
	return newConnection(&Identity{UserID: userID, Role: "student"}, &fakeSocket{}, buf)
}

type recvEnvelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// recv pops the next queued outbound message from a connection, failing
// when none is pending.
func recv(t *testing.T, c *Connection) recvEnvelope {
	t.Helper()
	select {
	case raw := <-c.send:
		var env recvEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("unmarshal outbound: %v", err)
		}
		return env
	default:
		t.Fatalf("no message pending on connection %s", c.ID)
		return recvEnvelope{}
	}
}

func expectNoMessage(t *testing.T, c *Connection) {
	t.Helper()
	select {
	case raw := <-c.send:
		t.Fatalf("unexpected message on connection %s: %s", c.ID, raw)
	default:
	}
}

func init() {
	logging.Init("error")
}
