package hub

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/coursepulse/notifyd/internal/logging"
	"github.com/coursepulse/notifyd/internal/store"
)

func newTestFanout(reg *Registry, prefs PreferenceStore) *Fanout {
	reap := func(c *Connection) {
		reg.Remove(c)
		c.shutdown()
	}
	return NewFanout(reg, newTestGate(prefs), reap, logging.Component("fanout"))
}

func testEvent(typ string) Event {
	return Event{ID: uuid.New(), Title: "Grade posted", Message: "CS101 midterm graded", Type: typ, Priority: "medium"}
}

func TestFanoutDeliversToEveryConnection(t *testing.T) {
	reg := NewRegistry()
	f := newTestFanout(reg, newFakePrefs())

	tab1 := testConn("alice", 4)
	tab2 := testConn("alice", 4)
	reg.Add(tab1)
	reg.Add(tab2)

	if !f.DeliverToUser(context.Background(), "alice", testEvent(TypeInfo)) {
		t.Fatal("delivery to connected user returned false")
	}
	for _, c := range []*Connection{tab1, tab2} {
		env := recv(t, c)
		if env.Type != msgNotification {
			t.Fatalf("message type = %q, want %q", env.Type, msgNotification)
		}
	}
}

func TestFanoutHonorsConnectionFilter(t *testing.T) {
	reg := NewRegistry()
	f := newTestFanout(reg, newFakePrefs())

	tab1 := testConn("alice", 4) // no filter: everything
	tab2 := testConn("alice", 4)
	tab2.setFilter([]string{TypeCourse})
	reg.Add(tab1)
	reg.Add(tab2)

	if !f.DeliverToUser(context.Background(), "alice", testEvent(TypeAssignment)) {
		t.Fatal("event should reach the unfiltered connection")
	}
	recv(t, tab1)
	expectNoMessage(t, tab2)

	// Clearing the filter restores delivery of everything.
	tab2.setFilter(nil)
	f.DeliverToUser(context.Background(), "alice", testEvent(TypeAssignment))
	recv(t, tab2)
}

func TestFanoutGateDenialSendsNothing(t *testing.T) {
	reg := NewRegistry()
	fp := newFakePrefs()
	p := store.DefaultPreference("alice")
	p.WebsocketEnabled = false
	fp.set(p)
	f := newTestFanout(reg, fp)

	c := testConn("alice", 4)
	reg.Add(c)

	if f.DeliverToUser(context.Background(), "alice", testEvent(TypeInfo)) {
		t.Fatal("gate denial should report not delivered")
	}
	expectNoMessage(t, c)
}

func TestFanoutReapsFailedConnectionAndContinues(t *testing.T) {
	reg := NewRegistry()
	f := newTestFanout(reg, newFakePrefs())

	dead := testConn("alice", 4)
	dead.shutdown() // closed socket: trySend fails
	live := testConn("alice", 4)
	reg.Add(dead)
	reg.Add(live)

	if !f.DeliverToUser(context.Background(), "alice", testEvent(TypeInfo)) {
		t.Fatal("healthy sibling connection should still receive the event")
	}
	recv(t, live)

	if _, total := reg.Stats(); total != 1 {
		t.Fatalf("total connections = %d after reap, want 1", total)
	}
	for _, c := range reg.Snapshot("alice") {
		if c == dead {
			t.Fatal("failed connection still in registry")
		}
	}
}

func TestFanoutNoConnections(t *testing.T) {
	f := newTestFanout(NewRegistry(), newFakePrefs())
	if f.DeliverToUser(context.Background(), "nobody", testEvent(TypeInfo)) {
		t.Fatal("delivery with no live connections returned true")
	}
}

func TestFanoutDeliverToUsersCountsReached(t *testing.T) {
	reg := NewRegistry()
	f := newTestFanout(reg, newFakePrefs())

	reg.Add(testConn("alice", 4))
	reg.Add(testConn("bob", 4))

	reached := f.DeliverToUsers(context.Background(), []string{"alice", "bob", "offline"}, testEvent(TypeInfo))
	if reached != 2 {
		t.Fatalf("reached = %d, want 2", reached)
	}
}

func TestFanoutBroadcastExcludes(t *testing.T) {
	reg := NewRegistry()
	f := newTestFanout(reg, newFakePrefs())

	a1 := testConn("alice", 4)
	a2 := testConn("alice", 4)
	b := testConn("bob", 4)
	reg.Add(a1)
	reg.Add(a2)
	reg.Add(b)

	reached := f.Broadcast(context.Background(), testEvent(TypeSystem), map[string]struct{}{"alice": {}})
	if reached != 1 {
		t.Fatalf("reached = %d, want 1", reached)
	}
	expectNoMessage(t, a1)
	expectNoMessage(t, a2)
	recv(t, b)
}
