package hub

import "testing"

func TestConnectionTrySendFullBuffer(t *testing.T) {
	c := testConn("alice", 2)

	if !c.trySend([]byte("a")) || !c.trySend([]byte("b")) {
		t.Fatal("sends within buffer capacity failed")
	}
	if c.trySend([]byte("c")) {
		t.Fatal("send into a full buffer succeeded; slow consumer must be reported")
	}
}

func TestConnectionTrySendAfterShutdown(t *testing.T) {
	c := testConn("alice", 2)
	c.shutdown()

	// Must not panic on the closed channel.
	if c.trySend([]byte("a")) {
		t.Fatal("send on a closed connection succeeded")
	}
}

func TestConnectionShutdownIsIdempotent(t *testing.T) {
	sock := &fakeSocket{}
	c := newConnection(&Identity{UserID: "alice"}, sock, 1)

	c.shutdown()
	c.shutdown()
	if !sock.closed {
		t.Fatal("socket left open after shutdown")
	}
}

func TestConnectionFilter(t *testing.T) {
	c := testConn("alice", 1)

	if !c.allowsType(TypeInfo) {
		t.Fatal("fresh connection should accept all types")
	}

	c.setFilter([]string{TypeAssignment, TypeCourse})
	if !c.allowsType(TypeAssignment) || !c.allowsType(TypeCourse) {
		t.Fatal("listed types rejected")
	}
	if c.allowsType(TypeSystem) {
		t.Fatal("unlisted type accepted")
	}

	c.setFilter(nil)
	if !c.allowsType(TypeSystem) {
		t.Fatal("cleared filter should accept all types")
	}
}
