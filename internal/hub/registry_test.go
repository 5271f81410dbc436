package hub

import (
	"fmt"
	"sync"
	"testing"
)

func TestRegistryAddRemove(t *testing.T) {
	r := NewRegistry()
	a := testConn("alice", 1)
	b := testConn("alice", 1)

	r.Add(a)
	r.Add(b)
	if users, total := r.Stats(); users != 1 || total != 2 {
		t.Fatalf("stats = (%d, %d), want (1, 2)", users, total)
	}
	if got := len(r.Snapshot("alice")); got != 2 {
		t.Fatalf("snapshot len = %d, want 2", got)
	}

	if !r.Remove(a) {
		t.Fatal("first remove returned false")
	}
	if r.Remove(a) {
		t.Fatal("second remove of same connection returned true")
	}
	if users, total := r.Stats(); users != 1 || total != 1 {
		t.Fatalf("stats after remove = (%d, %d), want (1, 1)", users, total)
	}
}

func TestRegistryAddIsIdempotent(t *testing.T) {
	r := NewRegistry()
	c := testConn("alice", 1)

	r.Add(c)
	r.Add(c)
	if _, total := r.Stats(); total != 1 {
		t.Fatalf("total = %d after duplicate add, want 1", total)
	}
}

func TestRegistryDropsDrainedUser(t *testing.T) {
	r := NewRegistry()
	c := testConn("alice", 1)

	r.Add(c)
	r.Remove(c)

	if ids := r.UserIDs(); len(ids) != 0 {
		t.Fatalf("UserIDs = %v after last connection removed, want empty", ids)
	}
	if got := r.Snapshot("alice"); got != nil {
		t.Fatalf("snapshot = %v for drained user, want nil", got)
	}
}

func TestRegistryRemoveUnknownUser(t *testing.T) {
	r := NewRegistry()
	if r.Remove(testConn("ghost", 1)) {
		t.Fatal("remove of never-added connection returned true")
	}
}

func TestRegistrySnapshotAll(t *testing.T) {
	r := NewRegistry()
	for _, uid := range []string{"alice", "alice", "bob", "carol"} {
		r.Add(testConn(uid, 1))
	}

	if got := len(r.SnapshotAll()); got != 4 {
		t.Fatalf("SnapshotAll len = %d, want 4", got)
	}
	if got := len(r.UserIDs()); got != 3 {
		t.Fatalf("UserIDs len = %d, want 3", got)
	}
}

func TestRegistryConcurrentChurn(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			uid := fmt.Sprintf("user-%d", n%4)
			for j := 0; j < 100; j++ {
				c := testConn(uid, 1)
				r.Add(c)
				r.Snapshot(uid)
				r.SnapshotAll()
				r.Remove(c)
			}
		}(i)
	}
	wg.Wait()

	if users, total := r.Stats(); users != 0 || total != 0 {
		t.Fatalf("stats = (%d, %d) after churn, want (0, 0)", users, total)
	}
}
