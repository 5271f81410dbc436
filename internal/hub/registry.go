package hub

import "sync"

// Registry is the concurrent-safe map of user id to that user's live
// connections. Mutation and snapshot are atomic with respect to each
// other; iteration always happens on a snapshot so no lock is ever held
// across network I/O.
type Registry struct {
	mu    sync.RWMutex
	users map[string]map[*Connection]struct{}
	total int
}

func NewRegistry() *Registry {
	return &Registry{users: make(map[string]map[*Connection]struct{})}
}

func (r *Registry) Add(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.users[c.UserID]
	if !ok {
		set = make(map[*Connection]struct{})
		r.users[c.UserID] = set
	}
	if _, dup := set[c]; dup {
		return
	}
	set[c] = struct{}{}
	r.total++
}

// Remove deletes the connection and drops the user's entry entirely once
// its set drains, bounding memory. Removing an absent connection is a
// no-op so every close path can funnel through here safely.
func (r *Registry) Remove(c *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.users[c.UserID]
	if !ok {
		return false
	}
	if _, present := set[c]; !present {
		return false
	}
	delete(set, c)
	r.total--
	if len(set) == 0 {
		delete(r.users, c.UserID)
	}
	return true
}

// Snapshot returns a point-in-time copy of one user's connections.
func (r *Registry) Snapshot(userID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.users[userID]
	if !ok {
		return nil
	}
	out := make([]*Connection, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// SnapshotAll returns a point-in-time copy of every live connection.
func (r *Registry) SnapshotAll() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0, r.total)
	for _, set := range r.users {
		for c := range set {
			out = append(out, c)
		}
	}
	return out
}

// UserIDs returns the ids of every user with at least one live connection.
func (r *Registry) UserIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.users))
	for uid := range r.users {
		out = append(out, uid)
	}
	return out
}

// Stats returns (connected users, total connections).
func (r *Registry) Stats() (int, int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users), r.total
}
