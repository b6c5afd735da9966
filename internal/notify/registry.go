package notify

import "sync"

// Conn is the transport side of a live client. Implementations must be safe
// for concurrent writes.
type Conn interface {
	WriteJSON(v any) error
}

type entry struct {
	conn   Conn
	userID string
	role   string
}

// Registry tracks connected clients by handle and indexes them by user and
// role for targeted fan-out.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	byUser  map[string]map[string]struct{}
	byRole  map[string]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]entry),
		byUser:  make(map[string]map[string]struct{}),
		byRole:  make(map[string]map[string]struct{}),
	}
}

// Join registers a connection under a handle. Joining an existing handle
// replaces the previous registration.
func (r *Registry) Join(handle, userID, role string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.entries[handle]; ok {
		r.drop(handle, prev)
	}
	r.entries[handle] = entry{conn: conn, userID: userID, role: role}
	if userID != "" {
		if r.byUser[userID] == nil {
			r.byUser[userID] = make(map[string]struct{})
		}
		r.byUser[userID][handle] = struct{}{}
	}
	if role != "" {
		if r.byRole[role] == nil {
			r.byRole[role] = make(map[string]struct{})
		}
		r.byRole[role][handle] = struct{}{}
	}
}

// Leave removes a handle. Unknown handles are a no-op.
func (r *Registry) Leave(handle string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[handle]
	if !ok {
		return
	}
	r.drop(handle, e)
}

func (r *Registry) drop(handle string, e entry) {
	delete(r.entries, handle)
	if set := r.byUser[e.userID]; set != nil {
		delete(set, handle)
		if len(set) == 0 {
			delete(r.byUser, e.userID)
		}
	}
	if set := r.byRole[e.role]; set != nil {
		delete(set, handle)
		if len(set) == 0 {
			delete(r.byRole, e.role)
		}
	}
}

// ForUser returns the live connections of one user.
func (r *Registry) ForUser(userID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(r.byUser[userID])
}

// ForRole returns the live connections of every user holding a role.
func (r *Registry) ForRole(role string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(r.byRole[role])
}

// All returns every live connection.
func (r *Registry) All() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Conn, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.conn)
	}
	return out
}

func (r *Registry) collect(handles map[string]struct{}) []Conn {
	out := make([]Conn, 0, len(handles))
	for h := range handles {
		if e, ok := r.entries[h]; ok {
			out = append(out, e.conn)
		}
	}
	return out
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// CountByRole returns live connection counts keyed by role.
func (r *Registry) CountByRole() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int, len(r.byRole))
	for role, set := range r.byRole {
		out[role] = len(set)
	}
	return out
}
