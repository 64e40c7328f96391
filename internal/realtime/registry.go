package realtime

import (
	"sort"
	"sync"
)

// member is anything the registry can track and deliver frames to.
type member interface {
	UserID() string
	Enqueue(frame []byte) bool
}

// Registry maps subject IDs to the local connections currently in that room.
// It is the only shared mutable in-memory structure of the gateway; its lock
// is never held across I/O.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]map[member]struct{}
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]map[member]struct{})}
}

// Join adds m to subjectID's room. Joining twice is a no-op.
func (r *Registry) Join(subjectID string, m member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[subjectID]
	if !ok {
		room = make(map[member]struct{})
		r.rooms[subjectID] = room
	}
	room[m] = struct{}{}
}

// Leave removes m from subjectID's room and drops the room once empty.
func (r *Registry) Leave(subjectID string, m member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[subjectID]
	if !ok {
		return
	}
	delete(room, m)
	if len(room) == 0 {
		delete(r.rooms, subjectID)
	}
}

// MembersOf returns a snapshot of subjectID's room.
func (r *Registry) MembersOf(subjectID string) []member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room := r.rooms[subjectID]
	out := make([]member, 0, len(room))
	for m := range room {
		out = append(out, m)
	}
	return out
}

// Contains reports whether m is in subjectID's room.
func (r *Registry) Contains(subjectID string, m member) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[subjectID][m]
	return ok
}

// Broadcast enqueues frame on every member of subjectID's room and returns
// how many accepted it.
func (r *Registry) Broadcast(subjectID string, frame []byte) int {
	delivered := 0
	for _, m := range r.MembersOf(subjectID) {
		if m.Enqueue(frame) {
			delivered++
		}
	}
	return delivered
}

// OnlineUsers returns the distinct user IDs connected to subjectID, sorted.
func (r *Registry) OnlineUsers(subjectID string) []string {
	members := r.MembersOf(subjectID)
	seen := make(map[string]struct{}, len(members))
	users := make([]string, 0, len(members))
	for _, m := range members {
		id := m.UserID()
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		users = append(users, id)
	}
	sort.Strings(users)
	return users
}

// Stats returns the number of non-empty rooms and of room memberships.
func (r *Registry) Stats() (rooms, members int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, room := range r.rooms {
		members += len(room)
	}
	return len(r.rooms), members
}
