// Package registry keeps the authoritative, ordered list of participants joined to each room.
package registry

import (
	"slices"
	"sync"

	"github.com/samber/lo"
)

// Registry maps room IDs to their participants. Rooms are created on first reference and are
// never destroyed. Calls on the same room are serialized, calls on different rooms are not.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*room
}

type room struct {
	mu      sync.Mutex
	players []string
}

// Change is the outcome of a mutating call.
type Change struct {
	// Players is the participant list after the call, in join order.
	Players []string
	// Changed reports whether the call modified the list.
	Changed bool
	// Created reports whether the room did not exist before the call.
	Created bool
}

func New() *Registry {
	return &Registry{
		rooms: make(map[string]*room),
	}
}

// Join adds the participant to the room if absent. Joining twice is a no-op.
func (r *Registry) Join(roomID, participantID string) Change {
	rm, created := r.room(roomID)

	rm.mu.Lock()
	defer rm.mu.Unlock()

	c := Change{Created: created}
	if !lo.Contains(rm.players, participantID) {
		rm.players = append(rm.players, participantID)
		c.Changed = true
	}

	c.Players = slices.Clone(rm.players)
	return c
}

// Leave removes the participant from the room if present. Leaving an unknown room creates it.
func (r *Registry) Leave(roomID, participantID string) Change {
	rm, created := r.room(roomID)

	rm.mu.Lock()
	defer rm.mu.Unlock()

	c := Change{Created: created}
	if i := slices.Index(rm.players, participantID); i >= 0 {
		rm.players = slices.Delete(rm.players, i, i+1)
		c.Changed = true
	}

	c.Players = slices.Clone(rm.players)
	return c
}

// Snapshot returns a copy of the room's participants. Unknown rooms have no participants.
func (r *Registry) Snapshot(roomID string) []string {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	r.mu.RUnlock()

	if !ok {
		return []string{}
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	return slices.Clone(rm.players)
}

// Ensure creates the room if it does not exist and reports whether it did.
func (r *Registry) Ensure(roomID string) bool {
	_, created := r.room(roomID)
	return created
}

func (r *Registry) Exists(roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.rooms[roomID]
	return ok
}

// Len returns the number of known rooms.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.rooms)
}

func (r *Registry) room(id string) (*room, bool) {
	r.mu.RLock()
	rm, ok := r.rooms[id]
	r.mu.RUnlock()

	if ok {
		return rm, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if rm, ok := r.rooms[id]; ok {
		return rm, false
	}

	rm = &room{players: make([]string, 0, 4)}
	r.rooms[id] = rm
	return rm, true
}
