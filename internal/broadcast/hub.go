// Package broadcast fans out room events to the connections subscribed to each room.
//
// Delivery is best effort: a message is queued for every subscriber present when Publish is
// called. A subscriber whose queue is full misses the message, nothing is retried and nothing is
// kept for subscribers that are offline. Messages published by one goroutine reach every
// subscriber in publish order.
package broadcast

import (
	"context"
	"log/slog"
	"slices"
	"sync"
)

const defaultBufferSize = 64

// Type tags the payload of a Message.
type Type string

const (
	TypeJoined       Type = "JOINED"
	TypeLeft         Type = "LEFT"
	TypePlayerList   Type = "PLAYER_LIST"
	TypeChat         Type = "CHAT"
	TypeAnswered     Type = "ANSWERED"
	TypeRoundStarted Type = "ROUND_STARTED"
	TypeRoundResult  Type = "ROUND_RESULT"
	TypeStandings    Type = "STANDINGS"
	TypeError        Type = "ERROR"
	TypePong         Type = "PONG"
)

type Message struct {
	Type   Type   `json:"type"`
	RoomID string `json:"room_id"`
	Data   any    `json:"data,omitempty"`
}

// Publisher delivers a message to every subscriber of a room. It never fails: delivery problems
// are absorbed by the implementation.
type Publisher interface {
	Publish(ctx context.Context, roomID string, m Message)
}

// Subscription is the receiving end of one participant's connection to a room.
type Subscription struct {
	RoomID        string
	ParticipantID string

	ch   chan Message
	once sync.Once
}

// C returns the channel messages are delivered on. It is closed on unsubscribe.
func (s *Subscription) C() <-chan Message {
	return s.ch
}

func (s *Subscription) close() {
	s.once.Do(func() {
		close(s.ch)
	})
}

// Hub is the in-process Publisher. Rooms are independent of each other.
type Hub struct {
	buffer int
	onDrop func(roomID, participantID string)

	mu    sync.RWMutex
	rooms map[string]map[string]*Subscription
}

type Option func(h *Hub)

// WithBufferSize sets how many messages may be queued per subscriber.
func WithBufferSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithDropHook is called for every message a subscriber misses because its queue is full.
func WithDropHook(f func(roomID, participantID string)) Option {
	return func(h *Hub) {
		h.onDrop = f
	}
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		buffer: defaultBufferSize,
		onDrop: func(string, string) {},
		rooms:  make(map[string]map[string]*Subscription),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Subscribe registers a participant's connection to a room. An existing subscription of the same
// participant in the same room is closed and replaced.
func (h *Hub) Subscribe(roomID, participantID string) *Subscription {
	s := &Subscription{
		RoomID:        roomID,
		ParticipantID: participantID,
		ch:            make(chan Message, h.buffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.rooms[roomID]
	if !ok {
		subs = make(map[string]*Subscription)
		h.rooms[roomID] = subs
	}

	if old, ok := subs[participantID]; ok {
		old.close()
	}
	subs[participantID] = s

	return s
}

// Unsubscribe removes the participant's subscription to the room, if any.
func (h *Hub) Unsubscribe(roomID, participantID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if s, ok := h.rooms[roomID][participantID]; ok {
		h.removeLocked(s)
	}
}

// Detach removes s only if it is still the participant's current subscription, and reports
// whether it was.
func (h *Hub) Detach(s *Subscription) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cur, ok := h.rooms[s.RoomID][s.ParticipantID]; !ok || cur != s {
		return false
	}

	h.removeLocked(s)
	return true
}

func (h *Hub) removeLocked(s *Subscription) {
	subs := h.rooms[s.RoomID]
	delete(subs, s.ParticipantID)
	if len(subs) == 0 {
		delete(h.rooms, s.RoomID)
	}
	s.close()
}

// Publish queues m for every current subscriber of the room without blocking.
func (h *Hub) Publish(ctx context.Context, roomID string, m Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, s := range h.rooms[roomID] {
		h.deliver(ctx, s, m)
	}
}

// Send queues m for a single subscriber and reports whether it was queued.
func (h *Hub) Send(ctx context.Context, roomID, participantID string, m Message) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s, ok := h.rooms[roomID][participantID]
	if !ok {
		return false
	}

	return h.deliver(ctx, s, m)
}

func (h *Hub) deliver(ctx context.Context, s *Subscription, m Message) bool {
	select {
	case s.ch <- m:
		return true
	default:
		slog.WarnContext(ctx, "broadcast: subscriber queue full, message dropped",
			"room", s.RoomID,
			"participant", s.ParticipantID,
			"type", m.Type,
		)
		h.onDrop(s.RoomID, s.ParticipantID)
		return false
	}
}

// Subscribers returns the participants subscribed to the room, sorted.
func (h *Hub) Subscribers(roomID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.rooms[roomID]))
	for id := range h.rooms[roomID] {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	return ids
}

// Close closes every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, subs := range h.rooms {
		for _, s := range subs {
			s.close()
		}
	}
	h.rooms = make(map[string]map[string]*Subscription)
}
