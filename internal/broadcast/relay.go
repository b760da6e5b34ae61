package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Redis is the subset of the redis client used by Relay.
type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	PSubscribe(ctx context.Context, channels ...string) *redis.PubSub
}

type RelayConfig struct {
	Redis  Redis
	Prefix string
	Local  *Hub
}

// Relay publishes room messages through Redis so that every instance of the service delivers
// them to its own local subscribers. Per-room ordering from one publisher is kept because a
// single Redis connection delivers messages in order.
type Relay struct {
	redis  Redis
	prefix string
	local  *Hub
	ready  chan struct{}
}

func NewRelay(c RelayConfig) *Relay {
	return &Relay{
		redis:  c.Redis,
		prefix: c.Prefix,
		local:  c.Local,
		ready:  make(chan struct{}),
	}
}

type wireMessage struct {
	Type   Type            `json:"type"`
	RoomID string          `json:"room_id"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Publish sends m to the room's Redis channel. When Redis is unreachable the message is
// delivered to local subscribers only.
func (r *Relay) Publish(ctx context.Context, roomID string, m Message) {
	m.RoomID = roomID

	b, err := json.Marshal(m)
	if err != nil {
		slog.ErrorContext(ctx, "broadcast: marshal message failed", "type", m.Type, "error", err)
		return
	}

	if err := r.redis.Publish(ctx, r.channel(roomID), b).Err(); err != nil {
		slog.ErrorContext(ctx, "broadcast: relay publish failed, delivering locally",
			"room", roomID,
			"error", err,
		)
		r.local.Publish(ctx, roomID, m)
	}
}

// Ready is closed once the relay is subscribed and messages published from now on are received.
func (r *Relay) Ready() <-chan struct{} {
	return r.ready
}

// Run receives relayed messages and delivers them to the local hub until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.redis.PSubscribe(ctx, r.channel("*"))
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("relay: subscribe: %w", err)
	}
	close(r.ready)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.deliver(ctx, msg)
		}
	}
}

func (r *Relay) deliver(ctx context.Context, msg *redis.Message) {
	roomID := strings.TrimPrefix(msg.Channel, r.channel(""))

	var w wireMessage
	if err := json.Unmarshal([]byte(msg.Payload), &w); err != nil {
		slog.ErrorContext(ctx, "broadcast: unmarshal relayed message failed",
			"channel", msg.Channel,
			"error", err,
		)
		return
	}

	m := Message{Type: w.Type, RoomID: roomID}
	if len(w.Data) > 0 {
		m.Data = w.Data
	}

	r.local.Publish(ctx, roomID, m)
}

func (r *Relay) channel(roomID string) string {
	return fmt.Sprintf("%s:room:%s", r.prefix, roomID)
}
