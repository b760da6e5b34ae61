package broadcast_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/arena/internal/broadcast"
)

func TestHub_Publish(t *testing.T) {
	type inputs struct {
		subscribe   map[string][]string
		unsubscribe map[string][]string
		published   map[string][]broadcast.Message
	}

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, received map[string][]broadcast.Message)
	}{
		"every subscriber of the room should receive the message": {
			arrange: func() inputs {
				return inputs{
					subscribe: map[string][]string{"r1": {"alice", "bob"}},
					published: map[string][]broadcast.Message{"r1": {chat("hi")}},
				}
			},
			assert: func(t *testing.T, received map[string][]broadcast.Message) {
				assert.Equal(t, []broadcast.Message{chat("hi")}, received["r1/alice"])
				assert.Equal(t, []broadcast.Message{chat("hi")}, received["r1/bob"])
			},
		},
		"subscribers of other rooms should not receive the message": {
			arrange: func() inputs {
				return inputs{
					subscribe: map[string][]string{"r1": {"alice"}, "r2": {"bob"}},
					published: map[string][]broadcast.Message{"r1": {chat("hi")}},
				}
			},
			assert: func(t *testing.T, received map[string][]broadcast.Message) {
				assert.Len(t, received["r1/alice"], 1)
				assert.Empty(t, received["r2/bob"])
			},
		},
		"messages should arrive in publish order": {
			arrange: func() inputs {
				return inputs{
					subscribe: map[string][]string{"r1": {"alice"}},
					published: map[string][]broadcast.Message{"r1": {chat("1"), chat("2"), chat("3")}},
				}
			},
			assert: func(t *testing.T, received map[string][]broadcast.Message) {
				assert.Equal(t, []broadcast.Message{chat("1"), chat("2"), chat("3")}, received["r1/alice"])
			},
		},
		"unsubscribed participant should not receive the message": {
			arrange: func() inputs {
				return inputs{
					subscribe:   map[string][]string{"r1": {"alice", "bob"}},
					unsubscribe: map[string][]string{"r1": {"bob"}},
					published:   map[string][]broadcast.Message{"r1": {chat("hi")}},
				}
			},
			assert: func(t *testing.T, received map[string][]broadcast.Message) {
				assert.Len(t, received["r1/alice"], 1)
				assert.Empty(t, received["r1/bob"])
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in := tt.arrange()
			h := broadcast.NewHub()

			subs := make(map[string]*broadcast.Subscription)
			for room, ps := range in.subscribe {
				for _, p := range ps {
					subs[room+"/"+p] = h.Subscribe(room, p)
				}
			}
			for room, ps := range in.unsubscribe {
				for _, p := range ps {
					h.Unsubscribe(room, p)
				}
			}
			for room, ms := range in.published {
				for _, m := range ms {
					h.Publish(context.Background(), room, m)
				}
			}
			h.Close()

			received := make(map[string][]broadcast.Message)
			for k, s := range subs {
				for m := range s.C() {
					received[k] = append(received[k], m)
				}
			}

			tt.assert(t, received)
		})
	}
}

func TestHub_SlowSubscriberIsIsolated(t *testing.T) {
	var dropped atomic.Int32
	h := broadcast.NewHub(
		broadcast.WithBufferSize(2),
		broadcast.WithDropHook(func(roomID, participantID string) {
			assert.Equal(t, "slow", participantID)
			dropped.Add(1)
		}),
	)

	slow := h.Subscribe("r1", "slow")
	fast := h.Subscribe("r1", "fast")

	got := make(chan broadcast.Message, 16)
	go func() {
		for m := range fast.C() {
			got <- m
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			h.Publish(context.Background(), "r1", chat(fmt.Sprint(i)))
			time.Sleep(5 * time.Millisecond)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish should never block on a stalled subscriber")
	}

	require.Eventually(t, func() bool { return len(got) == 5 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(3), dropped.Load())
	assert.Len(t, slow.C(), 2)
}

func TestHub_Resubscribe(t *testing.T) {
	h := broadcast.NewHub()

	first := h.Subscribe("r1", "alice")
	second := h.Subscribe("r1", "alice")

	_, open := <-first.C()
	assert.False(t, open, "replaced subscription should be closed")

	assert.False(t, h.Detach(first), "stale subscription should not detach the current one")
	assert.Equal(t, []string{"alice"}, h.Subscribers("r1"))

	assert.True(t, h.Send(context.Background(), "r1", "alice", chat("direct")))
	assert.Equal(t, chat("direct"), <-second.C())

	assert.True(t, h.Detach(second))
	assert.Empty(t, h.Subscribers("r1"))
	assert.False(t, h.Send(context.Background(), "r1", "alice", chat("direct")))
}

func chat(text string) broadcast.Message {
	return broadcast.Message{Type: broadcast.TypeChat, RoomID: "r1", Data: text}
}
