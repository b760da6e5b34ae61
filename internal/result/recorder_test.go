package result_test

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/arena/internal/domain"
	"github.com/victornm/arena/internal/event"
	"github.com/victornm/arena/internal/result"
)

type fakeQueue struct {
	mu  sync.Mutex
	got []domain.RoundResult
}

func (q *fakeQueue) Enqueue(_ context.Context, r domain.RoundResult) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.got = append(q.got, r)
	return nil
}

func (q *fakeQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.got)
}

func TestRecorder(t *testing.T) {
	tests := map[string]struct {
		queue  *fakeQueue
		assert func(t *testing.T, store *result.Memory, queue *fakeQueue)
	}{
		"should save resolved rounds": {
			assert: func(t *testing.T, store *result.Memory, _ *fakeQueue) {
				require.Eventually(t, func() bool {
					rs, _ := store.List(context.Background(), result.Filter{})
					return len(rs) == 1
				}, time.Second, 10*time.Millisecond)
			},
		},
		"should enqueue when a queue is configured": {
			queue: &fakeQueue{},
			assert: func(t *testing.T, store *result.Memory, queue *fakeQueue) {
				require.Eventually(t, func() bool { return queue.len() == 1 }, time.Second, 10*time.Millisecond)

				rs, err := store.List(context.Background(), result.Filter{})
				require.NoError(t, err)
				assert.Empty(t, rs)
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			bus := event.NewBus()
			defer bus.Stop()

			store := result.NewMemory()
			c := result.RecorderConfig{EventBus: bus, Store: store}
			if tt.queue != nil {
				c.Queue = tt.queue
			}
			result.NewRecorder(c)

			bus.Publish(context.Background(), domain.EventRoundResolved{Result: fixtures()[0]})

			tt.assert(t, store, tt.queue)
		})
	}
}

func TestWorker_HandleRecord(t *testing.T) {
	rs := miniredis.RunT(t)
	store := result.NewMemory()
	w := result.NewWorker(asynq.RedisClientOpt{Addr: rs.Addr()}, store, 1)

	payload, err := json.Marshal(fixtures()[2])
	require.NoError(t, err)

	require.NoError(t, w.HandleRecord(context.Background(), asynq.NewTask(result.TaskRecord, payload)))

	got, err := store.List(context.Background(), result.Filter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "r2", got[0].RoomID)
	assert.True(t, got[0].Forced)

	err = w.HandleRecord(context.Background(), asynq.NewTask(result.TaskRecord, []byte("{")))
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, asynq.SkipRetry), "malformed payloads should not be retried")
}
