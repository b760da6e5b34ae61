package result

import (
	"context"
	"log/slog"

	"github.com/victornm/arena/internal/domain"
	"github.com/victornm/arena/internal/event"
)

// Enqueuer hands results over to a background worker instead of saving them inline.
type Enqueuer interface {
	Enqueue(ctx context.Context, r domain.RoundResult) error
}

type RecorderConfig struct {
	EventBus *event.Bus
	Store    Store
	// Queue is optional. When set results are enqueued and saved by the Worker.
	Queue Enqueuer
}

// Recorder writes every resolved round to the result store.
type Recorder struct {
	store Store
	queue Enqueuer
}

func NewRecorder(c RecorderConfig) *Recorder {
	r := &Recorder{
		store: c.Store,
		queue: c.Queue,
	}

	c.EventBus.Subscribe(domain.EventNameRoundResolved, func(ctx context.Context, e event.Event) error {
		return r.Record(ctx, e.(domain.EventRoundResolved).Result)
	})

	return r
}

func (r *Recorder) Record(ctx context.Context, res domain.RoundResult) error {
	if r.queue != nil {
		return r.queue.Enqueue(ctx, res)
	}

	if err := r.store.Save(ctx, res); err != nil {
		return err
	}

	slog.DebugContext(ctx, "result: recorded", "id", res.ID, "room", res.RoomID, "round", res.Sequence)
	return nil
}
