package result

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/victornm/arena/internal/domain"
)

const (
	TaskRecord = "arena:result:record"

	queueName = "results"
	maxRetry  = 10
)

// Queue enqueues results as asynq tasks. The task ID is derived from (room, sequence) so a
// result is enqueued at most once while its task is retained.
type Queue struct {
	client *asynq.Client
}

func NewQueue(opt asynq.RedisConnOpt) *Queue {
	return &Queue{client: asynq.NewClient(opt)}
}

func (q *Queue) Enqueue(ctx context.Context, r domain.RoundResult) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("result: marshal task: %w", err)
	}

	_, err = q.client.EnqueueContext(ctx, asynq.NewTask(TaskRecord, payload),
		asynq.TaskID(taskID(r)),
		asynq.Queue(queueName),
		asynq.MaxRetry(maxRetry),
	)
	if stderrors.Is(err, asynq.ErrTaskIDConflict) {
		slog.DebugContext(ctx, "result: task already enqueued", "id", r.ID, "room", r.RoomID, "round", r.Sequence)
		return nil
	}
	if err != nil {
		return fmt.Errorf("result: enqueue: %w", err)
	}

	return nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}

func taskID(r domain.RoundResult) string {
	return "result:" + r.ID
}

// Worker saves the results enqueued by Queue.
type Worker struct {
	server *asynq.Server
	store  Store
}

func NewWorker(opt asynq.RedisConnOpt, store Store, concurrency int) *Worker {
	if concurrency <= 0 {
		concurrency = 4
	}

	return &Worker{
		server: asynq.NewServer(opt, asynq.Config{
			Concurrency: concurrency,
			Queues:      map[string]int{queueName: 1},
			Logger:      asynqLogger{},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, t *asynq.Task, err error) {
				slog.ErrorContext(ctx, "result: task failed", "task", t.Type(), "error", err)
			}),
		}),
		store: store,
	}
}

// Run processes tasks until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskRecord, w.HandleRecord)

	if err := w.server.Start(mux); err != nil {
		return fmt.Errorf("result: start worker: %w", err)
	}

	<-ctx.Done()
	w.server.Shutdown()

	return nil
}

// HandleRecord saves the result carried by t. Malformed payloads are not retried.
func (w *Worker) HandleRecord(ctx context.Context, t *asynq.Task) error {
	var r domain.RoundResult
	if err := json.Unmarshal(t.Payload(), &r); err != nil {
		return fmt.Errorf("result: decode task: %v: %w", err, asynq.SkipRetry)
	}

	if err := w.store.Save(ctx, r); err != nil {
		return fmt.Errorf("result: save room=%s round=%d: %w", r.RoomID, r.Sequence, err)
	}

	slog.DebugContext(ctx, "result: recorded", "room", r.RoomID, "round", r.Sequence)
	return nil
}

type asynqLogger struct{}

func (asynqLogger) Debug(args ...any) { slog.Debug(fmt.Sprint(args...), "component", "asynq") }
func (asynqLogger) Info(args ...any)  { slog.Info(fmt.Sprint(args...), "component", "asynq") }
func (asynqLogger) Warn(args ...any)  { slog.Warn(fmt.Sprint(args...), "component", "asynq") }
func (asynqLogger) Error(args ...any) { slog.Error(fmt.Sprint(args...), "component", "asynq") }
func (asynqLogger) Fatal(args ...any) {
	slog.Error(fmt.Sprint(args...), "component", "asynq", "fatal", true)
}
