// Package arena coordinates the rooms of the quiz arena: it applies inbound participant events to
// the registry and the ledger, runs each room's round lifecycle and publishes what happened.
package arena

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/victornm/arena/internal/broadcast"
	"github.com/victornm/arena/internal/domain"
	"github.com/victornm/arena/internal/errors"
	"github.com/victornm/arena/internal/event"
	"github.com/victornm/arena/internal/ledger"
	"github.com/victornm/arena/internal/question"
	"github.com/victornm/arena/internal/registry"
	"github.com/victornm/arena/internal/scoring"
	"github.com/victornm/arena/internal/telemetry"
)

var (
	ErrRoundInProgress = errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("a round is already in progress"))
	ErrNoActiveRound   = errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("no round in progress"))
	ErrNoParticipants  = errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("room has no participants"))
	ErrNoCorrectAnswer = errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("question has no correct answer"))
)

// ReasonNoActiveRound rejects answers sent to an idle room.
const ReasonNoActiveRound ledger.RejectReason = "no_active_round"

type Config struct {
	Registry  *registry.Registry
	Ledger    *ledger.Ledger
	Broadcast broadcast.Publisher
	Questions question.Source
	EventBus  *event.Bus
	Now       func() time.Time
	// RoundTimeout force-resolves rounds still in progress after this long. Zero disables it.
	RoundTimeout time.Duration
}

// Outcome reports the effect of an inbound event.
type Outcome struct {
	State   domain.RoomState
	Created bool
	Players []string

	Accepted bool
	Reason   ledger.RejectReason
	// Result is set when the event resolved the round.
	Result *domain.RoundResult
}

// RoomView is a read-only view of a room.
type RoomView struct {
	RoomID   string           `json:"room_id"`
	State    domain.RoomState `json:"-"`
	Status   string           `json:"state"`
	Players  []string         `json:"players"`
	Sequence int64            `json:"round_seq"`
	Round    *RoundProgress   `json:"round,omitempty"`
}

type RoundProgress struct {
	Sequence  int64     `json:"round_seq"`
	Expected  []string  `json:"expected"`
	Submitted int       `json:"submitted"`
	StartTime time.Time `json:"start_time"`
}

type Coordinator struct {
	registry     *registry.Registry
	ledger       *ledger.Ledger
	broadcast    broadcast.Publisher
	questions    question.Source
	bus          *event.Bus
	now          func() time.Time
	roundTimeout time.Duration
	validate     *validator.Validate

	mu    sync.Mutex
	rooms map[string]*room
}

// room is the coordinator's state of one room. mu serializes every event of the room, so the
// messages of a room are published in the order its state changed.
type room struct {
	mu    sync.Mutex
	id    string
	seq   int64
	round *domain.Round
	timer *time.Timer
}

func (r *room) state() domain.RoomState {
	if r.round != nil {
		return domain.RoomRoundInProgress
	}
	return domain.RoomIdle
}

func New(c Config) *Coordinator {
	if c.Now == nil {
		c.Now = time.Now
	}

	return &Coordinator{
		registry:     c.Registry,
		ledger:       c.Ledger,
		broadcast:    c.Broadcast,
		questions:    c.Questions,
		bus:          c.EventBus,
		now:          c.Now,
		roundTimeout: c.RoundTimeout,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		rooms:        make(map[string]*room),
	}
}

// Handle dispatches an inbound event to its operation.
func (c *Coordinator) Handle(ctx context.Context, in Inbound) (Outcome, error) {
	switch e := in.(type) {
	case Join:
		return c.Join(ctx, e)
	case Leave:
		return c.Leave(ctx, e)
	case Chat:
		return c.Chat(ctx, e)
	case Answer:
		return c.Answer(ctx, e)
	default:
		return Outcome{}, errors.InvalidArgument("unsupported event %T", in)
	}
}

// Join adds the participant to the room, creating the room if needed. JOINED is published when the
// participant was not in the room yet, PLAYER_LIST always.
func (c *Coordinator) Join(ctx context.Context, in Join) (Outcome, error) {
	if err := c.check(in); err != nil {
		return Outcome{}, err
	}

	rm := c.room(in.RoomID)
	rm.mu.Lock()
	defer rm.mu.Unlock()

	ch := c.joinLocked(ctx, rm, in.ParticipantID, in.Handle)
	if !ch.Changed {
		c.broadcast.Publish(ctx, rm.id, playerListMessage(ch.Players))
	}

	return Outcome{State: rm.state(), Created: ch.Created, Players: ch.Players}, nil
}

// Leave removes the participant from the room. A participant leaving mid-round stays in the
// round's expected set.
func (c *Coordinator) Leave(ctx context.Context, in Leave) (Outcome, error) {
	if err := c.check(in); err != nil {
		return Outcome{}, err
	}

	rm := c.room(in.RoomID)
	rm.mu.Lock()
	defer rm.mu.Unlock()

	ch := c.registry.Leave(rm.id, in.ParticipantID)
	c.created(ctx, rm.id, ch.Created)

	if ch.Changed {
		slog.InfoContext(ctx, "arena: participant left", "room", rm.id, "participant", in.ParticipantID)
		c.broadcast.Publish(ctx, rm.id, leftMessage(in.ParticipantID))
		c.broadcast.Publish(ctx, rm.id, playerListMessage(ch.Players))
	}

	return Outcome{State: rm.state(), Created: ch.Created, Players: ch.Players}, nil
}

// Chat republishes the text stamped with the server time.
func (c *Coordinator) Chat(ctx context.Context, in Chat) (Outcome, error) {
	if err := c.check(in); err != nil {
		return Outcome{}, err
	}

	rm := c.room(in.RoomID)
	rm.mu.Lock()
	defer rm.mu.Unlock()

	out := c.implicitJoinLocked(ctx, rm, in.ParticipantID)
	c.broadcast.Publish(ctx, rm.id, chatMessage(in.ParticipantID, in.Text, c.now()))

	out.State = rm.state()
	return out, nil
}

// Answer records the participant's answer in the current round. The answer that completes the
// round resolves it before Answer returns.
func (c *Coordinator) Answer(ctx context.Context, in Answer) (Outcome, error) {
	if err := c.check(in); err != nil {
		return Outcome{}, err
	}

	rm := c.room(in.RoomID)
	rm.mu.Lock()
	defer rm.mu.Unlock()

	out := c.implicitJoinLocked(ctx, rm, in.ParticipantID)

	if rm.round == nil {
		c.rejected(ctx, rm.id, rm.seq, in.ParticipantID, ReasonNoActiveRound)
		out.State, out.Reason = rm.state(), ReasonNoActiveRound
		return out, nil
	}

	seq := rm.round.Sequence
	res, err := c.ledger.Submit(rm.id, seq, in.ParticipantID, ledger.Answer{
		QuestionID: in.QuestionID,
		Value:      in.Value,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("arena: submit: %w", err)
	}

	if !res.Accepted {
		c.rejected(ctx, rm.id, seq, in.ParticipantID, res.Reason)
		out.State, out.Reason = rm.state(), res.Reason
		return out, nil
	}

	telemetry.Submissions.WithLabelValues("accepted").Inc()
	c.broadcast.Publish(ctx, rm.id, answeredMessage(in.ParticipantID))
	out.Accepted = true

	if res.RoundNowComplete {
		result, err := c.resolveLocked(ctx, rm, false)
		if err != nil {
			return Outcome{}, err
		}
		out.Result = &result
	}

	out.State = rm.state()
	return out, nil
}

// StartRound samples the questions of a new round and starts it with the room's current
// participants as the expected set.
func (c *Coordinator) StartRound(ctx context.Context, roomID string, spec RoundSpec) (*domain.Round, error) {
	if roomID == "" {
		return nil, errors.InvalidArgument("room id is required")
	}
	if err := c.check(spec); err != nil {
		return nil, err
	}

	rm := c.room(roomID)
	if err := c.startable(rm); err != nil {
		return nil, err
	}

	// Sampling may hit the network, so it runs without holding the room.
	questions, err := c.questions.SampleQuestions(ctx, spec.Topic, spec.Difficulty, spec.Count)
	if err != nil {
		return nil, fmt.Errorf("arena: sample questions: %w", err)
	}
	if err := c.fillCorrect(ctx, questions); err != nil {
		return nil, err
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.round != nil {
		return nil, fmt.Errorf("%w: room=%s round=%d", ErrRoundInProgress, rm.id, rm.round.Sequence)
	}

	expected := c.registry.Snapshot(rm.id)
	if len(expected) == 0 {
		return nil, fmt.Errorf("%w: room=%s", ErrNoParticipants, rm.id)
	}

	r := domain.Round{
		ID:         uuid.NewString(),
		RoomID:     rm.id,
		Sequence:   rm.seq + 1,
		Topic:      spec.Topic,
		Difficulty: spec.Difficulty,
		Questions:  questions,
		Expected:   expected,
		StartTime:  c.now(),
	}

	if err := c.ledger.StartRound(r.RoomID, r.Sequence, r.Expected, r.CorrectAnswers()); err != nil {
		return nil, fmt.Errorf("arena: start round: %w", err)
	}

	rm.seq = r.Sequence
	rm.round = &r

	if c.roundTimeout > 0 {
		rm.timer = time.AfterFunc(c.roundTimeout, func() {
			c.expire(context.WithoutCancel(ctx), rm, r.Sequence)
		})
	}

	telemetry.RoundsStarted.Inc()
	slog.InfoContext(ctx, "arena: round started",
		"room", r.RoomID,
		"round", r.Sequence,
		"topic", r.Topic,
		"questions", len(r.Questions),
		"expected", len(r.Expected),
	)

	c.broadcast.Publish(ctx, rm.id, roundStartedMessage(r))
	c.publishEvent(ctx, domain.EventRoundStarted{Round: r})

	return &r, nil
}

// ForceResolve resolves the room's current round with whatever has been submitted so far.
func (c *Coordinator) ForceResolve(ctx context.Context, roomID string) (domain.RoundResult, error) {
	if roomID == "" {
		return domain.RoundResult{}, errors.InvalidArgument("room id is required")
	}

	rm := c.room(roomID)
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.round == nil {
		return domain.RoundResult{}, fmt.Errorf("%w: room=%s", ErrNoActiveRound, rm.id)
	}

	return c.resolveLocked(ctx, rm, true)
}

// State returns the room's current state. Unknown rooms are reported as not found and are not
// created.
func (c *Coordinator) State(ctx context.Context, roomID string) (RoomView, error) {
	v := RoomView{RoomID: roomID, State: domain.RoomNotFound, Players: []string{}}
	if !c.registry.Exists(roomID) {
		v.Status = v.State.String()
		return v, nil
	}

	rm := c.room(roomID)
	rm.mu.Lock()
	defer rm.mu.Unlock()

	v.State = rm.state()
	v.Status = v.State.String()
	v.Players = c.registry.Snapshot(roomID)
	v.Sequence = rm.seq

	if rm.round != nil {
		submitted, _, err := c.ledger.Progress(rm.id, rm.round.Sequence)
		if err != nil {
			return RoomView{}, fmt.Errorf("arena: round progress: %w", err)
		}
		v.Round = &RoundProgress{
			Sequence:  rm.round.Sequence,
			Expected:  rm.round.Expected,
			Submitted: submitted,
			StartTime: rm.round.StartTime,
		}
	}

	return v, nil
}

func (c *Coordinator) startable(rm *room) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.round != nil {
		return fmt.Errorf("%w: room=%s round=%d", ErrRoundInProgress, rm.id, rm.round.Sequence)
	}
	if len(c.registry.Snapshot(rm.id)) == 0 {
		return fmt.Errorf("%w: room=%s", ErrNoParticipants, rm.id)
	}

	return nil
}

// fillCorrect looks up the correct value of questions sampled without one. A question that still
// has none cannot be scored and fails the round.
func (c *Coordinator) fillCorrect(ctx context.Context, qs []domain.Question) error {
	missing := lo.FilterMap(qs, func(q domain.Question, _ int) (string, bool) {
		return q.QuestionID, q.Correct == ""
	})
	if len(missing) == 0 {
		return nil
	}

	correct, err := c.questions.CorrectAnswers(ctx, missing)
	if err != nil {
		return fmt.Errorf("arena: correct answers: %w", err)
	}

	for i := range qs {
		if qs[i].Correct == "" {
			qs[i].Correct = correct[qs[i].QuestionID]
		}
		if qs[i].Correct == "" {
			return fmt.Errorf("%w: question=%s", ErrNoCorrectAnswer, qs[i].QuestionID)
		}
	}

	return nil
}

func (c *Coordinator) resolveLocked(ctx context.Context, rm *room, forced bool) (domain.RoundResult, error) {
	r := rm.round

	subs, err := c.ledger.Resolve(rm.id, r.Sequence)
	if err != nil {
		return domain.RoundResult{}, fmt.Errorf("arena: resolve: %w", err)
	}

	result := domain.RoundResult{
		ID:           r.ID,
		RoomID:       rm.id,
		Sequence:     r.Sequence,
		Topic:        r.Topic,
		Participants: r.Expected,
		Scores:       scoring.Score(r.Expected, subs, r.CorrectAnswers()),
		Forced:       forced,
		ResolveTime:  c.now(),
	}

	rm.round = nil
	if rm.timer != nil {
		rm.timer.Stop()
		rm.timer = nil
	}

	trigger := "complete"
	if forced {
		trigger = "forced"
	}
	telemetry.RoundsResolved.WithLabelValues(trigger).Inc()
	slog.InfoContext(ctx, "arena: round resolved",
		"room", result.RoomID,
		"round", result.Sequence,
		"trigger", trigger,
		"submissions", len(subs),
	)

	c.broadcast.Publish(ctx, rm.id, roundResultMessage(result))
	c.publishEvent(ctx, domain.EventRoundResolved{Result: result})

	return result, nil
}

// expire force-resolves round seq if it is still the room's current round.
func (c *Coordinator) expire(ctx context.Context, rm *room, seq int64) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.round == nil || rm.round.Sequence != seq {
		return
	}

	slog.InfoContext(ctx, "arena: round timed out", "room", rm.id, "round", seq)
	if _, err := c.resolveLocked(ctx, rm, true); err != nil {
		slog.ErrorContext(ctx, "arena: resolve timed out round failed", "room", rm.id, "round", seq, "error", err)
	}
}

func (c *Coordinator) joinLocked(ctx context.Context, rm *room, participantID, handle string) registry.Change {
	ch := c.registry.Join(rm.id, participantID)
	c.created(ctx, rm.id, ch.Created)

	if ch.Changed {
		slog.InfoContext(ctx, "arena: participant joined", "room", rm.id, "participant", participantID)
		c.broadcast.Publish(ctx, rm.id, joinedMessage(participantID, handle))
		c.broadcast.Publish(ctx, rm.id, playerListMessage(ch.Players))
	}

	return ch
}

// implicitJoinLocked joins the participant when the event is the first reference to the room.
func (c *Coordinator) implicitJoinLocked(ctx context.Context, rm *room, participantID string) Outcome {
	if c.registry.Exists(rm.id) {
		return Outcome{Players: c.registry.Snapshot(rm.id)}
	}

	ch := c.joinLocked(ctx, rm, participantID, "")
	return Outcome{Created: ch.Created, Players: ch.Players}
}

func (c *Coordinator) created(ctx context.Context, roomID string, created bool) {
	if !created {
		return
	}

	telemetry.Rooms.Inc()
	slog.InfoContext(ctx, "arena: room created", "room", roomID)
}

func (c *Coordinator) rejected(ctx context.Context, roomID string, seq int64, participantID string, reason ledger.RejectReason) {
	telemetry.Submissions.WithLabelValues(string(reason)).Inc()
	slog.WarnContext(ctx, "arena: submission rejected",
		"room", roomID,
		"round", seq,
		"participant", participantID,
		"reason", reason,
	)
}

func (c *Coordinator) publishEvent(ctx context.Context, e event.Event) {
	if c.bus != nil {
		c.bus.Publish(ctx, e)
	}
}

func (c *Coordinator) check(v any) error {
	if err := c.validate.Struct(v); err != nil {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("invalid %T: %s", v, err),
			errors.WithCause(err),
		)
	}
	return nil
}

func (c *Coordinator) room(id string) *room {
	c.mu.Lock()
	defer c.mu.Unlock()

	rm, ok := c.rooms[id]
	if !ok {
		rm = &room{id: id}
		c.rooms[id] = rm
	}

	return rm
}
