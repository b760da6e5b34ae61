// Package ledger records the answers of each round and detects when a round is complete.
package ledger

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/victornm/arena/internal/domain"
	"github.com/victornm/arena/internal/errors"
)

var (
	ErrDuplicateRound  = errors.New(errors.CodeAlreadyExists, errors.WithMessagef("round already started"))
	ErrAlreadyResolved = errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("round already resolved"))
	ErrRoundNotFound   = errors.New(errors.CodeNotFound, errors.WithMessagef("round not found"))
)

// RejectReason tells why a submission was not accepted.
type RejectReason string

const (
	ReasonNone               RejectReason = ""
	ReasonResolved           RejectReason = "resolved"
	ReasonUnknownParticipant RejectReason = "unknown_participant"
	ReasonUnknownQuestion    RejectReason = "unknown_question"
)

type Answer struct {
	QuestionID string
	Value      string
}

type SubmitResult struct {
	Accepted bool
	// RoundNowComplete is true for exactly one accepted submission per round: the one that made
	// the number of participants who answered every question reach the expected count.
	RoundNowComplete bool
	Reason           RejectReason
	Submission       domain.AnswerSubmission
}

type key struct {
	roomID string
	seq    int64
}

// round is dropped to a tombstone once resolved: only the counters and the resolved flag remain.
type round struct {
	mu       sync.Mutex
	expected map[string]struct{}
	correct  map[string]string
	// answers is keyed by participant then question.
	answers map[string]map[string]domain.AnswerSubmission
	// submitted counts participants who answered every question of the round.
	submitted   int
	expectedLen int
	complete    bool
	resolved    bool
	receipt     int64
}

// answersNeeded is the number of distinct questions a participant answers to be done with the
// round. A round without correct values takes any single answer.
func (r *round) answersNeeded() int {
	return max(1, len(r.correct))
}

// Ledger holds the answers of every round. Each round has its own lock.
type Ledger struct {
	now func() time.Time

	mu     sync.RWMutex
	rounds map[key]*round
}

type Option func(l *Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

func New(opts ...Option) *Ledger {
	l := &Ledger{
		now:    time.Now,
		rounds: make(map[key]*round),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// StartRound opens an empty, unresolved round. The expected set and the correct answers are frozen.
func (l *Ledger) StartRound(roomID string, seq int64, expected []string, correct map[string]string) error {
	k := key{roomID: roomID, seq: seq}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.rounds[k]; ok {
		return fmt.Errorf("%w: room=%s round=%d", ErrDuplicateRound, roomID, seq)
	}

	r := &round{
		expected: make(map[string]struct{}, len(expected)),
		correct:  make(map[string]string, len(correct)),
		answers:  make(map[string]map[string]domain.AnswerSubmission, len(expected)),
	}
	for _, p := range expected {
		r.expected[p] = struct{}{}
	}
	r.expectedLen = len(r.expected)
	for q, v := range correct {
		r.correct[q] = v
	}

	l.rounds[k] = r
	return nil
}

// Submit records or overwrites the participant's answer to a question. A participant counts
// toward completion once they have answered every question of the round. Late and stray
// submissions are rejected with Accepted=false rather than an error.
func (l *Ledger) Submit(roomID string, seq int64, participantID string, a Answer) (SubmitResult, error) {
	r, err := l.round(roomID, seq)
	if err != nil {
		return SubmitResult{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.resolved:
		return SubmitResult{Reason: ReasonResolved}, nil
	case !lo.HasKey(r.expected, participantID):
		return SubmitResult{Reason: ReasonUnknownParticipant}, nil
	case len(r.correct) > 0 && !lo.HasKey(r.correct, a.QuestionID):
		return SubmitResult{Reason: ReasonUnknownQuestion}, nil
	}

	r.receipt++
	sub := domain.AnswerSubmission{
		RoomID:        roomID,
		Sequence:      seq,
		ParticipantID: participantID,
		QuestionID:    a.QuestionID,
		Value:         a.Value,
		ReceiptOrder:  r.receipt,
		SubmitTime:    l.now(),
	}

	byQuestion, ok := r.answers[participantID]
	if !ok {
		byQuestion = make(map[string]domain.AnswerSubmission, len(r.correct))
		r.answers[participantID] = byQuestion
	}

	before := len(byQuestion)
	byQuestion[a.QuestionID] = sub
	if need := r.answersNeeded(); before < need && len(byQuestion) >= need {
		r.submitted++
	}

	res := SubmitResult{Accepted: true, Submission: sub}
	if !r.complete && r.submitted == r.expectedLen {
		r.complete = true
		res.RoundNowComplete = true
	}

	return res, nil
}

// Resolve marks the round resolved and returns its final answers ordered by receipt.
// Only the first call succeeds.
func (l *Ledger) Resolve(roomID string, seq int64) ([]domain.AnswerSubmission, error) {
	r, err := l.round(roomID, seq)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.resolved {
		return nil, fmt.Errorf("%w: room=%s round=%d", ErrAlreadyResolved, roomID, seq)
	}

	subs := make([]domain.AnswerSubmission, 0, len(r.answers)*r.answersNeeded())
	for _, byQuestion := range r.answers {
		for _, s := range byQuestion {
			subs = append(subs, s)
		}
	}
	slices.SortFunc(subs, func(a, b domain.AnswerSubmission) int {
		return int(a.ReceiptOrder - b.ReceiptOrder)
	})

	r.resolved = true
	r.answers = nil
	r.expected = nil
	r.correct = nil

	return subs, nil
}

// Progress returns how many participants have answered every question and how many are expected.
func (l *Ledger) Progress(roomID string, seq int64) (submitted, expected int, err error) {
	r, err := l.round(roomID, seq)
	if err != nil {
		return 0, 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.submitted, r.expectedLen, nil
}

func (l *Ledger) round(roomID string, seq int64) (*round, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	r, ok := l.rounds[key{roomID: roomID, seq: seq}]
	if !ok {
		return nil, fmt.Errorf("%w: room=%s round=%d", ErrRoundNotFound, roomID, seq)
	}

	return r, nil
}
