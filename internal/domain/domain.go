package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Participant is a player of the arena. The canonical record is owned by the identity provider,
// rooms only reference the ID.
type Participant struct {
	ID     string `json:"participant_id"`
	Handle string `json:"handle,omitempty"`
}

// RoomState is the lifecycle state of a room as seen by the coordinator.
type RoomState int

const (
	RoomNotFound RoomState = iota
	RoomIdle
	RoomRoundInProgress
)

func (s RoomState) String() string {
	switch s {
	case RoomIdle:
		return "idle"
	case RoomRoundInProgress:
		return "round_in_progress"
	default:
		return "not_found"
	}
}

// Question is a single question of a round. Correct is never sent to participants.
type Question struct {
	QuestionID string
	Topic      string
	Difficulty string
	Text       string
	Options    []string
	Correct    string
}

// Round is one question cycle of a room, identified by (RoomID, Sequence) within a process.
// ID is unique across restarts, where sequences start over.
type Round struct {
	ID         string
	RoomID     string
	Sequence   int64
	Topic      string
	Difficulty string
	Questions  []Question
	// Expected is the frozen set of participants counted toward completion, in join order.
	Expected  []string
	StartTime time.Time
}

// CorrectAnswers maps question ID to its correct value.
func (r Round) CorrectAnswers() map[string]string {
	m := make(map[string]string, len(r.Questions))
	for _, q := range r.Questions {
		m[q.QuestionID] = q.Correct
	}
	return m
}

type AnswerSubmission struct {
	RoomID        string    `json:"room_id"`
	Sequence      int64     `json:"round_seq"`
	ParticipantID string    `json:"participant_id"`
	QuestionID    string    `json:"question_id"`
	Value         string    `json:"value"`
	ReceiptOrder  int64     `json:"receipt_order"`
	SubmitTime    time.Time `json:"submit_time"`
}

// RoundResult is produced exactly once per round and never mutated afterwards. ID is the round's ID.
type RoundResult struct {
	ID       string `json:"id"`
	RoomID   string `json:"room_id"`
	Sequence int64  `json:"round_seq"`
	Topic    string `json:"topic,omitempty"`
	// Participants is the expected set of the round in join order.
	Participants []string       `json:"participants"`
	Scores       map[string]int `json:"scores"`
	Forced       bool           `json:"forced,omitempty"`
	ResolveTime  time.Time      `json:"resolve_time"`
}

// LeaderboardEntry is an aggregate over RoundResult history for one window.
type LeaderboardEntry struct {
	Rank           int       `json:"rank"`
	ParticipantID  string    `json:"participant_id"`
	Score          int       `json:"score"`
	Window         Window    `json:"window"`
	FirstScoreTime time.Time `json:"first_score_time"`
}

// Leaderboard is sorted by score in descending order.
type Leaderboard struct {
	Window  Window             `json:"window"`
	Topic   string             `json:"topic,omitempty"`
	RoomID  string             `json:"room_id,omitempty"`
	Entries []LeaderboardEntry `json:"entries"`
}

// Standings are the live cumulative scores of a room since it was created.
type Standings struct {
	RoomID  string           `json:"room_id"`
	Entries []StandingsEntry `json:"entries"`
}

type StandingsEntry struct {
	ParticipantID string  `json:"participant_id"`
	Score         float64 `json:"score"`
}

// Evaluation is the outcome of a solo practice submission.
type Evaluation struct {
	ParticipantID string          `json:"participant_id"`
	Correct       int             `json:"correct"`
	Total         int             `json:"total"`
	Accuracy      decimal.Decimal `json:"accuracy"`
	XP            int             `json:"xp"`
	Results       map[string]bool `json:"results"`
}
