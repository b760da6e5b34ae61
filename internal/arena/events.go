package arena

import (
	"time"

	"github.com/victornm/arena/internal/broadcast"
	"github.com/victornm/arena/internal/domain"
)

// Inbound is an event addressed to a room by a participant.
type Inbound interface {
	Room() string
}

type Join struct {
	RoomID        string `validate:"required,max=128"`
	ParticipantID string `validate:"required,max=128"`
	Handle        string `validate:"max=64"`
}

type Leave struct {
	RoomID        string `validate:"required,max=128"`
	ParticipantID string `validate:"required,max=128"`
}

type Chat struct {
	RoomID        string `validate:"required,max=128"`
	ParticipantID string `validate:"required,max=128"`
	Text          string `validate:"required,max=1000"`
}

type Answer struct {
	RoomID        string `validate:"required,max=128"`
	ParticipantID string `validate:"required,max=128"`
	QuestionID    string `validate:"required,max=128"`
	Value         string `validate:"required,max=1000"`
}

func (j Join) Room() string   { return j.RoomID }
func (l Leave) Room() string  { return l.RoomID }
func (c Chat) Room() string   { return c.RoomID }
func (a Answer) Room() string { return a.RoomID }

// RoundSpec describes the questions of a round to start.
type RoundSpec struct {
	Topic      string `json:"topic" validate:"max=64"`
	Difficulty string `json:"difficulty" validate:"max=32"`
	Count      int    `json:"count" validate:"min=1,max=50"`
}

type JoinedData struct {
	ParticipantID string `json:"participant_id"`
	Handle        string `json:"handle,omitempty"`
}

type LeftData struct {
	ParticipantID string `json:"participant_id"`
}

type PlayerListData struct {
	Players []string `json:"players"`
}

type ChatData struct {
	ParticipantID string    `json:"participant_id"`
	Text          string    `json:"text"`
	Timestamp     time.Time `json:"timestamp"`
}

type AnsweredData struct {
	ParticipantID string `json:"participant_id"`
}

// QuestionView is a question as shown to participants, without its correct value.
type QuestionView struct {
	QuestionID string   `json:"question_id"`
	Text       string   `json:"text"`
	Options    []string `json:"options,omitempty"`
}

type RoundStartedData struct {
	ID         string         `json:"round_id"`
	Sequence   int64          `json:"round_seq"`
	Topic      string         `json:"topic,omitempty"`
	Difficulty string         `json:"difficulty,omitempty"`
	Questions  []QuestionView `json:"questions"`
	Expected   []string       `json:"expected"`
	StartTime  time.Time      `json:"start_time"`
}

type RoundResultData struct {
	Result domain.RoundResult `json:"result"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func joinedMessage(participantID, handle string) broadcast.Message {
	return broadcast.Message{Type: broadcast.TypeJoined, Data: JoinedData{ParticipantID: participantID, Handle: handle}}
}

func leftMessage(participantID string) broadcast.Message {
	return broadcast.Message{Type: broadcast.TypeLeft, Data: LeftData{ParticipantID: participantID}}
}

func playerListMessage(players []string) broadcast.Message {
	return broadcast.Message{Type: broadcast.TypePlayerList, Data: PlayerListData{Players: players}}
}

func chatMessage(participantID, text string, ts time.Time) broadcast.Message {
	return broadcast.Message{Type: broadcast.TypeChat, Data: ChatData{ParticipantID: participantID, Text: text, Timestamp: ts}}
}

func answeredMessage(participantID string) broadcast.Message {
	return broadcast.Message{Type: broadcast.TypeAnswered, Data: AnsweredData{ParticipantID: participantID}}
}

// RoundView is the round as shown to participants.
func RoundView(r domain.Round) RoundStartedData {
	qs := make([]QuestionView, 0, len(r.Questions))
	for _, q := range r.Questions {
		qs = append(qs, QuestionView{QuestionID: q.QuestionID, Text: q.Text, Options: q.Options})
	}

	return RoundStartedData{
		ID:         r.ID,
		Sequence:   r.Sequence,
		Topic:      r.Topic,
		Difficulty: r.Difficulty,
		Questions:  qs,
		Expected:   r.Expected,
		StartTime:  r.StartTime,
	}
}

func roundStartedMessage(r domain.Round) broadcast.Message {
	return broadcast.Message{Type: broadcast.TypeRoundStarted, Data: RoundView(r)}
}

func roundResultMessage(res domain.RoundResult) broadcast.Message {
	return broadcast.Message{Type: broadcast.TypeRoundResult, Data: RoundResultData{Result: res}}
}

// ErrorMessage is sent to a single participant whose inbound event was rejected.
func ErrorMessage(code, message string) broadcast.Message {
	return broadcast.Message{Type: broadcast.TypeError, Data: ErrorData{Code: code, Message: message}}
}
