package scoring_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/arena/internal/domain"
	"github.com/victornm/arena/internal/scoring"
)

func TestScore(t *testing.T) {
	tests := map[string]struct {
		expected []string
		subs     []domain.AnswerSubmission
		correct  map[string]string
		want     map[string]int
	}{
		"correct and incorrect answers": {
			expected: []string{"alice", "bob"},
			subs: []domain.AnswerSubmission{
				sub("alice", "q1", "B", 1),
				sub("bob", "q1", "A", 2),
			},
			correct: map[string]string{"q1": "B"},
			want:    map[string]int{"alice": 1, "bob": 0},
		},
		"participant without submission should score zero but be listed": {
			expected: []string{"alice", "bob"},
			subs:     []domain.AnswerSubmission{sub("alice", "q1", "B", 1)},
			correct:  map[string]string{"q1": "B"},
			want:     map[string]int{"alice": 1, "bob": 0},
		},
		"multiple questions should add up": {
			expected: []string{"alice"},
			subs: []domain.AnswerSubmission{
				sub("alice", "q1", "B", 1),
				sub("alice", "q2", "C", 2),
				sub("alice", "q3", "X", 3),
			},
			correct: map[string]string{"q1": "B", "q2": "C", "q3": "D"},
			want:    map[string]int{"alice": 2},
		},
		"only the latest answer to a question should count": {
			expected: []string{"alice"},
			subs: []domain.AnswerSubmission{
				sub("alice", "q1", "A", 3),
				sub("alice", "q1", "B", 1),
			},
			correct: map[string]string{"q1": "B"},
			want:    map[string]int{"alice": 0},
		},
		"participants outside the expected set should be ignored": {
			expected: []string{"alice"},
			subs:     []domain.AnswerSubmission{sub("mallory", "q1", "B", 1)},
			correct:  map[string]string{"q1": "B"},
			want:     map[string]int{"alice": 0},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got := scoring.Score(tt.expected, tt.subs, tt.correct)
			assert.Equal(t, tt.want, got)

			for i := 0; i < 10; i++ {
				assert.Equal(t, got, scoring.Score(tt.expected, tt.subs, tt.correct), "score should be deterministic")
			}
		})
	}
}

func TestLeaderboard(t *testing.T) {
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

	results := []domain.RoundResult{
		result("r1", "go", now.Add(-10*24*time.Hour), map[string]int{"alice": 5, "bob": 1}),
		result("r1", "go", now.Add(-3*time.Hour), map[string]int{"alice": 1, "bob": 2}),
		result("r2", "sql", now.Add(-2*time.Hour), map[string]int{"carol": 3, "bob": 0}),
		result("r1", "go", now.Add(-time.Hour), map[string]int{"alice": 1, "bob": 0}),
	}

	tests := map[string]struct {
		window domain.Window
		scope  scoring.Scope
		want   []domain.LeaderboardEntry
	}{
		"day window should drop old results and break ties by first score time": {
			window: domain.WindowDay,
			want: []domain.LeaderboardEntry{
				entry(1, "carol", 3, domain.WindowDay, now.Add(-2*time.Hour)),
				entry(2, "alice", 2, domain.WindowDay, now.Add(-3*time.Hour)),
				entry(3, "bob", 2, domain.WindowDay, now.Add(-3*time.Hour)),
			},
		},
		"all-time window should include everything": {
			window: domain.WindowAll,
			want: []domain.LeaderboardEntry{
				entry(1, "alice", 7, domain.WindowAll, now.Add(-10*24*time.Hour)),
				entry(2, "bob", 3, domain.WindowAll, now.Add(-10*24*time.Hour)),
				entry(3, "carol", 3, domain.WindowAll, now.Add(-2*time.Hour)),
			},
		},
		"topic scope should filter results": {
			window: domain.WindowWeek,
			scope:  scoring.Scope{Topic: "sql"},
			want: []domain.LeaderboardEntry{
				entry(1, "carol", 3, domain.WindowWeek, now.Add(-2*time.Hour)),
				entry(2, "bob", 0, domain.WindowWeek, now.Add(-2*time.Hour)),
			},
		},
		"room scope should filter results": {
			window: domain.WindowWeek,
			scope:  scoring.Scope{RoomID: "r1"},
			want: []domain.LeaderboardEntry{
				entry(1, "alice", 2, domain.WindowWeek, now.Add(-3*time.Hour)),
				entry(2, "bob", 2, domain.WindowWeek, now.Add(-3*time.Hour)),
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got := scoring.Leaderboard(results, tt.window, tt.scope, now)
			require.Equal(t, tt.want, got)

			for i := 0; i < 20; i++ {
				require.Equal(t, got, scoring.Leaderboard(results, tt.window, tt.scope, now), "ordering should be reproducible")
			}
		})
	}
}

func TestLeaderboard_EqualTimesFallBackToID(t *testing.T) {
	now := time.Now()
	results := []domain.RoundResult{
		result("r1", "go", now.Add(-time.Minute), map[string]int{"zoe": 1, "adam": 1, "mia": 1}),
	}

	got := scoring.Leaderboard(results, domain.WindowAll, scoring.Scope{}, now)

	ids := make([]string, 0, len(got))
	for _, e := range got {
		ids = append(ids, e.ParticipantID)
	}
	assert.Equal(t, []string{"adam", "mia", "zoe"}, ids)
}

func TestEvaluate(t *testing.T) {
	tests := map[string]struct {
		answers      map[string]string
		correct      map[string]string
		wantCorrect  int
		wantAccuracy string
		wantXP       int
	}{
		"all correct": {
			answers:      map[string]string{"q1": "A", "q2": "B"},
			correct:      map[string]string{"q1": "A", "q2": "B"},
			wantCorrect:  2,
			wantAccuracy: "100",
			wantXP:       20,
		},
		"accuracy should be rounded": {
			answers:      map[string]string{"q1": "A", "q2": "X", "q3": "C"},
			correct:      map[string]string{"q1": "A", "q2": "B", "q3": "D"},
			wantCorrect:  1,
			wantAccuracy: "33.33",
			wantXP:       10,
		},
		"unknown question should count as wrong": {
			answers:      map[string]string{"q9": "A"},
			correct:      map[string]string{},
			wantCorrect:  0,
			wantAccuracy: "0",
		},
		"empty submission": {
			answers:      map[string]string{},
			wantAccuracy: "0",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			ev := scoring.Evaluate("alice", tt.answers, tt.correct)

			assert.Equal(t, tt.wantCorrect, ev.Correct)
			assert.Equal(t, len(tt.answers), ev.Total)
			assert.True(t, decimal.RequireFromString(tt.wantAccuracy).Equal(ev.Accuracy), "accuracy: %s", ev.Accuracy)
			assert.Equal(t, tt.wantXP, ev.XP)
		})
	}
}

func sub(p, q, v string, order int64) domain.AnswerSubmission {
	return domain.AnswerSubmission{RoomID: "r1", Sequence: 1, ParticipantID: p, QuestionID: q, Value: v, ReceiptOrder: order}
}

func result(room, topic string, at time.Time, scores map[string]int) domain.RoundResult {
	return domain.RoundResult{RoomID: room, Topic: topic, ResolveTime: at, Scores: scores}
}

func entry(rank int, p string, score int, w domain.Window, first time.Time) domain.LeaderboardEntry {
	return domain.LeaderboardEntry{Rank: rank, ParticipantID: p, Score: score, Window: w, FirstScoreTime: first}
}
