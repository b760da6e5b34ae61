// Package scoring compares answers with the correct values and aggregates results into leaderboards.
// Every function here is pure.
package scoring

import (
	"cmp"
	"slices"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/victornm/arena/internal/domain"
)

const xpPerCorrectAnswer = 10

// Score returns one point per correct answer for every expected participant. Participants without
// any submission score zero. When a participant answered a question more than once only the
// latest submission, by receipt order, counts.
func Score(expected []string, subs []domain.AnswerSubmission, correct map[string]string) map[string]int {
	scores := make(map[string]int, len(expected))
	for _, p := range expected {
		scores[p] = 0
	}

	type answerKey struct{ participant, question string }
	latest := make(map[answerKey]domain.AnswerSubmission, len(subs))
	for _, s := range subs {
		k := answerKey{participant: s.ParticipantID, question: s.QuestionID}
		if prev, ok := latest[k]; !ok || s.ReceiptOrder > prev.ReceiptOrder {
			latest[k] = s
		}
	}

	for k, s := range latest {
		if _, ok := scores[k.participant]; !ok {
			continue
		}
		if want, ok := correct[k.question]; ok && want == s.Value {
			scores[k.participant]++
		}
	}

	return scores
}

// Scope narrows a leaderboard to one topic or one room. Empty fields match everything.
type Scope struct {
	Topic  string
	RoomID string
}

func (s Scope) match(r domain.RoundResult) bool {
	return (s.Topic == "" || s.Topic == r.Topic) && (s.RoomID == "" || s.RoomID == r.RoomID)
}

// Leaderboard sums scores per participant over the results resolved within the window. Entries
// are sorted by score descending, then by the time the participant was first scored, then by ID.
func Leaderboard(results []domain.RoundResult, w domain.Window, scope Scope, now time.Time) []domain.LeaderboardEntry {
	since := w.Since(now)

	type agg struct {
		score int
		first time.Time
	}
	totals := make(map[string]*agg)

	for _, r := range results {
		if r.ResolveTime.Before(since) || r.ResolveTime.After(now) || !scope.match(r) {
			continue
		}

		for p, sc := range r.Scores {
			a, ok := totals[p]
			if !ok {
				totals[p] = &agg{score: sc, first: r.ResolveTime}
				continue
			}
			a.score += sc
			if r.ResolveTime.Before(a.first) {
				a.first = r.ResolveTime
			}
		}
	}

	entries := lo.MapToSlice(totals, func(p string, a *agg) domain.LeaderboardEntry {
		return domain.LeaderboardEntry{
			ParticipantID:  p,
			Score:          a.score,
			Window:         w,
			FirstScoreTime: a.first,
		}
	})

	slices.SortFunc(entries, func(a, b domain.LeaderboardEntry) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := a.FirstScoreTime.Compare(b.FirstScoreTime); c != 0 {
			return c
		}
		return cmp.Compare(a.ParticipantID, b.ParticipantID)
	})

	for i := range entries {
		entries[i].Rank = i + 1
	}

	return entries
}

// Evaluate grades a solo practice submission. Answers to questions without a known correct value
// count as wrong. Accuracy is a percentage rounded to two decimals.
func Evaluate(participantID string, answers, correct map[string]string) domain.Evaluation {
	ev := domain.Evaluation{
		ParticipantID: participantID,
		Total:         len(answers),
		Accuracy:      decimal.Zero,
		Results:       make(map[string]bool, len(answers)),
	}

	for q, v := range answers {
		want, ok := correct[q]
		ok = ok && want == v
		ev.Results[q] = ok
		if ok {
			ev.Correct++
		}
	}

	if ev.Total > 0 {
		ev.Accuracy = decimal.NewFromInt(int64(ev.Correct)).
			Mul(decimal.NewFromInt(100)).
			Div(decimal.NewFromInt(int64(ev.Total))).
			Round(2)
	}
	ev.XP = ev.Correct * xpPerCorrectAnswer

	return ev
}
