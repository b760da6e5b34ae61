package question_test

import (
	"context"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/arena/internal/domain"
	"github.com/victornm/arena/internal/errors"
	"github.com/victornm/arena/internal/question"
)

const bankYAML = `
questions:
  - id: go-1
    topic: go
    difficulty: easy
    text: Which keyword starts a goroutine?
    options: [go, async, spawn]
    answer: go
  - id: go-2
    topic: go
    difficulty: easy
    text: What is the zero value of a map?
    options: [nil, "{}", "0"]
    answer: nil
  - id: go-3
    topic: go
    difficulty: hard
    text: Which package provides errgroup?
    options: [sync, golang.org/x/sync/errgroup]
    answer: golang.org/x/sync/errgroup
  - id: sql-1
    topic: sql
    difficulty: easy
    text: Which clause filters groups?
    options: [WHERE, HAVING]
    answer: HAVING
`

func TestBank_SampleQuestions(t *testing.T) {
	b := loadBank(t)

	tests := map[string]struct {
		topic, difficulty string
		count             int
		assert            func(t *testing.T, qs []domain.Question, err error)
	}{
		"should filter by topic and difficulty": {
			topic: "go", difficulty: "easy", count: 5,
			assert: func(t *testing.T, qs []domain.Question, err error) {
				require.NoError(t, err)
				assert.ElementsMatch(t, []string{"go-1", "go-2"}, ids(qs))
			},
		},
		"should limit to count": {
			topic: "go", count: 1,
			assert: func(t *testing.T, qs []domain.Question, err error) {
				require.NoError(t, err)
				assert.Len(t, qs, 1)
				assert.Equal(t, "go", qs[0].Topic)
			},
		},
		"topic should match case-insensitively": {
			topic: "SQL", count: 1,
			assert: func(t *testing.T, qs []domain.Question, err error) {
				require.NoError(t, err)
				assert.Equal(t, []string{"sql-1"}, ids(qs))
				assert.Equal(t, "HAVING", qs[0].Correct)
			},
		},
		"unknown topic should be not found": {
			topic: "rust", count: 1,
			assert: func(t *testing.T, _ []domain.Question, err error) {
				assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))
			},
		},
		"invalid count should be rejected": {
			topic: "go", count: 0,
			assert: func(t *testing.T, _ []domain.Question, err error) {
				assert.Equal(t, errors.CodeInvalidArgument, errors.CodeOf(err))
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			qs, err := b.SampleQuestions(context.Background(), tt.topic, tt.difficulty, tt.count)
			tt.assert(t, qs, err)
		})
	}
}

func TestBank_CorrectAnswers(t *testing.T) {
	b := loadBank(t)

	got, err := b.CorrectAnswers(context.Background(), []string{"go-1", "sql-1", "nope"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"go-1": "go", "sql-1": "HAVING"}, got)
}

func TestNewBank_Deterministic(t *testing.T) {
	qs := []domain.Question{
		{QuestionID: "a", Topic: "go", Correct: "x"}, {QuestionID: "b", Topic: "go", Correct: "x"},
		{QuestionID: "c", Topic: "go", Correct: "x"}, {QuestionID: "d", Topic: "go", Correct: "x"},
	}

	sample := func() []string {
		b, err := question.NewBank(qs, rand.New(rand.NewPCG(1, 2)))
		require.NoError(t, err)
		got, err := b.SampleQuestions(context.Background(), "go", "", 2)
		require.NoError(t, err)
		return ids(got)
	}

	assert.Equal(t, sample(), sample())
}

func TestNewBank_Rejects(t *testing.T) {
	tests := map[string][]domain.Question{
		"duplicate id":   {{QuestionID: "a", Correct: "x"}, {QuestionID: "a", Correct: "y"}},
		"missing id":     {{Text: "what?", Correct: "x"}},
		"missing answer": {{QuestionID: "a", Text: "what?"}},
	}

	for name, qs := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := question.NewBank(qs, nil)
			require.Error(t, err)
		})
	}
}

func TestLoadBank_RejectsQuestionWithoutAnswer(t *testing.T) {
	f := filepath.Join(t.TempDir(), "questions.yaml")
	require.NoError(t, os.WriteFile(f, []byte("questions:\n  - id: q1\n    text: no answer here\n"), 0o600))

	_, err := question.LoadBank(f)
	require.ErrorContains(t, err, "has no answer")
}

func loadBank(t *testing.T) *question.Bank {
	t.Helper()

	f := filepath.Join(t.TempDir(), "questions.yaml")
	require.NoError(t, os.WriteFile(f, []byte(bankYAML), 0o600))

	b, err := question.LoadBank(f)
	require.NoError(t, err)
	return b
}

func ids(qs []domain.Question) []string {
	out := make([]string, 0, len(qs))
	for _, q := range qs {
		out = append(out, q.QuestionID)
	}
	return out
}
