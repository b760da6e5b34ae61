// Package question provides the question bank rounds are sampled from.
package question

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/victornm/arena/internal/domain"
	"github.com/victornm/arena/internal/errors"
)

const MaxCount = 50

// Source samples questions and looks up their correct values.
type Source interface {
	SampleQuestions(ctx context.Context, topic, difficulty string, count int) ([]domain.Question, error)
	CorrectAnswers(ctx context.Context, questionIDs []string) (map[string]string, error)
}

func validateCount(count int) error {
	if count <= 0 || count > MaxCount {
		return errors.InvalidArgument("count must be between 1 and %d: %d", MaxCount, count)
	}
	return nil
}

type bankFile struct {
	Questions []bankQuestion `yaml:"questions"`
}

type bankQuestion struct {
	ID         string   `yaml:"id"`
	Topic      string   `yaml:"topic"`
	Difficulty string   `yaml:"difficulty"`
	Text       string   `yaml:"text"`
	Options    []string `yaml:"options"`
	Answer     string   `yaml:"answer"`
}

// Bank is an in-memory question source, usually loaded from a YAML file.
type Bank struct {
	questions []domain.Question
	byID      map[string]domain.Question

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewBank builds a bank from the given questions, each with a correct value. A nil rnd uses a
// randomly seeded generator.
func NewBank(questions []domain.Question, rnd *rand.Rand) (*Bank, error) {
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	b := &Bank{
		questions: make([]domain.Question, 0, len(questions)),
		byID:      make(map[string]domain.Question, len(questions)),
		rnd:       rnd,
	}

	for _, q := range questions {
		if q.QuestionID == "" {
			return nil, fmt.Errorf("question bank: question without id: %q", q.Text)
		}
		if q.Correct == "" {
			return nil, fmt.Errorf("question bank: question %q has no answer", q.QuestionID)
		}
		if _, ok := b.byID[q.QuestionID]; ok {
			return nil, fmt.Errorf("question bank: duplicate question id %q", q.QuestionID)
		}
		b.questions = append(b.questions, q)
		b.byID[q.QuestionID] = q
	}

	return b, nil
}

// LoadBank reads a YAML question bank from file.
func LoadBank(file string) (*Bank, error) {
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("question bank: read %s: %w", file, err)
	}

	var f bankFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("question bank: parse %s: %w", file, err)
	}

	qs := make([]domain.Question, 0, len(f.Questions))
	for _, q := range f.Questions {
		qs = append(qs, domain.Question{
			QuestionID: q.ID,
			Topic:      q.Topic,
			Difficulty: q.Difficulty,
			Text:       q.Text,
			Options:    q.Options,
			Correct:    q.Answer,
		})
	}

	return NewBank(qs, nil)
}

// SampleQuestions returns up to count random questions. An empty topic or difficulty matches any.
func (b *Bank) SampleQuestions(_ context.Context, topic, difficulty string, count int) ([]domain.Question, error) {
	if err := validateCount(count); err != nil {
		return nil, err
	}

	candidates := make([]domain.Question, 0, len(b.questions))
	for _, q := range b.questions {
		if matches(q.Topic, topic) && matches(q.Difficulty, difficulty) {
			candidates = append(candidates, q)
		}
	}

	if len(candidates) == 0 {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("no questions: topic=%s difficulty=%s", topic, difficulty))
	}

	b.mu.Lock()
	b.rnd.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	b.mu.Unlock()

	return candidates[:min(count, len(candidates))], nil
}

// CorrectAnswers returns the correct value of each known question. Unknown IDs are left out.
func (b *Bank) CorrectAnswers(_ context.Context, ids []string) (map[string]string, error) {
	m := make(map[string]string, len(ids))
	for _, id := range ids {
		if q, ok := b.byID[id]; ok {
			m[id] = q.Correct
		}
	}
	return m, nil
}

func matches(have, want string) bool {
	return want == "" || strings.EqualFold(have, want)
}
