package question

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/arena/internal/domain"
	"github.com/victornm/arena/internal/errors"
)

// Postgres samples questions from the questions table.
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) SampleQuestions(ctx context.Context, topic, difficulty string, count int) ([]domain.Question, error) {
	if err := validateCount(count); err != nil {
		return nil, err
	}

	const stmt = `
SELECT question_id, topic, difficulty, text, options, answer
FROM questions
WHERE ($1 = '' OR lower(topic) = lower($1))
  AND ($2 = '' OR lower(difficulty) = lower($2))
ORDER BY random()
LIMIT $3;`

	rows, err := p.db.Query(ctx, stmt, topic, difficulty, count)
	if err != nil {
		return nil, fmt.Errorf("question: sample: %w", err)
	}

	qs, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Question, error) {
		var q domain.Question
		if err := r.Scan(&q.QuestionID, &q.Topic, &q.Difficulty, &q.Text, &q.Options, &q.Correct); err != nil {
			return domain.Question{}, err
		}
		return q, nil
	})
	if err != nil {
		return nil, fmt.Errorf("question: sample: %w", err)
	}

	if len(qs) == 0 {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("no questions: topic=%s difficulty=%s", topic, difficulty))
	}

	return qs, nil
}

func (p *Postgres) CorrectAnswers(ctx context.Context, ids []string) (map[string]string, error) {
	const stmt = `SELECT question_id, answer FROM questions WHERE question_id = ANY($1);`

	rows, err := p.db.Query(ctx, stmt, ids)
	if err != nil {
		return nil, fmt.Errorf("question: correct answers: %w", err)
	}
	defer rows.Close()

	m := make(map[string]string, len(ids))
	for rows.Next() {
		var id, answer string
		if err := rows.Scan(&id, &answer); err != nil {
			return nil, fmt.Errorf("question: correct answers: %w", err)
		}
		m[id] = answer
	}

	return m, rows.Err()
}
