package result

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/arena/internal/domain"
)

// Postgres stores results in the round_results and round_scores tables.
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Save(ctx context.Context, r domain.RoundResult) (err error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("result: begin: %w", err)
	}

	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const insertResult = `
INSERT INTO round_results (id, room_id, round_seq, topic, participants, forced, resolve_time)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO NOTHING;`

	tag, err := tx.Exec(ctx, insertResult, r.ID, r.RoomID, r.Sequence, r.Topic, r.Participants, r.Forced, r.ResolveTime)
	if err != nil {
		return fmt.Errorf("result: insert round: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return tx.Commit(ctx)
	}

	rows := make([][]any, 0, len(r.Scores))
	for pid, score := range r.Scores {
		rows = append(rows, []any{r.ID, pid, score})
	}

	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"round_scores"},
		[]string{"result_id", "participant_id", "score"},
		pgx.CopyFromRows(rows),
	); err != nil {
		return fmt.Errorf("result: insert scores: %w", err)
	}

	return tx.Commit(ctx)
}

func (p *Postgres) List(ctx context.Context, f Filter) ([]domain.RoundResult, error) {
	const stmt = `
SELECT r.id, r.room_id, r.round_seq, r.topic, r.participants, r.forced, r.resolve_time, s.participant_id, s.score
FROM round_results r
JOIN round_scores s ON s.result_id = r.id
WHERE r.resolve_time >= $1
  AND ($2 = '' OR r.topic = $2)
  AND ($3 = '' OR r.room_id = $3)
ORDER BY r.resolve_time, r.room_id, r.round_seq, r.id;`

	rows, err := p.db.Query(ctx, stmt, f.Since, f.Topic, f.RoomID)
	if err != nil {
		return nil, fmt.Errorf("result: list: %w", err)
	}
	defer rows.Close()

	var (
		out []domain.RoundResult
		cur *domain.RoundResult
	)
	for rows.Next() {
		var (
			r     domain.RoundResult
			pid   string
			score int
		)
		if err := rows.Scan(&r.ID, &r.RoomID, &r.Sequence, &r.Topic, &r.Participants, &r.Forced, &r.ResolveTime, &pid, &score); err != nil {
			return nil, fmt.Errorf("result: list: %w", err)
		}

		if cur == nil || cur.ID != r.ID {
			r.Scores = make(map[string]int, len(r.Participants))
			out = append(out, r)
			cur = &out[len(out)-1]
		}
		cur.Scores[pid] = score
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("result: list: %w", err)
	}

	return out, nil
}
