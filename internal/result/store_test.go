package result_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/arena/internal/domain"
	"github.com/victornm/arena/internal/result"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func fixtures() []domain.RoundResult {
	return []domain.RoundResult{
		{ID: "a1", RoomID: "r1", Sequence: 1, Topic: "go", Participants: []string{"alice", "bob"}, Scores: map[string]int{"alice": 1, "bob": 0}, ResolveTime: base},
		{ID: "a2", RoomID: "r1", Sequence: 2, Topic: "sql", Participants: []string{"alice", "bob"}, Scores: map[string]int{"alice": 0, "bob": 1}, ResolveTime: base.Add(time.Hour)},
		{ID: "b1", RoomID: "r2", Sequence: 1, Topic: "go", Participants: []string{"carol"}, Scores: map[string]int{"carol": 2}, Forced: true, ResolveTime: base.Add(2 * time.Hour)},
	}
}

func stores(t *testing.T) map[string]result.Store {
	db, err := result.OpenBadger("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return map[string]result.Store{
		"memory": result.NewMemory(),
		"badger": result.NewBadger(db),
	}
}

func TestStore_List(t *testing.T) {
	tests := map[string]struct {
		filter result.Filter
		want   []string
	}{
		"no filter should return every result oldest first": {
			filter: result.Filter{},
			want:   []string{"r1/1", "r1/2", "r2/1"},
		},
		"since should exclude older results": {
			filter: result.Filter{Since: base.Add(30 * time.Minute)},
			want:   []string{"r1/2", "r2/1"},
		},
		"topic should narrow results": {
			filter: result.Filter{Topic: "go"},
			want:   []string{"r1/1", "r2/1"},
		},
		"room should narrow results": {
			filter: result.Filter{RoomID: "r1"},
			want:   []string{"r1/1", "r1/2"},
		},
		"unknown room should be empty": {
			filter: result.Filter{RoomID: "r"},
			want:   []string{},
		},
	}

	for storeName, s := range stores(t) {
		for _, r := range fixtures() {
			require.NoError(t, s.Save(context.Background(), r))
		}

		for name, tt := range tests {
			t.Run(storeName+"/"+name, func(t *testing.T) {
				got, err := s.List(context.Background(), tt.filter)
				require.NoError(t, err)

				keys := make([]string, 0, len(got))
				for _, r := range got {
					keys = append(keys, r.RoomID+"/"+string(rune('0'+r.Sequence)))
				}
				assert.Equal(t, tt.want, keys)
			})
		}
	}
}

func TestStore_SaveIsIdempotent(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first := fixtures()[0]
			require.NoError(t, s.Save(ctx, first))

			again := first
			again.Scores = map[string]int{"alice": 9}
			require.NoError(t, s.Save(ctx, again))

			got, err := s.List(ctx, result.Filter{})
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, map[string]int{"alice": 1, "bob": 0}, got[0].Scores)
			assert.True(t, first.ResolveTime.Equal(got[0].ResolveTime))
		})
	}
}

func TestStore_SameSequenceAfterRestart(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first := fixtures()[0]
			require.NoError(t, s.Save(ctx, first))

			restarted := first
			restarted.ID = "c1"
			restarted.Scores = map[string]int{"bob": 3}
			restarted.ResolveTime = first.ResolveTime.Add(time.Minute)
			require.NoError(t, s.Save(ctx, restarted))

			got, err := s.List(ctx, result.Filter{RoomID: "r1"})
			require.NoError(t, err)
			require.Len(t, got, 2, "a new round reusing a sequence should be kept")
			assert.Equal(t, map[string]int{"bob": 3}, got[1].Scores)
		})
	}
}

func TestBadger_Reopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	open := func() (*result.Badger, func()) {
		db, err := result.OpenBadger(dir)
		require.NoError(t, err)
		return result.NewBadger(db), func() { require.NoError(t, db.Close()) }
	}

	s, closeDB := open()
	require.NoError(t, s.Save(ctx, domain.RoundResult{ID: "x1", RoomID: "r1", Sequence: 1, Scores: map[string]int{"alice": 1}, ResolveTime: base}))
	closeDB()

	s, closeDB = open()
	defer closeDB()

	require.NoError(t, s.Save(ctx, domain.RoundResult{ID: "x2", RoomID: "r1", Sequence: 1, Scores: map[string]int{"bob": 3}, ResolveTime: base.Add(time.Hour)}))
	require.NoError(t, s.Save(ctx, domain.RoundResult{ID: "x1", RoomID: "r1", Sequence: 1, Scores: map[string]int{"alice": 9}, ResolveTime: base}))

	got, err := s.List(ctx, result.Filter{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, map[string]int{"alice": 1}, got[0].Scores, "stored result should survive the restart unchanged")
	assert.Equal(t, map[string]int{"bob": 3}, got[1].Scores)
}
