// Package result persists round results and reads them back for leaderboards.
package result

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/victornm/arena/internal/domain"
)

// Store is the durable sink of round results.
type Store interface {
	// Save stores r. Saving a result whose ID is already stored is a no-op. Sequences restart with
	// the process, so (room, sequence) does not identify a result.
	Save(ctx context.Context, r domain.RoundResult) error
	// List returns the stored results matching f, oldest first.
	List(ctx context.Context, f Filter) ([]domain.RoundResult, error)
}

// Filter selects results. Zero fields match everything.
type Filter struct {
	Since  time.Time
	Topic  string
	RoomID string
}

func (f Filter) match(r domain.RoundResult) bool {
	return !r.ResolveTime.Before(f.Since) &&
		(f.Topic == "" || f.Topic == r.Topic) &&
		(f.RoomID == "" || f.RoomID == r.RoomID)
}

func sortResults(rs []domain.RoundResult) {
	slices.SortFunc(rs, func(a, b domain.RoundResult) int {
		if c := a.ResolveTime.Compare(b.ResolveTime); c != 0 {
			return c
		}
		if c := cmp.Compare(a.RoomID, b.RoomID); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Sequence, b.Sequence); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// Memory keeps results for the lifetime of the process.
type Memory struct {
	mu      sync.RWMutex
	results map[string]domain.RoundResult
}

func NewMemory() *Memory {
	return &Memory{results: make(map[string]domain.RoundResult)}
}

func (m *Memory) Save(_ context.Context, r domain.RoundResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.results[r.ID]; !ok {
		m.results[r.ID] = r
	}

	return nil
}

func (m *Memory) List(_ context.Context, f Filter) ([]domain.RoundResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.RoundResult, 0, len(m.results))
	for _, r := range m.results {
		if f.match(r) {
			out = append(out, r)
		}
	}
	sortResults(out)

	return out, nil
}
