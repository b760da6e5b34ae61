// Package leaderboard serves the live standings of each room and the windowed leaderboards built
// from stored round results.
package leaderboard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/arena/internal/domain"
	"github.com/victornm/arena/internal/errors"
	"github.com/victornm/arena/internal/event"
	"github.com/victornm/arena/internal/result"
	"github.com/victornm/arena/internal/scoring"
)

const (
	publishInterval = 200 * time.Millisecond
)

type Config struct {
	EventBus *event.Bus
	Results  result.Store
	Redis    redis.UniversalClient
	Prefix   string
	Now      func() time.Time
}

type Service struct {
	eb      *event.Bus
	results result.Store
	redis   redis.UniversalClient
	prefix  string
	now     func() time.Time
}

func NewService(c Config) *Service {
	if c.Now == nil {
		c.Now = time.Now
	}

	s := &Service{
		eb:      c.EventBus,
		results: c.Results,
		redis:   c.Redis,
		prefix:  c.Prefix,
		now:     c.Now,
	}

	s.eb.Subscribe(domain.EventNameRoundResolved, func(ctx context.Context, e event.Event) error {
		return s.UpdateStandings(ctx, e.(domain.EventRoundResolved))
	})

	return s
}

type GetLeaderboardRequest struct {
	Window domain.Window
	Topic  string
	RoomID string
}

// GetLeaderboard aggregates the stored round results of the window.
func (s *Service) GetLeaderboard(ctx context.Context, req GetLeaderboardRequest) (*domain.Leaderboard, error) {
	if req.Window == "" {
		req.Window = domain.WindowAll
	}

	now := s.now()
	rs, err := s.results.List(ctx, result.Filter{
		Since:  req.Window.Since(now),
		Topic:  req.Topic,
		RoomID: req.RoomID,
	})
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	return &domain.Leaderboard{
		Window:  req.Window,
		Topic:   req.Topic,
		RoomID:  req.RoomID,
		Entries: scoring.Leaderboard(rs, req.Window, scoring.Scope{Topic: req.Topic, RoomID: req.RoomID}, now),
	}, nil
}

// GetStandings returns the cumulative scores of the room, highest first.
func (s *Service) GetStandings(ctx context.Context, roomID string) (*domain.Standings, error) {
	res, err := s.redis.ZRevRangeWithScores(ctx, s.standingsKey(roomID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get standings: %w", err)
	}

	if len(res) == 0 {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("standings not found: room=%s", roomID))
	}

	entries := make([]domain.StandingsEntry, 0, len(res))
	for _, z := range res {
		entries = append(entries, domain.StandingsEntry{
			ParticipantID: z.Member.(string),
			Score:         z.Score,
		})
	}

	return &domain.Standings{
		RoomID:  roomID,
		Entries: entries,
	}, nil
}

// UpdateStandings adds the scores of a resolved round to the room's standings.
func (s *Service) UpdateStandings(ctx context.Context, e domain.EventRoundResolved) error {
	r := e.Result
	key := s.standingsKey(r.RoomID)

	if _, err := s.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for pid, score := range r.Scores {
			p.ZIncrBy(ctx, key, float64(score), pid)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("update standings: %w", err)
	}

	return s.schedulePublishStandings(ctx, r)
}

// schedulePublishStandings publishes the standings at most once per interval and room.
// Rounds of a busy room may resolve in quick succession, so the updates are coalesced.
func (s *Service) schedulePublishStandings(ctx context.Context, r domain.RoundResult) error {
	// Only one instance wins the key, the others skip publishing.
	ok, err := s.redis.SetNX(ctx, s.publishTimeKey(r.RoomID), r.ResolveTime.UnixMilli(), publishInterval).Result()
	if err != nil {
		return fmt.Errorf("setnx: %w", err)
	}

	if !ok {
		return nil
	}

	return s.publishStandings(ctx, r)
}

func (s *Service) publishStandings(ctx context.Context, r domain.RoundResult) error {
	st, err := s.GetStandings(ctx, r.RoomID)
	if err != nil {
		return fmt.Errorf("get standings failed: room=%s: %w", r.RoomID, err)
	}

	s.eb.Publish(ctx, domain.EventStandingsUpdated{
		Standings: *st,
	})

	return nil
}

func (s *Service) standingsKey(roomID string) string {
	return fmt.Sprintf("%s:%s:standings", s.prefix, roomID)
}

func (s *Service) publishTimeKey(roomID string) string {
	return fmt.Sprintf("%s:%s:time", s.prefix, roomID)
}
