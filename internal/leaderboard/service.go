// Package leaderboard keeps the live standings of every running session and
// produces the final payout table once a session finishes.
package leaderboard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hootlabs/hoot/internal/domain"
	"github.com/hootlabs/hoot/internal/errors"
	"github.com/hootlabs/hoot/internal/event"
	"github.com/hootlabs/hoot/internal/store"
)

const (
	publishInterval = 200 * time.Millisecond
)

type Config struct {
	EventBus *event.Bus
	Store    store.Store
	Redis    redis.UniversalClient
	Prefix   string
	Schedule Schedule
	Policy   Policy
}

type Service struct {
	eb       *event.Bus
	store    store.Store
	redis    redis.UniversalClient
	prefix   string
	schedule Schedule
	policy   Policy
}

func NewService(c Config) *Service {
	if len(c.Schedule.Fractions) == 0 {
		c.Schedule = DefaultSchedule()
	}

	s := &Service{
		eb:       c.EventBus,
		store:    c.Store,
		redis:    c.Redis,
		prefix:   c.Prefix,
		schedule: c.Schedule,
		policy:   c.Policy,
	}

	s.eb.Subscribe(domain.EventNameScoreUpdated, func(ctx context.Context, e event.Event) error {
		return s.UpdateLeaderboard(ctx, e.(domain.EventScoreUpdated))
	})

	return s
}

type GetLeaderboardRequest struct {
	SessionID string
}

// GetLeaderboard returns the session's live standings, every player with
// their score, descending.
func (s *Service) GetLeaderboard(ctx context.Context, req GetLeaderboardRequest) (*domain.Leaderboard, error) {
	res, err := s.redis.ZRevRangeWithScores(ctx, s.getLeaderboardKey(req.SessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	if len(res) == 0 {
		return nil, errors.NotFound(errors.WithMessagef("leaderboard not found: session=%s", req.SessionID))
	}

	entries := make([]domain.LeaderboardEntry, 0, len(res))
	for _, z := range res {
		entries = append(entries, domain.LeaderboardEntry{
			PlayerID: z.Member.(string),
			Score:    int64(z.Score),
		})
	}

	return &domain.Leaderboard{
		SessionID: req.SessionID,
		Entries:   entries,
	}, nil
}

// UpdateLeaderboard overwrites the player's score in the standings.
func (s *Service) UpdateLeaderboard(ctx context.Context, e domain.EventScoreUpdated) error {
	sc := e.Score

	if err := s.redis.ZAdd(ctx, s.getLeaderboardKey(sc.SessionID), redis.Z{
		Score:  float64(sc.TotalScore),
		Member: sc.PlayerID,
	}).Err(); err != nil {
		return fmt.Errorf("update leaderboard: %w", err)
	}

	return s.schedulePublishLeaderboard(ctx, sc)
}

// schedulePublishLeaderboard publishes the standings at most once per
// interval. A burst of score updates within the window collapses into a
// single published event.
func (s *Service) schedulePublishLeaderboard(ctx context.Context, sc domain.ScoreUpdate) error {
	// SetNX doubles as a cross-instance debounce; only the holder of the
	// key publishes within the window.
	ok, err := s.redis.SetNX(ctx, s.getLeaderboardTimeKey(sc.SessionID), sc.UpdateTime.UnixMilli(), publishInterval).Result()
	if err != nil {
		return fmt.Errorf("setnx: %w", err)
	}

	if !ok {
		return nil
	}

	return s.publishLeaderboard(ctx, sc)
}

func (s *Service) publishLeaderboard(ctx context.Context, sc domain.ScoreUpdate) error {
	l, err := s.GetLeaderboard(ctx, GetLeaderboardRequest{
		SessionID: sc.SessionID,
	})
	if err != nil {
		return fmt.Errorf("get leaderboard failed: session=%s: %w", sc.SessionID, err)
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{
		Leaderboard: *l,
	})

	return s.redis.Set(ctx, s.getLeaderboardTimeKey(sc.SessionID), sc.UpdateTime.UnixMilli(), publishInterval).Err()
}

// FinalTable computes the payout table for a finished session. The session
// must be finished; the table for unchanged inputs is identical across
// reruns so payout execution can be retried safely.
func (s *Service) FinalTable(ctx context.Context, sessionID string) (*Table, error) {
	ss, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !ss.Finished() {
		return nil, errors.InvalidTransition(
			errors.WithMessagef("final table requires a finished session, got %s", ss.Status))
	}

	players, err := s.store.ListPlayers(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	answers, err := s.store.ListAnswers(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	firstAnswer := make(map[string]time.Time, len(players))
	for _, a := range answers {
		if t, ok := firstAnswer[a.PlayerID]; !ok || a.SubmitTime.Before(t) {
			firstAnswer[a.PlayerID] = a.SubmitTime
		}
	}

	standings := make([]Standing, 0, len(players))
	for _, p := range players {
		standings = append(standings, Standing{
			PlayerID:      p.PlayerID,
			DisplayName:   p.DisplayName,
			Score:         p.Score,
			JoinedAt:      p.JoinedAt,
			FirstAnswerAt: firstAnswer[p.PlayerID],
		})
	}

	table := Rank(standings, s.schedule, s.policy)
	return &table, nil
}

func (s *Service) getLeaderboardKey(session string) string {
	return fmt.Sprintf("%s:%s:leaderboard", s.prefix, session)
}

func (s *Service) getLeaderboardTimeKey(session string) string {
	return fmt.Sprintf("%s:%s:time", s.prefix, session)
}
