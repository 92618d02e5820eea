package api

import (
	"context"
	"fmt"

	"github.com/hootlabs/hoot/internal/channel"
	"github.com/hootlabs/hoot/internal/domain"
)

type (
	Leaderboard struct {
		SessionID string             `json:"session_id"`
		Entries   []LeaderboardEntry `json:"entries"`
	}

	LeaderboardEntry struct {
		PlayerID string `json:"player_id"`
		Score    int64  `json:"score"`
	}
)

// PublishLeaderboardUpdated relays the debounced standings onto the
// session's status topic, where the gateway fans them out to every
// connected client.
func (a *API) PublishLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	l := e.Leaderboard

	data := Leaderboard{
		SessionID: l.SessionID,
		Entries:   make([]LeaderboardEntry, 0, len(l.Entries)),
	}
	for _, entry := range l.Entries {
		data.Entries = append(data.Entries, LeaderboardEntry{
			PlayerID: entry.PlayerID,
			Score:    entry.Score,
		})
	}

	env, err := channel.NewEnvelope(e.Name(), data)
	if err != nil {
		return err
	}

	if err := a.ch.Publish(ctx, channel.StatusTopic(a.prefix, l.SessionID), env); err != nil {
		return fmt.Errorf("pubsub: publish %s: %w", e.Name(), err)
	}

	return nil
}
