package leaderboard_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hootlabs/hoot/internal/leaderboard"
)

func TestRank(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	standings := []leaderboard.Standing{
		{PlayerID: "b", DisplayName: "bob", Score: 0, JoinedAt: base.Add(time.Second)},
		{PlayerID: "a", DisplayName: "alice", Score: 236, JoinedAt: base},
		{PlayerID: "c", DisplayName: "carol", Score: 0, JoinedAt: base.Add(2 * time.Second)},
	}

	t.Run("orders by score then join time, zero scores unpaid", func(t *testing.T) {
		got := leaderboard.Rank(standings, leaderboard.DefaultSchedule(), leaderboard.TieByJoinTime).Entries

		require.Len(t, got, 3)
		assert.Equal(t, "a", got[0].PlayerID)
		assert.Equal(t, 1, got[0].Rank)
		assert.True(t, got[0].Payout.Equal(decimal.NewFromFloat(0.36)))

		// B and C tie at zero; join order breaks it, neither is paid.
		assert.Equal(t, "b", got[1].PlayerID)
		assert.Equal(t, 2, got[1].Rank)
		assert.True(t, got[1].Payout.IsZero())
		assert.Equal(t, "c", got[2].PlayerID)
		assert.Equal(t, 3, got[2].Rank)
		assert.True(t, got[2].Payout.IsZero())
	})

	t.Run("paying zero scores follows the schedule", func(t *testing.T) {
		schedule := leaderboard.DefaultSchedule()
		schedule.PayZeroScores = true

		got := leaderboard.Rank(standings, schedule, leaderboard.TieByJoinTime).Entries
		assert.True(t, got[1].Payout.Equal(decimal.NewFromFloat(0.27)))
		assert.True(t, got[2].Payout.Equal(decimal.NewFromFloat(0.18)))
	})

	t.Run("earliest submission breaks ties when configured", func(t *testing.T) {
		tied := []leaderboard.Standing{
			{PlayerID: "slow", Score: 100, JoinedAt: base, FirstAnswerAt: base.Add(5 * time.Second)},
			{PlayerID: "fast", Score: 100, JoinedAt: base.Add(time.Second), FirstAnswerAt: base.Add(time.Second)},
			{PlayerID: "silent", Score: 100, JoinedAt: base.Add(2 * time.Second)},
		}

		got := leaderboard.Rank(tied, leaderboard.DefaultSchedule(), leaderboard.TieByEarliestSubmission).Entries
		require.Len(t, got, 3)
		assert.Equal(t, "fast", got[0].PlayerID)
		assert.Equal(t, "slow", got[1].PlayerID)
		assert.Equal(t, "silent", got[2].PlayerID, "never answered sorts last")
	})

	t.Run("ranks past the schedule receive zero", func(t *testing.T) {
		many := make([]leaderboard.Standing, 5)
		for i := range many {
			many[i] = leaderboard.Standing{
				PlayerID: string(rune('a' + i)),
				Score:    int64(500 - i),
				JoinedAt: base,
			}
		}

		got := leaderboard.Rank(many, leaderboard.DefaultSchedule(), leaderboard.TieByJoinTime).Entries
		assert.True(t, got[3].Payout.IsZero())
		assert.True(t, got[4].Payout.IsZero())
	})

	t.Run("empty standings rank to an empty table", func(t *testing.T) {
		got := leaderboard.Rank(nil, leaderboard.DefaultSchedule(), leaderboard.TieByJoinTime)
		assert.Empty(t, got.Entries)
	})

	t.Run("treasury cut is carried into the table", func(t *testing.T) {
		schedule := leaderboard.DefaultSchedule()
		got := leaderboard.Rank(standings, schedule, leaderboard.TieByJoinTime)
		assert.True(t, got.TreasuryCut.Equal(decimal.NewFromFloat(0.10)))

		schedule.TreasuryCut = decimal.NewFromFloat(0.25)
		bigger := leaderboard.Rank(standings, schedule, leaderboard.TieByJoinTime)
		assert.True(t, bigger.TreasuryCut.Equal(decimal.NewFromFloat(0.25)))
		assert.NotEqual(t, got, bigger, "the cut must be observable in the output")
	})
}

// Payout execution may be retried, so reruns on unchanged input must be
// byte-identical, including input order variations that tie.
func TestRank_Idempotent(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	standings := []leaderboard.Standing{
		{PlayerID: "a", Score: 300, JoinedAt: base},
		{PlayerID: "b", Score: 300, JoinedAt: base},
		{PlayerID: "c", Score: 150, JoinedAt: base.Add(time.Second)},
		{PlayerID: "d", Score: 0, JoinedAt: base.Add(2 * time.Second)},
	}

	first, err := json.Marshal(leaderboard.Rank(standings, leaderboard.DefaultSchedule(), leaderboard.TieByJoinTime))
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := json.Marshal(leaderboard.Rank(standings, leaderboard.DefaultSchedule(), leaderboard.TieByJoinTime))
		require.NoError(t, err)
		require.Equal(t, string(first), string(again))
	}
}
