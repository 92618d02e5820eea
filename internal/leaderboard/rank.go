package leaderboard

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hootlabs/hoot/internal/domain"
)

// Policy selects the tie-break between equal scores.
type Policy int

const (
	// TieByJoinTime keeps ties in join order. Deterministic, not an
	// auditable fairness guarantee.
	TieByJoinTime Policy = iota
	// TieByEarliestSubmission ranks the player whose first answer landed
	// earlier above an equal score; players who never answered sort last.
	TieByEarliestSubmission
)

// Schedule maps final rank to a payout fraction. The treasury cut is taken
// from the pool before any distribution; fractions apply to the remainder.
type Schedule struct {
	TreasuryCut decimal.Decimal
	// Fractions is indexed by rank-1; ranks beyond its length receive zero.
	Fractions []decimal.Decimal
	// PayZeroScores pays schedule fractions even to zero-score entries.
	// When false they still rank, but their payout is zero.
	PayZeroScores bool
}

func DefaultSchedule() Schedule {
	return Schedule{
		TreasuryCut: decimal.NewFromFloat(0.10),
		Fractions: []decimal.Decimal{
			decimal.NewFromFloat(0.36),
			decimal.NewFromFloat(0.27),
			decimal.NewFromFloat(0.18),
		},
	}
}

// Standing is one player's input to the final ranking.
type Standing struct {
	PlayerID    string
	DisplayName string
	Score       int64
	JoinedAt    time.Time
	// FirstAnswerAt is the player's earliest submission, zero when the
	// player never answered. Only consulted by TieByEarliestSubmission.
	FirstAnswerAt time.Time
}

// Table is the final payout distribution. Entry fractions apply to the pool
// net of TreasuryCut, which is carried alongside so the full split is
// reportable from the table alone.
type Table struct {
	TreasuryCut decimal.Decimal      `json:"treasury_cut"`
	Entries     []domain.RankedEntry `json:"entries"`
}

// Rank produces the final payout table: a total ordering descending by
// score, ties broken per policy. It is pure and idempotent; payout execution
// may be retried, so re-running on unchanged inputs yields an identical
// table.
func Rank(standings []Standing, schedule Schedule, policy Policy) Table {
	sorted := make([]Standing, len(standings))
	copy(sorted, standings)

	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}

		if policy == TieByEarliestSubmission && !a.FirstAnswerAt.Equal(b.FirstAnswerAt) {
			if a.FirstAnswerAt.IsZero() || b.FirstAnswerAt.IsZero() {
				return b.FirstAnswerAt.IsZero()
			}
			return a.FirstAnswerAt.Before(b.FirstAnswerAt)
		}

		if !a.JoinedAt.Equal(b.JoinedAt) {
			return a.JoinedAt.Before(b.JoinedAt)
		}
		return a.PlayerID < b.PlayerID
	})

	out := make([]domain.RankedEntry, 0, len(sorted))
	for i, s := range sorted {
		payout := decimal.Zero
		if i < len(schedule.Fractions) && (s.Score > 0 || schedule.PayZeroScores) {
			payout = schedule.Fractions[i]
		}

		out = append(out, domain.RankedEntry{
			PlayerID:    s.PlayerID,
			DisplayName: s.DisplayName,
			Score:       s.Score,
			Rank:        i + 1,
			Payout:      payout,
		})
	}

	return Table{
		TreasuryCut: schedule.TreasuryCut,
		Entries:     out,
	}
}
