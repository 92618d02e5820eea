package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SessionStatus is the lifecycle state of a quiz session.
type SessionStatus string

const (
	StatusWaiting        SessionStatus = "waiting"
	StatusCountdown      SessionStatus = "countdown"
	StatusActiveQuestion SessionStatus = "active_question"
	StatusResults        SessionStatus = "results"
	StatusFinished       SessionStatus = "finished"
)

// Session is one played instance of a quiz. It is the aggregate root:
// players and answers live and die with it, questions are only referenced.
type Session struct {
	SessionID string
	RoomCode  string
	QuizID    string
	HostID    string
	Status    SessionStatus

	ScheduledAt *time.Time
	StartedAt   *time.Time
	EndedAt     *time.Time

	// CurrentQuestion is valid only while Status is active_question or
	// results, and is monotonically non-decreasing within a session.
	CurrentQuestion   int
	QuestionStartedAt *time.Time
	QuestionCount     int

	CreateTime time.Time
}

// Finished sessions are read-only, retained for leaderboard and audit.
func (s *Session) Finished() bool {
	return s.Status == StatusFinished
}

// NormalizeRoomCode maps user-typed room codes onto their canonical
// stored form. Lookup is case-insensitive.
func NormalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Player is a roster entry. At most one Player exists per
// (session, identity key) pair; joins with a known identity are upserts.
// Players with an empty IdentityKey are ephemeral and cannot be
// deduplicated on rejoin.
type Player struct {
	PlayerID    string
	SessionID   string
	DisplayName string
	IdentityKey string
	JoinedAt    time.Time
	Score       int64
}

func (p *Player) Ephemeral() bool {
	return p.IdentityKey == ""
}

// Question belongs to the reusable quiz definition and is immutable once a
// session referencing it has started. Golden questions additionally unlock a
// separate bonus payout pool; only the flag is recorded here.
type Question struct {
	QuestionID    string
	QuizID        string
	Ordinal       int
	Text          string
	Options       []string
	CorrectOption int
	TimeLimitSec  int
	Golden        bool
}

func (q *Question) TimeLimit() time.Duration {
	return time.Duration(q.TimeLimitSec) * time.Second
}

// NoAnswer is the sentinel option index for a player who let the
// question time out. It always scores zero.
const NoAnswer = -1

// Answer records a single submission. At most one Answer exists per
// (player, question); resubmission is rejected, not overwritten.
type Answer struct {
	PlayerID   string
	QuestionID string
	SessionID  string
	Option     int
	ElapsedMs  int64
	Correct    bool
	Points     int64
	SubmitTime time.Time
}

// ScoreUpdate is the result of an accepted answer.
type ScoreUpdate struct {
	SessionID  string
	PlayerID   string
	QuestionID string
	Points     int64
	TotalScore int64
	UpdateTime time.Time
}

// Leaderboard is the live standings of a session, sorted by score
// in descending order.
type Leaderboard struct {
	SessionID string
	Entries   []LeaderboardEntry
}

type LeaderboardEntry struct {
	PlayerID string
	Score    int64
}

// RankedEntry is one row of the final payout table.
type RankedEntry struct {
	PlayerID    string
	DisplayName string
	Score       int64
	Rank        int
	Payout      decimal.Decimal
}
