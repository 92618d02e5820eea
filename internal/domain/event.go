package domain

const (
	EventNameStatusChanged      = "session.status_changed"
	EventNamePlayerJoined       = "roster.player_joined"
	EventNamePlayerLeft         = "roster.player_left"
	EventNameAllAnswered        = "question.all_answered"
	EventNameScoreUpdated       = "score.updated"
	EventNameLeaderboardUpdated = "leaderboard.updated"
)

type EventStatusChanged struct {
	Session Session
}

func (EventStatusChanged) Name() string { return EventNameStatusChanged }

type EventPlayerJoined struct {
	Player Player
}

func (EventPlayerJoined) Name() string { return EventNamePlayerJoined }

type EventPlayerLeft struct {
	SessionID string
	PlayerID  string
}

func (EventPlayerLeft) Name() string { return EventNamePlayerLeft }

// EventAllAnswered fires when every rostered player has answered the
// current question. It races against the question time limit; the session
// state machine resolves the race.
type EventAllAnswered struct {
	SessionID     string
	QuestionIndex int
}

func (EventAllAnswered) Name() string { return EventNameAllAnswered }

type EventScoreUpdated struct {
	Score ScoreUpdate
}

func (EventScoreUpdated) Name() string { return EventNameScoreUpdated }

type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }
