// Package store is the durable-store contract for session state: CRUD plus
// the conditional status update every state-machine transition is built on.
package store

import (
	"context"
	"time"

	"github.com/hootlabs/hoot/internal/domain"
)

// Transition is a compare-and-set on a session's status. The write succeeds
// only if the session's current status is one of From; a lost race surfaces
// as PersistenceConflict so concurrent triggers resolve to exactly one
// transition.
type Transition struct {
	SessionID string
	From      []domain.SessionStatus
	To        domain.SessionStatus

	// Optional field updates applied together with the status change.
	CurrentQuestion   *int
	QuestionStartedAt *time.Time
	StartedAt         *time.Time
	EndedAt           *time.Time
}

type Store interface {
	// CreateSession persists a new session along with its quiz questions.
	CreateSession(ctx context.Context, s *domain.Session, questions []domain.Question) error
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	// GetSessionByRoomCode resolves a normalized room code, returning
	// NotFound for unknown codes.
	GetSessionByRoomCode(ctx context.Context, code string) (*domain.Session, error)
	// ApplyTransition performs the CAS described by t and returns the
	// updated session.
	ApplyTransition(ctx context.Context, t Transition) (*domain.Session, error)

	// UpsertPlayer inserts a player, or updates the existing row when the
	// (session, identity key) pair is already present. Players without an
	// identity key are always inserted fresh.
	UpsertPlayer(ctx context.Context, p *domain.Player) (*domain.Player, error)
	GetPlayer(ctx context.Context, sessionID, playerID string) (*domain.Player, error)
	DeletePlayer(ctx context.Context, sessionID, playerID string) error
	// ListPlayers returns the roster ordered by join time.
	ListPlayers(ctx context.Context, sessionID string) ([]domain.Player, error)

	GetQuestionByOrdinal(ctx context.Context, quizID string, ordinal int) (*domain.Question, error)
	ListQuestions(ctx context.Context, quizID string) ([]domain.Question, error)

	// InsertAnswer rejects a second answer for the same (player, question)
	// with DuplicateAnswer.
	InsertAnswer(ctx context.Context, a *domain.Answer) error
	CountAnswers(ctx context.Context, sessionID, questionID string) (int, error)
	ListAnswers(ctx context.Context, sessionID string) ([]domain.Answer, error)
	// AddScore accumulates points into the player's running total and
	// returns the new total.
	AddScore(ctx context.Context, sessionID, playerID string, points int64) (int64, error)
}
