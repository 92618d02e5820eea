package scoring

import (
	"context"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/hootlabs/hoot/internal/domain"
	"github.com/hootlabs/hoot/internal/errors"
	"github.com/hootlabs/hoot/internal/event"
	"github.com/hootlabs/hoot/internal/store"
	"github.com/hootlabs/hoot/internal/telemetry"
)

type Config struct {
	Store    store.Store
	EventBus *event.Bus
	Clock    clockwork.Clock
}

// Service accepts answer submissions for the current question. Elapsed time
// is measured server-side against the question's start stamp; client clocks
// are never trusted.
type Service struct {
	store store.Store
	eb    *event.Bus
	clock clockwork.Clock
}

func NewService(c Config) *Service {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}

	return &Service{
		store: c.Store,
		eb:    c.EventBus,
		clock: c.Clock,
	}
}

type SubmitRequest struct {
	SessionID string
	PlayerID  string
	// Option is the chosen option index, or domain.NoAnswer for an explicit
	// pass. Passes score zero but still count toward the all-answered check.
	Option int
}

// SubmitAnswer records the player's answer to the session's current question
// and returns the score update. A second submission for the same question
// fails with DuplicateAnswer and leaves the recorded score untouched.
func (s *Service) SubmitAnswer(ctx context.Context, req SubmitRequest) (*domain.ScoreUpdate, error) {
	ss, err := s.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if ss.Status != domain.StatusActiveQuestion {
		return nil, errors.InvalidTransition(
			errors.WithMessagef("no open question: session is %s", ss.Status))
	}
	if ss.QuestionStartedAt == nil {
		return nil, errors.New(errors.CodeInternal,
			errors.WithMessagef("active question has no start stamp"))
	}

	if _, err := s.store.GetPlayer(ctx, req.SessionID, req.PlayerID); err != nil {
		return nil, err
	}

	q, err := s.store.GetQuestionByOrdinal(ctx, ss.QuizID, ss.CurrentQuestion)
	if err != nil {
		return nil, err
	}
	if req.Option != domain.NoAnswer && (req.Option < 0 || req.Option >= len(q.Options)) {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("option %d out of range", req.Option))
	}

	now := s.clock.Now()
	elapsedMs := now.Sub(*ss.QuestionStartedAt).Milliseconds()
	correct := req.Option != domain.NoAnswer && req.Option == q.CorrectOption
	points := Points(correct, elapsedMs, q.TimeLimitSec)

	err = s.store.InsertAnswer(ctx, &domain.Answer{
		PlayerID:   req.PlayerID,
		QuestionID: q.QuestionID,
		SessionID:  req.SessionID,
		Option:     req.Option,
		ElapsedMs:  elapsedMs,
		Correct:    correct,
		Points:     points,
		SubmitTime: now,
	})
	if err != nil {
		return nil, err
	}
	telemetry.CountAnswer(correct)

	total, err := s.store.AddScore(ctx, req.SessionID, req.PlayerID, points)
	if err != nil {
		return nil, err
	}

	update := &domain.ScoreUpdate{
		SessionID:  req.SessionID,
		PlayerID:   req.PlayerID,
		QuestionID: q.QuestionID,
		Points:     points,
		TotalScore: total,
		UpdateTime: now,
	}
	s.eb.Publish(ctx, domain.EventScoreUpdated{Score: *update})

	// The answer and score are already durable; failing the submission now
	// would push the caller into a retry that hits DuplicateAnswer. The time
	// limit still closes the question if the trigger is missed.
	if err := s.checkAllAnswered(ctx, ss, q); err != nil {
		slog.WarnContext(ctx, "scoring: all-answered check failed",
			"session_id", ss.SessionID, "error", err)
	}

	return update, nil
}

// checkAllAnswered closes the question early once every rostered player has
// submitted. The event merely races the time limit; the session state
// machine resolves which trigger wins.
func (s *Service) checkAllAnswered(ctx context.Context, ss *domain.Session, q *domain.Question) error {
	players, err := s.store.ListPlayers(ctx, ss.SessionID)
	if err != nil {
		return err
	}

	answered, err := s.store.CountAnswers(ctx, ss.SessionID, q.QuestionID)
	if err != nil {
		return err
	}

	if len(players) > 0 && answered >= len(players) {
		s.eb.Publish(ctx, domain.EventAllAnswered{
			SessionID:     ss.SessionID,
			QuestionIndex: ss.CurrentQuestion,
		})
	}

	return nil
}
