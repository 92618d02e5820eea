package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/hootlabs/hoot/internal/channel"
	"github.com/hootlabs/hoot/internal/domain"
	"github.com/hootlabs/hoot/internal/errors"
	"github.com/hootlabs/hoot/internal/event"
	"github.com/hootlabs/hoot/internal/roomcode"
	"github.com/hootlabs/hoot/internal/store"
	"github.com/hootlabs/hoot/internal/telemetry"
)

const (
	timerDispatchTimeout = 10 * time.Second
	roomCodeRetries      = 3
)

type Config struct {
	Store       store.Store
	Channel     channel.Channel
	EventBus    *event.Bus
	Clock       clockwork.Clock
	Rules       Rules
	TopicPrefix string
}

// Service owns the canonical session lifecycle. All transitions funnel
// through dispatch, which persists before broadcasting and serializes
// concurrent triggers on the store's conditional update.
type Service struct {
	store  store.Store
	ch     channel.Channel
	eb     *event.Bus
	clock  clockwork.Clock
	rules  Rules
	prefix string

	mu     sync.Mutex
	timers map[string]clockwork.Timer
	closed bool
}

func NewService(c Config) *Service {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Rules == (Rules{}) {
		c.Rules = DefaultRules()
	}

	s := &Service{
		store:  c.Store,
		ch:     c.Channel,
		eb:     c.EventBus,
		clock:  c.Clock,
		rules:  c.Rules,
		prefix: c.TopicPrefix,
		timers: make(map[string]clockwork.Timer),
	}

	s.eb.Subscribe(domain.EventNameAllAnswered, func(ctx context.Context, e event.Event) error {
		ev := e.(domain.EventAllAnswered)
		return s.NoteAllAnswered(ctx, ev.SessionID, ev.QuestionIndex)
	})

	return s
}

type QuestionInput struct {
	Text          string
	Options       []string
	CorrectOption int
	TimeLimitSec  int
	Golden        bool
}

type CreateSessionRequest struct {
	HostID      string
	Questions   []QuestionInput
	ScheduledAt *time.Time
}

// CreateSession persists a new waiting session with a fresh room code.
func (s *Service) CreateSession(ctx context.Context, req CreateSessionRequest) (*domain.Session, error) {
	if req.HostID == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("host is required"))
	}
	if len(req.Questions) == 0 {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("at least one question is required"))
	}
	for i, q := range req.Questions {
		if len(q.Options) < 2 || q.CorrectOption < 0 || q.CorrectOption >= len(q.Options) {
			return nil, errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("question %d: invalid options", i))
		}
		if q.TimeLimitSec <= 0 {
			return nil, errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("question %d: time limit must be positive", i))
		}
	}

	sessionID, err := newID()
	if err != nil {
		return nil, err
	}
	quizID, err := newID()
	if err != nil {
		return nil, err
	}

	questions := make([]domain.Question, 0, len(req.Questions))
	for i, in := range req.Questions {
		qid, err := newID()
		if err != nil {
			return nil, err
		}
		questions = append(questions, domain.Question{
			QuestionID:    qid,
			QuizID:        quizID,
			Ordinal:       i,
			Text:          in.Text,
			Options:       in.Options,
			CorrectOption: in.CorrectOption,
			TimeLimitSec:  in.TimeLimitSec,
			Golden:        in.Golden,
		})
	}

	ss := &domain.Session{
		SessionID:     sessionID,
		QuizID:        quizID,
		HostID:        req.HostID,
		Status:        domain.StatusWaiting,
		ScheduledAt:   req.ScheduledAt,
		QuestionCount: len(questions),
		CreateTime:    s.clock.Now(),
	}

	// Room codes collide rarely; retry with a fresh code instead of
	// surfacing the conflict.
	for attempt := 0; ; attempt++ {
		code, err := roomcode.New()
		if err != nil {
			return nil, err
		}
		ss.RoomCode = code

		err = s.store.CreateSession(ctx, ss, questions)
		if err == nil {
			return ss, nil
		}
		if errors.Convert(err).Code != errors.CodeAlreadyExists || attempt+1 >= roomCodeRetries {
			return nil, fmt.Errorf("create session: %w", err)
		}
	}
}

func (s *Service) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	return s.store.GetSession(ctx, sessionID)
}

func (s *Service) GetSessionByRoomCode(ctx context.Context, code string) (*domain.Session, error) {
	return s.store.GetSessionByRoomCode(ctx, code)
}

func (s *Service) GetCurrentQuestion(ctx context.Context, ss *domain.Session) (*domain.Question, error) {
	return s.store.GetQuestionByOrdinal(ctx, ss.QuizID, ss.CurrentQuestion)
}

// Start transitions waiting -> countdown. force allows solo play.
func (s *Service) Start(ctx context.Context, sessionID, actorID string, force bool) error {
	return s.dispatch(ctx, sessionID, StartRequested{ActorID: actorID, Force: force})
}

// Advance moves results -> next question, or -> finished when done.
func (s *Service) Advance(ctx context.Context, sessionID, actorID string) error {
	return s.dispatch(ctx, sessionID, AdvanceRequested{ActorID: actorID})
}

// End finishes the session early.
func (s *Service) End(ctx context.Context, sessionID, actorID string) error {
	return s.dispatch(ctx, sessionID, EndRequested{ActorID: actorID})
}

// NoteAllAnswered reports that every rostered player answered the question.
// Losing the race against the time limit is a no-op, not an error.
func (s *Service) NoteAllAnswered(ctx context.Context, sessionID string, questionIndex int) error {
	err := s.dispatch(ctx, sessionID, AllAnswered{QuestionIndex: questionIndex})
	if errors.Is(err, errors.ReasonInvalidTransition) {
		return nil
	}
	return err
}

func (s *Service) dispatch(ctx context.Context, sessionID string, ev Event) error {
	// Persistence conflicts from a lost host-path race are retried once
	// against a fresh snapshot, then surfaced.
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		snap, err := s.snapshot(ctx, sessionID)
		if err != nil {
			return err
		}

		next, effects, err := s.rules.Apply(*snap, ev, s.clock.Now())
		if err != nil {
			return err
		}

		err = s.execute(ctx, next, effects)
		if err == nil {
			return nil
		}
		if !errors.Is(err, errors.ReasonPersistenceConflict) {
			return err
		}
		if isRaceEvent(ev) {
			// The concurrent trigger won; this one is a no-op.
			return nil
		}
		lastErr = err
	}

	return lastErr
}

// isRaceEvent reports whether ev is an internal trigger that legitimately
// races another writer for the same transition.
func isRaceEvent(ev Event) bool {
	switch ev.(type) {
	case AllAnswered, TimeLimitElapsed, ResultsTimedOut, CountdownElapsed:
		return true
	}
	return false
}

func (s *Service) snapshot(ctx context.Context, sessionID string) (*Snapshot, error) {
	ss, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	players, err := s.store.ListPlayers(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		SessionID:     ss.SessionID,
		HostID:        ss.HostID,
		Status:        ss.Status,
		QuestionIndex: ss.CurrentQuestion,
		QuestionCount: ss.QuestionCount,
		RosterSize:    len(players),
	}, nil
}

func (s *Service) execute(ctx context.Context, next Snapshot, effects []Effect) error {
	var persisted *domain.Session

	for _, ef := range effects {
		switch ef := ef.(type) {
		case Persist:
			ss, err := s.store.ApplyTransition(ctx, ef.Transition)
			if err != nil {
				return err
			}
			persisted = ss
			telemetry.CountTransition(string(ss.Status))

		case Broadcast:
			if persisted == nil {
				return errors.Internal(fmt.Errorf("broadcast before persist for session %s", next.SessionID))
			}
			if err := s.broadcast(ctx, persisted); err != nil {
				// The state is durable; a dropped broadcast is recovered
				// by subscribers refetching on reconnect.
				slog.ErrorContext(ctx, "session: broadcast status failed",
					"session", persisted.SessionID,
					"status", persisted.Status,
					"error", err,
				)
			}

		case ScheduleTimer:
			s.schedule(next.SessionID, ef.After, ef.Fire)

		case ScheduleQuestionTimer:
			if persisted == nil {
				return errors.Internal(fmt.Errorf("question timer before persist for session %s", next.SessionID))
			}
			q, err := s.store.GetQuestionByOrdinal(ctx, persisted.QuizID, ef.QuestionIndex)
			if err != nil {
				return err
			}
			s.schedule(next.SessionID, q.TimeLimit(), TimeLimitElapsed{QuestionIndex: ef.QuestionIndex})

		case CancelTimer:
			s.cancelTimer(next.SessionID)
		}
	}

	return nil
}

// StatusPayload is the wire shape broadcast on the status topic. The
// correct option is never included.
type StatusPayload struct {
	SessionID         string           `json:"session_id"`
	RoomCode          string           `json:"room_code"`
	Status            string           `json:"status"`
	CurrentQuestion   int              `json:"current_question"`
	QuestionStartedAt *time.Time       `json:"question_started_at,omitempty"`
	QuestionCount     int              `json:"question_count"`
	StartedAt         *time.Time       `json:"started_at,omitempty"`
	EndedAt           *time.Time       `json:"ended_at,omitempty"`
	Question          *QuestionPayload `json:"question,omitempty"`
}

type QuestionPayload struct {
	QuestionID   string   `json:"question_id"`
	Ordinal      int      `json:"ordinal"`
	Text         string   `json:"text"`
	Options      []string `json:"options"`
	TimeLimitSec int      `json:"time_limit_sec"`
	Golden       bool     `json:"golden"`
}

func (s *Service) broadcast(ctx context.Context, ss *domain.Session) error {
	payload := StatusPayload{
		SessionID:         ss.SessionID,
		RoomCode:          ss.RoomCode,
		Status:            string(ss.Status),
		CurrentQuestion:   ss.CurrentQuestion,
		QuestionStartedAt: ss.QuestionStartedAt,
		QuestionCount:     ss.QuestionCount,
		StartedAt:         ss.StartedAt,
		EndedAt:           ss.EndedAt,
	}

	if ss.Status == domain.StatusActiveQuestion {
		q, err := s.store.GetQuestionByOrdinal(ctx, ss.QuizID, ss.CurrentQuestion)
		if err != nil {
			return err
		}
		payload.Question = &QuestionPayload{
			QuestionID:   q.QuestionID,
			Ordinal:      q.Ordinal,
			Text:         q.Text,
			Options:      q.Options,
			TimeLimitSec: q.TimeLimitSec,
			Golden:       q.Golden,
		}
	}

	e, err := channel.NewEnvelope(domain.EventNameStatusChanged, payload)
	if err != nil {
		return err
	}

	if err := s.ch.Publish(ctx, channel.StatusTopic(s.prefix, ss.SessionID), e); err != nil {
		return err
	}

	s.eb.Publish(ctx, domain.EventStatusChanged{Session: *ss})
	return nil
}

func (s *Service) schedule(sessionID string, d time.Duration, fire Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	// One pending timer per session: countdown, question or results.
	if old, ok := s.timers[sessionID]; ok {
		old.Stop()
	}

	var t clockwork.Timer
	t = s.clock.AfterFunc(d, func() {
		s.mu.Lock()
		if s.timers[sessionID] == t {
			delete(s.timers, sessionID)
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), timerDispatchTimeout)
		defer cancel()

		if err := s.dispatch(ctx, sessionID, fire); err != nil {
			// Stale timers lose to an earlier transition; that's expected.
			if errors.Is(err, errors.ReasonInvalidTransition) {
				return
			}
			slog.ErrorContext(ctx, "session: timer dispatch failed",
				"session", sessionID,
				"event", fmt.Sprintf("%T", fire),
				"error", err,
			)
		}
	})
	s.timers[sessionID] = t
}

func (s *Service) cancelTimer(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[sessionID]; ok {
		t.Stop()
		delete(s.timers, sessionID)
	}
}

// Close stops all pending timers. Leaking a timer after teardown is a
// defect, so tests call this and then advance the clock.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return id.String(), nil
}
