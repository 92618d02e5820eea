package session

import (
	"time"

	"github.com/hootlabs/hoot/internal/domain"
	"github.com/hootlabs/hoot/internal/errors"
	"github.com/hootlabs/hoot/internal/store"
)

// Snapshot is the session state a transition is decided against. It is a
// plain value so the transition function stays pure and testable.
type Snapshot struct {
	SessionID     string
	HostID        string
	Status        domain.SessionStatus
	QuestionIndex int
	QuestionCount int
	RosterSize    int
}

// Event is an input to the state machine.
type Event interface{ event() }

// StartRequested begins the fixed countdown. Host only; Force permits solo
// play with an empty roster.
type StartRequested struct {
	ActorID string
	Force   bool
}

// CountdownElapsed fires when the fixed pre-question countdown runs out.
type CountdownElapsed struct{}

// AllAnswered fires when every rostered player answered the question. It
// races TimeLimitElapsed; the store's conditional update picks the winner.
type AllAnswered struct{ QuestionIndex int }

// TimeLimitElapsed fires when the question's time limit runs out.
type TimeLimitElapsed struct{ QuestionIndex int }

// AdvanceRequested moves from results to the next question, or to finished
// when no questions remain. Host only.
type AdvanceRequested struct{ ActorID string }

// ResultsTimedOut is the fallback advance when the host stalls in results.
type ResultsTimedOut struct{ QuestionIndex int }

// EndRequested finishes the session early. Host only.
type EndRequested struct{ ActorID string }

func (StartRequested) event()   {}
func (CountdownElapsed) event() {}
func (AllAnswered) event()      {}
func (TimeLimitElapsed) event() {}
func (AdvanceRequested) event() {}
func (ResultsTimedOut) event()  {}
func (EndRequested) event()     {}

// Effect is an output of the state machine. Effects are data, executed by
// the service in order; Persist always precedes Broadcast so reconnecting
// clients can never observe resurrected stale state.
type Effect interface{ effect() }

// Persist is the durable conditional status update for the transition.
type Persist struct{ Transition store.Transition }

// Broadcast publishes the persisted session state on its status topic.
type Broadcast struct{}

// ScheduleTimer arms the session's timer to fire the given event.
type ScheduleTimer struct {
	After time.Duration
	Fire  Event
}

// ScheduleQuestionTimer arms the timer for a question's time limit; the
// executor resolves the duration from the question itself.
type ScheduleQuestionTimer struct{ QuestionIndex int }

// CancelTimer disarms the session's timer.
type CancelTimer struct{}

func (Persist) effect()               {}
func (Broadcast) effect()             {}
func (ScheduleTimer) effect()         {}
func (ScheduleQuestionTimer) effect() {}
func (CancelTimer) effect()           {}

// Rules hold the time-boxing of the transient states.
type Rules struct {
	// Countdown is the fixed delay between start and the first question.
	Countdown time.Duration
	// ResultsTimeout bounds how long a session sits in results before
	// auto-advancing without the host.
	ResultsTimeout time.Duration
}

func DefaultRules() Rules {
	return Rules{
		Countdown:      3 * time.Second,
		ResultsTimeout: 30 * time.Second,
	}
}

// Apply is the single transition function (state, event) -> (state, effects).
// It performs no I/O.
func (r Rules) Apply(s Snapshot, e Event, now time.Time) (Snapshot, []Effect, error) {
	switch e := e.(type) {
	case StartRequested:
		if s.Status != domain.StatusWaiting {
			return s, nil, errors.InvalidTransition(
				errors.WithMessagef("cannot start from %s", s.Status))
		}
		if e.ActorID != s.HostID {
			return s, nil, errors.NotAuthorized(
				errors.WithMessagef("only the host may start the session"))
		}
		if s.RosterSize == 0 && !e.Force {
			return s, nil, errors.NoPlayers(
				errors.WithMessagef("no players joined yet"))
		}

		next := s
		next.Status = domain.StatusCountdown
		return next, []Effect{
			Persist{store.Transition{
				SessionID: s.SessionID,
				From:      []domain.SessionStatus{domain.StatusWaiting},
				To:        domain.StatusCountdown,
				StartedAt: &now,
			}},
			Broadcast{},
			ScheduleTimer{After: r.Countdown, Fire: CountdownElapsed{}},
		}, nil

	case CountdownElapsed:
		if s.Status != domain.StatusCountdown {
			return s, nil, errors.InvalidTransition(
				errors.WithMessagef("countdown elapsed in %s", s.Status))
		}

		// QuestionStartedAt anchors every elapsed-time computation for
		// this question.
		qi := s.QuestionIndex
		next := s
		next.Status = domain.StatusActiveQuestion
		return next, []Effect{
			Persist{store.Transition{
				SessionID:         s.SessionID,
				From:              []domain.SessionStatus{domain.StatusCountdown},
				To:                domain.StatusActiveQuestion,
				CurrentQuestion:   &qi,
				QuestionStartedAt: &now,
			}},
			Broadcast{},
			ScheduleQuestionTimer{QuestionIndex: qi},
		}, nil

	case AllAnswered:
		return r.closeQuestion(s, e.QuestionIndex)

	case TimeLimitElapsed:
		return r.closeQuestion(s, e.QuestionIndex)

	case AdvanceRequested:
		if s.Status != domain.StatusResults {
			return s, nil, errors.InvalidTransition(
				errors.WithMessagef("cannot advance from %s", s.Status))
		}
		if e.ActorID != s.HostID {
			return s, nil, errors.NotAuthorized(
				errors.WithMessagef("only the host may advance the session"))
		}
		return r.advance(s, now)

	case ResultsTimedOut:
		if s.Status != domain.StatusResults || e.QuestionIndex != s.QuestionIndex {
			return s, nil, errors.InvalidTransition(
				errors.WithMessagef("stale results timeout for question %d", e.QuestionIndex))
		}
		return r.advance(s, now)

	case EndRequested:
		if e.ActorID != s.HostID {
			return s, nil, errors.NotAuthorized(
				errors.WithMessagef("only the host may end the session"))
		}
		if s.Status != domain.StatusActiveQuestion && s.Status != domain.StatusResults {
			return s, nil, errors.InvalidTransition(
				errors.WithMessagef("cannot end from %s", s.Status))
		}

		next := s
		next.Status = domain.StatusFinished
		return next, []Effect{
			CancelTimer{},
			Persist{store.Transition{
				SessionID: s.SessionID,
				From:      []domain.SessionStatus{domain.StatusActiveQuestion, domain.StatusResults},
				To:        domain.StatusFinished,
				EndedAt:   &now,
			}},
			Broadcast{},
		}, nil
	}

	return s, nil, errors.InvalidTransition(errors.WithMessagef("unknown event %T", e))
}

// closeQuestion resolves the all-answered / time-limit race. Both triggers
// produce the same transition; the conditional update lets exactly one win
// and the loser becomes a no-op upstream.
func (r Rules) closeQuestion(s Snapshot, questionIndex int) (Snapshot, []Effect, error) {
	if s.Status != domain.StatusActiveQuestion || questionIndex != s.QuestionIndex {
		return s, nil, errors.InvalidTransition(
			errors.WithMessagef("stale close for question %d in %s", questionIndex, s.Status))
	}

	next := s
	next.Status = domain.StatusResults
	return next, []Effect{
		CancelTimer{},
		Persist{store.Transition{
			SessionID: s.SessionID,
			From:      []domain.SessionStatus{domain.StatusActiveQuestion},
			To:        domain.StatusResults,
		}},
		Broadcast{},
		ScheduleTimer{After: r.ResultsTimeout, Fire: ResultsTimedOut{QuestionIndex: s.QuestionIndex}},
	}, nil
}

func (r Rules) advance(s Snapshot, now time.Time) (Snapshot, []Effect, error) {
	if s.QuestionIndex+1 >= s.QuestionCount {
		next := s
		next.Status = domain.StatusFinished
		return next, []Effect{
			CancelTimer{},
			Persist{store.Transition{
				SessionID: s.SessionID,
				From:      []domain.SessionStatus{domain.StatusResults},
				To:        domain.StatusFinished,
				EndedAt:   &now,
			}},
			Broadcast{},
		}, nil
	}

	qi := s.QuestionIndex + 1
	next := s
	next.Status = domain.StatusActiveQuestion
	next.QuestionIndex = qi
	return next, []Effect{
		CancelTimer{},
		Persist{store.Transition{
			SessionID:         s.SessionID,
			From:              []domain.SessionStatus{domain.StatusResults},
			To:                domain.StatusActiveQuestion,
			CurrentQuestion:   &qi,
			QuestionStartedAt: &now,
		}},
		Broadcast{},
		ScheduleQuestionTimer{QuestionIndex: qi},
	}, nil
}
