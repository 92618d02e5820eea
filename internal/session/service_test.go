package session_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/hootlabs/hoot/internal/channel"
	"github.com/hootlabs/hoot/internal/domain"
	"github.com/hootlabs/hoot/internal/errors"
	"github.com/hootlabs/hoot/internal/event"
	"github.com/hootlabs/hoot/internal/session"
	"github.com/hootlabs/hoot/internal/store"
)

type fixture struct {
	svc   *session.Service
	store *store.Memory
	clock *clockwork.FakeClock
	ch    *recordingChannel
	bus   *event.Bus
}

func makeFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store: store.NewMemory(),
		clock: clockwork.NewFakeClock(),
		ch:    newRecordingChannel(),
		bus:   event.NewBus(),
	}

	f.svc = session.NewService(session.Config{
		Store:       f.store,
		Channel:     f.ch,
		EventBus:    f.bus,
		Clock:       f.clock,
		TopicPrefix: "hoot",
	})
	t.Cleanup(f.svc.Close)

	return f
}

func (f *fixture) createSession(t *testing.T, questions int) *domain.Session {
	t.Helper()

	qs := make([]session.QuestionInput, 0, questions)
	for i := 0; i < questions; i++ {
		qs = append(qs, session.QuestionInput{
			Text:          "question",
			Options:       []string{"a", "b", "c", "d"},
			CorrectOption: 1,
			TimeLimitSec:  15,
		})
	}

	ss, err := f.svc.CreateSession(context.Background(), session.CreateSessionRequest{
		HostID:    "host",
		Questions: qs,
	})
	require.NoError(t, err)
	return ss
}

func (f *fixture) join(t *testing.T, sessionID, playerID string) {
	t.Helper()

	_, err := f.store.UpsertPlayer(context.Background(), &domain.Player{
		PlayerID:    playerID,
		SessionID:   sessionID,
		DisplayName: playerID,
		JoinedAt:    f.clock.Now(),
	})
	require.NoError(t, err)
}

func (f *fixture) waitStatus(t *testing.T, sessionID string, want domain.SessionStatus) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ss, err := f.store.GetSession(context.Background(), sessionID)
		require.NoError(t, err)
		if ss.Status == want {
			return
		}
		time.Sleep(time.Millisecond)
	}

	t.Fatalf("session never reached status %s", want)
}

func TestService_StartRunsCountdownThenOpensQuestion(t *testing.T) {
	ctx := context.Background()
	f := makeFixture(t)

	ss := f.createSession(t, 1)
	f.join(t, ss.SessionID, "p1")

	require.NoError(t, f.svc.Start(ctx, ss.SessionID, "host", false))

	got, err := f.store.GetSession(ctx, ss.SessionID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCountdown, got.Status)
	require.NotNil(t, got.StartedAt)

	f.clock.Advance(3 * time.Second)
	f.waitStatus(t, ss.SessionID, domain.StatusActiveQuestion)

	got, err = f.store.GetSession(ctx, ss.SessionID)
	require.NoError(t, err)
	require.Equal(t, 0, got.CurrentQuestion)
	require.NotNil(t, got.QuestionStartedAt)
}

func TestService_StartRequiresHost(t *testing.T) {
	ctx := context.Background()
	f := makeFixture(t)

	ss := f.createSession(t, 1)
	f.join(t, ss.SessionID, "p1")

	err := f.svc.Start(ctx, ss.SessionID, "p1", false)
	require.True(t, errors.Is(err, errors.ReasonNotAuthorized))

	err = f.svc.Start(ctx, "unknown", "host", false)
	require.True(t, errors.Is(err, errors.ReasonNotFound))
}

func TestService_TimeLimitClosesQuestion(t *testing.T) {
	ctx := context.Background()
	f := makeFixture(t)

	ss := f.createSession(t, 1)
	f.join(t, ss.SessionID, "p1")

	require.NoError(t, f.svc.Start(ctx, ss.SessionID, "host", false))
	f.clock.Advance(3 * time.Second)
	f.waitStatus(t, ss.SessionID, domain.StatusActiveQuestion)

	f.clock.Advance(15 * time.Second)
	f.waitStatus(t, ss.SessionID, domain.StatusResults)
}

func TestService_QuestionCloseRaceYieldsSingleTransition(t *testing.T) {
	ctx := context.Background()
	f := makeFixture(t)

	ss := f.createSession(t, 1)
	f.join(t, ss.SessionID, "p1")

	require.NoError(t, f.svc.Start(ctx, ss.SessionID, "host", false))
	f.clock.Advance(3 * time.Second)
	f.waitStatus(t, ss.SessionID, domain.StatusActiveQuestion)

	// Fire both close triggers at once: the time limit via the clock and
	// the all-answered report. The conditional update must let exactly
	// one through.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		f.clock.Advance(15 * time.Second)
	}()
	go func() {
		defer wg.Done()
		require.NoError(t, f.svc.NoteAllAnswered(ctx, ss.SessionID, 0))
	}()
	wg.Wait()

	f.waitStatus(t, ss.SessionID, domain.StatusResults)
	time.Sleep(50 * time.Millisecond) // let any losing trigger finish

	require.Equal(t, 1, f.ch.countStatus(t, domain.StatusResults),
		"exactly one transition to results must be recorded")
}

func TestService_AdvanceWalksQuestionsThenFinishes(t *testing.T) {
	ctx := context.Background()
	f := makeFixture(t)

	ss := f.createSession(t, 2)
	f.join(t, ss.SessionID, "p1")

	require.NoError(t, f.svc.Start(ctx, ss.SessionID, "host", false))
	f.clock.Advance(3 * time.Second)
	f.waitStatus(t, ss.SessionID, domain.StatusActiveQuestion)

	require.NoError(t, f.svc.NoteAllAnswered(ctx, ss.SessionID, 0))
	f.waitStatus(t, ss.SessionID, domain.StatusResults)

	require.NoError(t, f.svc.Advance(ctx, ss.SessionID, "host"))
	got, err := f.store.GetSession(ctx, ss.SessionID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusActiveQuestion, got.Status)
	require.Equal(t, 1, got.CurrentQuestion)

	require.NoError(t, f.svc.NoteAllAnswered(ctx, ss.SessionID, 1))
	f.waitStatus(t, ss.SessionID, domain.StatusResults)

	require.NoError(t, f.svc.Advance(ctx, ss.SessionID, "host"))
	got, err = f.store.GetSession(ctx, ss.SessionID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusFinished, got.Status)
	require.NotNil(t, got.EndedAt)
}

func TestService_ResultsTimeoutAutoAdvances(t *testing.T) {
	ctx := context.Background()
	f := makeFixture(t)

	ss := f.createSession(t, 2)
	f.join(t, ss.SessionID, "p1")

	require.NoError(t, f.svc.Start(ctx, ss.SessionID, "host", false))
	f.clock.Advance(3 * time.Second)
	f.waitStatus(t, ss.SessionID, domain.StatusActiveQuestion)

	require.NoError(t, f.svc.NoteAllAnswered(ctx, ss.SessionID, 0))
	f.waitStatus(t, ss.SessionID, domain.StatusResults)

	// Host never advances; the fallback does.
	f.clock.Advance(30 * time.Second)
	f.waitStatus(t, ss.SessionID, domain.StatusActiveQuestion)

	got, err := f.store.GetSession(ctx, ss.SessionID)
	require.NoError(t, err)
	require.Equal(t, 1, got.CurrentQuestion)
}

func TestService_EndCancelsPendingTimers(t *testing.T) {
	ctx := context.Background()
	f := makeFixture(t)

	ss := f.createSession(t, 1)
	f.join(t, ss.SessionID, "p1")

	require.NoError(t, f.svc.Start(ctx, ss.SessionID, "host", false))
	f.clock.Advance(3 * time.Second)
	f.waitStatus(t, ss.SessionID, domain.StatusActiveQuestion)

	require.NoError(t, f.svc.End(ctx, ss.SessionID, "host"))
	f.waitStatus(t, ss.SessionID, domain.StatusFinished)

	// The question timer was cancelled; advancing the clock must not
	// resurrect the session.
	f.clock.Advance(time.Minute)
	time.Sleep(50 * time.Millisecond)

	got, err := f.store.GetSession(ctx, ss.SessionID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusFinished, got.Status)
}

func TestService_ConcurrentSessionsDoNotCrossTalk(t *testing.T) {
	ctx := context.Background()
	f := makeFixture(t)

	a := f.createSession(t, 1)
	b := f.createSession(t, 1)
	f.join(t, a.SessionID, "p1")
	f.join(t, b.SessionID, "p2")

	require.NoError(t, f.svc.Start(ctx, a.SessionID, "host", false))
	f.clock.Advance(3 * time.Second)
	f.waitStatus(t, a.SessionID, domain.StatusActiveQuestion)

	// Session b never started; a's timers must not touch it.
	got, err := f.store.GetSession(ctx, b.SessionID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusWaiting, got.Status)
}

type recordingChannel struct {
	mu        sync.Mutex
	published []channel.Envelope
}

func newRecordingChannel() *recordingChannel {
	return &recordingChannel{}
}

func (c *recordingChannel) Publish(_ context.Context, _ string, e channel.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.published = append(c.published, e)
	return nil
}

func (c *recordingChannel) Subscribe(_ context.Context, _ string, _ channel.Handler) (channel.Subscription, error) {
	panic("not used in these tests")
}

func (c *recordingChannel) countStatus(t *testing.T, want domain.SessionStatus) int {
	t.Helper()

	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, e := range c.published {
		if e.Event != domain.EventNameStatusChanged {
			continue
		}

		var payload session.StatusPayload
		require.NoError(t, json.Unmarshal(e.Data, &payload))
		if payload.Status == string(want) {
			n++
		}
	}

	return n
}
