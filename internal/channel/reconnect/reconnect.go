// Package reconnect keeps one logical channel subscription alive across
// transport failures: exponential backoff, bounded retries, and a manual
// override that forces an immediate resubscribe.
//
// While disconnected no cached state is discarded; callers observe the
// supervisor state and show a non-blocking "reconnecting" indicator.
package reconnect

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/hootlabs/hoot/internal/channel"
)

type State string

const (
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

const (
	defaultBaseDelay   = time.Second
	defaultMaxDelay    = 30 * time.Second
	defaultMaxAttempts = 10
)

// SubscribeFunc establishes the underlying subscription. It is retried by
// the supervisor, so it must be safe to call repeatedly.
type SubscribeFunc func(ctx context.Context) (channel.Subscription, error)

type Config struct {
	Subscribe SubscribeFunc

	// Clock defaults to the real clock; tests inject a fake.
	Clock clockwork.Clock

	// BaseDelay doubles on each failed attempt up to MaxDelay. After
	// MaxAttempts consecutive failures the supervisor parks in StateFailed
	// until Reload is called.
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int

	// OnStateChange is invoked from the supervisor goroutine on every
	// state change. attempt is the number of consecutive failures so far.
	OnStateChange func(s State, attempt int, err error)
}

// Supervisor wraps exactly one logical topic subscription. Re-entrant Start
// calls are no-ops; Close cancels the active subscription and any pending
// retry timer.
type Supervisor struct {
	c Config

	reload chan struct{}

	mu         sync.Mutex
	subscribed bool
	cancel     context.CancelFunc
	done       chan struct{}
}

func New(c Config) *Supervisor {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = defaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = defaultMaxDelay
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}

	return &Supervisor{
		c:      c,
		reload: make(chan struct{}, 1),
	}
}

// Start subscribes in the background. It returns immediately and never
// blocks the caller's loop.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subscribed {
		return
	}
	s.subscribed = true

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx, s.done)
}

// Reload resets the attempt counter and forces an immediate resubscribe.
// Surfaced to end users as a recoverable "reload" action.
func (s *Supervisor) Reload() {
	select {
	case s.reload <- struct{}{}:
	default:
	}
}

// Close tears the subscription down and waits for the supervisor goroutine
// to exit. No timers remain pending afterwards.
func (s *Supervisor) Close() {
	s.mu.Lock()
	if !s.subscribed {
		s.mu.Unlock()
		return
	}
	s.subscribed = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
}

func (s *Supervisor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	attempt := 0

	for {
		sub, err := s.c.Subscribe(ctx)
		if err == nil {
			attempt = 0
			s.notify(StateConnected, 0, nil)

			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case <-s.reload:
				_ = sub.Close()
				continue
			case <-sub.Done():
				if err = sub.Err(); err == nil {
					// Closed cleanly from elsewhere; nothing to recover.
					return
				}
			}
		}

		if ctx.Err() != nil {
			return
		}

		attempt++
		if attempt > s.c.MaxAttempts {
			s.notify(StateFailed, attempt-1, err)

			select {
			case <-ctx.Done():
				return
			case <-s.reload:
				attempt = 0
				continue
			}
		}

		s.notify(StateReconnecting, attempt, err)

		timer := s.c.Clock.NewTimer(s.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.reload:
			timer.Stop()
			attempt = 0
		case <-timer.Chan():
		}
	}
}

// delay returns BaseDelay doubled per prior failure, capped at MaxDelay:
// 1s, 2s, 4s, 8s, 16s, 30s, 30s, ...
func (s *Supervisor) delay(attempt int) time.Duration {
	d := s.c.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= s.c.MaxDelay {
			return s.c.MaxDelay
		}
	}

	if d > s.c.MaxDelay {
		return s.c.MaxDelay
	}

	return d
}

func (s *Supervisor) notify(state State, attempt int, err error) {
	if s.c.OnStateChange != nil {
		s.c.OnStateChange(state, attempt, err)
	}
}
