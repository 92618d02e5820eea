// Package channel is the per-session notification transport: a named
// publish/subscribe topic per session stream, delivered at-least-once and
// in-order within one topic-subscriber pair. It is the only transport
// primitive the rest of the system depends on.
package channel

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hootlabs/hoot/internal/errors"
)

// Envelope is the wire format for every published event.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// NewEnvelope marshals data into an Envelope for the named event.
func NewEnvelope(event string, data any) (Envelope, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("channel: marshal %s: %w", event, err)
	}

	return Envelope{Event: event, Data: b}, nil
}

// Handler receives events for one subscription. Handlers run on the
// subscription's receive goroutine; they must not block indefinitely.
type Handler func(ctx context.Context, e Envelope)

// Subscription is one live topic subscription.
type Subscription interface {
	// Done is closed when the subscription terminates, either by Close or
	// by a transport failure.
	Done() <-chan struct{}
	// Err returns the terminal error, nil after a clean Close.
	Err() error
	Close() error
}

// Channel is the transport contract. Publish failures and subscription
// drops surface as ChannelUnavailable; the reconnect supervisor owns retry.
type Channel interface {
	Publish(ctx context.Context, topic string, e Envelope) error
	Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error)
}

// StatusTopic carries session status transitions and leaderboard updates.
func StatusTopic(prefix, sessionID string) string {
	return fmt.Sprintf("%s:session:%s:status", prefix, sessionID)
}

// RosterTopic carries player join/leave events.
func RosterTopic(prefix, sessionID string) string {
	return fmt.Sprintf("%s:session:%s:roster", prefix, sessionID)
}

func transportErr(op string, err error) error {
	return errors.ChannelUnavailable(
		errors.WithMessagef("channel: %s failed", op),
		errors.WithCause(err),
	)
}
