package channel

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Redis implements Channel over redis pub/sub. One PubSub connection is
// held per subscription; redis guarantees in-order delivery within a topic.
type Redis struct {
	client redis.UniversalClient
}

func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Publish(ctx context.Context, topic string, e Envelope) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}

	if err := r.client.Publish(ctx, topic, b).Err(); err != nil {
		return transportErr("publish", err)
	}

	return nil
}

func (r *Redis) Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error) {
	ps := r.client.Subscribe(ctx, topic)

	// Confirm the subscription before returning so callers never miss
	// events published after Subscribe succeeds.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, transportErr("subscribe", err)
	}

	sub := &redisSubscription{
		ps:   ps,
		done: make(chan struct{}),
	}

	go sub.receive(ctx, topic, h)

	return sub, nil
}

type redisSubscription struct {
	ps   *redis.PubSub
	done chan struct{}

	mu     sync.Mutex
	err    error
	closed bool
}

func (s *redisSubscription) receive(ctx context.Context, topic string, h Handler) {
	defer close(s.done)

	for {
		msg, err := s.ps.ReceiveMessage(ctx)
		if err != nil {
			s.mu.Lock()
			if !s.closed {
				s.err = transportErr("receive", err)
			}
			s.mu.Unlock()
			return
		}

		var e Envelope
		if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
			slog.ErrorContext(ctx, "channel: drop malformed event",
				"topic", topic,
				"error", err,
			)
			continue
		}

		h(ctx, e)
	}
}

func (s *redisSubscription) Done() <-chan struct{} {
	return s.done
}

func (s *redisSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *redisSubscription) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	return s.ps.Close()
}
