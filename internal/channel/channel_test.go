package channel_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/hootlabs/hoot/internal/channel"
)

func TestRedis_PublishSubscribe(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch := makeChannel(t)
	topic := channel.StatusTopic("hoot", "s1")

	received := make(chan channel.Envelope, 10)
	sub, err := ch.Subscribe(ctx, topic, func(ctx context.Context, e channel.Envelope) {
		received <- e
	})
	require.NoError(t, err)
	defer sub.Close()

	want, err := channel.NewEnvelope("session.status_changed", map[string]string{"status": "countdown"})
	require.NoError(t, err)
	require.NoError(t, ch.Publish(ctx, topic, want))

	select {
	case got := <-received:
		require.Equal(t, want.Event, got.Event)
		require.JSONEq(t, string(want.Data), string(got.Data))
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}
}

func TestRedis_SubscribeIsScopedToTopic(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch := makeChannel(t)

	received := make(chan channel.Envelope, 10)
	sub, err := ch.Subscribe(ctx, channel.StatusTopic("hoot", "s1"), func(ctx context.Context, e channel.Envelope) {
		received <- e
	})
	require.NoError(t, err)
	defer sub.Close()

	other, err := channel.NewEnvelope("roster.player_joined", map[string]string{"player": "p1"})
	require.NoError(t, err)
	require.NoError(t, ch.Publish(ctx, channel.RosterTopic("hoot", "s1"), other))
	require.NoError(t, ch.Publish(ctx, channel.StatusTopic("hoot", "s2"), other))

	mine, err := channel.NewEnvelope("session.status_changed", map[string]string{"status": "results"})
	require.NoError(t, err)
	require.NoError(t, ch.Publish(ctx, channel.StatusTopic("hoot", "s1"), mine))

	// In-order delivery within a topic: the first (and only) event seen on
	// s1's status topic must be ours, never the other sessions'.
	select {
	case got := <-received:
		require.Equal(t, "session.status_changed", got.Event)
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}

	select {
	case got := <-received:
		t.Fatalf("received event from foreign topic: %s", got.Event)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRedis_CloseTerminatesSubscription(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch := makeChannel(t)

	sub, err := ch.Subscribe(ctx, channel.StatusTopic("hoot", "s1"), func(ctx context.Context, e channel.Envelope) {})
	require.NoError(t, err)

	require.NoError(t, sub.Close())

	select {
	case <-sub.Done():
	case <-ctx.Done():
		t.Fatal("timed out waiting for subscription to terminate")
	}

	require.NoError(t, sub.Err(), "clean close must not report a transport error")
}

func makeChannel(t *testing.T) *channel.Redis {
	t.Helper()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	t.Cleanup(func() { _ = rc.Close() })

	return channel.NewRedis(rc)
}
