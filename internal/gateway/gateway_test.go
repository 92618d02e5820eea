package gateway_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hootlabs/hoot/internal/channel"
	"github.com/hootlabs/hoot/internal/gateway"
)

func TestManager_FanOut(t *testing.T) {
	fc := newFakeChannel()
	m := gateway.NewManager(gateway.Config{
		Channel:     fc,
		TopicPrefix: "hoot",
		CheckOrigin: func(*http.Request) bool { return true },
	})
	t.Cleanup(m.Close)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := m.ServeSession(w, r, "s1"); err != nil {
			t.Errorf("serve session: %v", err)
		}
	}))
	t.Cleanup(srv.Close)

	ws := dial(t, srv)

	statusTopic := channel.StatusTopic("hoot", "s1")
	fc.waitSubscribed(t, statusTopic)
	fc.waitSubscribed(t, channel.RosterTopic("hoot", "s1"))

	sent, err := channel.NewEnvelope("session.status_changed", map[string]string{"status": "countdown"})
	require.NoError(t, err)
	fc.deliver(statusTopic, sent)

	got := readEvent(t, ws, "session.status_changed")
	assert.Equal(t, sent.Data, got.Data)
}

func TestManager_LastConnectionTearsFeedDown(t *testing.T) {
	fc := newFakeChannel()
	m := gateway.NewManager(gateway.Config{
		Channel:     fc,
		TopicPrefix: "hoot",
		CheckOrigin: func(*http.Request) bool { return true },
	})
	t.Cleanup(m.Close)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = m.ServeSession(w, r, "s1")
	}))
	t.Cleanup(srv.Close)

	ws := dial(t, srv)
	fc.waitSubscribed(t, channel.StatusTopic("hoot", "s1"))

	require.NoError(t, ws.Close())

	// Both topic subscriptions close once the last client leaves.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if fc.subscriberCount() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("feed subscriptions were not torn down")
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

// readEvent reads frames until the named event arrives, skipping connection
// state notices.
func readEvent(t *testing.T, ws *websocket.Conn, event string) channel.Envelope {
	t.Helper()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, b, err := ws.ReadMessage()
		require.NoError(t, err)

		var e channel.Envelope
		require.NoError(t, json.Unmarshal(b, &e))
		if e.Event == event {
			return e
		}
	}
}

type fakeChannel struct {
	mu   sync.Mutex
	subs map[string][]*fakeSubscription
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{subs: make(map[string][]*fakeSubscription)}
}

func (c *fakeChannel) Publish(_ context.Context, topic string, e channel.Envelope) error {
	c.deliver(topic, e)
	return nil
}

func (c *fakeChannel) Subscribe(_ context.Context, topic string, h channel.Handler) (channel.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub := &fakeSubscription{
		topic:   topic,
		handler: h,
		done:    make(chan struct{}),
		ch:      c,
	}
	c.subs[topic] = append(c.subs[topic], sub)
	return sub, nil
}

func (c *fakeChannel) deliver(topic string, e channel.Envelope) {
	c.mu.Lock()
	subs := append([]*fakeSubscription(nil), c.subs[topic]...)
	c.mu.Unlock()

	for _, s := range subs {
		s.handler(context.Background(), e)
	}
}

func (c *fakeChannel) subscriberCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, subs := range c.subs {
		n += len(subs)
	}
	return n
}

func (c *fakeChannel) waitSubscribed(t *testing.T, topic string) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		n := len(c.subs[topic])
		c.mu.Unlock()
		if n > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no subscriber on %s", topic)
}

type fakeSubscription struct {
	topic   string
	handler channel.Handler
	ch      *fakeChannel

	once sync.Once
	done chan struct{}
}

func (s *fakeSubscription) Done() <-chan struct{} { return s.done }
func (s *fakeSubscription) Err() error            { return nil }

func (s *fakeSubscription) Close() error {
	s.once.Do(func() {
		close(s.done)

		s.ch.mu.Lock()
		subs := s.ch.subs[s.topic]
		for i, sub := range subs {
			if sub == s {
				s.ch.subs[s.topic] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		s.ch.mu.Unlock()
	})
	return nil
}
