// Package gateway fans session broadcasts out to websocket clients. One feed
// per session holds the channel subscriptions, kept alive by reconnect
// supervisors; each client connection drains a buffered send queue through
// write/ping pumps.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/hootlabs/hoot/internal/channel"
	"github.com/hootlabs/hoot/internal/channel/reconnect"
	"github.com/hootlabs/hoot/internal/telemetry"
)

const (
	defaultWriteTimeout   = 10 * time.Second
	defaultReadTimeout    = 60 * time.Second
	defaultPingInterval   = 30 * time.Second
	defaultMaxMessageSize = 1024
	sendBuffer            = 256
)

type Config struct {
	Channel     channel.Channel
	Clock       clockwork.Clock
	TopicPrefix string

	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
	CheckOrigin    func(r *http.Request) bool
}

// Manager owns every websocket connection, pooled per session.
type Manager struct {
	ch       channel.Channel
	clock    clockwork.Clock
	prefix   string
	cfg      Config
	upgrader websocket.Upgrader

	mu     sync.Mutex
	feeds  map[string]*feed
	closed bool
}

func NewManager(c Config) *Manager {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = defaultReadTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaultMaxMessageSize
	}

	return &Manager{
		ch:     c.Channel,
		clock:  c.Clock,
		prefix: c.TopicPrefix,
		cfg:    c,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     c.CheckOrigin,
		},
		feeds: make(map[string]*feed),
	}
}

// ServeSession upgrades the request and attaches the client to the session's
// feed. The first connection for a session starts the feed's subscriptions;
// the last one leaving tears them down.
func (m *Manager) ServeSession(w http.ResponseWriter, r *http.Request, sessionID string) error {
	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("gateway: upgrade: %w", err)
	}

	c := &conn{
		ws:   ws,
		send: make(chan []byte, sendBuffer),
	}

	f, err := m.attach(r.Context(), sessionID, c)
	if err != nil {
		ws.Close()
		return err
	}

	go c.writePump(m.cfg)
	go c.readPump(m.cfg, func() { m.detach(f, c) })

	return nil
}

func (m *Manager) attach(ctx context.Context, sessionID string, c *conn) (*feed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("gateway: closed")
	}

	f, ok := m.feeds[sessionID]
	if !ok {
		f = m.newFeed(sessionID)
		m.feeds[sessionID] = f
		// Supervisors never block here; they subscribe in the background
		// and retry with backoff on transport drops.
		f.status.Start(context.WithoutCancel(ctx))
		f.roster.Start(context.WithoutCancel(ctx))
	}
	f.conns[c] = struct{}{}

	return f, nil
}

func (m *Manager) detach(f *feed, c *conn) {
	m.mu.Lock()

	if _, ok := f.conns[c]; ok {
		delete(f.conns, c)
		close(c.send)
	}

	var teardown *feed
	if len(f.conns) == 0 && m.feeds[f.sessionID] == f {
		delete(m.feeds, f.sessionID)
		teardown = f
	}
	m.mu.Unlock()

	if teardown != nil {
		teardown.status.Close()
		teardown.roster.Close()
	}
}

// Reload forces an immediate resubscribe of the session's feed, resetting
// the backoff. Exposed to clients as a manual "reload" action.
func (m *Manager) Reload(sessionID string) {
	m.mu.Lock()
	f, ok := m.feeds[sessionID]
	m.mu.Unlock()

	if ok {
		f.status.Reload()
		f.roster.Reload()
	}
}

// Close tears down every feed and client connection. No reconnect timers
// remain pending afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	feeds := make([]*feed, 0, len(m.feeds))
	for id, f := range m.feeds {
		feeds = append(feeds, f)
		delete(m.feeds, id)
	}
	m.mu.Unlock()

	for _, f := range feeds {
		f.status.Close()
		f.roster.Close()

		m.mu.Lock()
		for c := range f.conns {
			delete(f.conns, c)
			close(c.send)
		}
		m.mu.Unlock()
	}
}

// feed is the per-session fan-out: two supervised subscriptions feeding
// every attached connection.
type feed struct {
	sessionID string
	conns     map[*conn]struct{}

	status *reconnect.Supervisor
	roster *reconnect.Supervisor
}

func (m *Manager) newFeed(sessionID string) *feed {
	f := &feed{
		sessionID: sessionID,
		conns:     make(map[*conn]struct{}),
	}

	f.status = m.newSupervisor(channel.StatusTopic(m.prefix, sessionID), f)
	f.roster = m.newSupervisor(channel.RosterTopic(m.prefix, sessionID), f)
	return f
}

func (m *Manager) newSupervisor(topic string, f *feed) *reconnect.Supervisor {
	return reconnect.New(reconnect.Config{
		Clock: m.clock,
		Subscribe: func(ctx context.Context) (channel.Subscription, error) {
			return m.ch.Subscribe(ctx, topic, func(ctx context.Context, e channel.Envelope) {
				m.fanOut(f, e)
			})
		},
		OnStateChange: func(s reconnect.State, attempt int, err error) {
			// Clients keep their cached view while reconnecting; they only
			// get told so they can show an indicator and refetch when live.
			m.fanOutState(f, s)
			if s == reconnect.StateReconnecting {
				telemetry.CountReconnectAttempt()
			}
			if s != reconnect.StateConnected {
				slog.Warn("gateway: subscription state changed",
					"session", f.sessionID,
					"topic", topic,
					"state", string(s),
					"attempt", attempt,
					"error", err,
				)
			}
		},
	})
}

func (m *Manager) fanOut(f *feed, e channel.Envelope) {
	b, err := json.Marshal(e)
	if err != nil {
		slog.Error("gateway: marshal envelope", "event", e.Event, "error", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for c := range f.conns {
		select {
		case c.send <- b:
		default:
			// Slow consumer; drop the connection rather than the session.
			delete(f.conns, c)
			close(c.send)
			c.ws.Close()
			slog.Warn("gateway: send buffer full, dropping connection",
				"session", f.sessionID,
			)
		}
	}
}

// statePayload tells clients whether their feed is live.
type statePayload struct {
	State string `json:"state"`
}

func (m *Manager) fanOutState(f *feed, s reconnect.State) {
	e, err := channel.NewEnvelope("connection.state", statePayload{State: string(s)})
	if err != nil {
		return
	}
	m.fanOut(f, e)
}

type conn struct {
	ws   *websocket.Conn
	send chan []byte
}

func (c *conn) writePump(cfg Config) {
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case b, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *conn) readPump(cfg Config, onClose func()) {
	defer func() {
		onClose()
		c.ws.Close()
	}()

	c.ws.SetReadLimit(cfg.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		return nil
	})

	for {
		// The feed is one-way; client frames only keep the read deadline
		// fresh.
		if _, _, err := c.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Debug("gateway: unexpected close", "error", err)
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	}
}
