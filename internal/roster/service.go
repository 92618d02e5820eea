// Package roster manages session membership: joining by room code, leaving,
// and the live roster view clients keep in sync over the channel.
package roster

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/hootlabs/hoot/internal/channel"
	"github.com/hootlabs/hoot/internal/domain"
	"github.com/hootlabs/hoot/internal/errors"
	"github.com/hootlabs/hoot/internal/event"
	"github.com/hootlabs/hoot/internal/store"
)

type Config struct {
	Store       store.Store
	Channel     channel.Channel
	EventBus    *event.Bus
	Clock       clockwork.Clock
	TopicPrefix string
}

type Service struct {
	store  store.Store
	ch     channel.Channel
	eb     *event.Bus
	clock  clockwork.Clock
	prefix string
}

func NewService(c Config) *Service {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}

	return &Service{
		store:  c.Store,
		ch:     c.Channel,
		eb:     c.EventBus,
		clock:  c.Clock,
		prefix: c.TopicPrefix,
	}
}

type JoinRequest struct {
	RoomCode    string
	DisplayName string
	// IdentityKey deduplicates rejoins. Joins without one are ephemeral:
	// a rejoin cannot be matched to the earlier entry and creates a new one.
	IdentityKey string
}

// Join adds a player to the session behind the room code. Rejoining with a
// known identity key is an idempotent upsert: same player id, same roster
// size.
func (s *Service) Join(ctx context.Context, req JoinRequest) (*domain.Player, error) {
	if req.DisplayName == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("display name is required"))
	}

	ss, err := s.store.GetSessionByRoomCode(ctx, domain.NormalizeRoomCode(req.RoomCode))
	if err != nil {
		return nil, err
	}
	if ss.Finished() {
		return nil, errors.InvalidTransition(errors.WithMessagef("session has finished"))
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate player id: %w", err)
	}

	p, err := s.store.UpsertPlayer(ctx, &domain.Player{
		PlayerID:    id.String(),
		SessionID:   ss.SessionID,
		DisplayName: req.DisplayName,
		IdentityKey: req.IdentityKey,
		JoinedAt:    s.clock.Now(),
	})
	if err != nil {
		return nil, err
	}

	s.announceJoin(ctx, p)
	return p, nil
}

// Leave removes the player from the roster. A dropped connection is not a
// leave; only an explicit request is.
func (s *Service) Leave(ctx context.Context, sessionID, playerID string) error {
	if _, err := s.store.GetPlayer(ctx, sessionID, playerID); err != nil {
		return err
	}
	if err := s.store.DeletePlayer(ctx, sessionID, playerID); err != nil {
		return err
	}

	s.announceLeave(ctx, sessionID, playerID)
	return nil
}

// Roster returns the current membership ordered by join time.
func (s *Service) Roster(ctx context.Context, sessionID string) ([]domain.Player, error) {
	return s.store.ListPlayers(ctx, sessionID)
}

// PlayerPayload is the wire shape of one roster entry.
type PlayerPayload struct {
	PlayerID    string    `json:"player_id"`
	DisplayName string    `json:"display_name"`
	JoinedAt    time.Time `json:"joined_at"`
}

type JoinedPayload struct {
	SessionID string        `json:"session_id"`
	Player    PlayerPayload `json:"player"`
}

type LeftPayload struct {
	SessionID string `json:"session_id"`
	PlayerID  string `json:"player_id"`
}

func (s *Service) announceJoin(ctx context.Context, p *domain.Player) {
	e, err := channel.NewEnvelope(domain.EventNamePlayerJoined, JoinedPayload{
		SessionID: p.SessionID,
		Player: PlayerPayload{
			PlayerID:    p.PlayerID,
			DisplayName: p.DisplayName,
			JoinedAt:    p.JoinedAt,
		},
	})
	if err == nil {
		err = s.ch.Publish(ctx, channel.RosterTopic(s.prefix, p.SessionID), e)
	}
	if err != nil {
		// The join is durable; the live view catches up on the next fetch.
		slog.ErrorContext(ctx, "roster: broadcast join failed",
			"session", p.SessionID,
			"player", p.PlayerID,
			"error", err,
		)
	}

	s.eb.Publish(ctx, domain.EventPlayerJoined{Player: *p})
}

func (s *Service) announceLeave(ctx context.Context, sessionID, playerID string) {
	e, err := channel.NewEnvelope(domain.EventNamePlayerLeft, LeftPayload{
		SessionID: sessionID,
		PlayerID:  playerID,
	})
	if err == nil {
		err = s.ch.Publish(ctx, channel.RosterTopic(s.prefix, sessionID), e)
	}
	if err != nil {
		slog.ErrorContext(ctx, "roster: broadcast leave failed",
			"session", sessionID,
			"player", playerID,
			"error", err,
		)
	}

	s.eb.Publish(ctx, domain.EventPlayerLeft{SessionID: sessionID, PlayerID: playerID})
}
