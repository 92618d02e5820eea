package roster

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/hootlabs/hoot/internal/channel"
	"github.com/hootlabs/hoot/internal/domain"
)

// View is a client-side roster replica. It starts from a full fetch and
// folds in incremental join/leave events; reconciliation is a set union on
// player id, so replaying an event already reflected in the fetch is
// harmless.
type View struct {
	mu      sync.Mutex
	players map[string]viewEntry
}

type viewEntry struct {
	playerID    string
	displayName string
	joinedAt    time.Time
}

func NewView(initial []domain.Player) *View {
	v := &View{players: make(map[string]viewEntry, len(initial))}
	for _, p := range initial {
		v.players[p.PlayerID] = viewEntry{
			playerID:    p.PlayerID,
			displayName: p.DisplayName,
			joinedAt:    p.JoinedAt,
		}
	}
	return v
}

// Reset replaces the replica with a fresh full fetch, used after a
// subscription gap when events may have been missed.
func (v *View) Reset(players []domain.Player) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.players = make(map[string]viewEntry, len(players))
	for _, p := range players {
		v.players[p.PlayerID] = viewEntry{
			playerID:    p.PlayerID,
			displayName: p.DisplayName,
			joinedAt:    p.JoinedAt,
		}
	}
}

// Fold applies one roster-topic envelope. Unknown events are ignored so the
// view tolerates future additions to the topic.
func (v *View) Fold(e channel.Envelope) error {
	switch e.Event {
	case domain.EventNamePlayerJoined:
		var p JoinedPayload
		if err := json.Unmarshal(e.Data, &p); err != nil {
			return err
		}

		v.mu.Lock()
		v.players[p.Player.PlayerID] = viewEntry{
			playerID:    p.Player.PlayerID,
			displayName: p.Player.DisplayName,
			joinedAt:    p.Player.JoinedAt,
		}
		v.mu.Unlock()

	case domain.EventNamePlayerLeft:
		var p LeftPayload
		if err := json.Unmarshal(e.Data, &p); err != nil {
			return err
		}

		v.mu.Lock()
		delete(v.players, p.PlayerID)
		v.mu.Unlock()
	}

	return nil
}

// Players returns the replica ordered by join time, ties by player id.
func (v *View) Players() []PlayerPayload {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]PlayerPayload, 0, len(v.players))
	for _, e := range v.players {
		out = append(out, PlayerPayload{
			PlayerID:    e.playerID,
			DisplayName: e.displayName,
			JoinedAt:    e.joinedAt,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].PlayerID < out[j].PlayerID
	})

	return out
}

func (v *View) Size() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.players)
}
