package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hootlabs/hoot/internal/domain"
	"github.com/hootlabs/hoot/internal/errors"
)

// Memory is an in-memory Store with the same conditional-update semantics
// as the postgres implementation. Used by tests and local development.
type Memory struct {
	mu sync.Mutex

	sessions  map[string]*domain.Session
	byCode    map[string]string
	players   map[string]map[string]*domain.Player // session -> player id
	questions map[string][]domain.Question         // quiz -> ordered questions
	answers   map[string]map[string]*domain.Answer // session -> player/question
}

func NewMemory() *Memory {
	return &Memory{
		sessions:  make(map[string]*domain.Session),
		byCode:    make(map[string]string),
		players:   make(map[string]map[string]*domain.Player),
		questions: make(map[string][]domain.Question),
		answers:   make(map[string]map[string]*domain.Answer),
	}
}

func (m *Memory) CreateSession(_ context.Context, s *domain.Session, questions []domain.Question) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	code := domain.NormalizeRoomCode(s.RoomCode)
	if _, ok := m.byCode[code]; ok {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("room code taken: %s", code))
	}

	cp := *s
	cp.RoomCode = code
	m.sessions[s.SessionID] = &cp
	m.byCode[code] = s.SessionID
	m.players[s.SessionID] = make(map[string]*domain.Player)
	m.answers[s.SessionID] = make(map[string]*domain.Answer)

	qs := make([]domain.Question, len(questions))
	copy(qs, questions)
	sort.Slice(qs, func(i, j int) bool { return qs[i].Ordinal < qs[j].Ordinal })
	m.questions[s.QuizID] = qs

	return nil
}

func (m *Memory) GetSession(_ context.Context, sessionID string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.getSessionLocked(sessionID)
}

func (m *Memory) getSessionLocked(sessionID string) (*domain.Session, error) {
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, errors.NotFound(errors.WithMessagef("session not found: %s", sessionID))
	}

	cp := *s
	return &cp, nil
}

func (m *Memory) GetSessionByRoomCode(_ context.Context, code string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byCode[domain.NormalizeRoomCode(code)]
	if !ok {
		return nil, errors.NotFound(errors.WithMessagef("room code not found: %s", code))
	}

	return m.getSessionLocked(id)
}

func (m *Memory) ApplyTransition(_ context.Context, t Transition) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[t.SessionID]
	if !ok {
		return nil, errors.NotFound(errors.WithMessagef("session not found: %s", t.SessionID))
	}

	matched := false
	for _, from := range t.From {
		if s.Status == from {
			matched = true
			break
		}
	}
	if !matched {
		return nil, errors.PersistenceConflict(
			errors.WithMessagef("session %s is %s, not in %v", t.SessionID, s.Status, t.From))
	}

	s.Status = t.To
	if t.CurrentQuestion != nil {
		s.CurrentQuestion = *t.CurrentQuestion
	}
	if t.QuestionStartedAt != nil {
		ts := *t.QuestionStartedAt
		s.QuestionStartedAt = &ts
	}
	if t.StartedAt != nil {
		ts := *t.StartedAt
		s.StartedAt = &ts
	}
	if t.EndedAt != nil {
		ts := *t.EndedAt
		s.EndedAt = &ts
	}

	cp := *s
	return &cp, nil
}

func (m *Memory) UpsertPlayer(_ context.Context, p *domain.Player) (*domain.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	roster, ok := m.players[p.SessionID]
	if !ok {
		return nil, errors.NotFound(errors.WithMessagef("session not found: %s", p.SessionID))
	}

	if p.IdentityKey != "" {
		for _, existing := range roster {
			if existing.IdentityKey == p.IdentityKey {
				existing.DisplayName = p.DisplayName
				cp := *existing
				return &cp, nil
			}
		}
	}

	cp := *p
	roster[p.PlayerID] = &cp
	out := cp
	return &out, nil
}

func (m *Memory) GetPlayer(_ context.Context, sessionID, playerID string) (*domain.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.players[sessionID][playerID]
	if !ok {
		return nil, errors.NotFound(errors.WithMessagef("player not found: %s", playerID))
	}

	cp := *p
	return &cp, nil
}

func (m *Memory) DeletePlayer(_ context.Context, sessionID, playerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.players[sessionID][playerID]; !ok {
		return errors.NotFound(errors.WithMessagef("player not found: %s", playerID))
	}

	delete(m.players[sessionID], playerID)
	return nil
}

func (m *Memory) ListPlayers(_ context.Context, sessionID string) ([]domain.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	roster, ok := m.players[sessionID]
	if !ok {
		return nil, errors.NotFound(errors.WithMessagef("session not found: %s", sessionID))
	}

	out := make([]domain.Player, 0, len(roster))
	for _, p := range roster {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].PlayerID < out[j].PlayerID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})

	return out, nil
}

func (m *Memory) GetQuestionByOrdinal(_ context.Context, quizID string, ordinal int) (*domain.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, q := range m.questions[quizID] {
		if q.Ordinal == ordinal {
			cp := q
			return &cp, nil
		}
	}

	return nil, errors.NotFound(errors.WithMessagef("question not found: quiz=%s ordinal=%d", quizID, ordinal))
}

func (m *Memory) ListQuestions(_ context.Context, quizID string) ([]domain.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.Question, len(m.questions[quizID]))
	copy(out, m.questions[quizID])
	return out, nil
}

func (m *Memory) InsertAnswer(_ context.Context, a *domain.Answer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	answers, ok := m.answers[a.SessionID]
	if !ok {
		return errors.NotFound(errors.WithMessagef("session not found: %s", a.SessionID))
	}

	key := answerKey(a.PlayerID, a.QuestionID)
	if _, ok := answers[key]; ok {
		return errors.DuplicateAnswer(
			errors.WithMessagef("answer already submitted: player=%s question=%s", a.PlayerID, a.QuestionID))
	}

	cp := *a
	answers[key] = &cp
	return nil
}

func (m *Memory) CountAnswers(_ context.Context, sessionID, questionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, a := range m.answers[sessionID] {
		if a.QuestionID == questionID {
			n++
		}
	}

	return n, nil
}

func (m *Memory) ListAnswers(_ context.Context, sessionID string) ([]domain.Answer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.Answer, 0, len(m.answers[sessionID]))
	for _, a := range m.answers[sessionID] {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmitTime.Before(out[j].SubmitTime)
	})

	return out, nil
}

func (m *Memory) AddScore(_ context.Context, sessionID, playerID string, points int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.players[sessionID][playerID]
	if !ok {
		return 0, errors.NotFound(errors.WithMessagef("player not found: %s", playerID))
	}

	p.Score += points
	return p.Score, nil
}

func answerKey(playerID, questionID string) string {
	return fmt.Sprintf("%s/%s", playerID, questionID)
}
