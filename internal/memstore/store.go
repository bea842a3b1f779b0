// Package memstore keeps sessions, events and players in process memory.
// It backs the "memory" storage driver and the service tests.
package memstore

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shooting-range/internal/domain"
)

// MemoryStore implements service.SessionStore and service.PlayerStore
// using maps guarded by a single mutex.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
	players  map[string]*domain.Player
}

// New creates an empty in-memory store.
func New() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*domain.Session),
		players:  make(map[string]*domain.Player),
	}
}

func cloneSession(s *domain.Session) *domain.Session {
	out := *s
	if s.FinishedAt != nil {
		at := *s.FinishedAt
		out.FinishedAt = &at
	}
	if s.Score != nil {
		score := *s.Score
		out.Score = &score
	}
	out.Events = slices.Clone(s.Events)
	return &out
}

// CreateSession persists a new session.
func (s *MemoryStore) CreateSession(_ context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[session.ID] = cloneSession(&session)
	return nil
}

// GetSession returns a copy of the session and its events.
func (s *MemoryStore) GetSession(_ context.Context, id string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return cloneSession(session), nil
}

// GetActiveSession returns the player's most recent unfinished session, or
// nil, nil when there is none.
func (s *MemoryStore) GetActiveSession(_ context.Context, playerID string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active *domain.Session
	for _, session := range s.sessions {
		if session.PlayerID != playerID || session.FinishedAt != nil {
			continue
		}
		if active == nil || session.StartedAt.After(active.StartedAt) {
			active = session
		}
	}
	if active == nil {
		return nil, nil //nolint:nilnil // nil,nil means no active session
	}
	return cloneSession(active), nil
}

// AppendEvent adds an event to a session that is still active.
func (s *MemoryStore) AppendEvent(_ context.Context, event domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[event.SessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if session.FinishedAt != nil {
		return domain.ErrSessionAlreadyFinished
	}
	session.Events = append(session.Events, event)
	return nil
}

// FinishSession sets the final score if the session has not been finished
// yet and still holds exactly the eventCount events that were scored.
func (s *MemoryStore) FinishSession(_ context.Context, id string, eventCount int, score int64, finishedAt time.Time) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	if session.FinishedAt != nil {
		return nil, domain.ErrSessionAlreadyFinished
	}
	if len(session.Events) != eventCount {
		return nil, domain.ErrSessionChanged
	}
	session.FinishedAt = &finishedAt
	session.Score = &score
	return cloneSession(session), nil
}

// ListFinishedSessions returns the best finished sessions for a mode.
func (s *MemoryStore) ListFinishedSessions(_ context.Context, mode domain.Mode, limit int) ([]domain.FinishedSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.FinishedSession
	for _, session := range s.sessions {
		if session.Mode != mode || session.FinishedAt == nil {
			continue
		}
		var name string
		if player, ok := s.players[session.PlayerID]; ok {
			name = player.Name
		}
		out = append(out, domain.FinishedSession{Session: *cloneSession(session), PlayerName: name})
	}

	slices.SortFunc(out, func(a, b domain.FinishedSession) int {
		if c := cmp.Compare(*b.Score, *a.Score); c != 0 {
			return c
		}
		if c := a.FinishedAt.Compare(*b.FinishedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CreatePlayer persists a new player. Emails are unique.
func (s *MemoryStore) CreatePlayer(_ context.Context, player domain.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.players[player.ID]; ok {
		return domain.ErrPlayerExists
	}
	for _, existing := range s.players {
		if existing.Email == player.Email {
			return domain.ErrPlayerExists
		}
	}
	p := player
	s.players[player.ID] = &p
	return nil
}

// GetPlayer returns a player by id.
func (s *MemoryStore) GetPlayer(_ context.Context, id string) (*domain.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	player, ok := s.players[id]
	if !ok {
		return nil, domain.ErrPlayerNotFound
	}
	p := *player
	return &p, nil
}
