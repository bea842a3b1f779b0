package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shooting-range/internal/config"
	"github.com/shooting-range/internal/domain"
	"github.com/shooting-range/internal/scoring"
)

// SessionStore persists sessions and their events. FinishSession and
// AppendEvent must be conditional on the session still being active so that
// racing callers observe ErrSessionAlreadyFinished. FinishSession must also
// refuse with ErrSessionChanged when the session no longer holds eventCount
// events, so the stored score always covers every stored event.
type SessionStore interface {
	CreateSession(ctx context.Context, session domain.Session) error
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	GetActiveSession(ctx context.Context, playerID string) (*domain.Session, error)
	AppendEvent(ctx context.Context, event domain.Event) error
	FinishSession(ctx context.Context, id string, eventCount int, score int64, finishedAt time.Time) (*domain.Session, error)
	ListFinishedSessions(ctx context.Context, mode domain.Mode, limit int) ([]domain.FinishedSession, error)
}

// PlayerStore persists player identities
type PlayerStore interface {
	CreatePlayer(ctx context.Context, player domain.Player) error
	GetPlayer(ctx context.Context, id string) (*domain.Player, error)
}

// LeaderboardCache caches ranked leaderboard pages and player names.
// Invalidate advances the mode's generation; SetLeaderboard stores a page only
// while the generation still matches the one read before the page was built.
type LeaderboardCache interface {
	GetLeaderboard(ctx context.Context, mode domain.Mode, limit int) ([]domain.LeaderboardEntry, bool, error)
	Generation(ctx context.Context, mode domain.Mode) (int64, error)
	SetLeaderboard(ctx context.Context, mode domain.Mode, limit int, generation int64, entries []domain.LeaderboardEntry) (bool, error)
	Invalidate(ctx context.Context, mode domain.Mode) error
	GetPlayerInfo(ctx context.Context, playerID string) (*domain.PlayerInfo, error)
	SetPlayerInfo(ctx context.Context, playerID, name string) error
}

// FinishPublisher announces finished sessions to downstream consumers
type FinishPublisher interface {
	PublishSessionFinished(ctx context.Context, mode domain.Mode, summary domain.FinishSummary) error
}

// LeaderboardNotifier pushes leaderboard changes to live subscribers
type LeaderboardNotifier interface {
	BroadcastLeaderboardUpdate(mode domain.Mode, entries []domain.LeaderboardEntry)
}

// SessionService provides business logic for session lifecycle and leaderboards
type SessionService struct {
	store     SessionStore
	players   PlayerStore
	cache     LeaderboardCache
	publisher FinishPublisher
	notifier  LeaderboardNotifier
	config    *config.SessionConfig
	lbConfig  *config.LeaderboardConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewSessionService creates a new session service
func NewSessionService(
	store SessionStore,
	players PlayerStore,
	cfg *config.SessionConfig,
	lbCfg *config.LeaderboardConfig,
	logger *slog.Logger,
) *SessionService {
	return &SessionService{
		store:    store,
		players:  players,
		config:   cfg,
		lbConfig: lbCfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetCache attaches a leaderboard cache
func (s *SessionService) SetCache(cache LeaderboardCache) {
	s.cache = cache
}

// SetPublisher attaches a publisher for finished sessions
func (s *SessionService) SetPublisher(publisher FinishPublisher) {
	s.publisher = publisher
}

// SetNotifier attaches a live leaderboard notifier
func (s *SessionService) SetNotifier(notifier LeaderboardNotifier) {
	s.notifier = notifier
}

// SetClock overrides the time source
func (s *SessionService) SetClock(now func() time.Time) {
	s.now = now
}

// authorize checks that the caller owns the session
func authorize(session *domain.Session, playerID string) error {
	if session.PlayerID != playerID {
		return domain.ErrForbidden
	}
	return nil
}

// loadOwnedSession fetches a session and verifies the caller owns it
func (s *SessionService) loadOwnedSession(ctx context.Context, playerID, sessionID string) (*domain.Session, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}
	if err := authorize(session, playerID); err != nil {
		return nil, err
	}
	return session, nil
}

// StartSession opens a new active session for the player
func (s *SessionService) StartSession(ctx context.Context, playerID string, mode domain.Mode) (*domain.StartSessionResult, error) {
	if playerID == "" {
		return nil, fmt.Errorf("%w: player id is required", domain.ErrValidation)
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: unknown mode %q", domain.ErrValidation, mode)
	}

	if s.config.SingleActivePerPlayer {
		active, err := s.store.GetActiveSession(ctx, playerID)
		if err != nil {
			return nil, fmt.Errorf("checking active session: %w", err)
		}
		if active != nil {
			return nil, domain.ErrActiveSessionExists
		}
	}

	session := domain.Session{
		ID:        uuid.NewString(),
		PlayerID:  playerID,
		Mode:      mode,
		StartedAt: s.now(),
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	s.logger.Debug("session started", "session_id", session.ID, "player_id", playerID, "mode", mode)

	return &domain.StartSessionResult{
		ID:        session.ID,
		PlayerID:  session.PlayerID,
		Mode:      session.Mode,
		StartedAt: session.StartedAt,
	}, nil
}

// AddEvent scores a shot and appends it to an active session
func (s *SessionService) AddEvent(ctx context.Context, playerID, sessionID string, input domain.EventInput) (*domain.Event, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	session, err := s.loadOwnedSession(ctx, playerID, sessionID)
	if err != nil {
		return nil, err
	}
	if err := session.CanApply(domain.TransitionAddEvent); err != nil {
		return nil, err
	}

	event := domain.Event{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Type:      input.Type,
		Ts:        input.Ts.UTC(),
		Hit:       input.Hit,
		Distance:  input.Distance,
		Score:     scoring.ScoreEvent(input.Hit, input.Distance),
	}
	if err := s.store.AppendEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("appending event: %w", err)
	}

	return &event, nil
}

// finishAttempts bounds how often a finish is rescored when events keep
// arriving between the read and the conditional update
const finishAttempts = 3

// FinishSession closes an active session and records its final score
func (s *SessionService) FinishSession(ctx context.Context, playerID, sessionID string) (*domain.FinishSummary, error) {
	var (
		session *domain.Session
		stats   domain.SessionStats
		stored  *domain.Session
		err     error
	)
	finishedAt := s.now()

	for attempt := 1; ; attempt++ {
		session, err = s.loadOwnedSession(ctx, playerID, sessionID)
		if err != nil {
			return nil, err
		}
		if err := session.CanApply(domain.TransitionFinish); err != nil {
			return nil, err
		}

		stats = scoring.ScoreSession(session.Events)
		stored, err = s.store.FinishSession(ctx, session.ID, len(session.Events), stats.TotalScore, finishedAt)
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrSessionChanged) || attempt >= finishAttempts {
			return nil, fmt.Errorf("finishing session: %w", err)
		}
		s.logger.Debug("session changed while finishing, rescoring",
			"session_id", session.ID,
			"attempt", attempt,
		)
	}
	if stored.FinishedAt != nil {
		finishedAt = *stored.FinishedAt
	}

	summary := domain.FinishSummary{
		ID:         session.ID,
		PlayerID:   session.PlayerID,
		Score:      stats.TotalScore,
		Hits:       stats.Hits,
		Misses:     stats.Misses,
		FinishedAt: finishedAt,
	}

	s.logger.Info("session finished",
		"session_id", session.ID,
		"player_id", session.PlayerID,
		"mode", session.Mode,
		"score", stats.TotalScore,
	)

	s.afterFinish(ctx, session.Mode, summary)

	return &summary, nil
}

// afterFinish runs the best-effort side effects of a finished session.
// Failures are logged; the session is already durably finished.
func (s *SessionService) afterFinish(ctx context.Context, mode domain.Mode, summary domain.FinishSummary) {
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, mode); err != nil {
			s.logger.Warn("failed to invalidate leaderboard cache", "mode", mode, "error", err)
		}
	}

	if s.publisher != nil {
		if err := s.publisher.PublishSessionFinished(ctx, mode, summary); err != nil {
			s.logger.Warn("failed to publish session result", "session_id", summary.ID, "error", err)
		}
	}

	if s.notifier != nil {
		entries, err := s.GetLeaderboard(ctx, mode, 0)
		if err != nil {
			s.logger.Warn("failed to load leaderboard for broadcast", "mode", mode, "error", err)
			return
		}
		s.notifier.BroadcastLeaderboardUpdate(mode, entries)
	}
}

// GetSessionDetails returns a session with its events. Score, hits and
// misses are included only once the session is finished.
func (s *SessionService) GetSessionDetails(ctx context.Context, playerID, sessionID string) (*domain.SessionDetails, error) {
	session, err := s.loadOwnedSession(ctx, playerID, sessionID)
	if err != nil {
		return nil, err
	}

	details := &domain.SessionDetails{
		ID:        session.ID,
		PlayerID:  session.PlayerID,
		Mode:      session.Mode,
		StartedAt: session.StartedAt,
		Events:    scoring.Chronological(session.Events),
	}
	if details.Events == nil {
		details.Events = []domain.Event{}
	}

	if session.State() == domain.StateFinished {
		stats := scoring.ScoreSession(session.Events)
		details.FinishedAt = session.FinishedAt
		details.Score = session.Score
		details.Hits = &stats.Hits
		details.Misses = &stats.Misses
	}

	return details, nil
}

// clampLimit applies the configured default and maximum page sizes
func (s *SessionService) clampLimit(limit int) int {
	if limit <= 0 {
		limit = s.lbConfig.DefaultLimit
	}
	if limit > s.lbConfig.MaxLimit {
		limit = s.lbConfig.MaxLimit
	}
	return limit
}

// GetLeaderboard returns the top finished sessions for a mode
func (s *SessionService) GetLeaderboard(ctx context.Context, mode domain.Mode, limit int) ([]domain.LeaderboardEntry, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: unknown mode %q", domain.ErrValidation, mode)
	}
	limit = s.clampLimit(limit)

	if s.cache == nil {
		return s.buildLeaderboard(ctx, mode, limit)
	}

	// the generation must be read before the store so a finish that commits
	// during the build invalidates this page
	generation, genErr := s.cache.Generation(ctx, mode)
	if genErr != nil {
		s.logger.Warn("failed to read leaderboard generation", "mode", mode, "error", genErr)
	} else {
		entries, ok, err := s.cache.GetLeaderboard(ctx, mode, limit)
		if err != nil {
			s.logger.Warn("failed to read leaderboard cache", "mode", mode, "error", err)
		} else if ok {
			return entries, nil
		}
	}

	entries, err := s.buildLeaderboard(ctx, mode, limit)
	if err != nil {
		return nil, err
	}

	if genErr == nil {
		s.storeLeaderboard(ctx, mode, limit, generation, entries)
	}
	return entries, nil
}

// storeLeaderboard caches a page built at generation, best effort
func (s *SessionService) storeLeaderboard(ctx context.Context, mode domain.Mode, limit int, generation int64, entries []domain.LeaderboardEntry) {
	stored, err := s.cache.SetLeaderboard(ctx, mode, limit, generation, entries)
	if err != nil {
		s.logger.Warn("failed to store leaderboard cache", "mode", mode, "error", err)
		return
	}
	if !stored {
		s.logger.Debug("leaderboard changed while building, page not cached", "mode", mode, "limit", limit)
	}
}

// buildLeaderboard ranks finished sessions straight from the store
func (s *SessionService) buildLeaderboard(ctx context.Context, mode domain.Mode, limit int) ([]domain.LeaderboardEntry, error) {
	sessions, err := s.store.ListFinishedSessions(ctx, mode, limit)
	if err != nil {
		return nil, fmt.Errorf("listing finished sessions: %w", err)
	}
	return scoring.Rank(sessions, limit), nil
}

// RefreshLeaderboard rebuilds the default leaderboard page for a mode,
// replaces the cached copy and pushes it to live subscribers
func (s *SessionService) RefreshLeaderboard(ctx context.Context, mode domain.Mode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: unknown mode %q", domain.ErrValidation, mode)
	}
	limit := s.clampLimit(0)

	var (
		generation int64
		cacheable  bool
	)
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, mode); err != nil {
			s.logger.Warn("failed to invalidate leaderboard cache", "mode", mode, "error", err)
		}
		gen, err := s.cache.Generation(ctx, mode)
		if err != nil {
			s.logger.Warn("failed to read leaderboard generation", "mode", mode, "error", err)
		} else {
			generation, cacheable = gen, true
		}
	}

	entries, err := s.buildLeaderboard(ctx, mode, limit)
	if err != nil {
		return err
	}

	if cacheable {
		s.storeLeaderboard(ctx, mode, limit, generation, entries)
	}

	if s.notifier != nil {
		s.notifier.BroadcastLeaderboardUpdate(mode, entries)
	}
	return nil
}

// RegisterPlayer creates a player identity
func (s *SessionService) RegisterPlayer(ctx context.Context, req domain.RegisterPlayerRequest) (*domain.Player, error) {
	if err := req.Normalize(); err != nil {
		return nil, err
	}

	player := domain.Player{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Email:     req.Email,
		CreatedAt: s.now(),
	}
	if err := s.players.CreatePlayer(ctx, player); err != nil {
		return nil, fmt.Errorf("creating player: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.SetPlayerInfo(ctx, player.ID, player.Name); err != nil {
			s.logger.Warn("failed to cache player info", "player_id", player.ID, "error", err)
		}
	}

	return &player, nil
}

// GetPlayer resolves a player identity
func (s *SessionService) GetPlayer(ctx context.Context, playerID string) (*domain.Player, error) {
	return s.players.GetPlayer(ctx, playerID)
}

// ResolvePlayer returns the lightweight identity for a caller, consulting the
// cache before the player store
func (s *SessionService) ResolvePlayer(ctx context.Context, playerID string) (*domain.PlayerInfo, error) {
	if playerID == "" {
		return nil, domain.ErrPlayerNotFound
	}

	if s.cache != nil {
		info, err := s.cache.GetPlayerInfo(ctx, playerID)
		if err == nil {
			return info, nil
		}
		if !errors.Is(err, domain.ErrPlayerNotFound) {
			s.logger.Warn("failed to read player cache", "player_id", playerID, "error", err)
		}
	}

	player, err := s.players.GetPlayer(ctx, playerID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetPlayerInfo(ctx, player.ID, player.Name); err != nil {
			s.logger.Warn("failed to cache player info", "player_id", player.ID, "error", err)
		}
	}

	return &domain.PlayerInfo{ID: player.ID, Name: player.Name}, nil
}
