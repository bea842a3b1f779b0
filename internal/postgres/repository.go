package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/shooting-range/internal/config"
	"github.com/shooting-range/internal/domain"
)

// uniqueViolation is the PostgreSQL error code for unique constraint failures
const uniqueViolation = "23505"

// psq is the PostgreSQL statement builder with dollar placeholders
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var sessionColumns = []string{"id", "player_id", "mode", "started_at", "finished_at", "score"}

var eventColumns = []string{"id", "session_id", "type", "ts", "hit", "distance", "score"}

// Repository provides PostgreSQL-based session and player storage
type Repository struct {
	db     *sql.DB
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a pgx connection pool and exposes it through database/sql
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	repo := New(stdlib.OpenDBFromPool(pool), logger)
	repo.pool = pool
	return repo, nil
}

// New wraps an open database handle
func New(db *sql.DB, logger *slog.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Close closes the database handle and the underlying pool
func (r *Repository) Close() {
	if err := r.db.Close(); err != nil {
		r.logger.Warn("closing database handle", "error", err)
	}
	if r.pool != nil {
		r.pool.Close()
	}
}

// DB returns the underlying database handle
func (r *Repository) DB() *sql.DB {
	return r.db
}

// Ping checks that the database is reachable
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// CreatePlayer inserts a new player
func (r *Repository) CreatePlayer(ctx context.Context, player domain.Player) error {
	query, args, err := psq.Insert("players").
		Columns("id", "name", "email", "created_at").
		Values(player.ID, player.Name, player.Email, player.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("building player insert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrPlayerExists
		}
		return fmt.Errorf("creating player: %w", err)
	}
	return nil
}

// GetPlayer retrieves a player by ID
func (r *Repository) GetPlayer(ctx context.Context, id string) (*domain.Player, error) {
	query, args, err := psq.Select("id", "name", "email", "created_at").
		From("players").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building player query: %w", err)
	}

	var player domain.Player
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&player.ID, &player.Name, &player.Email, &player.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPlayerNotFound
		}
		return nil, fmt.Errorf("getting player: %w", err)
	}
	return &player, nil
}

// CreateSession inserts a new active session
func (r *Repository) CreateSession(ctx context.Context, session domain.Session) error {
	query, args, err := psq.Insert("sessions").
		Columns("id", "player_id", "mode", "started_at").
		Values(session.ID, session.PlayerID, string(session.Mode), session.StartedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("building session insert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

// GetSession retrieves a session with its events ordered by timestamp
func (r *Repository) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	query, args, err := psq.Select(sessionColumns...).
		From("sessions").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building session query: %w", err)
	}

	session, err := scanSession(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("getting session: %w", err)
	}

	events, err := r.listEvents(ctx, id)
	if err != nil {
		return nil, err
	}
	session.Events = events
	return session, nil
}

// GetActiveSession returns the player's latest unfinished session without its
// events, or nil, nil when there is none
func (r *Repository) GetActiveSession(ctx context.Context, playerID string) (*domain.Session, error) {
	query, args, err := psq.Select(sessionColumns...).
		From("sessions").
		Where(sq.Eq{"player_id": playerID, "finished_at": nil}).
		OrderBy("started_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building active session query: %w", err)
	}

	session, err := scanSession(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil //nolint:nilnil // nil,nil means no active session
		}
		return nil, fmt.Errorf("getting active session: %w", err)
	}
	return session, nil
}

// AppendEvent inserts an event only while its session is still active
func (r *Repository) AppendEvent(ctx context.Context, event domain.Event) error {
	values := sq.Select().
		Column("?", event.ID).
		Column("?", event.SessionID).
		Column("?", string(event.Type)).
		Column("?::timestamptz", event.Ts).
		Column("?::boolean", event.Hit).
		Column("?::double precision", event.Distance).
		Column("?::bigint", event.Score).
		Where("EXISTS (SELECT 1 FROM sessions WHERE id = ? AND finished_at IS NULL FOR SHARE)", event.SessionID)

	query, args, err := psq.Insert("events").
		Columns(eventColumns...).
		Select(values).
		ToSql()
	if err != nil {
		return fmt.Errorf("building event insert: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("appending event: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("appending event: %w", err)
	}
	if affected == 0 {
		return r.inactiveSessionError(ctx, event.SessionID)
	}
	return nil
}

// FinishSession records the final score if no one else finished the session
// first and it still holds the eventCount events the score was computed from.
// The session row is locked for the whole check, and AppendEvent takes a
// share lock on the same row, so no event can land between count and update.
func (r *Repository) FinishSession(ctx context.Context, id string, eventCount int, score int64, finishedAt time.Time) (*domain.Session, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting finish transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	lockQuery, args, err := psq.Select("finished_at IS NOT NULL").
		From("sessions").
		Where(sq.Eq{"id": id}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building session lock query: %w", err)
	}

	var finished bool
	if err := tx.QueryRowContext(ctx, lockQuery, args...).Scan(&finished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("locking session: %w", err)
	}
	if finished {
		return nil, domain.ErrSessionAlreadyFinished
	}

	countQuery, args, err := psq.Select("count(*)").
		From("events").
		Where(sq.Eq{"session_id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building event count query: %w", err)
	}

	var stored int
	if err := tx.QueryRowContext(ctx, countQuery, args...).Scan(&stored); err != nil {
		return nil, fmt.Errorf("counting events: %w", err)
	}
	if stored != eventCount {
		return nil, domain.ErrSessionChanged
	}

	updateQuery, args, err := psq.Update("sessions").
		Set("finished_at", finishedAt).
		Set("score", score).
		Where(sq.Eq{"id": id}).
		Suffix("RETURNING id, player_id, mode, started_at, finished_at, score").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building finish update: %w", err)
	}

	session, err := scanSession(tx.QueryRowContext(ctx, updateQuery, args...))
	if err != nil {
		return nil, fmt.Errorf("finishing session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing finish: %w", err)
	}
	return session, nil
}

// inactiveSessionError explains why a conditional write touched no rows
func (r *Repository) inactiveSessionError(ctx context.Context, id string) error {
	query, args, err := psq.Select("finished_at IS NOT NULL").
		From("sessions").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building session state query: %w", err)
	}

	var finished bool
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&finished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrSessionNotFound
		}
		return fmt.Errorf("checking session state: %w", err)
	}
	if finished {
		return domain.ErrSessionAlreadyFinished
	}
	return fmt.Errorf("session %s is active but the write was not applied", id)
}

// ListFinishedSessions returns the top finished sessions for a mode with
// their events and player names
func (r *Repository) ListFinishedSessions(ctx context.Context, mode domain.Mode, limit int) ([]domain.FinishedSession, error) {
	qb := psq.Select(
		"s.id", "s.player_id", "s.mode", "s.started_at", "s.finished_at", "s.score",
		"COALESCE(p.name, '')",
	).
		From("sessions s").
		LeftJoin("players p ON p.id = s.player_id").
		Where(sq.Eq{"s.mode": string(mode)}).
		Where(sq.NotEq{"s.finished_at": nil}).
		OrderBy("s.score DESC", "s.finished_at ASC", "s.id ASC")
	if limit > 0 {
		qb = qb.Limit(uint64(limit))
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building leaderboard query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing finished sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var (
		sessions []domain.FinishedSession
		ids      []string
	)
	for rows.Next() {
		var fs domain.FinishedSession
		var mode string
		if err := rows.Scan(&fs.ID, &fs.PlayerID, &mode, &fs.StartedAt, &fs.FinishedAt, &fs.Score, &fs.PlayerName); err != nil {
			return nil, fmt.Errorf("scanning finished session: %w", err)
		}
		fs.Mode = domain.Mode(mode)
		sessions = append(sessions, fs)
		ids = append(ids, fs.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating finished sessions: %w", err)
	}
	if len(ids) == 0 {
		return sessions, nil
	}

	events, err := r.eventsBySession(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		sessions[i].Events = events[sessions[i].ID]
	}
	return sessions, nil
}

// listEvents returns the events of one session ordered by timestamp
func (r *Repository) listEvents(ctx context.Context, sessionID string) ([]domain.Event, error) {
	events, err := r.eventsBySession(ctx, []string{sessionID})
	if err != nil {
		return nil, err
	}
	return events[sessionID], nil
}

// eventsBySession loads events for a set of sessions, ordered by timestamp
// then insertion order
func (r *Repository) eventsBySession(ctx context.Context, sessionIDs []string) (map[string][]domain.Event, error) {
	query, args, err := psq.Select(eventColumns...).
		From("events").
		Where(sq.Eq{"session_id": sessionIDs}).
		OrderBy("session_id", "ts ASC", "seq ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building events query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events := make(map[string][]domain.Event, len(sessionIDs))
	for rows.Next() {
		var e domain.Event
		var eventType string
		if err := rows.Scan(&e.ID, &e.SessionID, &eventType, &e.Ts, &e.Hit, &e.Distance, &e.Score); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		e.Type = domain.EventType(eventType)
		events[e.SessionID] = append(events[e.SessionID], e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	return events, nil
}

func scanSession(row *sql.Row) (*domain.Session, error) {
	var (
		session    domain.Session
		mode       string
		finishedAt sql.NullTime
		score      sql.NullInt64
	)
	if err := row.Scan(&session.ID, &session.PlayerID, &mode, &session.StartedAt, &finishedAt, &score); err != nil {
		return nil, err
	}
	session.Mode = domain.Mode(mode)
	if finishedAt.Valid {
		at := finishedAt.Time
		session.FinishedAt = &at
	}
	if score.Valid {
		s := score.Int64
		session.Score = &s
	}
	return &session, nil
}
