package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shooting-range/internal/config"
	"github.com/shooting-range/internal/domain"
)

// LeaderboardCache caches ranked leaderboard pages and player names in Redis
type LeaderboardCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewLeaderboardCache connects to Redis and verifies the connection
func NewLeaderboardCache(cfg *config.RedisConfig, logger *slog.Logger) (*LeaderboardCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewLeaderboardCacheWithClient(client, cfg.CacheTTL, logger), nil
}

// NewLeaderboardCacheWithClient wraps an existing client
func NewLeaderboardCacheWithClient(client *redis.Client, ttl time.Duration, logger *slog.Logger) *LeaderboardCache {
	return &LeaderboardCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// Close closes the Redis connection
func (c *LeaderboardCache) Close() error {
	return c.client.Close()
}

// Ping checks that Redis is reachable
func (c *LeaderboardCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// pagesKey returns the hash holding every cached page of a mode's leaderboard
func pagesKey(mode domain.Mode) string {
	return fmt.Sprintf("leaderboard:%s:pages", mode)
}

// generationKey returns the counter bumped on every invalidation of a mode
func generationKey(mode domain.Mode) string {
	return fmt.Sprintf("leaderboard:%s:gen", mode)
}

// playerInfoKey returns the Redis key for player info cache
func playerInfoKey(playerID string) string {
	return fmt.Sprintf("player:%s:info", playerID)
}

// GetLeaderboard returns a cached page. The second result is false on a miss.
func (c *LeaderboardCache) GetLeaderboard(ctx context.Context, mode domain.Mode, limit int) ([]domain.LeaderboardEntry, bool, error) {
	raw, err := c.client.HGet(ctx, pagesKey(mode), strconv.Itoa(limit)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("getting leaderboard page: %w", err)
	}

	entries, err := decodeEntries(raw)
	if err != nil {
		c.logger.Warn("dropping unreadable leaderboard page", "mode", mode, "limit", limit, "error", err)
		return nil, false, nil
	}
	return entries, true, nil
}

// errStaleGeneration aborts a page write built before the latest invalidation
var errStaleGeneration = errors.New("leaderboard generation moved")

// Generation returns the invalidation counter of a mode. Read it before
// building a page and hand it to SetLeaderboard.
func (c *LeaderboardCache) Generation(ctx context.Context, mode domain.Mode) (int64, error) {
	gen, err := parseGeneration(c.client.Get(ctx, generationKey(mode)))
	if err != nil {
		return 0, fmt.Errorf("getting leaderboard generation: %w", err)
	}
	return gen, nil
}

// SetLeaderboard stores a page and refreshes the TTL of the mode's hash, but
// only while the mode is still at generation. It reports false without error
// when an invalidation happened since, so a page built from data read before
// a finish never outlives that finish's invalidation.
func (c *LeaderboardCache) SetLeaderboard(ctx context.Context, mode domain.Mode, limit int, generation int64, entries []domain.LeaderboardEntry) (bool, error) {
	raw, err := encodeEntries(entries)
	if err != nil {
		return false, err
	}

	key := pagesKey(mode)
	genKey := generationKey(mode)
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := parseGeneration(tx.Get(ctx, genKey))
		if err != nil {
			return err
		}
		if current != generation {
			return errStaleGeneration
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, strconv.Itoa(limit), raw)
			if c.ttl > 0 {
				pipe.Expire(ctx, key, c.ttl)
			}
			return nil
		})
		return err
	}, genKey)

	switch {
	case errors.Is(err, errStaleGeneration), errors.Is(err, redis.TxFailedErr):
		c.logger.Debug("skipping stale leaderboard page", "mode", mode, "limit", limit, "generation", generation)
		return false, nil
	case err != nil:
		return false, fmt.Errorf("setting leaderboard page: %w", err)
	}
	return true, nil
}

// Invalidate drops every cached page of a mode and bumps its generation so
// pages still being built from older data are refused
func (c *LeaderboardCache) Invalidate(ctx context.Context, mode domain.Mode) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey(mode))
		pipe.Del(ctx, pagesKey(mode))
		return nil
	})
	if err != nil {
		return fmt.Errorf("invalidating leaderboard: %w", err)
	}
	return nil
}

// SetPlayerInfo caches player information
func (c *LeaderboardCache) SetPlayerInfo(ctx context.Context, playerID, name string) error {
	err := c.client.HSet(ctx, playerInfoKey(playerID), "name", name).Err()
	if err != nil {
		return fmt.Errorf("setting player info: %w", err)
	}
	return nil
}

// GetPlayerInfo retrieves cached player information
func (c *LeaderboardCache) GetPlayerInfo(ctx context.Context, playerID string) (*domain.PlayerInfo, error) {
	result, err := c.client.HGetAll(ctx, playerInfoKey(playerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting player info: %w", err)
	}

	if len(result) == 0 {
		return nil, domain.ErrPlayerNotFound
	}

	return &domain.PlayerInfo{
		ID:   playerID,
		Name: result["name"],
	}, nil
}

func encodeEntries(entries []domain.LeaderboardEntry) ([]byte, error) {
	if entries == nil {
		entries = []domain.LeaderboardEntry{}
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("encoding leaderboard page: %w", err)
	}
	return raw, nil
}

// parseGeneration reads a generation counter; a missing key is generation 0
func parseGeneration(cmd *redis.StringCmd) (int64, error) {
	gen, err := cmd.Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func decodeEntries(raw []byte) ([]domain.LeaderboardEntry, error) {
	var entries []domain.LeaderboardEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decoding leaderboard page: %w", err)
	}
	return entries, nil
}
