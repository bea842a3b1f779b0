//go:build integration

package redis

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/shooting-range/internal/domain"
)

func TestLeaderboardCache_Redis(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()

	redisContainer, err := testcontainers.Run(ctx, "redis:7-alpine",
		testcontainers.WithExposedPorts("6379/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = redisContainer.Terminate(ctx) })

	addr, err := redisContainer.Endpoint(ctx, "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: addr})
	cache := NewLeaderboardCacheWithClient(client, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { _ = cache.Close() })
	require.NoError(t, cache.Ping(ctx))

	t.Run("pages round trip per limit", func(t *testing.T) {
		_, ok, err := cache.GetLeaderboard(ctx, domain.ModeArcade, 10)
		require.NoError(t, err)
		assert.False(t, ok)

		gen, err := cache.Generation(ctx, domain.ModeArcade)
		require.NoError(t, err)
		assert.Equal(t, int64(0), gen)

		page := []domain.LeaderboardEntry{{Rank: 1, SessionID: "s1", Score: 35}}
		stored, err := cache.SetLeaderboard(ctx, domain.ModeArcade, 10, gen, page)
		require.NoError(t, err)
		assert.True(t, stored)

		got, ok, err := cache.GetLeaderboard(ctx, domain.ModeArcade, 10)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, page, got)

		_, ok, err = cache.GetLeaderboard(ctx, domain.ModeArcade, 5)
		require.NoError(t, err)
		assert.False(t, ok)

		ttl, err := client.TTL(ctx, pagesKey(domain.ModeArcade)).Result()
		require.NoError(t, err)
		assert.Greater(t, ttl, time.Duration(0))
	})

	t.Run("invalidate drops every page of a mode", func(t *testing.T) {
		gen, err := cache.Generation(ctx, domain.ModePrecision)
		require.NoError(t, err)
		stored, err := cache.SetLeaderboard(ctx, domain.ModePrecision, 3, gen, nil)
		require.NoError(t, err)
		require.True(t, stored)
		require.NoError(t, cache.Invalidate(ctx, domain.ModeArcade))

		_, ok, err := cache.GetLeaderboard(ctx, domain.ModeArcade, 10)
		require.NoError(t, err)
		assert.False(t, ok)

		_, ok, err = cache.GetLeaderboard(ctx, domain.ModePrecision, 3)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("page built before an invalidation is refused", func(t *testing.T) {
		before, err := cache.Generation(ctx, domain.ModeArcade)
		require.NoError(t, err)

		// a finish commits and invalidates while the page is being built
		require.NoError(t, cache.Invalidate(ctx, domain.ModeArcade))
		after, err := cache.Generation(ctx, domain.ModeArcade)
		require.NoError(t, err)
		assert.Equal(t, before+1, after)

		stale := []domain.LeaderboardEntry{{Rank: 1, SessionID: "old"}}
		stored, err := cache.SetLeaderboard(ctx, domain.ModeArcade, 10, before, stale)
		require.NoError(t, err)
		assert.False(t, stored)

		_, ok, err := cache.GetLeaderboard(ctx, domain.ModeArcade, 10)
		require.NoError(t, err)
		assert.False(t, ok, "the stale page never reaches the cache")

		fresh := []domain.LeaderboardEntry{{Rank: 1, SessionID: "new"}}
		stored, err = cache.SetLeaderboard(ctx, domain.ModeArcade, 10, after, fresh)
		require.NoError(t, err)
		assert.True(t, stored)
	})

	t.Run("player info", func(t *testing.T) {
		_, err := cache.GetPlayerInfo(ctx, "p1")
		assert.ErrorIs(t, err, domain.ErrPlayerNotFound)

		require.NoError(t, cache.SetPlayerInfo(ctx, "p1", "Ann"))
		info, err := cache.GetPlayerInfo(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, "Ann", info.Name)
	})
}
