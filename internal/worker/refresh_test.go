package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shooting-range/internal/config"
	"github.com/shooting-range/internal/domain"
)

type countingRefresher struct {
	mu    sync.Mutex
	calls map[domain.Mode]int
	fail  domain.Mode
}

func (r *countingRefresher) RefreshLeaderboard(_ context.Context, mode domain.Mode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = make(map[domain.Mode]int)
	}
	r.calls[mode]++
	if mode == r.fail {
		return errors.New("store unavailable")
	}
	return nil
}

func (r *countingRefresher) count(mode domain.Mode) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[mode]
}

func newTestWorker(refresher LeaderboardRefresher, interval time.Duration) *RefreshWorker {
	return NewRefreshWorker(refresher, &config.RefreshConfig{Enabled: true, Interval: interval},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRunOnce_RefreshesEveryMode(t *testing.T) {
	refresher := &countingRefresher{fail: domain.ModeArcade}
	w := newTestWorker(refresher, time.Hour)

	w.RunOnce(context.Background())

	for _, mode := range domain.Modes() {
		assert.Equal(t, 1, refresher.count(mode), "mode %s", mode)
	}
}

func TestStartStop(t *testing.T) {
	refresher := &countingRefresher{}
	w := newTestWorker(refresher, 10*time.Millisecond)

	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Start(context.Background()), "second start is a no-op")
	assert.True(t, w.IsRunning())

	require.Eventually(t, func() bool {
		return refresher.count(domain.ModePrecision) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, w.Stop())
	assert.False(t, w.IsRunning())
	require.NoError(t, w.Stop(), "second stop is a no-op")

	after := refresher.count(domain.ModePrecision)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, refresher.count(domain.ModePrecision))
}

func TestRunExitsOnContextCancel(t *testing.T) {
	w := newTestWorker(&countingRefresher{}, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, w.Start(ctx))
	cancel()

	select {
	case <-w.doneCh:
	case <-time.After(time.Second):
		t.Fatal("worker did not exit after context cancellation")
	}
}
