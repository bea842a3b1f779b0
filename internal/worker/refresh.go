package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shooting-range/internal/config"
	"github.com/shooting-range/internal/domain"
)

// LeaderboardRefresher rebuilds the cached leaderboard of a mode
type LeaderboardRefresher interface {
	RefreshLeaderboard(ctx context.Context, mode domain.Mode) error
}

// RefreshWorker periodically rebuilds every mode's leaderboard from the store
type RefreshWorker struct {
	refresher LeaderboardRefresher
	config    *config.RefreshConfig
	modes     []domain.Mode
	logger    *slog.Logger
	stopCh    chan struct{}
	doneCh    chan struct{}
	mu        sync.Mutex
	running   bool
}

// NewRefreshWorker creates a new refresh worker
func NewRefreshWorker(refresher LeaderboardRefresher, cfg *config.RefreshConfig, logger *slog.Logger) *RefreshWorker {
	return &RefreshWorker{
		refresher: refresher,
		config:    cfg,
		modes:     domain.Modes(),
		logger:    logger,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start begins the background refresh loop
func (w *RefreshWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("refresh worker started", "interval", w.config.Interval)

	go w.run(ctx)
	return nil
}

// Stop stops the background refresh loop and waits for it to exit
func (w *RefreshWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.logger.Info("refresh worker stopped")
	return nil
}

// run is the main worker loop
func (w *RefreshWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.refreshAll(ctx)
		}
	}
}

// refreshAll rebuilds the leaderboard of every mode
func (w *RefreshWorker) refreshAll(ctx context.Context) {
	startTime := time.Now()
	refreshed := 0
	failed := 0

	for _, mode := range w.modes {
		if err := w.refresher.RefreshLeaderboard(ctx, mode); err != nil {
			w.logger.Error("failed to refresh leaderboard", "mode", mode, "error", err)
			failed++
			continue
		}
		refreshed++
	}

	w.logger.Debug("refresh cycle completed",
		"duration", time.Since(startTime),
		"refreshed", refreshed,
		"errors", failed,
	)
}

// IsRunning returns whether the worker is currently running
func (w *RefreshWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// RunOnce runs a single refresh cycle
func (w *RefreshWorker) RunOnce(ctx context.Context) {
	w.refreshAll(ctx)
}
