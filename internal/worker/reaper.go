package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/clicker-leaderboard/internal/config"
	"github.com/clicker-leaderboard/internal/service"
)

// Reaper evicts stale entries from the in-memory trackers
type Reaper interface {
	Reap() service.ReapResult
}

// ReaperWorker runs eviction cycles on a fixed period
type ReaperWorker struct {
	target  Reaper
	config  *config.ReaperConfig
	logger  *slog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool
}

// NewReaperWorker creates a new reaper worker
func NewReaperWorker(target Reaper, cfg *config.ReaperConfig, logger *slog.Logger) *ReaperWorker {
	return &ReaperWorker{
		target: target,
		config: cfg,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins the background eviction loop
func (w *ReaperWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("reaper started", "interval", w.config.Interval)

	go w.run(ctx)
	return nil
}

// Stop stops the eviction loop and waits for it to exit. A stopped worker
// cannot be restarted.
func (w *ReaperWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.logger.Info("reaper stopped")
	return nil
}

func (w *ReaperWorker) run(ctx context.Context) {
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
			w.RunOnce()
		}
	}
}

// RunOnce runs a single eviction cycle
func (w *ReaperWorker) RunOnce() service.ReapResult {
	start := time.Now()
	result := w.target.Reap()
	w.logger.Debug("reap cycle completed",
		"duration", time.Since(start),
		"rate_limit_evicted", result.RateLimit,
		"presence_evicted", result.Presence,
	)
	return result
}

// IsRunning returns whether the worker is currently running
func (w *ReaperWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
