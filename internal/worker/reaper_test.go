package worker

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/clicker-leaderboard/internal/config"
	"github.com/clicker-leaderboard/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingReaper struct {
	calls atomic.Int32
}

func (r *countingReaper) Reap() service.ReapResult {
	r.calls.Add(1)
	return service.ReapResult{RateLimit: 2, Presence: 1}
}

func newWorker(target Reaper, interval time.Duration) *ReaperWorker {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewReaperWorker(target, &config.ReaperConfig{Interval: interval, Enabled: true}, logger)
}

func TestReaperWorker_RunsOnInterval(t *testing.T) {
	target := &countingReaper{}
	w := newWorker(target, 10*time.Millisecond)

	require.NoError(t, w.Start(context.Background()))
	assert.True(t, w.IsRunning())

	assert.Eventually(t, func() bool {
		return target.calls.Load() >= 3
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, w.Stop())
	assert.False(t, w.IsRunning())

	calls := target.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, target.calls.Load(), "no cycles after stop")
}

func TestReaperWorker_StartStopIdempotent(t *testing.T) {
	w := newWorker(&countingReaper{}, time.Hour)

	require.NoError(t, w.Stop())
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}

func TestReaperWorker_ContextCancel(t *testing.T) {
	target := &countingReaper{}
	w := newWorker(target, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	cancel()

	select {
	case <-w.doneCh:
	case <-time.After(time.Second):
		t.Fatal("worker did not exit on context cancel")
	}
	require.NoError(t, w.Stop())
	assert.Zero(t, target.calls.Load())
}

func TestReaperWorker_RunOnce(t *testing.T) {
	w := newWorker(&countingReaper{}, time.Hour)
	assert.Equal(t, service.ReapResult{RateLimit: 2, Presence: 1}, w.RunOnce())
}
