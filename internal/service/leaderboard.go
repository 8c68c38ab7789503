package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/clicker-leaderboard/internal/config"
	"github.com/clicker-leaderboard/internal/domain"
	"github.com/clicker-leaderboard/internal/metrics"
	"github.com/clicker-leaderboard/internal/presence"
	"github.com/clicker-leaderboard/internal/ratelimit"
)

// Store is the durable leaderboard backend
type Store interface {
	ListTop(ctx context.Context, limit int) ([]domain.PlayerRecord, error)
	GetByIdentity(ctx context.Context, identity string) (*domain.RankedRecord, error)
	MergeUpsert(ctx context.Context, identity string, snapshot domain.ScoreSnapshot) (*domain.PlayerRecord, error)
	DeleteByIdentity(ctx context.Context, identity string) error
	Ping(ctx context.Context) error
}

// Broadcaster pushes live updates to connected clients
type Broadcaster interface {
	BroadcastOnline(online int)
	BroadcastPlayerUpdate(record domain.PlayerRecord)
}

// ReapResult reports how many stale entries a reap cycle removed
type ReapResult struct {
	RateLimit int
	Presence  int
}

// LeaderboardService provides business logic for leaderboard operations
type LeaderboardService struct {
	store    Store
	presence *presence.Tracker
	limiter  *ratelimit.Limiter
	config   *config.LeaderboardConfig
	logger   *slog.Logger
	now      func() time.Time

	hubMu      sync.RWMutex
	hub        Broadcaster
	lastOnline int
}

// NewLeaderboardService creates a new leaderboard service. A nil store puts
// the service in degraded mode: reads come back empty and writes fail with
// domain.ErrStorageUnavailable.
func NewLeaderboardService(
	store Store,
	tracker *presence.Tracker,
	limiter *ratelimit.Limiter,
	cfg *config.LeaderboardConfig,
	logger *slog.Logger,
) *LeaderboardService {
	return &LeaderboardService{
		store:      store,
		presence:   tracker,
		limiter:    limiter,
		config:     cfg,
		logger:     logger,
		now:        time.Now,
		lastOnline: -1,
	}
}

// SetHub sets the live update broadcaster
func (s *LeaderboardService) SetHub(hub Broadcaster) {
	s.hubMu.Lock()
	defer s.hubMu.Unlock()
	s.hub = hub
}

// SetClock replaces the time source used for presence and rate limiting
func (s *LeaderboardService) SetClock(now func() time.Time) {
	s.now = now
}

// StorageAvailable reports whether a durable store is configured
func (s *LeaderboardService) StorageAvailable() bool {
	return s.store != nil
}

// Ready checks that the durable store is configured and reachable
func (s *LeaderboardService) Ready(ctx context.Context) error {
	if s.store == nil {
		return domain.ErrStorageUnavailable
	}
	ctx, cancel := s.storageContext(ctx)
	defer cancel()
	return s.store.Ping(ctx)
}

// Ping records a presence ping and returns the current online count
func (s *LeaderboardService) Ping(username string) int {
	now := s.now()
	s.presence.RecordPing(username, now)
	online := s.presence.CountOnline(now)
	s.publishOnline(online)
	return online
}

// Online returns the number of players seen within the presence window
func (s *LeaderboardService) Online() int {
	return s.presence.CountOnline(s.now())
}

// ClampLimit turns a raw limit query value into a usable page size.
// Missing or non-numeric values fall back to the default.
func (s *LeaderboardService) ClampLimit(raw string) int {
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return s.config.DefaultLimit
	}
	return s.clamp(limit)
}

func (s *LeaderboardService) clamp(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > s.config.MaxLimit {
		return s.config.MaxLimit
	}
	return limit
}

// GetTop returns the top players ordered by best score
func (s *LeaderboardService) GetTop(ctx context.Context, limit int) ([]domain.PlayerRecord, error) {
	if s.store == nil {
		return []domain.PlayerRecord{}, nil
	}

	ctx, cancel := s.storageContext(ctx)
	defer cancel()
	defer observe("list_top", time.Now())

	records, err := s.store.ListTop(ctx, s.clamp(limit))
	if err != nil {
		return nil, fmt.Errorf("listing top players: %w", err)
	}
	if records == nil {
		records = []domain.PlayerRecord{}
	}
	return records, nil
}

// GetPlayer returns a player's record with its current rank, or nil when the
// player is unknown or storage is unavailable
func (s *LeaderboardService) GetPlayer(ctx context.Context, username string) (*domain.RankedRecord, error) {
	if s.store == nil {
		return nil, nil
	}

	identity, err := domain.ParseIdentity(username)
	if err != nil {
		return nil, nil
	}

	ctx, cancel := s.storageContext(ctx)
	defer cancel()
	defer observe("get_player", time.Now())

	record, err := s.store.GetByIdentity(ctx, identity)
	if err != nil {
		if domain.IsNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting player: %w", err)
	}
	return record, nil
}

// SubmitScore runs a client submission through the write path. The checks run
// in a fixed order: storage availability, the per-origin cooldown, then the
// username. An origin that passes the cooldown spends it even if the username
// is then rejected.
func (s *LeaderboardService) SubmitScore(ctx context.Context, origin string, snapshot domain.ScoreSnapshot) (*domain.PlayerRecord, error) {
	if s.store == nil {
		metrics.SubmissionsTotal.WithLabelValues("http", metrics.OutcomeUnavailable).Inc()
		return nil, domain.ErrStorageUnavailable
	}

	if !s.limiter.TryAccept(origin, s.now()) {
		metrics.SubmissionsTotal.WithLabelValues("http", metrics.OutcomeRateLimited).Inc()
		return nil, domain.ErrRateLimited
	}

	return s.merge(ctx, "http", snapshot)
}

// Ingest merges a snapshot from a trusted internal source. The per-origin
// cooldown does not apply.
func (s *LeaderboardService) Ingest(ctx context.Context, snapshot domain.ScoreSnapshot) error {
	if s.store == nil {
		metrics.SubmissionsTotal.WithLabelValues("kafka", metrics.OutcomeUnavailable).Inc()
		return domain.ErrStorageUnavailable
	}
	_, err := s.merge(ctx, "kafka", snapshot)
	return err
}

// IngestBatch merges several snapshots, continuing past individual failures.
// It returns how many were merged.
func (s *LeaderboardService) IngestBatch(ctx context.Context, snapshots []domain.ScoreSnapshot) int {
	merged := 0
	for _, snapshot := range snapshots {
		if err := s.Ingest(ctx, snapshot); err != nil {
			level := slog.LevelError
			if IsClientError(err) {
				level = slog.LevelWarn
			}
			s.logger.Log(ctx, level, "failed to ingest snapshot",
				"username", snapshot.Username,
				"error", err,
			)
			continue
		}
		merged++
	}
	return merged
}

func (s *LeaderboardService) merge(ctx context.Context, source string, snapshot domain.ScoreSnapshot) (*domain.PlayerRecord, error) {
	identity, err := domain.ParseIdentity(snapshot.Username)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues(source, metrics.OutcomeInvalid).Inc()
		return nil, err
	}

	ctx, cancel := s.storageContext(ctx)
	defer cancel()
	defer observe("merge", time.Now())

	record, err := s.store.MergeUpsert(ctx, identity, snapshot)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues(source, metrics.OutcomeError).Inc()
		return nil, fmt.Errorf("merging snapshot for %s: %w", identity, err)
	}

	metrics.SubmissionsTotal.WithLabelValues(source, metrics.OutcomeAccepted).Inc()
	if hub := s.getHub(); hub != nil {
		hub.BroadcastPlayerUpdate(*record)
	}
	return record, nil
}

// DeletePlayer removes a player's record. Unknown or malformed usernames are
// treated as already deleted.
func (s *LeaderboardService) DeletePlayer(ctx context.Context, username string) error {
	if s.store == nil {
		return domain.ErrStorageUnavailable
	}

	identity, err := domain.ParseIdentity(username)
	if err != nil {
		return nil
	}

	ctx, cancel := s.storageContext(ctx)
	defer cancel()
	defer observe("delete", time.Now())

	if err := s.store.DeleteByIdentity(ctx, identity); err != nil {
		return fmt.Errorf("deleting player %s: %w", identity, err)
	}
	s.logger.Info("player deleted", "username", identity)
	return nil
}

// Reap evicts stale rate-limit and presence entries
func (s *LeaderboardService) Reap() ReapResult {
	now := s.now()
	result := ReapResult{
		RateLimit: s.limiter.Reap(now),
		Presence:  s.presence.Reap(now),
	}

	metrics.ReapedEntries.WithLabelValues("rate_limit").Add(float64(result.RateLimit))
	metrics.ReapedEntries.WithLabelValues("presence").Add(float64(result.Presence))
	s.publishOnline(s.presence.CountOnline(now))
	return result
}

// publishOnline updates the gauge and pushes the count to live clients when it changed
func (s *LeaderboardService) publishOnline(online int) {
	metrics.OnlinePlayers.Set(float64(online))

	s.hubMu.Lock()
	changed := online != s.lastOnline
	s.lastOnline = online
	hub := s.hub
	s.hubMu.Unlock()

	if changed && hub != nil {
		hub.BroadcastOnline(online)
	}
}

func (s *LeaderboardService) getHub() Broadcaster {
	s.hubMu.RLock()
	defer s.hubMu.RUnlock()
	return s.hub
}

// storageContext bounds a single store call so a stalled backend cannot hang a request
func (s *LeaderboardService) storageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.StorageTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.config.StorageTimeout)
}

func observe(operation string, start time.Time) {
	metrics.StorageDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// IsClientError reports whether err is an expected rejection rather than a failure
func IsClientError(err error) bool {
	return errors.Is(err, domain.ErrInvalidUsername) ||
		errors.Is(err, domain.ErrRateLimited) ||
		errors.Is(err, domain.ErrStorageUnavailable)
}
