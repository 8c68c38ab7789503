package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/clicker-leaderboard/internal/config"
	"github.com/clicker-leaderboard/internal/domain"
	"github.com/redis/go-redis/v9"
)

const rankKey = "leaderboard:best"

// mergeScript raises every stat to the larger of the stored and submitted
// value and keeps the rank sorted set in step, all in one atomic call.
// KEYS[1] player hash, KEYS[2] rank set.
// ARGV[1] username, ARGV[2..6] stats, ARGV[7] updated_at (unix ms).
// Stats are canonical non-negative decimal strings and are compared as
// strings (length, then digits) since Lua numbers are doubles.
var mergeScript = redis.NewScript(`
local function greater(a, b)
	if #a ~= #b then
		return #a > #b
	end
	return a > b
end
local fields = {'best_score', 'total_earned', 'prestiges', 'clicks', 'play_time'}
for i, field in ipairs(fields) do
	local incoming = ARGV[i + 1]
	local current = redis.call('HGET', KEYS[1], field)
	if (not current) or greater(incoming, current) then
		redis.call('HSET', KEYS[1], field, incoming)
	end
end
redis.call('HSET', KEYS[1], 'username', ARGV[1], 'updated_at', ARGV[7])
redis.call('ZADD', KEYS[2], redis.call('HGET', KEYS[1], 'best_score'), ARGV[1])
return redis.call('HMGET', KEYS[1], 'best_score', 'total_earned', 'prestiges', 'clicks', 'play_time', 'updated_at')
`)

// Store provides Redis-based leaderboard storage. Each player is a hash and
// best scores are mirrored into a sorted set for ranking.
type Store struct {
	client *redis.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates a new Redis leaderboard store
func NewStore(ctx context.Context, cfg *config.RedisConfig, logger *slog.Logger) (*Store, error) {
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
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewStoreFromClient(client, logger), nil
}

// NewStoreFromClient wraps an existing Redis client
func NewStoreFromClient(client *redis.Client, logger *slog.Logger) *Store {
	return &Store{
		client: client,
		logger: logger,
		now:    time.Now,
	}
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks that Redis is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// playerKey returns the Redis key for a player's stats hash
func playerKey(identity string) string {
	return fmt.Sprintf("player:%s", identity)
}

// ListTop returns the highest best scores
func (s *Store) ListTop(ctx context.Context, limit int) ([]domain.PlayerRecord, error) {
	members, err := s.client.ZRevRange(ctx, rankKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing top players: %w", err)
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(members))
	for i, identity := range members {
		cmds[i] = pipe.HGetAll(ctx, playerKey(identity))
	}
	if len(members) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("loading top players: %w", err)
		}
	}

	records := make([]domain.PlayerRecord, 0, len(members))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			// Deleted between the range read and the hash read
			s.logger.Debug("skipping player without stats", "username", members[i])
			continue
		}
		rec, err := parseRecord(fields)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// GetByIdentity returns a player's record and its rank: one more than the
// number of players with a strictly greater best score
func (s *Store) GetByIdentity(ctx context.Context, identity string) (*domain.RankedRecord, error) {
	fields, err := s.client.HGetAll(ctx, playerKey(identity)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting player: %w", err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrPlayerNotFound
	}

	rec, err := parseRecord(fields)
	if err != nil {
		return nil, err
	}

	above, err := s.client.ZCount(ctx, rankKey, "("+strconv.FormatInt(rec.BestScore, 10), "+inf").Result()
	if err != nil {
		return nil, fmt.Errorf("counting higher scores: %w", err)
	}

	return &domain.RankedRecord{PlayerRecord: rec, Rank: above + 1}, nil
}

// MergeUpsert creates a player or raises each stat to the larger of the stored
// and submitted value
func (s *Store) MergeUpsert(ctx context.Context, identity string, snapshot domain.ScoreSnapshot) (*domain.PlayerRecord, error) {
	keys := []string{playerKey(identity), rankKey}
	args := []interface{}{
		identity,
		snapshot.BestScore.Int64(),
		snapshot.TotalEarned.Int64(),
		snapshot.Prestiges.Int64(),
		snapshot.Clicks.Int64(),
		snapshot.PlayTime.Int64(),
		s.now().UnixMilli(),
	}

	values, err := mergeScript.Run(ctx, s.client, keys, args...).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("merging player stats: %w", err)
	}
	if len(values) != 6 {
		return nil, fmt.Errorf("merging player stats: unexpected reply length %d", len(values))
	}

	rec, err := parseRecord(map[string]string{
		"username":     identity,
		"best_score":   values[0],
		"total_earned": values[1],
		"prestiges":    values[2],
		"clicks":       values[3],
		"play_time":    values[4],
		"updated_at":   values[5],
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// DeleteByIdentity removes a player from the hash and the rank set.
// Deleting an unknown player is not an error.
func (s *Store) DeleteByIdentity(ctx context.Context, identity string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, playerKey(identity))
	pipe.ZRem(ctx, rankKey, identity)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deleting player: %w", err)
	}
	return nil
}

func parseRecord(fields map[string]string) (domain.PlayerRecord, error) {
	rec := domain.PlayerRecord{Username: fields["username"]}

	targets := []struct {
		name string
		dest *int64
	}{
		{"best_score", &rec.BestScore},
		{"total_earned", &rec.TotalEarned},
		{"prestiges", &rec.Prestiges},
		{"clicks", &rec.Clicks},
		{"play_time", &rec.PlayTime},
	}
	for _, target := range targets {
		v, err := strconv.ParseInt(fields[target.name], 10, 64)
		if err != nil {
			return domain.PlayerRecord{}, fmt.Errorf("parsing %s for %q: %w", target.name, rec.Username, err)
		}
		*target.dest = v
	}

	ms, err := strconv.ParseInt(fields["updated_at"], 10, 64)
	if err != nil {
		return domain.PlayerRecord{}, fmt.Errorf("parsing updated_at for %q: %w", rec.Username, err)
	}
	rec.UpdatedAt = time.UnixMilli(ms).UTC()

	return rec, nil
}
