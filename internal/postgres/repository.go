package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/clicker-leaderboard/internal/config"
	"github.com/clicker-leaderboard/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL-based leaderboard storage
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	now    func() time.Time
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(ctx context.Context, cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return NewRepositoryFromPool(pool, logger), nil
}

// NewRepositoryFromPool wraps an existing connection pool
func NewRepositoryFromPool(pool *pgxpool.Pool, logger *slog.Logger) *Repository {
	return &Repository{
		pool:   pool,
		logger: logger,
		now:    time.Now,
	}
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Ping checks that the database is reachable
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS players (
			id BIGSERIAL PRIMARY KEY,
			username VARCHAR(20) NOT NULL UNIQUE,
			best_score BIGINT NOT NULL DEFAULT 0 CHECK (best_score >= 0),
			total_earned BIGINT NOT NULL DEFAULT 0 CHECK (total_earned >= 0),
			prestiges BIGINT NOT NULL DEFAULT 0 CHECK (prestiges >= 0),
			clicks BIGINT NOT NULL DEFAULT 0 CHECK (clicks >= 0),
			play_time BIGINT NOT NULL DEFAULT 0 CHECK (play_time >= 0),
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_players_best_score ON players(best_score DESC)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

const recordColumns = `username, best_score, total_earned, prestiges, clicks, play_time, updated_at`

func scanRecord(row pgx.Row, rec *domain.PlayerRecord, extra ...any) error {
	dest := []any{
		&rec.Username,
		&rec.BestScore,
		&rec.TotalEarned,
		&rec.Prestiges,
		&rec.Clicks,
		&rec.PlayTime,
		&rec.UpdatedAt,
	}
	return row.Scan(append(dest, extra...)...)
}

// ListTop retrieves the highest best scores. Ties fall back to insertion order.
func (r *Repository) ListTop(ctx context.Context, limit int) ([]domain.PlayerRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM players
		ORDER BY best_score DESC, id ASC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("listing top players: %w", err)
	}
	defer rows.Close()

	records := make([]domain.PlayerRecord, 0, limit)
	for rows.Next() {
		var rec domain.PlayerRecord
		if err := scanRecord(rows, &rec); err != nil {
			return nil, fmt.Errorf("scanning player: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing top players: %w", err)
	}
	return records, nil
}

// GetByIdentity retrieves a player's record and rank. The rank counts players
// with a strictly greater best score, so tied players share a rank.
func (r *Repository) GetByIdentity(ctx context.Context, identity string) (*domain.RankedRecord, error) {
	query := `
		SELECT ` + recordColumns + `,
			(SELECT COUNT(*) FROM players q WHERE q.best_score > p.best_score) + 1 AS rank
		FROM players p
		WHERE p.username = $1
	`
	var rec domain.RankedRecord
	err := scanRecord(r.pool.QueryRow(ctx, query, identity), &rec.PlayerRecord, &rec.Rank)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPlayerNotFound
		}
		return nil, fmt.Errorf("getting player: %w", err)
	}
	return &rec, nil
}

// MergeUpsert inserts a player or raises each stat to the larger of the stored
// and submitted value. The single statement keeps concurrent merges for the
// same player from regressing a field.
func (r *Repository) MergeUpsert(ctx context.Context, identity string, snapshot domain.ScoreSnapshot) (*domain.PlayerRecord, error) {
	query := `
		INSERT INTO players (username, best_score, total_earned, prestiges, clicks, play_time, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (username)
		DO UPDATE SET
			best_score = GREATEST(players.best_score, EXCLUDED.best_score),
			total_earned = GREATEST(players.total_earned, EXCLUDED.total_earned),
			prestiges = GREATEST(players.prestiges, EXCLUDED.prestiges),
			clicks = GREATEST(players.clicks, EXCLUDED.clicks),
			play_time = GREATEST(players.play_time, EXCLUDED.play_time),
			updated_at = EXCLUDED.updated_at
		RETURNING ` + recordColumns

	var rec domain.PlayerRecord
	err := scanRecord(r.pool.QueryRow(ctx, query,
		identity,
		snapshot.BestScore.Int64(),
		snapshot.TotalEarned.Int64(),
		snapshot.Prestiges.Int64(),
		snapshot.Clicks.Int64(),
		snapshot.PlayTime.Int64(),
		r.now().UTC(),
	), &rec)
	if err != nil {
		return nil, fmt.Errorf("merging player stats: %w", err)
	}
	return &rec, nil
}

// DeleteByIdentity removes a player. Deleting an unknown player is not an error.
func (r *Repository) DeleteByIdentity(ctx context.Context, identity string) error {
	query := `DELETE FROM players WHERE username = $1`
	result, err := r.pool.Exec(ctx, query, identity)
	if err != nil {
		return fmt.Errorf("deleting player: %w", err)
	}
	r.logger.Debug("player deleted", "username", identity, "rows", result.RowsAffected())
	return nil
}
