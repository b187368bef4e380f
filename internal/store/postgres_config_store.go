package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/beamline/botfleet/internal/model"
)

// PostgresConfigStore implements ConfigStore for PostgreSQL. Bot
// configs are stored as JSON rows keyed by bot ID.
type PostgresConfigStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresConfigStore creates a new PostgreSQL config store
func NewPostgresConfigStore(
	host string,
	port int,
	database, user, password string,
	maxConns, minConns int,
	logger *zap.Logger,
) (ConfigStore, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s pool_max_conns=%d pool_min_conns=%d",
		host, port, database, user, password, maxConns, minConns,
	)

	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresConfigStore{
		pool:   pool,
		logger: logger,
	}, nil
}

// GetConfig retrieves a bot's configuration
func (s *PostgresConfigStore) GetConfig(ctx context.Context, botID string) (*model.BotConfig, error) {
	query := `SELECT config FROM bot_configs WHERE bot_id = $1`

	var raw []byte
	err := s.pool.QueryRow(ctx, query, botID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bot config: %w", err)
	}

	var cfg model.BotConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal bot config: %w", err)
	}
	return &cfg, nil
}

// SetConfig creates or replaces a bot's configuration
func (s *PostgresConfigStore) SetConfig(ctx context.Context, cfg *model.BotConfig) error {
	cfg.UpdatedAt = time.Now()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = cfg.UpdatedAt
	}

	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal bot config: %w", err)
	}

	query := `
		INSERT INTO bot_configs (bot_id, config, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (bot_id) DO UPDATE SET config = $2, updated_at = $4
	`
	_, err = s.pool.Exec(ctx, query, cfg.ID, raw, cfg.CreatedAt, cfg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save bot config: %w", err)
	}
	return nil
}

// DeleteConfig deletes a bot's configuration
func (s *PostgresConfigStore) DeleteConfig(ctx context.Context, botID string) error {
	query := `DELETE FROM bot_configs WHERE bot_id = $1`
	result, err := s.pool.Exec(ctx, query, botID)
	if err != nil {
		return fmt.Errorf("failed to delete bot config: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Exists reports whether a bot's configuration exists
func (s *PostgresConfigStore) Exists(ctx context.Context, botID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM bot_configs WHERE bot_id = $1)`

	var exists bool
	if err := s.pool.QueryRow(ctx, query, botID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check bot config: %w", err)
	}
	return exists, nil
}

// ListBots returns the IDs of all configured bots
func (s *PostgresConfigStore) ListBots(ctx context.Context) ([]string, error) {
	query := `SELECT bot_id FROM bot_configs ORDER BY bot_id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list bots: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan bot id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Ping checks the database connection
func (s *PostgresConfigStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool
func (s *PostgresConfigStore) Close() {
	s.pool.Close()
}
