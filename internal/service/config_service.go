package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/beamline/botfleet/internal/model"
	"github.com/beamline/botfleet/internal/store"
)

// ConfigService fronts the bot config store with a read-through cache.
// It implements store.ConfigStore so lifecycle, pipeline and revision
// components can consume it transparently.
type ConfigService struct {
	configs  store.ConfigStore
	cache    store.Cache
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewConfigService creates a new config service
func NewConfigService(
	configs store.ConfigStore,
	cache store.Cache,
	cacheTTL time.Duration,
	logger *zap.Logger,
) *ConfigService {
	return &ConfigService{
		configs:  configs,
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   logger,
	}
}

// GetConfig retrieves a bot's configuration, using cache if available
func (s *ConfigService) GetConfig(ctx context.Context, botID string) (*model.BotConfig, error) {
	if cached, err := s.cache.Get(ctx, botID); err == nil {
		s.logger.Debug("Bot config retrieved from cache",
			zap.String("bot_id", botID))
		return cached.Clone(), nil
	}

	s.logger.Debug("Cache miss for bot config, fetching from store",
		zap.String("bot_id", botID))

	cfg, err := s.configs.GetConfig(ctx, botID)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, botID, cfg.Clone(), s.cacheTTL); err != nil {
		s.logger.Warn("Failed to cache bot config",
			zap.String("bot_id", botID),
			zap.Error(err))
	}

	return cfg, nil
}

// SetConfig saves a bot's configuration and refreshes the cache
func (s *ConfigService) SetConfig(ctx context.Context, cfg *model.BotConfig) error {
	if err := s.configs.SetConfig(ctx, cfg); err != nil {
		return fmt.Errorf("failed to save config of bot %s: %w", cfg.ID, err)
	}

	if err := s.cache.Set(ctx, cfg.ID, cfg.Clone(), s.cacheTTL); err != nil {
		s.logger.Warn("Failed to refresh bot config cache",
			zap.String("bot_id", cfg.ID),
			zap.Error(err))
	}
	return nil
}

// DeleteConfig deletes a bot's configuration and invalidates the cache
func (s *ConfigService) DeleteConfig(ctx context.Context, botID string) error {
	if err := s.configs.DeleteConfig(ctx, botID); err != nil {
		return err
	}

	if err := s.cache.Delete(ctx, botID); err != nil {
		s.logger.Warn("Failed to invalidate bot config cache",
			zap.String("bot_id", botID),
			zap.Error(err))
	}
	return nil
}

// Exists reports whether a bot's configuration exists
func (s *ConfigService) Exists(ctx context.Context, botID string) (bool, error) {
	return s.configs.Exists(ctx, botID)
}

// ListBots returns the IDs of all configured bots
func (s *ConfigService) ListBots(ctx context.Context) ([]string, error) {
	return s.configs.ListBots(ctx)
}

// Ping checks the underlying config store
func (s *ConfigService) Ping(ctx context.Context) error {
	return s.configs.Ping(ctx)
}

// Close closes the underlying config store
func (s *ConfigService) Close() {
	s.configs.Close()
}
