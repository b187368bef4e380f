// Package lifecycle implements the node-local mount/unmount state
// machine for individual bots.
package lifecycle

import (
	"context"

	"github.com/im7mortal/kmutex"
	"go.uber.org/zap"

	"github.com/beamline/botfleet/internal/health"
	"github.com/beamline/botfleet/internal/hooks"
	"github.com/beamline/botfleet/internal/model"
	"github.com/beamline/botfleet/internal/store"
)

// Loader is a bot-scoped subsystem (messaging, content, extension
// modules) brought up on mount and torn down on unmount. Loaders are
// external collaborators; the coordinator only sequences them.
type Loader interface {
	Name() string
	Load(ctx context.Context, cfg *model.BotConfig) error
	Unload(ctx context.Context, botID string) error
}

// Coordinator mounts and unmounts bots on this node. Operations for
// different bot IDs are safe to run concurrently; operations for the
// same bot ID are serialized by a per-bot lock, whether they arrive
// from the admin layer or from a peer broadcast.
type Coordinator struct {
	configs  store.ConfigStore
	states   store.StateStore
	registry *MountedRegistry
	health   *health.Aggregator
	hooks    *hooks.Bus
	loaders  []Loader
	locks    *kmutex.Kmutex
	logger   *zap.Logger
}

// NewCoordinator creates a lifecycle coordinator
func NewCoordinator(
	configs store.ConfigStore,
	states store.StateStore,
	registry *MountedRegistry,
	healthAgg *health.Aggregator,
	hookBus *hooks.Bus,
	loaders []Loader,
	logger *zap.Logger,
) *Coordinator {
	return &Coordinator{
		configs:  configs,
		states:   states,
		registry: registry,
		health:   healthAgg,
		hooks:    hookBus,
		loaders:  loaders,
		locks:    kmutex.New(),
		logger:   logger,
	}
}

// Mount loads a bot on this node. Precondition or collaborator
// failures are logged and reported as false, never propagated as an
// error, so one bot's failure cannot affect others sharing the
// process. The mounted set is updated only after every side effect
// succeeded; a failed mount leaves it untouched.
func (c *Coordinator) Mount(ctx context.Context, botID string) (bool, error) {
	c.locks.Lock(botID)
	defer c.locks.Unlock(botID)

	if c.registry.Contains(botID) {
		// Re-entrant mount is a no-op beyond a health refresh.
		c.health.RequestFlush()
		return true, nil
	}

	cfg, err := c.configs.GetConfig(ctx, botID)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		c.logger.Error("Cannot mount bot: config unreadable",
			zap.String("bot_id", botID),
			zap.Error(err))
		c.health.Record(botID, health.SeverityCritical)
		c.health.RequestFlush()
		return false, nil
	}

	if err := cfg.Validate(); err != nil {
		c.logger.Error("Cannot mount bot: invalid config",
			zap.String("bot_id", botID),
			zap.Error(err))
		c.health.Record(botID, health.SeverityCritical)
		c.health.RequestFlush()
		return false, nil
	}

	if cfg.Disabled {
		c.logger.Info("Skipping mount of disabled bot", zap.String("bot_id", botID))
		c.health.SetStatus(botID, model.BotStatusDisabled)
		c.health.RequestFlush()
		return false, nil
	}

	if err := c.states.ExtractBundle(ctx, botID); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		c.logger.Error("Cannot mount bot: bundle extraction failed",
			zap.String("bot_id", botID),
			zap.Error(err))
		c.health.Record(botID, health.SeverityCritical)
		c.health.RequestFlush()
		return false, nil
	}

	loaded, err := c.loadSubsystems(ctx, cfg)
	if err != nil {
		c.unloadSubsystems(ctx, botID, loaded)
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		c.health.Record(botID, health.SeverityCritical)
		c.health.RequestFlush()
		return false, nil
	}

	if err := c.hooks.FireAfterMount(ctx, botID); err != nil {
		c.logger.Error("AfterMount hook failed, rolling back mount",
			zap.String("bot_id", botID),
			zap.Error(err))
		c.unloadSubsystems(ctx, botID, loaded)
		c.health.Record(botID, health.SeverityCritical)
		c.health.RequestFlush()
		return false, nil
	}

	c.registry.Add(botID)
	c.health.SetStatus(botID, model.BotStatusHealthy)
	c.health.RequestFlush()

	c.logger.Info("Mounted bot", zap.String("bot_id", botID))
	return true, nil
}

// Unmount unloads a bot from this node. It is idempotent: unmounting a
// bot that is not mounted is a no-op. Unmount is best-effort and never
// fails loudly; loader errors are logged and teardown continues.
func (c *Coordinator) Unmount(ctx context.Context, botID string) {
	c.locks.Lock(botID)
	defer c.locks.Unlock(botID)

	if !c.registry.Contains(botID) {
		return
	}

	c.unloadSubsystems(ctx, botID, c.loaders)

	if err := c.hooks.FireAfterUnmount(ctx, botID); err != nil {
		c.logger.Warn("AfterUnmount hook failed",
			zap.String("bot_id", botID),
			zap.Error(err))
	}

	c.registry.Remove(botID)
	c.health.SetStatus(botID, model.BotStatusDisabled)
	c.health.RequestFlush()

	c.logger.Info("Unmounted bot", zap.String("bot_id", botID))
}

// IsMounted reports whether a bot is mounted on this node
func (c *Coordinator) IsMounted(botID string) bool {
	return c.registry.Contains(botID)
}

// loadSubsystems brings up the bot-scoped subsystems in order,
// returning the loaders that succeeded so a failure can be rolled back.
func (c *Coordinator) loadSubsystems(ctx context.Context, cfg *model.BotConfig) ([]Loader, error) {
	loaded := make([]Loader, 0, len(c.loaders))
	for _, l := range c.loaders {
		if err := l.Load(ctx, cfg); err != nil {
			c.logger.Error("Subsystem failed to load",
				zap.String("bot_id", cfg.ID),
				zap.String("subsystem", l.Name()),
				zap.Error(err))
			return loaded, err
		}
		loaded = append(loaded, l)
	}
	return loaded, nil
}

// unloadSubsystems tears down subsystems in reverse load order
func (c *Coordinator) unloadSubsystems(ctx context.Context, botID string, loaded []Loader) {
	for i := len(loaded) - 1; i >= 0; i-- {
		if err := loaded[i].Unload(ctx, botID); err != nil {
			c.logger.Warn("Subsystem failed to unload",
				zap.String("bot_id", botID),
				zap.String("subsystem", loaded[i].Name()),
				zap.Error(err))
		}
	}
}
