package store

import (
	"context"
	"errors"
	"time"

	"github.com/beamline/botfleet/internal/model"
)

// ErrNotFound is returned when a key, config or archive entry is not found.
var ErrNotFound = errors.New("not found")

// ConfigStore holds the declarative configuration of every bot.
type ConfigStore interface {
	GetConfig(ctx context.Context, botID string) (*model.BotConfig, error)
	SetConfig(ctx context.Context, cfg *model.BotConfig) error
	DeleteConfig(ctx context.Context, botID string) error
	Exists(ctx context.Context, botID string) (bool, error)
	ListBots(ctx context.Context) ([]string, error)

	// Health check
	Ping(ctx context.Context) error
	Close()
}

// StateStore is the per-bot durable file/blob state a bot accumulates
// while running. Paths are relative to the bot's namespace.
type StateStore interface {
	List(ctx context.Context, botID string) ([]string, error)
	ReadAll(ctx context.Context, botID, path string) ([]byte, error)
	WriteAll(ctx context.Context, botID, path string, data []byte) error

	// ExportArchive packs the bot's state into a tar.gz blob. An empty
	// includeGlobs exports everything.
	ExportArchive(ctx context.Context, botID string, includeGlobs []string) ([]byte, error)
	ImportFromArchive(ctx context.Context, botID string, data []byte) error
	DeleteAll(ctx context.Context, botID string) error
	CopyAll(ctx context.Context, srcBotID, dstBotID string) error

	// ExtractBundle unpacks a packaged dependency archive shipped with
	// the bot, if present and not already extracted. Idempotent.
	ExtractBundle(ctx context.Context, botID string) error
}

// ArchiveStore is the global (not per-bot) namespace holding revision
// snapshots.
type ArchiveStore interface {
	Put(ctx context.Context, name string, data []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, name string) error
}

// ClusterStore is the shared distributed key-value store used for
// cross-node state. Only atomic single-key operations are assumed; no
// cross-key transactions.
type ClusterStore interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	MGet(ctx context.Context, keys ...string) ([][]byte, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// Cache is an in-memory TTL'd view of bot configs, keyed by bot ID.
type Cache interface {
	Get(ctx context.Context, botID string) (*model.BotConfig, error)
	Set(ctx context.Context, botID string, cfg *model.BotConfig, ttl time.Duration) error
	Delete(ctx context.Context, botID string) error
}
