package config

import (
	"errors"
	"time"
)

// Config represents the orchestrator node configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	ClusterIn ClusterConfig   `mapstructure:"cluster"`
	Health    HealthConfig    `mapstructure:"health"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Broadcast BroadcastConfig `mapstructure:"broadcast"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig represents the HTTP API server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	NodeID          string        `mapstructure:"node_id"`
	AdvertiseAddr   string        `mapstructure:"advertise_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig represents the PostgreSQL config store configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig represents the shared state store configuration
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ClusterConfig represents gossip membership configuration
type ClusterConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BindPort       int           `mapstructure:"bind_port"`
	SeedNodes      []string      `mapstructure:"seed_nodes"`
	GossipInterval time.Duration `mapstructure:"gossip_interval"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`
	ProbeInterval  time.Duration `mapstructure:"probe_interval"`
}

// HealthConfig represents health aggregation configuration. The flush
// interval must stay below the snapshot TTL.
type HealthConfig struct {
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	SnapshotTTL   time.Duration `mapstructure:"snapshot_ttl"`
}

// StorageConfig represents local durable storage configuration
type StorageConfig struct {
	DataDir    string `mapstructure:"data_dir"`
	ArchiveDir string `mapstructure:"archive_dir"`
}

// PipelineConfig represents the promotion pipeline configuration
type PipelineConfig struct {
	DefinitionPath string `mapstructure:"definition_path"`
	AutoRevision   bool   `mapstructure:"auto_revision"`
	MinApprovals   int    `mapstructure:"min_approvals"`
}

// CacheConfig represents bot config cache configuration
type CacheConfig struct {
	ConfigTTL time.Duration `mapstructure:"config_ttl"`
	MaxSize   int           `mapstructure:"max_size"`
}

// BroadcastConfig represents broadcast fan-out configuration
type BroadcastConfig struct {
	RemoteTimeout time.Duration `mapstructure:"remote_timeout"`
	MaxWorkers    int           `mapstructure:"max_workers"`
	QueueSize     int           `mapstructure:"queue_size"`
}

// MetricsConfig represents Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Host == "" {
		return errors.New("server.host is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("server.port must be between 1 and 65535")
	}
	if c.Server.NodeID == "" {
		return errors.New("server.node_id is required")
	}
	if c.Database.Host == "" {
		return errors.New("database.host is required")
	}
	if c.Database.Database == "" {
		return errors.New("database.database is required")
	}
	if c.Database.User == "" {
		return errors.New("database.user is required")
	}
	if c.Redis.Enabled && c.Redis.Host == "" {
		return errors.New("redis.host is required when redis is enabled")
	}
	if c.ClusterIn.Enabled && !c.Redis.Enabled {
		return errors.New("cluster membership requires the shared state store")
	}
	if c.Health.FlushInterval >= c.Health.SnapshotTTL {
		return errors.New("health.flush_interval must be shorter than health.snapshot_ttl")
	}
	if c.Storage.DataDir == "" {
		return errors.New("storage.data_dir is required")
	}
	if c.Storage.ArchiveDir == "" {
		return errors.New("storage.archive_dir is required")
	}
	if c.Pipeline.MinApprovals < 0 {
		return errors.New("pipeline.min_approvals must not be negative")
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return errors.New("metrics.port must be between 1 and 65535 when metrics are enabled")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	return nil
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8440,
			NodeID:          "orchestrator-1",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "botfleet",
			User:            "orchestrator",
			Password:        "",
			MaxConnections:  50,
			MinConnections:  10,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			Enabled:  true,
			Host:     "localhost",
			Port:     6379,
			Password: "",
			DB:       0,
		},
		ClusterIn: ClusterConfig{
			Enabled:        false,
			BindPort:       7946,
			GossipInterval: 200 * time.Millisecond,
			ProbeTimeout:   500 * time.Millisecond,
			ProbeInterval:  time.Second,
		},
		Health: HealthConfig{
			FlushInterval: 15 * time.Second,
			SnapshotTTL:   20 * time.Second,
		},
		Storage: StorageConfig{
			DataDir:    "./data/bots",
			ArchiveDir: "./data/archive",
		},
		Pipeline: PipelineConfig{
			DefinitionPath: "./pipeline.yaml",
			AutoRevision:   true,
			MinApprovals:   1,
		},
		Cache: CacheConfig{
			ConfigTTL: 5 * time.Minute,
			MaxSize:   10000,
		},
		Broadcast: BroadcastConfig{
			RemoteTimeout: 30 * time.Second,
			MaxWorkers:    10,
			QueueSize:     200,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
