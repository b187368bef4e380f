package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisClusterStore implements ClusterStore for Redis
type RedisClusterStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisClusterStore creates a new Redis cluster store
func NewRedisClusterStore(host string, port int, password string, db int, logger *zap.Logger) (ClusterStore, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisClusterStore{
		client: client,
		logger: logger,
	}, nil
}

// Set stores a value with a per-key TTL (SET key value PX ttl)
func (s *RedisClusterStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

// Get retrieves a single value
func (s *RedisClusterStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// MGet retrieves multiple values in a single round trip. Missing keys
// yield nil entries so positions line up with the requested keys.
func (s *RedisClusterStore) MGet(ctx context.Context, keys ...string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	result := make([][]byte, len(values))
	for i, v := range values {
		if v == nil {
			continue
		}
		if str, ok := v.(string); ok {
			result[i] = []byte(str)
		}
	}
	return result, nil
}

// Keys returns all keys matching a wildcard pattern. Uses SCAN rather
// than KEYS so a large keyspace does not block the server.
func (s *RedisClusterStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan keys: %w", err)
	}
	return keys, nil
}

// Ping checks the Redis connection
func (s *RedisClusterStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (s *RedisClusterStore) Close() error {
	return s.client.Close()
}
