package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/beamline/botfleet/internal/model"
	"github.com/beamline/botfleet/internal/store"
)

// countingConfigStore counts reads hitting the backing store
type countingConfigStore struct {
	*memConfigStore
	gets int
}

func (s *countingConfigStore) GetConfig(ctx context.Context, botID string) (*model.BotConfig, error) {
	s.gets++
	return s.memConfigStore.GetConfig(ctx, botID)
}

func newCachedService(t *testing.T) (*ConfigService, *countingConfigStore) {
	t.Helper()
	backing := &countingConfigStore{memConfigStore: newMemConfigStore()}
	cache := store.NewInMemoryCache(100, zap.NewNop())
	return NewConfigService(backing, cache, time.Minute, zap.NewNop()), backing
}

func TestConfigService_CacheAsideRead(t *testing.T) {
	svc, backing := newCachedService(t)
	ctx := context.Background()

	require.NoError(t, svc.SetConfig(ctx, newBot("bot-a")))

	// SetConfig warmed the cache, so reads never hit the backing store.
	for i := 0; i < 3; i++ {
		cfg, err := svc.GetConfig(ctx, "bot-a")
		require.NoError(t, err)
		assert.Equal(t, "bot-a", cfg.ID)
	}
	assert.Zero(t, backing.gets)
}

func TestConfigService_ReturnsIsolatedCopies(t *testing.T) {
	svc, _ := newCachedService(t)
	ctx := context.Background()

	require.NoError(t, svc.SetConfig(ctx, newBot("bot-a")))

	first, err := svc.GetConfig(ctx, "bot-a")
	require.NoError(t, err)
	first.Languages[0] = "fr"

	second, err := svc.GetConfig(ctx, "bot-a")
	require.NoError(t, err)
	assert.Equal(t, "en", second.Languages[0])
}

func TestConfigService_DeleteInvalidatesCache(t *testing.T) {
	svc, _ := newCachedService(t)
	ctx := context.Background()

	require.NoError(t, svc.SetConfig(ctx, newBot("bot-a")))
	require.NoError(t, svc.DeleteConfig(ctx, "bot-a"))

	_, err := svc.GetConfig(ctx, "bot-a")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestConfigService_MissingBot(t *testing.T) {
	svc, _ := newCachedService(t)

	_, err := svc.GetConfig(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
