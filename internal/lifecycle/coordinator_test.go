package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/beamline/botfleet/internal/health"
	"github.com/beamline/botfleet/internal/hooks"
	"github.com/beamline/botfleet/internal/model"
	"github.com/beamline/botfleet/internal/store"
)

// fakeConfigStore is an in-memory ConfigStore for tests
type fakeConfigStore struct {
	configs map[string]*model.BotConfig
	getErr  error
}

func newFakeConfigStore(configs ...*model.BotConfig) *fakeConfigStore {
	s := &fakeConfigStore{configs: make(map[string]*model.BotConfig)}
	for _, cfg := range configs {
		s.configs[cfg.ID] = cfg
	}
	return s
}

func (s *fakeConfigStore) GetConfig(ctx context.Context, botID string) (*model.BotConfig, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	cfg, ok := s.configs[botID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cfg.Clone(), nil
}

func (s *fakeConfigStore) SetConfig(ctx context.Context, cfg *model.BotConfig) error {
	s.configs[cfg.ID] = cfg.Clone()
	return nil
}

func (s *fakeConfigStore) DeleteConfig(ctx context.Context, botID string) error {
	delete(s.configs, botID)
	return nil
}

func (s *fakeConfigStore) Exists(ctx context.Context, botID string) (bool, error) {
	_, ok := s.configs[botID]
	return ok, nil
}

func (s *fakeConfigStore) ListBots(ctx context.Context) ([]string, error) {
	ids := make([]string, 0, len(s.configs))
	for id := range s.configs {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *fakeConfigStore) Ping(ctx context.Context) error { return nil }
func (s *fakeConfigStore) Close()                         {}

// fakeStateStore is an in-memory StateStore for tests
type fakeStateStore struct {
	extractErr error
	extracted  []string
}

func (s *fakeStateStore) List(ctx context.Context, botID string) ([]string, error) {
	return nil, nil
}

func (s *fakeStateStore) ReadAll(ctx context.Context, botID, path string) ([]byte, error) {
	return nil, store.ErrNotFound
}

func (s *fakeStateStore) WriteAll(ctx context.Context, botID, path string, data []byte) error {
	return nil
}

func (s *fakeStateStore) ExportArchive(ctx context.Context, botID string, includeGlobs []string) ([]byte, error) {
	return nil, nil
}

func (s *fakeStateStore) ImportFromArchive(ctx context.Context, botID string, data []byte) error {
	return nil
}

func (s *fakeStateStore) DeleteAll(ctx context.Context, botID string) error { return nil }

func (s *fakeStateStore) CopyAll(ctx context.Context, srcBotID, dstBotID string) error { return nil }

func (s *fakeStateStore) ExtractBundle(ctx context.Context, botID string) error {
	if s.extractErr != nil {
		return s.extractErr
	}
	s.extracted = append(s.extracted, botID)
	return nil
}

// recordingLoader tracks load and unload calls
type recordingLoader struct {
	name      string
	loadErr   error
	loadDelay time.Duration
	loads     []string
	unloads   []string
}

func (l *recordingLoader) Name() string { return l.name }

func (l *recordingLoader) Load(ctx context.Context, cfg *model.BotConfig) error {
	if l.loadDelay > 0 {
		time.Sleep(l.loadDelay)
	}
	if l.loadErr != nil {
		return l.loadErr
	}
	l.loads = append(l.loads, cfg.ID)
	return nil
}

func (l *recordingLoader) Unload(ctx context.Context, botID string) error {
	l.unloads = append(l.unloads, botID)
	return nil
}

func testBotConfig(id string) *model.BotConfig {
	return &model.BotConfig{
		ID:              id,
		Name:            "Test Bot",
		DefaultLanguage: "en",
		Languages:       []string{"en", "de"},
	}
}

func newTestCoordinator(configs *fakeConfigStore, states *fakeStateStore, loaders ...Loader) (*Coordinator, *health.Aggregator) {
	logger := zap.NewNop()
	agg := health.NewAggregator("node-1", nil, 0, 0, logger)
	c := NewCoordinator(configs, states, NewMountedRegistry(), agg, hooks.NewBus(logger), loaders, logger)
	return c, agg
}

func TestMount_Success(t *testing.T) {
	configs := newFakeConfigStore(testBotConfig("bot-a"))
	states := &fakeStateStore{}
	loader := &recordingLoader{name: "messaging"}
	c, agg := newTestCoordinator(configs, states, loader)

	mounted, err := c.Mount(context.Background(), "bot-a")

	require.NoError(t, err)
	assert.True(t, mounted)
	assert.True(t, c.IsMounted("bot-a"))
	assert.Equal(t, []string{"bot-a"}, loader.loads)
	assert.Equal(t, []string{"bot-a"}, states.extracted)

	snapshot := agg.Snapshot()
	assert.Equal(t, model.BotStatusHealthy, snapshot.Bots["bot-a"].Status)
}

func TestMount_Idempotent(t *testing.T) {
	configs := newFakeConfigStore(testBotConfig("bot-a"))
	loader := &recordingLoader{name: "messaging"}
	c, _ := newTestCoordinator(configs, &fakeStateStore{}, loader)

	mounted, err := c.Mount(context.Background(), "bot-a")
	require.NoError(t, err)
	require.True(t, mounted)

	// A second mount must not load subsystems again.
	mounted, err = c.Mount(context.Background(), "bot-a")
	require.NoError(t, err)
	assert.True(t, mounted)
	assert.Len(t, loader.loads, 1)
}

func TestMount_ConcurrentCallsLoadOnce(t *testing.T) {
	configs := newFakeConfigStore(testBotConfig("bot-a"))
	loader := &recordingLoader{name: "messaging", loadDelay: 20 * time.Millisecond}
	c, _ := newTestCoordinator(configs, &fakeStateStore{}, loader)

	// An admin mount and a broadcast-received mount may hit the
	// coordinator at the same time; the per-bot lock keeps the
	// subsystems from loading twice.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mounted, err := c.Mount(context.Background(), "bot-a")
			assert.NoError(t, err)
			assert.True(t, mounted)
		}()
	}
	wg.Wait()

	assert.True(t, c.IsMounted("bot-a"))
	assert.Equal(t, []string{"bot-a"}, loader.loads)
}

func TestMount_UnknownBot(t *testing.T) {
	c, agg := newTestCoordinator(newFakeConfigStore(), &fakeStateStore{})

	mounted, err := c.Mount(context.Background(), "missing")

	require.NoError(t, err)
	assert.False(t, mounted)
	assert.False(t, c.IsMounted("missing"))
	assert.Equal(t, model.BotStatusUnhealthy, agg.Snapshot().Bots["missing"].Status)
}

func TestMount_InvalidConfig(t *testing.T) {
	cfg := testBotConfig("bot-a")
	cfg.DefaultLanguage = "fr"
	c, _ := newTestCoordinator(newFakeConfigStore(cfg), &fakeStateStore{})

	mounted, err := c.Mount(context.Background(), "bot-a")

	require.NoError(t, err)
	assert.False(t, mounted)
	assert.False(t, c.IsMounted("bot-a"))
}

func TestMount_DisabledBot(t *testing.T) {
	cfg := testBotConfig("bot-a")
	cfg.Disabled = true
	loader := &recordingLoader{name: "messaging"}
	c, agg := newTestCoordinator(newFakeConfigStore(cfg), &fakeStateStore{}, loader)

	mounted, err := c.Mount(context.Background(), "bot-a")

	require.NoError(t, err)
	assert.False(t, mounted)
	assert.False(t, c.IsMounted("bot-a"))
	assert.Empty(t, loader.loads)
	assert.Equal(t, model.BotStatusDisabled, agg.Snapshot().Bots["bot-a"].Status)
}

func TestMount_LoaderFailureRollsBack(t *testing.T) {
	configs := newFakeConfigStore(testBotConfig("bot-a"))
	first := &recordingLoader{name: "messaging"}
	second := &recordingLoader{name: "content", loadErr: errors.New("boom")}
	c, _ := newTestCoordinator(configs, &fakeStateStore{}, first, second)

	mounted, err := c.Mount(context.Background(), "bot-a")

	require.NoError(t, err)
	assert.False(t, mounted)
	assert.False(t, c.IsMounted("bot-a"))
	// The loader that came up before the failure is torn down again.
	assert.Equal(t, []string{"bot-a"}, first.unloads)
	assert.Empty(t, second.unloads)
}

func TestMount_HookFailureRollsBack(t *testing.T) {
	logger := zap.NewNop()
	configs := newFakeConfigStore(testBotConfig("bot-a"))
	loader := &recordingLoader{name: "messaging"}
	agg := health.NewAggregator("node-1", nil, 0, 0, logger)

	bus := hooks.NewBus(logger)
	bus.OnAfterMount(func(ctx context.Context, botID string) error {
		return errors.New("hook rejected")
	})

	c := NewCoordinator(configs, &fakeStateStore{}, NewMountedRegistry(), agg, bus, []Loader{loader}, logger)

	mounted, err := c.Mount(context.Background(), "bot-a")

	require.NoError(t, err)
	assert.False(t, mounted)
	assert.False(t, c.IsMounted("bot-a"))
	assert.Equal(t, []string{"bot-a"}, loader.unloads)
}

func TestUnmount_NeverMountedIsNoop(t *testing.T) {
	loader := &recordingLoader{name: "messaging"}
	c, agg := newTestCoordinator(newFakeConfigStore(), &fakeStateStore{}, loader)

	c.Unmount(context.Background(), "bot-a")

	assert.Empty(t, loader.unloads)
	// An unmount of an unknown bot must not create a health record.
	assert.NotContains(t, agg.Snapshot().Bots, "bot-a")
}

func TestUnmount_TearsDownAndDisables(t *testing.T) {
	configs := newFakeConfigStore(testBotConfig("bot-a"))
	loader := &recordingLoader{name: "messaging"}
	c, agg := newTestCoordinator(configs, &fakeStateStore{}, loader)

	_, err := c.Mount(context.Background(), "bot-a")
	require.NoError(t, err)

	c.Unmount(context.Background(), "bot-a")

	assert.False(t, c.IsMounted("bot-a"))
	assert.Equal(t, []string{"bot-a"}, loader.unloads)
	assert.Equal(t, model.BotStatusDisabled, agg.Snapshot().Bots["bot-a"].Status)
}

func TestMountedRegistry(t *testing.T) {
	r := NewMountedRegistry()

	assert.False(t, r.Contains("bot-a"))
	r.Add("bot-a")
	r.Add("bot-b")
	assert.True(t, r.Contains("bot-a"))
	assert.Len(t, r.List(), 2)

	r.Remove("bot-a")
	assert.False(t, r.Contains("bot-a"))
	assert.Equal(t, []string{"bot-b"}, r.List())
}
