package revision

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/beamline/botfleet/internal/hooks"
	"github.com/beamline/botfleet/internal/model"
	"github.com/beamline/botfleet/internal/store"
)

// memArchiveStore is an in-memory ArchiveStore for tests
type memArchiveStore struct {
	entries map[string][]byte
}

func newMemArchiveStore() *memArchiveStore {
	return &memArchiveStore{entries: make(map[string][]byte)}
}

func (s *memArchiveStore) Put(ctx context.Context, name string, data []byte) error {
	s.entries[name] = data
	return nil
}

func (s *memArchiveStore) Get(ctx context.Context, name string) ([]byte, error) {
	data, ok := s.entries[name]
	if !ok {
		return nil, store.ErrNotFound
	}
	return data, nil
}

func (s *memArchiveStore) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	for name := range s.entries {
		if len(name) >= len(prefix) && name[:len(prefix)] == prefix {
			names = append(names, name)
		}
	}
	return names, nil
}

func (s *memArchiveStore) Delete(ctx context.Context, name string) error {
	delete(s.entries, name)
	return nil
}

// stubConfigStore serves fixed bot configs
type stubConfigStore struct {
	configs map[string]*model.BotConfig
}

func (s *stubConfigStore) GetConfig(ctx context.Context, botID string) (*model.BotConfig, error) {
	cfg, ok := s.configs[botID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cfg.Clone(), nil
}

func (s *stubConfigStore) SetConfig(ctx context.Context, cfg *model.BotConfig) error {
	s.configs[cfg.ID] = cfg.Clone()
	return nil
}

func (s *stubConfigStore) DeleteConfig(ctx context.Context, botID string) error {
	delete(s.configs, botID)
	return nil
}

func (s *stubConfigStore) Exists(ctx context.Context, botID string) (bool, error) {
	_, ok := s.configs[botID]
	return ok, nil
}

func (s *stubConfigStore) ListBots(ctx context.Context) ([]string, error) { return nil, nil }
func (s *stubConfigStore) Ping(ctx context.Context) error                 { return nil }
func (s *stubConfigStore) Close()                                         {}

// recordingStateStore tracks restore operations
type recordingStateStore struct {
	exported []string
	deleted  []string
	imported []string
}

func (s *recordingStateStore) List(ctx context.Context, botID string) ([]string, error) {
	return nil, nil
}

func (s *recordingStateStore) ReadAll(ctx context.Context, botID, path string) ([]byte, error) {
	return nil, store.ErrNotFound
}

func (s *recordingStateStore) WriteAll(ctx context.Context, botID, path string, data []byte) error {
	return nil
}

func (s *recordingStateStore) ExportArchive(ctx context.Context, botID string, includeGlobs []string) ([]byte, error) {
	s.exported = append(s.exported, botID)
	return []byte("archive-of-" + botID), nil
}

func (s *recordingStateStore) ImportFromArchive(ctx context.Context, botID string, data []byte) error {
	s.imported = append(s.imported, botID)
	return nil
}

func (s *recordingStateStore) DeleteAll(ctx context.Context, botID string) error {
	s.deleted = append(s.deleted, botID)
	return nil
}

func (s *recordingStateStore) CopyAll(ctx context.Context, srcBotID, dstBotID string) error {
	return nil
}

func (s *recordingStateStore) ExtractBundle(ctx context.Context, botID string) error { return nil }

// stubLifecycle tracks mount and unmount calls
type stubLifecycle struct {
	mounts   []string
	unmounts []string
	mountOK  bool
}

func (l *stubLifecycle) Mount(ctx context.Context, botID string) (bool, error) {
	l.mounts = append(l.mounts, botID)
	return l.mountOK, nil
}

func (l *stubLifecycle) Unmount(ctx context.Context, botID string) {
	l.unmounts = append(l.unmounts, botID)
}

func stagedPipeline() model.Pipeline {
	return model.Pipeline{Stages: []model.Stage{
		{ID: "draft", Action: model.StageActionMove},
		{ID: "prod", Action: model.StageActionMove},
	}}
}

func stagedBot(id, stage string) *model.BotConfig {
	return &model.BotConfig{
		ID:              id,
		DefaultLanguage: "en",
		Languages:       []string{"en"},
		Pipeline:        &model.PipelineStatus{Current: model.StageRef{ID: stage}},
	}
}

func newTestManager(configs *stubConfigStore, states *recordingStateStore, archive *memArchiveStore, p model.Pipeline, lc Lifecycle) *Manager {
	return NewManager(configs, states, archive, hooks.NewBus(zap.NewNop()), p, lc, zap.NewNop())
}

func TestCreateRevision_NameEmbedsStage(t *testing.T) {
	archive := newMemArchiveStore()
	configs := &stubConfigStore{configs: map[string]*model.BotConfig{"bot-a": stagedBot("bot-a", "draft")}}
	m := newTestManager(configs, &recordingStateStore{}, archive, stagedPipeline(), &stubLifecycle{mountOK: true})
	m.now = func() time.Time { return time.UnixMilli(1700000000000) }

	name, err := m.CreateRevision(context.Background(), "bot-a")

	require.NoError(t, err)
	assert.Equal(t, "bot-a++1700000000000++draft", name)
	assert.Contains(t, archive.entries, name)
}

func TestCreateRevision_NoPipelineOmitsStage(t *testing.T) {
	archive := newMemArchiveStore()
	configs := &stubConfigStore{configs: map[string]*model.BotConfig{"bot-a": {ID: "bot-a"}}}
	m := newTestManager(configs, &recordingStateStore{}, archive, model.Pipeline{}, &stubLifecycle{mountOK: true})
	m.now = func() time.Time { return time.UnixMilli(42) }

	name, err := m.CreateRevision(context.Background(), "bot-a")

	require.NoError(t, err)
	assert.Equal(t, "bot-a++42", name)
}

func TestListRevisions_SortedByTimestamp(t *testing.T) {
	archive := newMemArchiveStore()
	configs := &stubConfigStore{configs: map[string]*model.BotConfig{"bot-a": stagedBot("bot-a", "draft")}}
	m := newTestManager(configs, &recordingStateStore{}, archive, stagedPipeline(), &stubLifecycle{mountOK: true})

	for _, ts := range []int64{300, 100, 200} {
		ts := ts
		m.now = func() time.Time { return time.UnixMilli(ts) }
		_, err := m.CreateRevision(context.Background(), "bot-a")
		require.NoError(t, err)
	}

	names, err := m.ListRevisions(context.Background(), "bot-a")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"bot-a++100++draft",
		"bot-a++200++draft",
		"bot-a++300++draft",
	}, names)
}

func TestListRevisions_ScopedToCurrentStage(t *testing.T) {
	archive := newMemArchiveStore()
	archive.entries["bot-a++100++draft"] = []byte("x")
	archive.entries["bot-a++200++prod"] = []byte("x")

	configs := &stubConfigStore{configs: map[string]*model.BotConfig{"bot-a": stagedBot("bot-a", "prod")}}
	m := newTestManager(configs, &recordingStateStore{}, archive, stagedPipeline(), &stubLifecycle{mountOK: true})

	names, err := m.ListRevisions(context.Background(), "bot-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"bot-a++200++prod"}, names)
}

func TestRollback_RestoresAndRemounts(t *testing.T) {
	archive := newMemArchiveStore()
	archive.entries["bot-a++100++draft"] = []byte("archive-of-bot-a")

	configs := &stubConfigStore{configs: map[string]*model.BotConfig{"bot-a": stagedBot("bot-a", "draft")}}
	states := &recordingStateStore{}
	lc := &stubLifecycle{mountOK: true}
	m := newTestManager(configs, states, archive, stagedPipeline(), lc)

	require.NoError(t, m.Rollback(context.Background(), "bot-a", "bot-a++100++draft"))

	assert.Equal(t, []string{"bot-a"}, lc.unmounts)
	assert.Equal(t, []string{"bot-a"}, states.deleted)
	assert.Equal(t, []string{"bot-a"}, states.imported)
	assert.Equal(t, []string{"bot-a"}, lc.mounts)
}

func TestRollback_ForeignRevisionRejected(t *testing.T) {
	configs := &stubConfigStore{configs: map[string]*model.BotConfig{"bot-a": stagedBot("bot-a", "draft")}}
	states := &recordingStateStore{}
	m := newTestManager(configs, states, newMemArchiveStore(), stagedPipeline(), &stubLifecycle{mountOK: true})

	err := m.Rollback(context.Background(), "bot-a", "bot-b++100++draft")

	assert.Error(t, err)
	assert.Empty(t, states.deleted)
	assert.Empty(t, states.imported)
}

func TestRollback_WrongStageRejected(t *testing.T) {
	archive := newMemArchiveStore()
	archive.entries["bot-a++100++draft"] = []byte("x")

	configs := &stubConfigStore{configs: map[string]*model.BotConfig{"bot-a": stagedBot("bot-a", "prod")}}
	states := &recordingStateStore{}
	m := newTestManager(configs, states, archive, stagedPipeline(), &stubLifecycle{mountOK: true})

	err := m.Rollback(context.Background(), "bot-a", "bot-a++100++draft")

	assert.Error(t, err)
	assert.Empty(t, states.deleted)
}

func TestRollback_MissingArchiveLeavesBotUntouched(t *testing.T) {
	configs := &stubConfigStore{configs: map[string]*model.BotConfig{"bot-a": stagedBot("bot-a", "draft")}}
	states := &recordingStateStore{}
	lc := &stubLifecycle{mountOK: true}
	m := newTestManager(configs, states, newMemArchiveStore(), stagedPipeline(), lc)

	err := m.Rollback(context.Background(), "bot-a", "bot-a++100++draft")

	assert.Error(t, err)
	assert.Empty(t, lc.unmounts)
	assert.Empty(t, states.deleted)
}

func TestCleanupRevisions_RetentionPerStage(t *testing.T) {
	archive := newMemArchiveStore()
	configs := &stubConfigStore{configs: map[string]*model.BotConfig{"bot-a": stagedBot("bot-a", "draft")}}
	m := newTestManager(configs, &recordingStateStore{}, archive, stagedPipeline(), &stubLifecycle{mountOK: true})

	for i := 0; i < MaxRevisions+5; i++ {
		archive.entries[fmt.Sprintf("bot-a++%d++draft", 100+i)] = []byte("x")
	}
	// Another stage's revisions must not count against the limit.
	archive.entries["bot-a++100++prod"] = []byte("x")

	require.NoError(t, m.CleanupRevisions(context.Background(), "bot-a", false))

	names, err := archive.List(context.Background(), "bot-a++")
	require.NoError(t, err)
	assert.Len(t, names, MaxRevisions+1)

	// The oldest entries are the ones that went.
	assert.NotContains(t, archive.entries, "bot-a++100++draft")
	assert.NotContains(t, archive.entries, "bot-a++104++draft")
	assert.Contains(t, archive.entries, "bot-a++105++draft")
	assert.Contains(t, archive.entries, "bot-a++100++prod")
}

func TestCleanupRevisions_CleanAll(t *testing.T) {
	archive := newMemArchiveStore()
	archive.entries["bot-a++100++draft"] = []byte("x")
	archive.entries["bot-a++200++prod"] = []byte("x")
	archive.entries["bot-b++100++draft"] = []byte("x")

	configs := &stubConfigStore{configs: map[string]*model.BotConfig{"bot-a": stagedBot("bot-a", "draft")}}
	m := newTestManager(configs, &recordingStateStore{}, archive, stagedPipeline(), &stubLifecycle{mountOK: true})

	require.NoError(t, m.CleanupRevisions(context.Background(), "bot-a", true))

	assert.NotContains(t, archive.entries, "bot-a++100++draft")
	assert.NotContains(t, archive.entries, "bot-a++200++prod")
	assert.Contains(t, archive.entries, "bot-b++100++draft")
}

func TestParseName(t *testing.T) {
	entry, err := ParseName("bot-a++1700000000000++prod")
	require.NoError(t, err)
	assert.Equal(t, "bot-a", entry.BotID)
	assert.Equal(t, int64(1700000000000), entry.Timestamp)
	assert.Equal(t, "prod", entry.StageID)

	entry, err = ParseName("bot-a++42")
	require.NoError(t, err)
	assert.Empty(t, entry.StageID)

	_, err = ParseName("bot-a")
	assert.Error(t, err)

	_, err = ParseName("bot-a++not-a-number")
	assert.Error(t, err)
}
