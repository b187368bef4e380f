// Package revision manages point-in-time snapshots of a bot's durable
// state: creation, listing, rollback and retention pruning.
package revision

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/beamline/botfleet/internal/hooks"
	"github.com/beamline/botfleet/internal/model"
	"github.com/beamline/botfleet/internal/store"
)

const (
	// MaxRevisions is the retention limit per bot and stage.
	MaxRevisions = 10

	nameSeparator = "++"
)

// Lifecycle is the slice of the lifecycle surface a rollback needs:
// take the bot offline before restoring and bring it back after.
type Lifecycle interface {
	Mount(ctx context.Context, botID string) (bool, error)
	Unmount(ctx context.Context, botID string)
}

// Entry is one parsed revision archive name.
type Entry struct {
	Name      string
	BotID     string
	Timestamp int64
	StageID   string
}

// Manager creates, lists, restores and prunes revision snapshots in
// the global archive namespace.
type Manager struct {
	configs   store.ConfigStore
	states    store.StateStore
	archive   store.ArchiveStore
	hooks     *hooks.Bus
	pipeline  model.Pipeline
	lifecycle Lifecycle
	logger    *zap.Logger

	now func() time.Time
}

// NewManager creates a revision manager
func NewManager(
	configs store.ConfigStore,
	states store.StateStore,
	archive store.ArchiveStore,
	hookBus *hooks.Bus,
	pipeline model.Pipeline,
	lifecycle Lifecycle,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		configs:   configs,
		states:    states,
		archive:   archive,
		hooks:     hookBus,
		pipeline:  pipeline,
		lifecycle: lifecycle,
		logger:    logger,
		now:       time.Now,
	}
}

// CreateRevision archives the bot's durable state under a new entry
// named {botID}++{unixMillis}[++{stageID}], then prunes old entries.
func (m *Manager) CreateRevision(ctx context.Context, botID string) (string, error) {
	name := fmt.Sprintf("%s%s%d", botID, nameSeparator, m.now().UnixMilli())
	if m.pipeline.Enabled() {
		stageID, err := m.currentStage(ctx, botID)
		if err != nil {
			return "", err
		}
		name = name + nameSeparator + stageID
	}

	data, err := m.states.ExportArchive(ctx, botID, nil)
	if err != nil {
		return "", fmt.Errorf("failed to export state of bot %s: %w", botID, err)
	}
	if err := m.archive.Put(ctx, name, data); err != nil {
		return "", fmt.Errorf("failed to store revision %s: %w", name, err)
	}

	m.logger.Info("Created revision",
		zap.String("bot_id", botID),
		zap.String("revision", name))

	if err := m.CleanupRevisions(ctx, botID, false); err != nil {
		m.logger.Warn("Failed to prune old revisions",
			zap.String("bot_id", botID),
			zap.Error(err))
	}
	return name, nil
}

// ListRevisions lists the bot's revisions, scoped to the bot's current
// stage when the workspace has a pipeline, sorted ascending by the
// embedded millisecond timestamp.
func (m *Manager) ListRevisions(ctx context.Context, botID string) ([]string, error) {
	entries, err := m.entries(ctx, botID)
	if err != nil {
		return nil, err
	}

	if m.pipeline.Enabled() {
		stageID, err := m.currentStage(ctx, botID)
		if err != nil {
			return nil, err
		}
		filtered := entries[:0]
		for _, e := range entries {
			if e.StageID == stageID {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp < entries[j].Timestamp
	})

	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names, nil
}

// Rollback restores the bot's durable state from a revision archive.
// A revision naming another bot or a stage other than the bot's
// current stage is a hard validation error: applying a foreign or
// wrong-stage archive would silently corrupt the bot. Nothing
// destructive happens until the archive has been read and validated.
func (m *Manager) Rollback(ctx context.Context, botID, revisionName string) error {
	entry, err := ParseName(revisionName)
	if err != nil {
		return err
	}
	if entry.BotID != botID {
		return fmt.Errorf("revision %q does not belong to bot %q", revisionName, botID)
	}
	if m.pipeline.Enabled() {
		stageID, err := m.currentStage(ctx, botID)
		if err != nil {
			return err
		}
		if entry.StageID != stageID {
			return fmt.Errorf("revision %q was taken at stage %q but bot %q is at stage %q",
				revisionName, entry.StageID, botID, stageID)
		}
	}

	data, err := m.archive.Get(ctx, revisionName)
	if err != nil {
		return fmt.Errorf("failed to read revision %s: %w", revisionName, err)
	}

	if err := m.hooks.FireBeforeImport(ctx, botID); err != nil {
		return fmt.Errorf("before import hook rejected rollback of bot %s: %w", botID, err)
	}

	m.lifecycle.Unmount(ctx, botID)

	if err := m.states.DeleteAll(ctx, botID); err != nil {
		return fmt.Errorf("failed to clear state of bot %s: %w", botID, err)
	}
	if err := m.states.ImportFromArchive(ctx, botID, data); err != nil {
		return fmt.Errorf("failed to restore bot %s from %s: %w", botID, revisionName, err)
	}

	if ok, err := m.lifecycle.Mount(ctx, botID); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("bot %s restored from %s but failed to remount", botID, revisionName)
	}

	m.logger.Info("Rolled back bot",
		zap.String("bot_id", botID),
		zap.String("revision", revisionName))
	return nil
}

// CleanupRevisions prunes a bot's revisions beyond the retention limit,
// oldest first, per stage. cleanAll removes every revision; used on bot
// deletion.
func (m *Manager) CleanupRevisions(ctx context.Context, botID string, cleanAll bool) error {
	entries, err := m.entries(ctx, botID)
	if err != nil {
		return err
	}

	var stale []Entry
	if cleanAll {
		stale = entries
	} else {
		byStage := make(map[string][]Entry)
		for _, e := range entries {
			byStage[e.StageID] = append(byStage[e.StageID], e)
		}
		for _, group := range byStage {
			if len(group) <= MaxRevisions {
				continue
			}
			sort.Slice(group, func(i, j int) bool {
				return group[i].Timestamp < group[j].Timestamp
			})
			stale = append(stale, group[:len(group)-MaxRevisions]...)
		}
	}

	for _, e := range stale {
		if err := m.archive.Delete(ctx, e.Name); err != nil {
			return fmt.Errorf("failed to delete revision %s: %w", e.Name, err)
		}
		m.logger.Debug("Pruned revision",
			zap.String("bot_id", botID),
			zap.String("revision", e.Name))
	}
	return nil
}

// entries lists and parses all revisions belonging to one bot
func (m *Manager) entries(ctx context.Context, botID string) ([]Entry, error) {
	names, err := m.archive.List(ctx, botID+nameSeparator)
	if err != nil {
		return nil, fmt.Errorf("failed to list revisions of bot %s: %w", botID, err)
	}

	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		entry, err := ParseName(name)
		if err != nil {
			m.logger.Warn("Skipping unparseable archive entry",
				zap.String("name", name),
				zap.Error(err))
			continue
		}
		if entry.BotID != botID {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// currentStage resolves the bot's current pipeline stage, defaulting a
// bot without pipeline status to the first stage.
func (m *Manager) currentStage(ctx context.Context, botID string) (string, error) {
	cfg, err := m.configs.GetConfig(ctx, botID)
	if err != nil {
		return "", fmt.Errorf("failed to load bot %s: %w", botID, err)
	}
	if cfg.Pipeline == nil {
		return m.pipeline.Stages[0].ID, nil
	}
	return cfg.Pipeline.Current.ID, nil
}

// ParseName splits a revision archive name into its components.
func ParseName(name string) (Entry, error) {
	parts := strings.Split(name, nameSeparator)
	if len(parts) < 2 || len(parts) > 3 {
		return Entry{}, fmt.Errorf("invalid revision name %q", name)
	}

	ts, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("invalid timestamp in revision name %q", name)
	}

	entry := Entry{
		Name:      name,
		BotID:     parts[0],
		Timestamp: ts,
	}
	if len(parts) == 3 {
		entry.StageID = parts[2]
	}
	return entry, nil
}
