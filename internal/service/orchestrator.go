// Package service exposes the admin-facing orchestrator surface and
// the cached bot config service.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/im7mortal/kmutex"
	"go.uber.org/zap"

	"github.com/beamline/botfleet/internal/cluster"
	"github.com/beamline/botfleet/internal/health"
	"github.com/beamline/botfleet/internal/lifecycle"
	"github.com/beamline/botfleet/internal/metrics"
	"github.com/beamline/botfleet/internal/model"
	"github.com/beamline/botfleet/internal/pipeline"
	"github.com/beamline/botfleet/internal/revision"
	"github.com/beamline/botfleet/internal/store"
)

// BroadcastLifecycle bundles the broadcast-wrapped lifecycle functions
// with the node-local mounted set. It satisfies both pipeline.Mounter
// and revision.Lifecycle so promotions and rollbacks act cluster-wide.
type BroadcastLifecycle struct {
	MountFn   cluster.LocalFunc
	UnmountFn cluster.LocalFunc
	Registry  *lifecycle.MountedRegistry
}

// Mount mounts a bot locally and fans out to peers
func (b *BroadcastLifecycle) Mount(ctx context.Context, botID string) (bool, error) {
	return b.MountFn(ctx, botID)
}

// Unmount unmounts a bot locally and fans out to peers
func (b *BroadcastLifecycle) Unmount(ctx context.Context, botID string) {
	b.UnmountFn(ctx, botID)
}

// IsMounted reports whether a bot is mounted on this node
func (b *BroadcastLifecycle) IsMounted(botID string) bool {
	return b.Registry.Contains(botID)
}

// Orchestrator is the synchronous admin surface of the node. Control
// operations for one bot race without a total order across concurrent
// admin requests, so the orchestrator serializes them per bot ID
// before anything reaches the broadcast layer; operations for
// different bots proceed concurrently.
type Orchestrator struct {
	configs   store.ConfigStore
	states    store.StateStore
	lifecycle *BroadcastLifecycle
	health    *health.Aggregator
	pipeline  *pipeline.Service
	revisions *revision.Manager
	locks     *kmutex.Kmutex
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewOrchestrator creates the admin facade
func NewOrchestrator(
	configs store.ConfigStore,
	states store.StateStore,
	broadcastLifecycle *BroadcastLifecycle,
	healthAgg *health.Aggregator,
	pipelineSvc *pipeline.Service,
	revisions *revision.Manager,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		configs:   configs,
		states:    states,
		lifecycle: broadcastLifecycle,
		health:    healthAgg,
		pipeline:  pipelineSvc,
		revisions: revisions,
		locks:     kmutex.New(),
		metrics:   m,
		logger:    logger,
	}
}

// CreateBot provisions a new bot: validates the config, pins it to the
// first pipeline stage and persists it. The bot is not mounted.
func (o *Orchestrator) CreateBot(ctx context.Context, cfg *model.BotConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	o.locks.Lock(cfg.ID)
	defer o.locks.Unlock(cfg.ID)

	exists, err := o.configs.Exists(ctx, cfg.ID)
	if err != nil {
		return fmt.Errorf("failed to check bot %s: %w", cfg.ID, err)
	}
	if exists {
		return fmt.Errorf("bot %s already exists", cfg.ID)
	}

	if p := o.pipeline.Pipeline(); cfg.Pipeline == nil && len(p.Stages) > 0 {
		cfg.Pipeline = &model.PipelineStatus{
			Current: model.StageRef{ID: p.Stages[0].ID, PromotedBy: "system"},
		}
	}

	if err := o.configs.SetConfig(ctx, cfg); err != nil {
		return err
	}

	o.logger.Info("Created bot", zap.String("bot_id", cfg.ID))
	return nil
}

// Mount mounts a bot on every node of the cluster. The returned bool
// reflects the local node only; remote outcomes surface through
// GetClusterHealth.
func (o *Orchestrator) Mount(ctx context.Context, botID string) (bool, error) {
	o.locks.Lock(botID)
	defer o.locks.Unlock(botID)

	mounted, err := o.lifecycle.Mount(ctx, botID)
	o.metrics.RecordMount(mounted)
	o.metrics.MountedBots.Set(float64(len(o.lifecycle.Registry.List())))
	return mounted, err
}

// Unmount unmounts a bot on every node of the cluster. Idempotent.
func (o *Orchestrator) Unmount(ctx context.Context, botID string) {
	o.locks.Lock(botID)
	defer o.locks.Unlock(botID)

	o.lifecycle.Unmount(ctx, botID)
	o.metrics.UnmountsTotal.Inc()
	o.metrics.MountedBots.Set(float64(len(o.lifecycle.Registry.List())))
}

// IsMounted reports whether a bot is mounted on this node
func (o *Orchestrator) IsMounted(botID string) bool {
	return o.lifecycle.IsMounted(botID)
}

// RequestPromotion opens a stage change request for a bot
func (o *Orchestrator) RequestPromotion(ctx context.Context, botID, requestedBy string) error {
	o.locks.Lock(botID)
	defer o.locks.Unlock(botID)

	o.metrics.StageRequestsTotal.Inc()
	return o.pipeline.RequestPromotion(ctx, botID, requestedBy)
}

// ApproveStageChange records a reviewer approval on a pending request
func (o *Orchestrator) ApproveStageChange(ctx context.Context, botID, approverEmail, approverStrategy string) error {
	o.locks.Lock(botID)
	defer o.locks.Unlock(botID)

	o.metrics.StageApprovalsTotal.Inc()
	return o.pipeline.ApproveStageChange(ctx, botID, approverEmail, approverStrategy)
}

// RejectStageChange resolves a pending request without promoting
func (o *Orchestrator) RejectStageChange(ctx context.Context, botID, reviewer string) error {
	o.locks.Lock(botID)
	defer o.locks.Unlock(botID)

	o.metrics.StageRejectionsTotal.Inc()
	return o.pipeline.RejectStageChange(ctx, botID, reviewer)
}

// CreateRevision snapshots a bot's durable state
func (o *Orchestrator) CreateRevision(ctx context.Context, botID string) (string, error) {
	o.locks.Lock(botID)
	defer o.locks.Unlock(botID)

	name, err := o.revisions.CreateRevision(ctx, botID)
	if err == nil {
		o.metrics.RevisionsCreatedTotal.Inc()
	}
	return name, err
}

// ListRevisions lists a bot's revision snapshots
func (o *Orchestrator) ListRevisions(ctx context.Context, botID string) ([]string, error) {
	return o.revisions.ListRevisions(ctx, botID)
}

// Rollback restores a bot from a revision snapshot
func (o *Orchestrator) Rollback(ctx context.Context, botID, revisionName string) error {
	o.locks.Lock(botID)
	defer o.locks.Unlock(botID)

	err := o.revisions.Rollback(ctx, botID, revisionName)
	o.metrics.RecordRollback(err == nil)
	return err
}

// GetClusterHealth merges every node's health snapshot, optionally
// scoped to a set of bots.
func (o *Orchestrator) GetClusterHealth(ctx context.Context, botFilter []string) []model.NodeHealthView {
	return o.health.Aggregate(ctx, botFilter)
}

// DeleteBot removes a bot everywhere: cluster-wide unmount first, then
// config, durable state, all revisions and the local health record.
func (o *Orchestrator) DeleteBot(ctx context.Context, botID string) error {
	o.locks.Lock(botID)
	defer o.locks.Unlock(botID)

	o.lifecycle.Unmount(ctx, botID)

	if err := o.configs.DeleteConfig(ctx, botID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to delete config of bot %s: %w", botID, err)
	}
	if err := o.states.DeleteAll(ctx, botID); err != nil {
		return fmt.Errorf("failed to delete state of bot %s: %w", botID, err)
	}
	if err := o.revisions.CleanupRevisions(ctx, botID, true); err != nil {
		return fmt.Errorf("failed to delete revisions of bot %s: %w", botID, err)
	}

	o.health.Remove(botID)
	o.health.RequestFlush()
	o.metrics.BotsDeletedTotal.Inc()

	o.logger.Info("Deleted bot", zap.String("bot_id", botID))
	return nil
}
