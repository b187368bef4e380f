// Package pipeline implements the staged promotion state machine: a
// bot is AtStage until a promotion is requested, holds a pending
// request while hooks gate it, and advances via promote_move or
// promote_copy once the hooks release an action.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/beamline/botfleet/internal/hooks"
	"github.com/beamline/botfleet/internal/model"
	"github.com/beamline/botfleet/internal/store"
)

// Mounter is the slice of the lifecycle surface the pipeline needs to
// bring a promoted copy online.
type Mounter interface {
	Mount(ctx context.Context, botID string) (bool, error)
	IsMounted(botID string) bool
}

// Revisioner creates point-in-time snapshots around promotions.
type Revisioner interface {
	CreateRevision(ctx context.Context, botID string) (string, error)
}

// Service drives stage change requests, approvals and promotions for
// all bots of one workspace.
type Service struct {
	configs      store.ConfigStore
	states       store.StateStore
	pipeline     model.Pipeline
	hooks        *hooks.Bus
	revisions    Revisioner
	mounter      Mounter
	autoRevision bool
	logger       *zap.Logger

	now func() time.Time
}

// NewService creates a pipeline service
func NewService(
	configs store.ConfigStore,
	states store.StateStore,
	pipeline model.Pipeline,
	hookBus *hooks.Bus,
	revisions Revisioner,
	mounter Mounter,
	autoRevision bool,
	logger *zap.Logger,
) *Service {
	return &Service{
		configs:      configs,
		states:       states,
		pipeline:     pipeline,
		hooks:        hookBus,
		revisions:    revisions,
		mounter:      mounter,
		autoRevision: autoRevision,
		logger:       logger,
		now:          time.Now,
	}
}

// Pipeline returns the workspace pipeline definition
func (s *Service) Pipeline() model.Pipeline {
	return s.pipeline
}

// RequestPromotion opens a stage change request to the next pipeline
// stage. A bot already at the last stage is a terminal no-op, not an
// error. The OnStageChangeRequest hooks run immediately and may
// release the promotion in the same call.
func (s *Service) RequestPromotion(ctx context.Context, botID, requestedBy string) error {
	if !s.pipeline.Enabled() {
		return fmt.Errorf("workspace has no pipeline")
	}

	cfg, err := s.configs.GetConfig(ctx, botID)
	if err != nil {
		return fmt.Errorf("failed to load bot %s: %w", botID, err)
	}
	status, err := s.resolveStatus(cfg)
	if err != nil {
		return err
	}

	idx := s.pipeline.StageIndex(status.Current.ID)
	if idx+1 >= len(s.pipeline.Stages) {
		s.logger.Info("Bot already at the last pipeline stage",
			zap.String("bot_id", botID),
			zap.String("stage", status.Current.ID))
		return nil
	}
	target := s.pipeline.Stages[idx+1]

	status.Request = &model.StageRequest{
		ID:          target.ID,
		Status:      model.RequestStatusPending,
		RequestedBy: requestedBy,
		RequestedOn: s.now(),
	}
	if err := s.configs.SetConfig(ctx, cfg); err != nil {
		return fmt.Errorf("failed to persist stage request for bot %s: %w", botID, err)
	}

	s.logger.Info("Stage change requested",
		zap.String("bot_id", botID),
		zap.String("target_stage", target.ID),
		zap.String("requested_by", requestedBy))

	return s.dispatch(ctx, cfg, target)
}

// ApproveStageChange appends a reviewer approval to the pending stage
// change request and re-consults the hooks. Approving twice with the
// same email has no additional effect.
func (s *Service) ApproveStageChange(ctx context.Context, botID, approverEmail, approverStrategy string) error {
	cfg, err := s.configs.GetConfig(ctx, botID)
	if err != nil {
		return fmt.Errorf("failed to load bot %s: %w", botID, err)
	}
	status, err := s.resolveStatus(cfg)
	if err != nil {
		return err
	}
	if status.Request == nil {
		return fmt.Errorf("bot %s has no pending stage change request", botID)
	}

	target, ok := s.pipeline.Stage(status.Request.ID)
	if !ok {
		return fmt.Errorf("bot %s: requested stage %q is not in the pipeline", botID, status.Request.ID)
	}

	if !status.Request.HasApproval(approverEmail) {
		status.Request.Approvals = append(status.Request.Approvals, model.Approval{
			Email:    approverEmail,
			Strategy: approverStrategy,
		})
		if err := s.configs.SetConfig(ctx, cfg); err != nil {
			return fmt.Errorf("failed to persist approval for bot %s: %w", botID, err)
		}
	}

	s.logger.Info("Stage change approved",
		zap.String("bot_id", botID),
		zap.String("target_stage", status.Request.ID),
		zap.String("approver", approverEmail),
		zap.Int("approvals", len(status.Request.Approvals)))

	return s.dispatch(ctx, cfg, target)
}

// RejectStageChange resolves a pending stage change request without
// promoting. The request is cleared; the bot stays at its stage.
func (s *Service) RejectStageChange(ctx context.Context, botID, reviewer string) error {
	cfg, err := s.configs.GetConfig(ctx, botID)
	if err != nil {
		return fmt.Errorf("failed to load bot %s: %w", botID, err)
	}
	status, err := s.resolveStatus(cfg)
	if err != nil {
		return err
	}
	if status.Request == nil {
		return fmt.Errorf("bot %s has no pending stage change request", botID)
	}

	rejected := status.Request.ID
	status.Request = nil
	if err := s.configs.SetConfig(ctx, cfg); err != nil {
		return fmt.Errorf("failed to persist rejection for bot %s: %w", botID, err)
	}

	s.logger.Info("Stage change rejected",
		zap.String("bot_id", botID),
		zap.String("target_stage", rejected),
		zap.String("reviewer", reviewer))
	return nil
}

// resolveStatus returns the bot's pipeline status, initializing a bot
// that predates the pipeline to its first stage. The current stage must
// always reference a stage of the workspace pipeline.
func (s *Service) resolveStatus(cfg *model.BotConfig) (*model.PipelineStatus, error) {
	if cfg.Pipeline == nil {
		cfg.Pipeline = &model.PipelineStatus{
			Current: model.StageRef{
				ID:         s.pipeline.Stages[0].ID,
				PromotedBy: "system",
				PromotedOn: s.now(),
			},
		}
	}
	if s.pipeline.StageIndex(cfg.Pipeline.Current.ID) < 0 {
		return nil, fmt.Errorf("bot %s: current stage %q is not in the pipeline", cfg.ID, cfg.Pipeline.Current.ID)
	}
	return cfg.Pipeline, nil
}

// dispatch consults the OnStageChangeRequest hooks and executes
// whatever actions they leave in the event. An empty action list keeps
// the request pending.
func (s *Service) dispatch(ctx context.Context, cfg *model.BotConfig, target model.Stage) error {
	ev := &hooks.StageChangeRequestEvent{
		BotID:    cfg.ID,
		Config:   cfg,
		Pipeline: s.pipeline,
		Request:  cfg.Pipeline.Request,
		Actions:  []model.StageAction{target.Action},
	}
	if err := s.hooks.FireOnStageChangeRequest(ctx, ev); err != nil {
		return fmt.Errorf("stage change hook failed for bot %s: %w", cfg.ID, err)
	}
	if len(ev.Actions) == 0 {
		return nil
	}

	for _, action := range ev.Actions {
		if s.autoRevision && s.revisions != nil {
			if _, err := s.revisions.CreateRevision(ctx, cfg.ID); err != nil {
				return fmt.Errorf("failed to snapshot bot %s before promotion: %w", cfg.ID, err)
			}
		}

		switch action {
		case model.StageActionMove:
			if err := s.promoteMove(ctx, cfg, target); err != nil {
				return err
			}
		case model.StageActionCopy:
			if err := s.promoteCopy(ctx, cfg, target); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown promotion action %q for bot %s", action, cfg.ID)
		}
	}
	return nil
}

// promoteMove advances the bot's stage pointer in place: same bot ID,
// same mounted instance, request cleared. A pure config update.
func (s *Service) promoteMove(ctx context.Context, cfg *model.BotConfig, target model.Stage) error {
	previous := cfg.Pipeline.Current.ID
	cfg.Pipeline.Current = model.StageRef{
		ID:         target.ID,
		PromotedBy: s.promoter(cfg.Pipeline.Request),
		PromotedOn: s.now(),
	}
	cfg.Pipeline.Request = nil

	if err := s.configs.SetConfig(ctx, cfg); err != nil {
		return fmt.Errorf("failed to promote bot %s: %w", cfg.ID, err)
	}

	s.logger.Info("Bot promoted in place",
		zap.String("bot_id", cfg.ID),
		zap.String("from_stage", previous),
		zap.String("to_stage", target.ID))

	return s.finishStageChange(ctx, cfg.ID, previous, target.ID)
}

// promoteCopy duplicates the bot under a new ID that inherits the
// advanced stage; the original stays at its stage with the request
// cleared. An existing bot is never silently overwritten: the new ID
// gets a fresh disambiguating suffix until it is free.
func (s *Service) promoteCopy(ctx context.Context, cfg *model.BotConfig, target model.Stage) error {
	newID, err := s.deriveCopyID(ctx, cfg.ID)
	if err != nil {
		return err
	}

	if err := s.states.CopyAll(ctx, cfg.ID, newID); err != nil {
		return fmt.Errorf("failed to duplicate state of bot %s: %w", cfg.ID, err)
	}

	previous := cfg.Pipeline.Current.ID
	newCfg := cfg.Clone()
	newCfg.ID = newID
	newCfg.Pipeline.Current = model.StageRef{
		ID:         target.ID,
		PromotedBy: s.promoter(cfg.Pipeline.Request),
		PromotedOn: s.now(),
	}
	newCfg.Pipeline.Request = nil
	newCfg.CreatedAt = time.Time{}
	if err := s.configs.SetConfig(ctx, newCfg); err != nil {
		return fmt.Errorf("failed to save promoted copy %s: %w", newID, err)
	}

	cfg.Pipeline.Request = nil
	if err := s.configs.SetConfig(ctx, cfg); err != nil {
		return fmt.Errorf("failed to clear stage request on bot %s: %w", cfg.ID, err)
	}

	s.logger.Info("Bot promoted by copy",
		zap.String("bot_id", cfg.ID),
		zap.String("copy_id", newID),
		zap.String("to_stage", target.ID))

	if s.mounter != nil && s.mounter.IsMounted(cfg.ID) {
		if ok, err := s.mounter.Mount(ctx, newID); err != nil {
			return err
		} else if !ok {
			s.logger.Warn("Promoted copy did not mount",
				zap.String("copy_id", newID))
		}
	}

	return s.finishStageChange(ctx, newID, previous, target.ID)
}

// finishStageChange runs the AfterStageChanged hooks and, if enabled,
// snapshots the final state.
func (s *Service) finishStageChange(ctx context.Context, botID, previous, current string) error {
	if err := s.hooks.FireAfterStageChanged(ctx, &hooks.StageChangedEvent{
		BotID:         botID,
		PreviousStage: previous,
		CurrentStage:  current,
	}); err != nil {
		return fmt.Errorf("after stage change hook failed for bot %s: %w", botID, err)
	}

	if s.autoRevision && s.revisions != nil {
		if _, err := s.revisions.CreateRevision(ctx, botID); err != nil {
			return fmt.Errorf("failed to snapshot bot %s after promotion: %w", botID, err)
		}
	}
	return nil
}

// promoter attributes the promotion to the most recent approver, or to
// the requester when the promotion needed no approvals.
func (s *Service) promoter(req *model.StageRequest) string {
	if req == nil {
		return ""
	}
	if n := len(req.Approvals); n > 0 {
		return req.Approvals[n-1].Email
	}
	return req.RequestedBy
}

// deriveCopyID derives the ID of a promoted copy. A UUID fragment keeps
// concurrent copies of the same bot collision-free.
func (s *Service) deriveCopyID(ctx context.Context, botID string) (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
		candidate := fmt.Sprintf("%s__%s", botID, suffix)
		exists, err := s.configs.Exists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("failed to check copy id %s: %w", candidate, err)
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("could not derive a free copy id for bot %s", botID)
}
