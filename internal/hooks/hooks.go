// Package hooks is the typed event bus the orchestrator fires around
// lifecycle and promotion transitions. Hook points have a fixed event
// shape each; handlers are registered once at startup and run in
// registration order. Dispatch stops only when a handler returns an
// error.
package hooks

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/beamline/botfleet/internal/model"
)

// LifecycleHook runs around a bot lifecycle transition.
type LifecycleHook func(ctx context.Context, botID string) error

// StageChangeRequestEvent is the mutable result object passed to
// OnStageChangeRequest handlers. Actions is seeded with the target
// stage's configured action; handlers may clear it to keep the request
// pending (e.g. until enough approvals exist) or replace it.
type StageChangeRequestEvent struct {
	BotID    string
	Config   *model.BotConfig
	Pipeline model.Pipeline
	Request  *model.StageRequest
	Actions  []model.StageAction
}

// StageChangedEvent notifies handlers after a bot's current stage
// actually changed.
type StageChangedEvent struct {
	BotID         string
	PreviousStage string
	CurrentStage  string
}

// StageChangeRequestHook inspects and may edit a stage change request.
type StageChangeRequestHook func(ctx context.Context, ev *StageChangeRequestEvent) error

// StageChangedHook runs after a completed stage transition.
type StageChangedHook func(ctx context.Context, ev *StageChangedEvent) error

// Bus dispatches named hooks in registration order.
type Bus struct {
	mu                   sync.RWMutex
	beforeImport         []LifecycleHook
	afterMount           []LifecycleHook
	afterUnmount         []LifecycleHook
	onStageChangeRequest []StageChangeRequestHook
	afterStageChanged    []StageChangedHook
	logger               *zap.Logger
}

// NewBus creates an empty hook bus
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{logger: logger}
}

// OnBeforeImport registers a hook fired before a bot's state is
// restored from an archive.
func (b *Bus) OnBeforeImport(h LifecycleHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.beforeImport = append(b.beforeImport, h)
}

// OnAfterMount registers a hook fired after a bot is mounted
func (b *Bus) OnAfterMount(h LifecycleHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.afterMount = append(b.afterMount, h)
}

// OnAfterUnmount registers a hook fired after a bot is unmounted
func (b *Bus) OnAfterUnmount(h LifecycleHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.afterUnmount = append(b.afterUnmount, h)
}

// OnStageChangeRequest registers a hook consulted on every stage change
// request and approval.
func (b *Bus) OnStageChangeRequest(h StageChangeRequestHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStageChangeRequest = append(b.onStageChangeRequest, h)
}

// OnAfterStageChanged registers a hook fired after a completed stage
// transition.
func (b *Bus) OnAfterStageChanged(h StageChangedHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.afterStageChanged = append(b.afterStageChanged, h)
}

// FireBeforeImport runs the BeforeImport hooks
func (b *Bus) FireBeforeImport(ctx context.Context, botID string) error {
	b.mu.RLock()
	handlers := b.beforeImport
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, botID); err != nil {
			return err
		}
	}
	return nil
}

// FireAfterMount runs the AfterMount hooks
func (b *Bus) FireAfterMount(ctx context.Context, botID string) error {
	b.mu.RLock()
	handlers := b.afterMount
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, botID); err != nil {
			return err
		}
	}
	return nil
}

// FireAfterUnmount runs the AfterUnmount hooks
func (b *Bus) FireAfterUnmount(ctx context.Context, botID string) error {
	b.mu.RLock()
	handlers := b.afterUnmount
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, botID); err != nil {
			return err
		}
	}
	return nil
}

// FireOnStageChangeRequest runs the OnStageChangeRequest hooks against
// a shared mutable event.
func (b *Bus) FireOnStageChangeRequest(ctx context.Context, ev *StageChangeRequestEvent) error {
	b.mu.RLock()
	handlers := b.onStageChangeRequest
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// FireAfterStageChanged runs the AfterStageChanged hooks
func (b *Bus) FireAfterStageChanged(ctx context.Context, ev *StageChangedEvent) error {
	b.mu.RLock()
	handlers := b.afterStageChanged
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// RequireApprovals returns a stage change hook that holds every request
// pending until it has at least min approvals. It is the default gate
// wired at startup when the workspace requires reviewer sign-off.
func RequireApprovals(min int) StageChangeRequestHook {
	return func(ctx context.Context, ev *StageChangeRequestEvent) error {
		if ev.Request == nil || len(ev.Request.Approvals) < min {
			ev.Actions = nil
		}
		return nil
	}
}
