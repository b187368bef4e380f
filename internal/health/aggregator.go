// Package health tracks per-bot health on this node and merges every
// node's snapshot into a cluster-wide view through the shared state
// store.
package health

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/beamline/botfleet/internal/model"
	"github.com/beamline/botfleet/internal/store"
)

const (
	// nodeKeyPrefix namespaces per-node health snapshots in the shared
	// state store.
	nodeKeyPrefix = "botfleet:health:"

	// DefaultFlushInterval must stay shorter than DefaultSnapshotTTL so
	// a live node always refreshes its key before it expires; a crashed
	// node disappears from the aggregate within one missed refresh.
	DefaultFlushInterval = 15 * time.Second
	DefaultSnapshotTTL   = 20 * time.Second
)

// Severity classifies a recorded health event.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Aggregator owns this node's bot health records and periodically
// persists them to the shared state store with an expiry.
type Aggregator struct {
	nodeID        string
	cluster       store.ClusterStore
	flushInterval time.Duration
	snapshotTTL   time.Duration
	logger        *zap.Logger

	mu      sync.RWMutex
	records map[string]model.HealthRecord

	flushCh  chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewAggregator creates a health aggregator for this node. The cluster
// store may be nil in a single-process deployment; aggregation then
// degrades to the local snapshot.
func NewAggregator(nodeID string, cluster store.ClusterStore, flushInterval, snapshotTTL time.Duration, logger *zap.Logger) *Aggregator {
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}
	if snapshotTTL <= flushInterval {
		snapshotTTL = flushInterval + 5*time.Second
	}

	return &Aggregator{
		nodeID:        nodeID,
		cluster:       cluster,
		flushInterval: flushInterval,
		snapshotTTL:   snapshotTTL,
		logger:        logger,
		records:       make(map[string]model.HealthRecord),
		flushCh:       make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
	}
}

// Record increments the counter for one health event. A critical event
// forces the bot unhealthy.
func (a *Aggregator) Record(botID string, severity Severity) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec, ok := a.records[botID]
	if !ok {
		rec = model.HealthRecord{Status: model.BotStatusHealthy}
	}

	switch severity {
	case SeverityWarning:
		rec.WarningCount++
	case SeverityError:
		rec.ErrorCount++
	case SeverityCritical:
		rec.CriticalCount++
		rec.Status = model.BotStatusUnhealthy
	}

	a.records[botID] = rec
}

// SetStatus overwrites a bot's status. Transitioning to disabled resets
// all counters so an unmounted bot does not carry stale error counts
// forward.
func (a *Aggregator) SetStatus(botID string, status model.BotStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec := a.records[botID]
	rec.Status = status
	if status == model.BotStatusDisabled {
		rec.ErrorCount = 0
		rec.WarningCount = 0
		rec.CriticalCount = 0
	}
	a.records[botID] = rec
}

// Remove garbage-collects the record of a bot that no longer exists
func (a *Aggregator) Remove(botID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.records, botID)
}

// Snapshot returns a copy of this node's current health view
func (a *Aggregator) Snapshot() model.NodeHealthView {
	a.mu.RLock()
	defer a.mu.RUnlock()

	bots := make(map[string]model.HealthRecord, len(a.records))
	for id, rec := range a.records {
		bots[id] = rec
	}
	return model.NodeHealthView{
		NodeID:    a.nodeID,
		UpdatedAt: time.Now(),
		Bots:      bots,
	}
}

// FlushLocal serializes the local snapshot and writes it to the shared
// state store under this node's key with the configured TTL.
func (a *Aggregator) FlushLocal(ctx context.Context) error {
	if a.cluster == nil {
		return nil
	}

	snapshot := a.Snapshot()
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return a.cluster.Set(ctx, nodeKeyPrefix+a.nodeID, data, a.snapshotTTL)
}

// RequestFlush asks the background flusher to write the snapshot soon,
// coalescing bursts of lifecycle activity into a single write.
func (a *Aggregator) RequestFlush() {
	select {
	case a.flushCh <- struct{}{}:
	default:
	}
}

// Start launches the background flusher
func (a *Aggregator) Start() {
	a.wg.Add(1)
	go a.flushLoop()
}

// flushLoop refreshes the node's snapshot on a fixed interval and on
// demand.
func (a *Aggregator) flushLoop() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
		case <-a.flushCh:
		}

		ctx, cancel := context.WithTimeout(context.Background(), a.flushInterval)
		if err := a.FlushLocal(ctx); err != nil {
			a.logger.Warn("Failed to flush health snapshot",
				zap.String("node_id", a.nodeID),
				zap.Error(err))
		}
		cancel()
	}
}

// Stop stops the background flusher
func (a *Aggregator) Stop() {
	a.stopOnce.Do(func() {
		close(a.stopCh)
	})
	a.wg.Wait()
}

// Aggregate merges every node's persisted snapshot into a cluster-wide
// view. botFilter scopes each node's bot map (nil means all bots). If
// the shared state store is unavailable the local in-memory snapshot is
// returned instead of an error.
func (a *Aggregator) Aggregate(ctx context.Context, botFilter []string) []model.NodeHealthView {
	if a.cluster == nil {
		return []model.NodeHealthView{filterView(a.Snapshot(), botFilter)}
	}

	keys, err := a.cluster.Keys(ctx, nodeKeyPrefix+"*")
	if err != nil {
		a.logger.Warn("Shared state store unavailable, using local health snapshot",
			zap.Error(err))
		return []model.NodeHealthView{filterView(a.Snapshot(), botFilter)}
	}
	if len(keys) == 0 {
		return nil
	}

	values, err := a.cluster.MGet(ctx, keys...)
	if err != nil {
		a.logger.Warn("Shared state store unavailable, using local health snapshot",
			zap.Error(err))
		return []model.NodeHealthView{filterView(a.Snapshot(), botFilter)}
	}

	views := make([]model.NodeHealthView, 0, len(values))
	for i, data := range values {
		if data == nil {
			// Key expired between KEYS and MGET.
			continue
		}
		var view model.NodeHealthView
		if err := json.Unmarshal(data, &view); err != nil {
			a.logger.Warn("Discarding undecodable health snapshot",
				zap.String("key", keys[i]),
				zap.Error(err))
			continue
		}
		if view.NodeID == "" {
			view.NodeID = strings.TrimPrefix(keys[i], nodeKeyPrefix)
		}
		views = append(views, filterView(view, botFilter))
	}
	return views
}

// filterView scopes one node's snapshot down to the requested bots
func filterView(view model.NodeHealthView, botFilter []string) model.NodeHealthView {
	if botFilter == nil {
		return view
	}

	bots := make(map[string]model.HealthRecord, len(botFilter))
	for _, id := range botFilter {
		if rec, ok := view.Bots[id]; ok {
			bots[id] = rec
		}
	}
	view.Bots = bots
	return view
}
