package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/beamline/botfleet/internal/store"
)

// Prober serves the node's liveness and readiness endpoints
type Prober struct {
	configs store.ConfigStore
	cluster store.ClusterStore
	logger  *zap.Logger
}

// ProbeStatus represents the probe response body
type ProbeStatus struct {
	Status    string            `json:"status"`
	Timestamp int64             `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// NewProber creates a new prober
func NewProber(configs store.ConfigStore, cluster store.ClusterStore, logger *zap.Logger) *Prober {
	return &Prober{
		configs: configs,
		cluster: cluster,
		logger:  logger,
	}
}

// LivenessHandler handles liveness probe requests
func (p *Prober) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	status := ProbeStatus{
		Status:    "alive",
		Timestamp: time.Now().Unix(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(status)
}

// ReadinessHandler handles readiness probe requests
func (p *Prober) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	// Check config store
	if p.configs != nil {
		if err := p.configs.Ping(ctx); err != nil {
			p.logger.Error("Config store health check failed", zap.Error(err))
			checks["config_store"] = "unhealthy: " + err.Error()
			allHealthy = false
		} else {
			checks["config_store"] = "healthy"
		}
	}

	// Check shared state store. An unreachable store degrades health
	// aggregation to local-only but does not make the node unready.
	if p.cluster != nil {
		if err := p.cluster.Ping(ctx); err != nil {
			p.logger.Warn("Shared state store health check failed", zap.Error(err))
			checks["cluster_store"] = "degraded: " + err.Error()
		} else {
			checks["cluster_store"] = "healthy"
		}
	}

	status := ProbeStatus{
		Timestamp: time.Now().Unix(),
		Checks:    checks,
	}

	w.Header().Set("Content-Type", "application/json")

	if allHealthy {
		status.Status = "ready"
		w.WriteHeader(http.StatusOK)
	} else {
		status.Status = "not_ready"
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	json.NewEncoder(w).Encode(status)
}
