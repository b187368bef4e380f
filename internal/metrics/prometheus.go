package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Lifecycle metrics
	MountsTotal   *prometheus.CounterVec
	UnmountsTotal prometheus.Counter
	MountedBots   prometheus.Gauge

	// Pipeline metrics
	StageRequestsTotal   prometheus.Counter
	StageApprovalsTotal  prometheus.Counter
	StageRejectionsTotal prometheus.Counter

	// Revision metrics
	RevisionsCreatedTotal prometheus.Counter
	RollbacksTotal        *prometheus.CounterVec

	// Bot administration metrics
	BotsDeletedTotal prometheus.Counter

	// Process metrics
	HeapBytes  prometheus.Gauge
	Goroutines prometheus.Gauge
}

// NewMetrics creates and registers Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		MountsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botfleet_mounts_total",
				Help: "Total number of local mount attempts",
			},
			[]string{"result"},
		),

		UnmountsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "botfleet_unmounts_total",
				Help: "Total number of local unmounts",
			},
		),

		MountedBots: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "botfleet_mounted_bots",
				Help: "Number of bots currently mounted on this node",
			},
		),

		StageRequestsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "botfleet_stage_requests_total",
				Help: "Total number of stage change requests",
			},
		),

		StageApprovalsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "botfleet_stage_approvals_total",
				Help: "Total number of stage change approvals",
			},
		),

		StageRejectionsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "botfleet_stage_rejections_total",
				Help: "Total number of stage change rejections",
			},
		),

		RevisionsCreatedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "botfleet_revisions_created_total",
				Help: "Total number of revision snapshots created",
			},
		),

		RollbacksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botfleet_rollbacks_total",
				Help: "Total number of rollback attempts",
			},
			[]string{"result"},
		),

		BotsDeletedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "botfleet_bots_deleted_total",
				Help: "Total number of bots deleted",
			},
		),

		HeapBytes: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "botfleet_heap_bytes",
				Help: "Heap memory currently allocated by the process",
			},
		),

		Goroutines: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "botfleet_goroutines",
				Help: "Number of goroutines in the process",
			},
		),
	}
}

// UpdateRuntimeStats refreshes the process-level gauges
func (m *Metrics) UpdateRuntimeStats(heapBytes uint64, goroutines int) {
	m.HeapBytes.Set(float64(heapBytes))
	m.Goroutines.Set(float64(goroutines))
}

// RecordMount records a local mount attempt
func (m *Metrics) RecordMount(mounted bool) {
	if mounted {
		m.MountsTotal.WithLabelValues("success").Inc()
	} else {
		m.MountsTotal.WithLabelValues("failure").Inc()
	}
}

// RecordRollback records a rollback attempt
func (m *Metrics) RecordRollback(ok bool) {
	if ok {
		m.RollbacksTotal.WithLabelValues("success").Inc()
	} else {
		m.RollbacksTotal.WithLabelValues("failure").Inc()
	}
}
