package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/arcadia-cloud/tenant-split-backend/interfaces"
)

// MigrationMetrics counts migration outcomes and stage entries. A nil
// receiver is a no-op so components can run without a metrics server wired.
type MigrationMetrics struct {
	started    prometheus.Counter
	completed  prometheus.Counter
	failed     *prometheus.CounterVec
	stages     *prometheus.CounterVec
	reserveLow prometheus.Counter
}

// NewMigrationMetrics registers migration counters on the given registry.
func NewMigrationMetrics(namespace string, registry *prometheus.Registry) *MigrationMetrics {
	m := &MigrationMetrics{
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migrations_started_total",
			Help:      "Number of migration runs started.",
		}),
		completed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migrations_completed_total",
			Help:      "Number of migrations that reached completion.",
		}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migrations_failed_total",
			Help:      "Number of migrations that failed, by stage.",
		}, []string{"stage"}),
		stages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migration_stages_total",
			Help:      "Number of migration stage entries, by stage.",
		}, []string{"stage"}),
		reserveLow: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reserve_admission_rejections_total",
			Help:      "Number of migrations rejected by the resource ledger.",
		}),
	}
	registry.MustRegister(m.started, m.completed, m.failed, m.stages, m.reserveLow)
	return m
}

// Started counts a migration run starting.
func (m *MigrationMetrics) Started() {
	if m == nil {
		return
	}
	m.started.Inc()
}

// Completed counts a migration reaching completion.
func (m *MigrationMetrics) Completed() {
	if m == nil {
		return
	}
	m.completed.Inc()
}

// Failed counts a migration failing at the given stage.
func (m *MigrationMetrics) Failed(stage interfaces.MigrationStatus) {
	if m == nil {
		return
	}
	m.failed.WithLabelValues(stage.String()).Inc()
}

// StageEntered counts a migration entering a stage.
func (m *MigrationMetrics) StageEntered(stage interfaces.MigrationStatus) {
	if m == nil {
		return
	}
	m.stages.WithLabelValues(stage.String()).Inc()
}

// AdmissionRejected counts a ledger admission rejection.
func (m *MigrationMetrics) AdmissionRejected() {
	if m == nil {
		return
	}
	m.reserveLow.Inc()
}
