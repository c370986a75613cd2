package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Trigger invocations partitioned by outcome
	dispatchTriggersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_dispatch_triggers_total",
			Help: "Total number of dispatch triggers by outcome",
		},
		[]string{"outcome"},
	)

	// Recipient attempts partitioned by result (sent, failed, persist_error)
	dispatchRecipientsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_dispatch_recipients_total",
			Help: "Total number of recipient delivery attempts by result",
		},
		[]string{"result"},
	)

	// Duration of one claimed batch
	dispatchBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "broadcast_dispatch_batch_duration_seconds",
			Help:    "Duration of one dispatch batch in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	// Jobs reaching a terminal status through the engine
	dispatchJobsFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_jobs_finished_total",
			Help: "Total number of jobs finished by the dispatch engine by status",
		},
		[]string{"status"},
	)

	// Maintenance sweep runs partitioned by action and result
	maintenanceRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_maintenance_runs_total",
			Help: "Total number of scheduled maintenance runs",
		},
		[]string{"action", "result"},
	)
)
