package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ─── Dispatch loop ───────────────────────────────────────────────────────────

	DispatchCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dialflow",
		Subsystem: "dispatch",
		Name:      "cycles_total",
		Help:      "Dispatch cycles, labelled by outcome (dispatched, outside_business_hours, no_available_agents).",
	}, []string{"outcome"})

	DispatchCallsScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dialflow",
		Subsystem: "dispatch",
		Name:      "calls_scheduled_total",
		Help:      "makeCall jobs enqueued by the dispatch loop.",
	})

	// ─── Call placement ──────────────────────────────────────────────────────────

	CallsPlacedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dialflow",
		Subsystem: "calls",
		Name:      "placed_total",
		Help:      "Call attempt outcomes, labelled by result (connected, error, failed, agent_unavailable).",
	}, []string{"result"})

	CallPlacementSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "dialflow",
		Subsystem: "calls",
		Name:      "placement_duration_seconds",
		Help:      "Latency of the telephony provider's call placement endpoint.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	ItemsRescheduledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dialflow",
		Subsystem: "calls",
		Name:      "items_rescheduled_total",
		Help:      "Call-queue items pushed back to pending, labelled by reason.",
	}, []string{"reason"})

	// ─── Queues ──────────────────────────────────────────────────────────────────

	QueueJobsWaiting = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dialflow",
		Subsystem: "queue",
		Name:      "jobs_waiting",
		Help:      "Jobs waiting for pickup, per queue.",
	}, []string{"queue"})

	QueueJobsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dialflow",
		Subsystem: "queue",
		Name:      "jobs_active",
		Help:      "Jobs currently being processed, per queue.",
	}, []string{"queue"})

	QueueJobsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dialflow",
		Subsystem: "queue",
		Name:      "jobs_failed_total",
		Help:      "Jobs evicted after exhausting their attempt budget, per queue.",
	}, []string{"queue"})

	// ─── Events & maintenance ────────────────────────────────────────────────────

	WebhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dialflow",
		Subsystem: "events",
		Name:      "webhook_deliveries_total",
		Help:      "Outbound webhook deliveries, labelled by status (ok, error).",
	}, []string{"status"})

	MaintenanceDeletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dialflow",
		Subsystem: "maintenance",
		Name:      "records_deleted_total",
		Help:      "Terminal-state records deleted by the retention sweep, per entity.",
	}, []string{"entity"})

	AgentsDowngradedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dialflow",
		Subsystem: "maintenance",
		Name:      "agents_downgraded_total",
		Help:      "Agents marked offline by the availability probe.",
	})
)
