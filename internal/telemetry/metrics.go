package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики подсистемы планирования.
var (
	// Evaluations — оценки триггеров по результату (fired, empty, failed, timeout, invalid).
	Evaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orbit_trigger_evaluations_total",
		Help: "Trigger evaluations by result.",
	}, []string{"result"})

	// EvaluationDuration — длительность оценки триггера.
	EvaluationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orbit_trigger_evaluation_seconds",
		Help:    "Trigger evaluation latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	// ExecutionsCreated — созданные executions по решению лимитера.
	ExecutionsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orbit_executions_created_total",
		Help: "Executions created by concurrency decision.",
	}, []string{"decision"})

	// Transitions — принятые переходы по целевому состоянию.
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orbit_transitions_total",
		Help: "Accepted state transitions by target state.",
	}, []string{"state"})

	// RejectedTransitions — отклонённые переходы по причине.
	RejectedTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orbit_transitions_rejected_total",
		Help: "Rejected state transitions by reason.",
	}, []string{"reason"})

	// WindowFires — срабатывания composite-окон.
	WindowFires = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orbit_window_fires_total",
		Help: "Composite windows fired.",
	})

	// WindowsDiscarded — окна, отброшенные по дедлайну.
	WindowsDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orbit_windows_discarded_total",
		Help: "Composite windows discarded after deadline.",
	})

	// StoreConflicts — конфликты условной записи.
	StoreConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orbit_store_conflicts_total",
		Help: "Optimistic write conflicts by entity.",
	}, []string{"entity"})

	// Ticks — итерации цикла scheduler'а по результату.
	Ticks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orbit_scheduler_ticks_total",
		Help: "Scheduler ticks by result.",
	}, []string{"result"})

	// AuditDropped — события аудита, отброшенные из-за переполнения буфера.
	AuditDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orbit_audit_dropped_total",
		Help: "Audit events dropped because the sink buffer was full.",
	})

	// APIRequests — запросы HTTP API по маршруту и коду ответа.
	APIRequests = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orbit_api_request_seconds",
		Help:    "HTTP API latency by route pattern and status code.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "status"})
)
