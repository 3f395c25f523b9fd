package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Счётчики Prometheus. Регистрируются в default registry, отдаются
// через /metrics на API-сервере.
var (
	// RequestsCreated — созданные запросы по типу (add, rm, regenerate-bundle).
	RequestsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forge_requests_created_total",
		Help: "Build requests created, by request type",
	}, []string{"type"})

	// BatchesCreated — созданные батчи (одиночная отправка — батч из одного).
	BatchesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "forge_batches_created_total",
		Help: "Batches of build requests created",
	})

	// StateTransitions — применённые переходы состояний (NoOp не считается).
	StateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forge_state_transitions_total",
		Help: "Request state transitions applied, by resulting state",
	}, []string{"state"})

	// Dispatches — отправки рабочих элементов по исходу (ok, error).
	Dispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forge_dispatches_total",
		Help: "Work item submissions, by outcome",
	}, []string{"outcome"})

	// DeadLettered — сборки, попавшие в dead-letter очередь.
	DeadLettered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "forge_dead_lettered_builds_total",
		Help: "Build work items that ended up in the dead-letter queue",
	})

	// SweptLogs — файлы логов, удалённые уборщиком.
	SweptLogs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "forge_swept_log_files_total",
		Help: "Expired build log files removed by the janitor",
	})

	// operationsTotal — вызовы операций оркестратора по исходу.
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forge_operations_total",
		Help: "Orchestrator operations, by name and outcome",
	}, []string{"operation", "outcome"})
)
