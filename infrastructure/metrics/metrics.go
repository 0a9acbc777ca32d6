// Package metrics provides Prometheus metrics collection for the graph
// engine: scheduler iterations, barrier-level progression, broker dispatch,
// cache hits, and ledger I/O.
package metrics

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/batchgraph/engine/infrastructure/runtime"
)

// Metrics holds all Prometheus collectors for a running engine.
type Metrics struct {
	// Scheduler metrics
	IterationsTotal    *prometheus.CounterVec
	IterationDuration  *prometheus.HistogramVec
	CurrentBarrierLevel prometheus.Gauge
	IterationCapHits   prometheus.Counter

	// Pump metrics
	PumpsTotal    *prometheus.CounterVec
	PumpDuration  *prometheus.HistogramVec
	EntriesEmitted *prometheus.CounterVec

	// Broker metrics
	JobsEnqueuedTotal   *prometheus.CounterVec
	JobsDispatchedTotal *prometheus.CounterVec
	JobsCompletedTotal  *prometheus.CounterVec
	JobCacheHitsTotal   *prometheus.CounterVec
	JobDuration         *prometheus.HistogramVec

	// Ledger metrics
	LedgerWritesTotal *prometheus.CounterVec
	LedgerReadsTotal  *prometheus.CounterVec
	LedgerCompactions *prometheus.CounterVec

	// Engine health
	EngineUptime prometheus.Gauge
	EngineInfo   *prometheus.GaugeVec
}

// New creates a new Metrics instance with all collectors registered against
// the default Prometheus registerer.
func New(engineName string) *Metrics {
	return NewWithRegistry(engineName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance registered against a
// caller-supplied registerer, so tests can use their own registry.
func NewWithRegistry(engineName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		IterationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_scheduler_iterations_total",
				Help: "Total number of execute() scheduler iterations run",
			},
			[]string{"graph"},
		),
		IterationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "engine_scheduler_iteration_duration_seconds",
				Help:    "Duration of a single scheduler iteration",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"graph"},
		),
		CurrentBarrierLevel: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "engine_scheduler_barrier_level",
				Help: "Barrier level the scheduler is currently draining",
			},
		),
		IterationCapHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "engine_scheduler_iteration_cap_hits_total",
				Help: "Number of times execute() stopped because max_iterations was reached",
			},
		),

		PumpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_node_pumps_total",
				Help: "Total number of pump() calls per node",
			},
			[]string{"node", "did_emit"},
		),
		PumpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "engine_node_pump_duration_seconds",
				Help:    "Duration of a node's pump() call",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"node"},
		),
		EntriesEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_node_entries_emitted_total",
				Help: "Total number of entries emitted by a node's pump()",
			},
			[]string{"node", "port"},
		),

		JobsEnqueuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_broker_jobs_enqueued_total",
				Help: "Total number of broker jobs enqueued",
			},
			[]string{"broker"},
		),
		JobsDispatchedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_broker_jobs_dispatched_total",
				Help: "Total number of broker jobs dispatched to the backing service",
			},
			[]string{"broker"},
		),
		JobsCompletedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_broker_jobs_completed_total",
				Help: "Total number of broker jobs that reached a terminal status",
			},
			[]string{"broker", "status"},
		),
		JobCacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_broker_job_cache_hits_total",
				Help: "Total number of enqueue() calls served from the job status cache",
			},
			[]string{"broker"},
		),
		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "engine_broker_job_duration_seconds",
				Help:    "Duration from dispatch to terminal status for a broker job",
				Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"broker"},
		),

		LedgerWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_ledger_writes_total",
				Help: "Total number of entries appended to a ledger",
			},
			[]string{"ledger"},
		),
		LedgerReadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_ledger_reads_total",
				Help: "Total number of entries read back from a ledger during resume",
			},
			[]string{"ledger"},
		),
		LedgerCompactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_ledger_compactions_total",
				Help: "Total number of compaction passes run against a ledger",
			},
			[]string{"ledger"},
		),

		EngineUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "engine_uptime_seconds",
				Help: "Engine process uptime in seconds",
			},
		),
		EngineInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "engine_info",
				Help: "Engine build and environment information",
			},
			[]string{"engine", "version", "environment"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.IterationsTotal,
			m.IterationDuration,
			m.CurrentBarrierLevel,
			m.IterationCapHits,
			m.PumpsTotal,
			m.PumpDuration,
			m.EntriesEmitted,
			m.JobsEnqueuedTotal,
			m.JobsDispatchedTotal,
			m.JobsCompletedTotal,
			m.JobCacheHitsTotal,
			m.JobDuration,
			m.LedgerWritesTotal,
			m.LedgerReadsTotal,
			m.LedgerCompactions,
			m.EngineUptime,
			m.EngineInfo,
		)
	}

	m.EngineInfo.WithLabelValues(engineName, "1.0.0", getEnvironment()).Set(1)

	return m
}

// RecordIteration records one execute() loop iteration.
func (m *Metrics) RecordIteration(graph string, barrierLevel int, duration time.Duration) {
	m.IterationsTotal.WithLabelValues(graph).Inc()
	m.IterationDuration.WithLabelValues(graph).Observe(duration.Seconds())
	m.CurrentBarrierLevel.Set(float64(barrierLevel))
}

// RecordIterationCapHit records max_iterations being reached.
func (m *Metrics) RecordIterationCapHit() {
	m.IterationCapHits.Inc()
}

// RecordPump records a single node pump() call and its outcome.
func (m *Metrics) RecordPump(node string, didEmit bool, duration time.Duration) {
	m.PumpsTotal.WithLabelValues(node, boolLabel(didEmit)).Inc()
	m.PumpDuration.WithLabelValues(node).Observe(duration.Seconds())
}

// RecordEntriesEmitted records entries emitted on a node's output port.
func (m *Metrics) RecordEntriesEmitted(node, port string, count int) {
	m.EntriesEmitted.WithLabelValues(node, port).Add(float64(count))
}

// RecordJobEnqueued records a broker enqueue() call.
func (m *Metrics) RecordJobEnqueued(broker string, cacheHit bool) {
	m.JobsEnqueuedTotal.WithLabelValues(broker).Inc()
	if cacheHit {
		m.JobCacheHitsTotal.WithLabelValues(broker).Inc()
	}
}

// RecordJobDispatched records a job dispatched by Broker.ProcessJobs.
func (m *Metrics) RecordJobDispatched(broker string) {
	m.JobsDispatchedTotal.WithLabelValues(broker).Inc()
}

// RecordJobCompleted records a job reaching DONE or FAILED, with its
// end-to-end duration.
func (m *Metrics) RecordJobCompleted(broker, status string, duration time.Duration) {
	m.JobsCompletedTotal.WithLabelValues(broker, status).Inc()
	m.JobDuration.WithLabelValues(broker).Observe(duration.Seconds())
}

// RecordLedgerWrite records entries appended to a ledger.
func (m *Metrics) RecordLedgerWrite(ledger string, count int) {
	m.LedgerWritesTotal.WithLabelValues(ledger).Add(float64(count))
}

// RecordLedgerRead records entries read back from a ledger on resume.
func (m *Metrics) RecordLedgerRead(ledger string, count int) {
	m.LedgerReadsTotal.WithLabelValues(ledger).Add(float64(count))
}

// RecordLedgerCompaction records a completed compaction pass.
func (m *Metrics) RecordLedgerCompaction(ledger string) {
	m.LedgerCompactions.WithLabelValues(ledger).Inc()
}

// UpdateUptime updates the engine uptime gauge.
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.EngineUptime.Set(time.Since(startTime).Seconds())
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func getEnvironment() string {
	return string(runtime.Env())
}

// Enabled returns whether Prometheus metrics should be exposed.
//
// Defaults:
// - production: disabled unless explicitly enabled via METRICS_ENABLED
// - non-production: enabled unless explicitly disabled via METRICS_ENABLED
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return !runtime.IsProduction()
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Global metrics instance
var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes the global metrics instance.
func Init(engineName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New(engineName)
	}
	return globalMetrics
}

// Global returns the global metrics instance, creating one if needed.
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New("unknown")
	}
	return globalMetrics
}
