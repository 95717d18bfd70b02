package translate

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Translation request metrics
	translationRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doctrans_translation_requests_total",
			Help: "Total number of translation requests sent to a backend",
		},
		[]string{"engine", "status"},
	)

	translationRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "doctrans_translation_request_duration_seconds",
			Help:    "Duration of translation requests in seconds",
			Buckets: []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
		},
		[]string{"engine", "status"},
	)

	translationRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "doctrans_translation_request_size_bytes",
			Help:    "Size of translation request text in bytes",
			Buckets: []float64{100, 500, 1000, 5000, 10000, 50000, 100000, 500000},
		},
		[]string{"engine"},
	)

	translationResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "doctrans_translation_response_size_bytes",
			Help:    "Size of translation response text in bytes",
			Buckets: []float64{100, 500, 1000, 5000, 10000, 50000, 100000, 500000},
		},
		[]string{"engine"},
	)

	// Worker pool metrics
	workerPoolTotalWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "doctrans_worker_pool_total_workers",
			Help: "Total number of workers (busy + idle) in the pool",
		},
		[]string{"engine"},
	)

	workerPoolActiveWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "doctrans_worker_pool_active_workers",
			Help: "Number of workers whose process is running",
		},
		[]string{"engine"},
	)

	workerPoolBusyWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "doctrans_worker_pool_busy_workers",
			Help: "Number of workers currently processing requests",
		},
		[]string{"engine"},
	)

	workerPoolIdleWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "doctrans_worker_pool_idle_workers",
			Help: "Number of idle workers available for requests",
		},
		[]string{"engine"},
	)

	workerQueueLength = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "doctrans_worker_queue_length",
			Help: "Number of requests waiting for a free worker",
		},
		[]string{"engine"},
	)

	workerQueueWaitTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "doctrans_worker_queue_wait_seconds",
			Help:    "Time spent waiting for an available worker",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1.0, 2.0, 5.0},
		},
		[]string{"engine"},
	)

	workerStartsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doctrans_worker_starts_total",
			Help: "Total number of worker process starts",
		},
		[]string{"engine", "worker_id"},
	)

	workerRestartsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doctrans_worker_restarts_total",
			Help: "Total number of worker process restarts",
		},
		[]string{"engine", "worker_id"},
	)

	workerIdleSeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "doctrans_worker_idle_seconds",
			Help: "Seconds since each worker last served a request",
		},
		[]string{"engine", "worker_id"},
	)

	socketConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doctrans_socket_connections_total",
			Help: "Total number of Unix socket connections to workers",
		},
		[]string{"engine", "worker_id", "status"},
	)

	socketConnectionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "doctrans_socket_connection_duration_seconds",
			Help:    "Duration of socket dials in seconds",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1.0},
		},
		[]string{"engine", "worker_id"},
	)

	workerMemoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "doctrans_worker_memory_usage_bytes",
			Help: "Resident memory of worker processes in bytes",
		},
		[]string{"engine", "worker_id"},
	)
)

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordTranslationRequest records one backend translation request.
func RecordTranslationRequest(engine EngineType, duration time.Duration, success bool, requestSize, responseSize int) {
	status := statusLabel(success)
	translationRequestsTotal.WithLabelValues(string(engine), status).Inc()
	translationRequestDuration.WithLabelValues(string(engine), status).Observe(duration.Seconds())
	translationRequestSize.WithLabelValues(string(engine)).Observe(float64(requestSize))
	if success {
		translationResponseSize.WithLabelValues(string(engine)).Observe(float64(responseSize))
	}
}

// instrumented records request metrics around a Translator.
type instrumented struct {
	Translator
	engine EngineType
}

// Instrument wraps t so that every Translate call is recorded under engine.
func Instrument(t Translator, engine EngineType) Translator {
	return &instrumented{Translator: t, engine: engine}
}

func (i *instrumented) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	startTime := time.Now()
	out, err := i.Translator.Translate(ctx, text, sourceLang, targetLang)
	RecordTranslationRequest(i.engine, time.Since(startTime), err == nil, len(text), len(out))
	return out, err
}

// MetricsCollector publishes worker pool gauges.
type MetricsCollector struct {
	pool   *WorkerPool
	engine string
}

// NewMetricsCollector creates a new metrics collector for a worker pool.
func NewMetricsCollector(pool *WorkerPool, engine string) *MetricsCollector {
	return &MetricsCollector{pool: pool, engine: engine}
}

// UpdateMetrics refreshes the worker pool gauges.
func (mc *MetricsCollector) UpdateMetrics() {
	if mc.pool == nil {
		return
	}
	stats := mc.pool.Stats()

	workerPoolTotalWorkers.WithLabelValues(mc.engine).Set(float64(stats.Total))
	workerPoolActiveWorkers.WithLabelValues(mc.engine).Set(float64(stats.Running))
	workerPoolBusyWorkers.WithLabelValues(mc.engine).Set(float64(stats.Busy))
	workerPoolIdleWorkers.WithLabelValues(mc.engine).Set(float64(stats.Total - stats.Busy))
	workerQueueLength.WithLabelValues(mc.engine).Set(float64(stats.Waiting))

	for id, idle := range stats.IdleFor {
		workerIdleSeconds.WithLabelValues(mc.engine, strconv.Itoa(id)).Set(idle.Seconds())
	}
}

// RecordWorkerStart records a worker start event.
func (mc *MetricsCollector) RecordWorkerStart(workerID int) {
	workerStartsTotal.WithLabelValues(mc.engine, strconv.Itoa(workerID)).Inc()
}

// RecordWorkerRestart records a worker restart event.
func (mc *MetricsCollector) RecordWorkerRestart(workerID int) {
	workerRestartsTotal.WithLabelValues(mc.engine, strconv.Itoa(workerID)).Inc()
}

// RecordQueueWait records time spent waiting for an available worker.
func (mc *MetricsCollector) RecordQueueWait(duration time.Duration) {
	workerQueueWaitTime.WithLabelValues(mc.engine).Observe(duration.Seconds())
}

// RecordSocketConnection records a socket dial to a worker.
func (mc *MetricsCollector) RecordSocketConnection(workerID int, duration time.Duration, success bool) {
	id := strconv.Itoa(workerID)
	socketConnectionsTotal.WithLabelValues(mc.engine, id, statusLabel(success)).Inc()
	socketConnectionDuration.WithLabelValues(mc.engine, id).Observe(duration.Seconds())
}

// UpdateWorkerMemory updates memory usage for a worker.
func (mc *MetricsCollector) UpdateWorkerMemory(workerID int, memoryBytes int64) {
	workerMemoryUsage.WithLabelValues(mc.engine, strconv.Itoa(workerID)).Set(float64(memoryBytes))
}
