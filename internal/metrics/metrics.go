// Package metrics exposes Prometheus collectors for ingestion, the task
// queue and external sources.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// chunksTotal counts processed chunks by outcome (committed, aborted).
	chunksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "place_pipeline_chunks_total",
		Help: "Total number of pipeline chunks by outcome",
	}, []string{"outcome"})

	// chunkItems counts items by result (read, processed, skipped, failed, filtered, deleted).
	chunkItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "place_pipeline_items_total",
		Help: "Total number of pipeline items by result",
	}, []string{"result"})

	chunkDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "place_pipeline_chunk_duration_seconds",
		Help:    "Time taken to process one chunk",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	passesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "place_pipeline_passes_total",
		Help: "Total number of completed scan passes",
	})

	checkpointPage = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "place_checkpoint_page",
		Help: "Last committed page per job",
	}, []string{"job"})

	batchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "place_controller_batches_total",
		Help: "Total number of controller batches by outcome",
	}, []string{"outcome"})

	controllerBackoff = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "place_controller_backoff_seconds",
		Help: "Current controller backoff delay",
	})

	controllerRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "place_controller_running",
		Help: "1 when the continuous controller is running",
	})

	tasksEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "place_tasks_enqueued_total",
		Help: "Total number of enqueued tasks by priority",
	}, []string{"priority"})

	tasksFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "place_tasks_finished_total",
		Help: "Total number of task attempts by resulting status",
	}, []string{"status"})

	taskDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "place_task_duration_seconds",
		Help:    "Time taken to execute one task attempt",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})

	tasksRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "place_tasks_recovered_total",
		Help: "Total number of stale processing tasks returned to the queue",
	})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "place_queue_tasks",
		Help: "Number of tasks in the queue by status",
	}, []string{"status"})

	workersByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "place_workers",
		Help: "Number of local workers by status",
	}, []string{"status"})

	sourceRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "place_source_requests_total",
		Help: "Total number of source requests by endpoint and outcome",
	}, []string{"endpoint", "outcome"})

	sourceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "place_source_request_duration_seconds",
		Help:    "Source request latency by endpoint",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	circuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "place_circuit_breaker_state",
		Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
	}, []string{"name"})

	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "place_recent_cache_lookups_total",
		Help: "Recently-seen cache lookups by result",
	}, []string{"result"})
)

// Recorder records service metrics. The zero value and a nil *Recorder are usable.
type Recorder struct{}

// NewRecorder creates a new metrics recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordChunk records one chunk and its item counts.
func (m *Recorder) RecordChunk(committed bool, duration time.Duration, items map[string]int) {
	outcome := "committed"
	if !committed {
		outcome = "aborted"
	}
	chunksTotal.WithLabelValues(outcome).Inc()
	chunkDuration.Observe(duration.Seconds())
	for result, n := range items {
		if n > 0 {
			chunkItems.WithLabelValues(result).Add(float64(n))
		}
	}
}

// RecordPassCompleted records the end of a scan pass.
func (m *Recorder) RecordPassCompleted() {
	passesTotal.Inc()
}

// RecordCheckpoint records the committed page for a job.
func (m *Recorder) RecordCheckpoint(job string, page int64) {
	checkpointPage.WithLabelValues(job).Set(float64(page))
}

// RecordBatch records a controller batch and the backoff that follows it.
func (m *Recorder) RecordBatch(success bool, backoff time.Duration) {
	if success {
		batchesTotal.WithLabelValues("success").Inc()
	} else {
		batchesTotal.WithLabelValues("failure").Inc()
	}
	controllerBackoff.Set(backoff.Seconds())
}

// SetControllerRunning records the controller state.
func (m *Recorder) SetControllerRunning(running bool) {
	if running {
		controllerRunning.Set(1)
	} else {
		controllerRunning.Set(0)
	}
}

// RecordEnqueue records a new task.
func (m *Recorder) RecordEnqueue(priority int) {
	if priority > 0 {
		tasksEnqueued.WithLabelValues("high").Inc()
	} else {
		tasksEnqueued.WithLabelValues("normal").Inc()
	}
}

// RecordTaskFinished records one task attempt ending in status.
func (m *Recorder) RecordTaskFinished(status string, duration time.Duration) {
	tasksFinished.WithLabelValues(status).Inc()
	taskDuration.Observe(duration.Seconds())
}

// RecordRecovered records tasks returned to the queue by the sweeper.
func (m *Recorder) RecordRecovered(n int) {
	tasksRecovered.Add(float64(n))
}

// RecordQueueDepth records the number of tasks in each status.
func (m *Recorder) RecordQueueDepth(byStatus map[string]int) {
	for status, n := range byStatus {
		queueDepth.WithLabelValues(status).Set(float64(n))
	}
}

// RecordWorkerStatus moves one worker between status gauges.
func (m *Recorder) RecordWorkerStatus(from, to string) {
	if from != "" {
		workersByStatus.WithLabelValues(from).Dec()
	}
	if to != "" {
		workersByStatus.WithLabelValues(to).Inc()
	}
}

// RecordSourceRequest records one request to an external source.
func (m *Recorder) RecordSourceRequest(endpoint, outcome string, duration time.Duration) {
	sourceRequests.WithLabelValues(endpoint, outcome).Inc()
	sourceDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordCircuitState records a circuit breaker state change.
func (m *Recorder) RecordCircuitState(name string, state int) {
	circuitState.WithLabelValues(name).Set(float64(state))
}

// RecordCacheLookup records a recently-seen cache lookup.
func (m *Recorder) RecordCacheLookup(hit bool) {
	if hit {
		cacheLookups.WithLabelValues("hit").Inc()
	} else {
		cacheLookups.WithLabelValues("miss").Inc()
	}
}
