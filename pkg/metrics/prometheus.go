package metrics

import (
	"context"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Run outcome labels besides the error kinds of the engine.
const (
	OutcomeSuccess = "success"
)

const nanosecondsPerMillisecond = 1e6

// Manager manages all Prometheus metrics for the apportionment service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      map[string]string
	registry         prometheus.Registerer

	// Engine metrics
	runs             *prometheus.CounterVec
	runDuration      prometheus.Histogram
	iterations       prometheus.Histogram
	divisorSearches  *prometheus.CounterVec
	widenings        prometheus.Counter
	refinements      prometheus.Counter
	upperUnbalanced  prometheus.Counter
	syncCoalesced    prometheus.Counter
	lastSeatsAwarded prometheus.Gauge

	// Job metrics
	jobsSubmitted prometheus.Counter
	jobsDuplicate prometheus.Counter
	jobsRejected  prometheus.Counter
	jobsStored    prometheus.Gauge
	storeLatency  *prometheus.HistogramVec

	// Queue metrics
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueued      prometheus.Counter
	queueDequeued      prometheus.Counter
	queueEnqueueErrors prometheus.Counter
	queueWait          prometheus.Histogram

	// Worker metrics
	workerCount             prometheus.Gauge
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Error metrics
	errorsByComponent *prometheus.CounterVec

	// System metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "biprop",
		subsystem:        "apportion",
		histogramBuckets: prometheus.DefBuckets,
		constLabels:      map[string]string{},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		Buckets: buckets,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		Buckets: m.histogramBuckets,
	}, labels)
}

func (m *Manager) initializeMetrics() {
	m.runs = m.counterVec("runs_total", "Apportionment runs by outcome", "outcome")
	m.runDuration = m.histogram("run_duration_milliseconds", "Wall time of one engine run", m.histogramBuckets)
	m.iterations = m.histogram("iterations", "Alternating rounds until both margins held",
		[]float64{0, 1, 2, 3, 5, 8, 13, 21, 50, 100, 250, 1000, 10_000, 100_000})
	m.divisorSearches = m.counterVec("divisor_searches_total", "Successful divisor searches by axis", "axis")
	m.widenings = m.counter("search_widenings_total", "Search ranges doubled before a hit")
	m.refinements = m.counter("party_scan_refinements_total", "Party scans repeated with a finer step")
	m.upperUnbalanced = m.counter("upper_unbalanced_total", "Upper apportionments whose seats missed the total")
	m.syncCoalesced = m.counter("sync_coalesced_total", "Synchronous requests served by an identical in-flight run")
	m.lastSeatsAwarded = m.gauge("last_seats_awarded", "Seats awarded by the most recent successful run")

	m.jobsSubmitted = m.counter("jobs_submitted_total", "Jobs accepted for processing")
	m.jobsDuplicate = m.counter("jobs_duplicate_total", "Submissions answered with an existing job")
	m.jobsRejected = m.counter("jobs_rejected_total", "Submissions rejected because the queue was full")
	m.jobsStored = m.gauge("jobs_stored", "Jobs currently held by the job store")
	m.storeLatency = m.histogramVec("store_latency_milliseconds", "Job store operation latency", "op")

	m.queueSize = m.gauge("queue_size", "Current size of the job queue")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum queue capacity")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Queue utilization ratio (size / capacity)")
	m.queueEnqueued = m.counter("queue_enqueue_total", "Jobs enqueued")
	m.queueDequeued = m.counter("queue_dequeue_total", "Jobs dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Failed enqueue attempts")
	m.queueWait = m.histogram("queue_wait_milliseconds", "Time a job spent queued", m.histogramBuckets)

	m.workerCount = m.gauge("worker_count", "Configured number of workers")
	m.workerActiveCount = m.gauge("worker_active_count", "Workers currently running a job")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds",
		"Time a worker spent on one job", m.histogramBuckets)
	m.workerErrors = m.counter("worker_errors_total", "Jobs that ended in an error")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint and method",
		"endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration",
		"endpoint", "method", "status_code")

	m.errorsByComponent = m.counterVec("errors_by_component_total", "Errors by component and kind",
		"component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "Heap bytes allocated")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "Average GC pause time",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// RunSample is what one engine run reports.
type RunSample struct {
	Outcome          string
	Duration         time.Duration
	Iterations       int
	DistrictSearches int
	PartySearches    int
	Widenings        int
	Refinements      int
	Seats            int
}

// RecordRun records one engine run. Search counters are only meaningful for
// successful runs and are skipped otherwise.
func (m *Manager) RecordRun(s RunSample) {
	m.runs.WithLabelValues(s.Outcome).Inc()
	m.runDuration.Observe(float64(s.Duration.Nanoseconds()) / nanosecondsPerMillisecond)
	if s.Outcome != OutcomeSuccess {
		return
	}
	m.iterations.Observe(float64(s.Iterations))
	m.divisorSearches.WithLabelValues("district").Add(float64(s.DistrictSearches))
	m.divisorSearches.WithLabelValues("party").Add(float64(s.PartySearches))
	m.widenings.Add(float64(s.Widenings))
	m.refinements.Add(float64(s.Refinements))
	m.lastSeatsAwarded.Set(float64(s.Seats))
}

// RecordRun records one engine run on the global manager.
func RecordRun(s RunSample) { globalManager.RecordRun(s) }

// RecordUpperUnbalanced counts an upper apportionment that missed the total.
func RecordUpperUnbalanced() { globalManager.upperUnbalanced.Inc() }

// RecordSyncCoalesced counts a synchronous request that shared a run.
func RecordSyncCoalesced() { globalManager.syncCoalesced.Inc() }

// RecordJobSubmitted counts an accepted job.
func RecordJobSubmitted() { globalManager.jobsSubmitted.Inc() }

// RecordJobDuplicate counts a submission answered by an existing job.
func RecordJobDuplicate() { globalManager.jobsDuplicate.Inc() }

// RecordJobRejected counts a submission turned away by backpressure.
func RecordJobRejected() { globalManager.jobsRejected.Inc() }

// UpdateJobsStored sets the number of stored jobs.
func UpdateJobsStored(count int) { globalManager.jobsStored.Set(float64(count)) }

// RecordStoreLatency records a job store operation.
func RecordStoreLatency(op string, d time.Duration) {
	globalManager.storeLatency.WithLabelValues(op).Observe(float64(d.Nanoseconds()) / nanosecondsPerMillisecond)
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) { globalManager.queueUtilization.Set(utilization) }

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() { globalManager.queueEnqueued.Inc() }

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() { globalManager.queueDequeued.Inc() }

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() { globalManager.queueEnqueueErrors.Inc() }

// RecordQueueWait records how long a job waited in the queue.
func RecordQueueWait(d time.Duration) {
	globalManager.queueWait.Observe(float64(d.Nanoseconds()) / nanosecondsPerMillisecond)
}

// UpdateWorkerCount sets the configured worker count.
func UpdateWorkerCount(count int) { globalManager.workerCount.Set(float64(count)) }

// UpdateWorkerActiveCount sets the number of busy workers.
func UpdateWorkerActiveCount(count int) { globalManager.workerActiveCount.Set(float64(count)) }

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(d time.Duration) {
	globalManager.workerProcessingLatency.Observe(float64(d.Nanoseconds()) / nanosecondsPerMillisecond)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() { globalManager.workerErrors.Inc() }

// RecordHTTPRequest records an HTTP request and its duration in milliseconds.
func RecordHTTPRequest(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// RecordErrorByComponent records an error with component and kind labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// CollectSystem samples memory, goroutine and GC figures once.
func CollectSystem() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	globalManager.systemMemoryUsage.Set(float64(ms.Alloc))
	globalManager.systemGoroutineCount.Set(float64(runtime.NumGoroutine()))
	if ms.NumGC > 0 {
		globalManager.systemGCPauseTime.Observe(float64(ms.PauseTotalNs) / float64(ms.NumGC) / nanosecondsPerMillisecond)
	}
}

// RunSystemCollector calls CollectSystem every interval until ctx is done.
func RunSystemCollector(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			CollectSystem()
		}
	}
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
