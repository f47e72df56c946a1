package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "virex_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "virex_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Admission Metrics
	AdmissionRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "virex_admission_rejections_total",
			Help: "Requests refused before enqueue, by error kind",
		},
		[]string{"kind"},
	)

	// Queue Metrics
	TasksEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "virex_tasks_enqueued_total",
			Help: "Total number of tasks admitted to the queue",
		},
		[]string{"priority"},
	)

	TaskOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "virex_task_outcomes_total",
			Help: "Finished tasks by outcome kind",
		},
		[]string{"outcome"},
	)

	TasksInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "virex_tasks_in_progress",
			Help: "Number of tasks currently held by workers",
		},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "virex_queue_depth",
			Help: "Number of tasks waiting in queue",
		},
	)

	QueueWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "virex_queue_wait_seconds",
			Help:    "Time a task spent waiting for a worker",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	// Transcoder Metrics
	TranscodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "virex_transcode_duration_seconds",
			Help:    "Transcoder wall-clock duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~8.5 min
		},
		[]string{"mode", "quality"},
	)

	TranscodeFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "virex_transcode_failures_total",
			Help: "Transcoder runs that did not produce an output",
		},
		[]string{"reason"},
	)

	// Source Metrics
	SourceResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "virex_source_resolutions_total",
			Help: "URL resolutions by strategy and outcome",
		},
		[]string{"strategy", "outcome"},
	)

	NoWatermarkFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "virex_source_nowatermark_fallback_total",
			Help: "No-watermark API attempts that fell back to the generic downloader",
		},
		[]string{"reason"},
	)

	// Cache Metrics
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "virex_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "virex_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	CacheEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "virex_cache_evictions_total",
			Help: "Total number of evicted cache entries",
		},
		[]string{"cache_type"},
	)

	// Shield Metrics
	PassportsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "virex_passports_created_total",
			Help: "Total number of passports written",
		},
	)

	MatchesFoundTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "virex_matches_found_total",
			Help: "Similarity queries that found a match, by risk level",
		},
		[]string{"risk"},
	)

	TrapDetectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "virex_trap_detections_total",
			Help: "Trap detection requests by method",
		},
		[]string{"method"},
	)

	// Persistence Metrics
	PersistWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "virex_persist_writes_total",
			Help: "State file writes by file and status",
		},
		[]string{"file", "status"},
	)

	WorkspaceFilesSweptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "virex_workspace_files_swept_total",
			Help: "Stale temp files removed by the sweeper",
		},
	)

	// Error Metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "virex_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)

// RecordHTTPRequest records HTTP request metrics
func RecordHTTPRequest(method, endpoint, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordRejection records an admission refusal
func RecordRejection(kind string) {
	AdmissionRejectionsTotal.WithLabelValues(kind).Inc()
}

// RecordTaskEnqueued records an admitted task
func RecordTaskEnqueued(priority string) {
	TasksEnqueuedTotal.WithLabelValues(priority).Inc()
}

// RecordTaskOutcome records a finished task
func RecordTaskOutcome(outcome string) {
	TaskOutcomesTotal.WithLabelValues(outcome).Inc()
}

// UpdateQueueMetrics sets the queue gauges
func UpdateQueueMetrics(inProgress, queueDepth int) {
	TasksInProgress.Set(float64(inProgress))
	QueueDepth.Set(float64(queueDepth))
}

// RecordTranscode records a transcoder run
func RecordTranscode(mode, quality string, duration float64, failureReason string) {
	TranscodeDuration.WithLabelValues(mode, quality).Observe(duration)
	if failureReason != "" {
		TranscodeFailuresTotal.WithLabelValues(failureReason).Inc()
	}
}

// RecordSourceResolution records one URL resolution attempt
func RecordSourceResolution(strategy string, ok bool) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	SourceResolutionsTotal.WithLabelValues(strategy, outcome).Inc()
}

// RecordNoWatermarkFallback records a fall-through to the generic downloader
func RecordNoWatermarkFallback(reason string) {
	NoWatermarkFallbacksTotal.WithLabelValues(reason).Inc()
}

// RecordCacheAccess records cache hit or miss
func RecordCacheAccess(cacheType string, hit bool) {
	if hit {
		CacheHitsTotal.WithLabelValues(cacheType).Inc()
	} else {
		CacheMissesTotal.WithLabelValues(cacheType).Inc()
	}
}

// RecordCacheEviction records evicted entries
func RecordCacheEviction(cacheType string, n int) {
	CacheEvictionsTotal.WithLabelValues(cacheType).Add(float64(n))
}

// RecordPassport records a written passport
func RecordPassport() {
	PassportsCreatedTotal.Inc()
}

// RecordMatch records a similarity query that crossed the match threshold
func RecordMatch(risk string) {
	MatchesFoundTotal.WithLabelValues(risk).Inc()
}

// RecordTrapDetection records a detection request and the method that answered it
func RecordTrapDetection(method string) {
	if method == "" {
		method = "none"
	}
	TrapDetectionsTotal.WithLabelValues(method).Inc()
}

// RecordPersist records a state file write
func RecordPersist(file string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	PersistWritesTotal.WithLabelValues(file, status).Inc()
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
