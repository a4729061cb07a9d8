package prometheus

import (
	"time"
)

// Histogram buckets tuned to the two workloads: event processing is
// request-scale, sync runs are batch-scale.
var (
	eventDurationBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
	syncDurationBuckets  = []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300, 600}
)

// SyncMetrics is the concrete metric set for the event queue and the batch
// synchronizer.  It satisfies both events.Metrics and batchsync.Metrics.
type SyncMetrics struct {
	eventsEnqueued   CounterVec
	eventsProcessed  CounterVec
	eventRetries     CounterVec
	eventDuration    HistogramVec
	queueDepth       GaugeVec
	cacheSize        GaugeVec
	syncRuns         CounterVec
	syncRunDuration  HistogramVec
	syncRunPasses    HistogramVec
	syncKeys         CounterVec
	syncConcurrency  GaugeVec
	rateLimitSignals CounterVec
}

// NewSyncMetrics registers the application metric set on the collector.
func NewSyncMetrics(collector Collector) *SyncMetrics {
	return &SyncMetrics{
		eventsEnqueued: collector.RegisterCounter(
			"events_enqueued_total", "Enqueue attempts by result", "result"),
		eventsProcessed: collector.RegisterCounter(
			"events_processed_total", "Consumed events by final status", "status"),
		eventRetries: collector.RegisterCounter(
			"event_retries_total", "Event processing retries"),
		eventDuration: collector.RegisterHistogram(
			"event_process_duration_seconds", "Per-attempt processing duration",
			eventDurationBuckets, "status"),
		queueDepth: collector.RegisterGauge(
			"queue_depth", "Events waiting in the ordered queue"),
		cacheSize: collector.RegisterGauge(
			"idempotency_cache_size", "Live idempotency cache entries"),
		syncRuns: collector.RegisterCounter(
			"sync_runs_total", "Batch sync runs by stage", "stage"),
		syncRunDuration: collector.RegisterHistogram(
			"sync_run_duration_seconds", "End-to-end batch sync run duration",
			syncDurationBuckets),
		syncRunPasses: collector.RegisterHistogram(
			"sync_run_passes", "Passes needed per batch sync run",
			[]float64{1, 2, 3, 4, 5}),
		syncKeys: collector.RegisterCounter(
			"sync_keys_total", "Per-key sync outcomes", "action"),
		syncConcurrency: collector.RegisterGauge(
			"sync_concurrency", "Live batch sync chunk concurrency"),
		rateLimitSignals: collector.RegisterCounter(
			"sync_rate_limit_signals_total", "Rate-limit signals observed during sync"),
	}
}

// ───────────────────────── events.Metrics ─────────────────────────

func (m *SyncMetrics) EventEnqueued(result string) {
	m.eventsEnqueued.WithLabelValues(result).Inc()
}

func (m *SyncMetrics) EventProcessed(status string, duration time.Duration) {
	m.eventsProcessed.WithLabelValues(status).Inc()
	m.eventDuration.WithLabelValues(status).Observe(duration.Seconds())
}

func (m *SyncMetrics) EventRetried() {
	m.eventRetries.WithLabelValues().Inc()
}

func (m *SyncMetrics) SetQueueDepth(n int) {
	m.queueDepth.WithLabelValues().Set(float64(n))
}

func (m *SyncMetrics) SetCacheSize(n int) {
	m.cacheSize.WithLabelValues().Set(float64(n))
}

// ──────────────────────── batchsync.Metrics ────────────────────────

func (m *SyncMetrics) SyncRunStarted() {
	m.syncRuns.WithLabelValues("started").Inc()
}

func (m *SyncMetrics) SyncRunCompleted(duration time.Duration, passes int) {
	m.syncRuns.WithLabelValues("completed").Inc()
	m.syncRunDuration.WithLabelValues().Observe(duration.Seconds())
	m.syncRunPasses.WithLabelValues().Observe(float64(passes))
}

func (m *SyncMetrics) SyncKeyResolved(action string) {
	m.syncKeys.WithLabelValues(action).Inc()
}

func (m *SyncMetrics) SetSyncConcurrency(n int) {
	m.syncConcurrency.WithLabelValues().Set(float64(n))
}

func (m *SyncMetrics) SyncRateLimitSignal() {
	m.rateLimitSignals.WithLabelValues().Inc()
}
