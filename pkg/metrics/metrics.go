package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Queue lifecycle metrics
	QueuesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "broadcaster_queues_total",
			Help: "Total number of known queues by status",
		},
		[]string{"status"},
	)

	BroadcastersRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "broadcaster_broadcasters_running",
			Help: "Number of Broadcaster goroutines currently running",
		},
	)

	QueueResetTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcaster_queue_reset_total",
			Help: "Total number of queue resets by queue",
		},
		[]string{"queue"},
	)

	QueueBacklogSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "broadcaster_queue_backlog_size",
			Help: "Number of entries currently pending in a queue's sorted set",
		},
		[]string{"queue"},
	)

	QueueLastPublishAgeSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "broadcaster_queue_last_publish_age_seconds",
			Help: "Seconds since a queue's Broadcaster last published an entry",
		},
		[]string{"queue"},
	)

	// Entry lifecycle metrics
	EntriesPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcaster_entries_published_total",
			Help: "Total number of entries published by queue",
		},
		[]string{"queue"},
	)

	EntriesDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcaster_entries_dropped_total",
			Help: "Total number of entries dropped by queue and reason",
		},
		[]string{"queue", "reason"},
	)

	EntriesTrimmedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcaster_entries_trimmed_total",
			Help: "Total number of entries removed by trim sweeps, by queue",
		},
		[]string{"queue"},
	)

	EnqueueBatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcaster_enqueue_batches_total",
			Help: "Total number of Enqueue API calls by queue",
		},
		[]string{"queue"},
	)

	// Latency metrics
	PopToPublishLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "broadcaster_pop_to_publish_latency_seconds",
			Help:    "Time from popping an entry to publishing it, in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"queue"},
	)

	TrimSweepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "broadcaster_trim_sweep_duration_seconds",
			Help:    "Time taken for a Trimmer sweep, in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"queue"},
	)

	EnqueueDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "broadcaster_enqueue_duration_seconds",
			Help:    "Time taken to execute an Enqueue pipeline, in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	AdminLoopCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcaster_admin_loop_cycles_total",
			Help: "Total number of admin control loop iterations",
		},
	)

	StorePopErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcaster_store_pop_errors_total",
			Help: "Total number of store pop-min errors by queue",
		},
		[]string{"queue"},
	)

	PublishErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcaster_publish_errors_total",
			Help: "Total number of publish failures by queue",
		},
		[]string{"queue"},
	)
)

func init() {
	prometheus.MustRegister(QueuesTotal)
	prometheus.MustRegister(BroadcastersRunning)
	prometheus.MustRegister(QueueResetTotal)
	prometheus.MustRegister(QueueBacklogSize)
	prometheus.MustRegister(QueueLastPublishAgeSeconds)
	prometheus.MustRegister(EntriesPublishedTotal)
	prometheus.MustRegister(EntriesDroppedTotal)
	prometheus.MustRegister(EntriesTrimmedTotal)
	prometheus.MustRegister(EnqueueBatchesTotal)
	prometheus.MustRegister(PopToPublishLatency)
	prometheus.MustRegister(TrimSweepDuration)
	prometheus.MustRegister(EnqueueDuration)
	prometheus.MustRegister(AdminLoopCyclesTotal)
	prometheus.MustRegister(StorePopErrorsTotal)
	prometheus.MustRegister(PublishErrorsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
