// Package metrics exposes Prometheus instrumentation for the broadcaster:
// gauges for queue/broadcaster counts, counters for published/dropped/trimmed
// entries, and histograms for pop-to-publish latency and trim sweep duration.
// Handler serves them at /metrics; HealthHandler, ReadyHandler and
// LivenessHandler back /health, /ready and /live using the package-level
// HealthChecker that components register themselves with via
// RegisterComponent/UpdateComponent.
package metrics
