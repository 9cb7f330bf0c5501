// Package metrics provides Prometheus metrics for monitoring pagehook.
package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts total API requests by command and status.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagehook_requests_total",
			Help: "Total number of API requests processed",
		},
		[]string{"command", "status"},
	)

	// RequestDuration tracks API request duration by command.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pagehook_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		},
		[]string{"command"},
	)

	// InterceptDecisions counts dispatch decisions.
	InterceptDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagehook_intercept_decisions_total",
			Help: "Requests seen by the dispatcher by decision",
		},
		[]string{"decision"},
	)

	// FetchesTotal counts completed fetches by outcome.
	FetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagehook_fetches_total",
			Help: "Outbound fetches by outcome (ok or an error code name)",
		},
		[]string{"outcome"},
	)

	// FetchDuration tracks outbound fetch duration including the body read.
	FetchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pagehook_fetch_duration_seconds",
			Help:    "Outbound fetch duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		},
	)

	// InjectionsTotal counts HTML injections by result.
	InjectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagehook_injections_total",
			Help: "HTML documents passed through the injector by result",
		},
		[]string{"result"},
	)

	// CookieJarSize shows the number of stored cookies.
	CookieJarSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pagehook_cookie_jar_size",
			Help: "Cookies currently held by the jar",
		},
	)

	// ScriptsLoaded shows the number of configured user scripts.
	ScriptsLoaded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pagehook_scripts_loaded",
			Help: "User scripts currently configured",
		},
	)

	// BrowserPoolSize shows the configured pool size.
	BrowserPoolSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pagehook_browser_pool_size",
			Help: "Configured browser pool size",
		},
	)

	// BrowserPoolAvailable shows available browsers in the pool.
	BrowserPoolAvailable = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pagehook_browser_pool_available",
			Help: "Available browsers in pool",
		},
	)

	// BrowserPoolAcquired counts total browser acquisitions.
	BrowserPoolAcquired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pagehook_browser_pool_acquired_total",
			Help: "Total browser acquisitions from pool",
		},
	)

	// MemoryUsageBytes shows current memory usage.
	MemoryUsageBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pagehook_memory_usage_bytes",
			Help: "Current memory usage in bytes (alloc)",
		},
	)

	// MemorySysBytes shows system memory obtained.
	MemorySysBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pagehook_memory_sys_bytes",
			Help: "Total memory obtained from system",
		},
	)

	// GoroutineCount shows current goroutine count.
	GoroutineCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pagehook_goroutines",
			Help: "Current number of goroutines",
		},
	)

	// BuildInfo provides build information as labels.
	BuildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pagehook_build_info",
			Help: "Build information",
		},
		[]string{"version", "go_version"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		InterceptDecisions,
		FetchesTotal,
		FetchDuration,
		InjectionsTotal,
		CookieJarSize,
		ScriptsLoaded,
		BrowserPoolSize,
		BrowserPoolAvailable,
		BrowserPoolAcquired,
		MemoryUsageBytes,
		MemorySysBytes,
		GoroutineCount,
		BuildInfo,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, goVersion string) {
	BuildInfo.WithLabelValues(version, goVersion).Set(1)
}

// StartMemoryCollector starts a goroutine that periodically updates memory metrics.
func StartMemoryCollector(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			updateMemoryMetrics()
		case <-stopCh:
			return
		}
	}
}

func updateMemoryMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	MemoryUsageBytes.Set(float64(m.Alloc))
	MemorySysBytes.Set(float64(m.Sys))
	GoroutineCount.Set(float64(runtime.NumGoroutine()))
}

// RecordRequest records metrics for a completed API request.
func RecordRequest(command, status string, duration time.Duration) {
	RequestsTotal.WithLabelValues(command, status).Inc()
	RequestDuration.WithLabelValues(command).Observe(duration.Seconds())
}

// RecordDecision records a dispatcher decision ("intercept" or "passthrough").
func RecordDecision(decision string) {
	InterceptDecisions.WithLabelValues(decision).Inc()
}

// RecordFetch records a completed outbound fetch.
func RecordFetch(outcome string, duration time.Duration) {
	FetchesTotal.WithLabelValues(outcome).Inc()
	FetchDuration.Observe(duration.Seconds())
}

// RecordInjection records an injector run ("ok", "error" or "skipped").
func RecordInjection(result string) {
	InjectionsTotal.WithLabelValues(result).Inc()
}

// UpdateCookieJarSize sets the cookie jar gauge.
func UpdateCookieJarSize(n int) {
	CookieJarSize.Set(float64(n))
}

// UpdateScriptsLoaded sets the configured script gauge.
func UpdateScriptsLoaded(n int) {
	ScriptsLoaded.Set(float64(n))
}

// UpdatePoolMetrics updates browser pool metrics.
func UpdatePoolMetrics(size, available int) {
	BrowserPoolSize.Set(float64(size))
	BrowserPoolAvailable.Set(float64(available))
}
