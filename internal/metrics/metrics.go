package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	syncCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_sync_cycles_total",
		Help: "Sync cycle invocations by outcome",
	}, []string{"result"})

	syncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "portal_sync_cycle_duration_seconds",
		Help:    "Duration of sync cycles that ran",
		Buckets: prometheus.DefBuckets,
	})

	syncTenantErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_sync_tenant_errors_total",
		Help: "Per-tenant sync failures by kind",
	}, []string{"kind"})

	syncJobsUpserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portal_sync_jobs_upserted_total",
		Help: "Jobs written to the cache by the sync",
	})

	erpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portal_erp_request_duration_seconds",
		Help:    "Duration of ERP API calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "status"})

	mutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_job_mutations_total",
		Help: "Supplier job mutations by operation and result",
	}, []string{"operation", "result"})

	lastSyncTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "portal_sync_last_success_timestamp_seconds",
		Help: "Unix time of the last completed sync cycle start",
	})
)

// ObserveSyncCycle records a sync cycle outcome such as "completed", "not_due" or "fatal".
func ObserveSyncCycle(result string, duration time.Duration) {
	syncCycles.WithLabelValues(result).Inc()
	if duration > 0 {
		syncDuration.Observe(duration.Seconds())
	}
}

// ObserveTenantError counts a per-tenant failure.
func ObserveTenantError(kind string) {
	syncTenantErrors.WithLabelValues(kind).Inc()
}

// AddJobsUpserted adds to the upserted jobs counter.
func AddJobsUpserted(n int) {
	if n <= 0 {
		return
	}
	syncJobsUpserted.Add(float64(n))
}

// SetLastSync records the start time of the last completed cycle.
func SetLastSync(ts time.Time) {
	lastSyncTimestamp.Set(float64(ts.Unix()))
}

// ObserveERPRequest records the duration of an ERP call; status 0 means transport failure.
func ObserveERPRequest(operation string, status int, duration time.Duration) {
	erpRequestDuration.WithLabelValues(operation, strconv.Itoa(status)).Observe(duration.Seconds())
}

// ObserveMutation counts a supplier mutation attempt.
func ObserveMutation(operation, result string) {
	mutations.WithLabelValues(operation, result).Inc()
}
