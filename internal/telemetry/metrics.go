// Package telemetry holds internal-only Prometheus collectors: counters,
// gauges and a histogram, bundled by NewRegistry. No other package in
// this module updates or reads them, and they are not included in the
// Health Surface's report (never exposed on a separate /metrics route; a
// standalone exporter endpoint is deliberately not wired up).
// Grounded on the pack's
// prometheus/client_golang usage (jordigilh-kubernaut, cuemby-warren),
// which both register collectors this same way — NewCounterVec/GaugeVec
// at package init, .WithLabelValues(...) at the call site.
package telemetry

import "github.com/prometheus/client_golang/prometheus"

var (
	BatchesClaimed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "queueworker_batches_claimed_total",
		Help: "Number of claim_batch calls that returned at least one record.",
	}, []string{"flow"})

	RecordsClaimed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "queueworker_records_claimed_total",
		Help: "Total records returned by claim_batch.",
	}, []string{"flow"})

	RecordsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "queueworker_records_completed_total",
		Help: "Total records marked completed.",
	}, []string{"flow"})

	RecordsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "queueworker_records_failed_total",
		Help: "Total records marked failed.",
	}, []string{"flow"})

	OrphansRecovered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "queueworker_orphans_recovered_total",
		Help: "Total records reset by orphan recovery.",
	}, []string{"flow"})

	BatchDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "queueworker_batch_duration_seconds",
		Help:    "Wall-clock duration of one claim+process batch.",
		Buckets: prometheus.DefBuckets,
	}, []string{"flow"})

	StoreProbeRoundTripMS = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "queueworker_store_probe_round_trip_ms",
		Help: "Most recent store probe round-trip time in milliseconds.",
	}, []string{"store"})

	RestartCount = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "queueworker_restart_count",
		Help: "Restarts this process lifetime, per the Lifecycle Manager's restart policy.",
	}, []string{"flow"})
)

// NewRegistry bundles every collector into one prometheus.Registry so
// they are registered exactly once.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		BatchesClaimed, RecordsClaimed, RecordsCompleted, RecordsFailed,
		OrphansRecovered, BatchDurationSeconds, StoreProbeRoundTripMS, RestartCount,
	)
	return reg
}
