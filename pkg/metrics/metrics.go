package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Resolver metrics (C4)
	ResolverBuildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "firewheel_resolver_build_duration_seconds",
			Help:    "Time taken to resolve a dependency plan in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ResolverCyclesDetected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "firewheel_resolver_cycles_detected_total",
			Help: "Total number of dependency-cycle build failures",
		},
	)

	// Artifact store metrics (C1)
	ArtifactBroadcastDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "firewheel_artifact_broadcast_duration_seconds",
			Help:    "Time taken to broadcast an artifact to cluster peers in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"store"},
	)

	ArtifactsStoredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firewheel_artifacts_stored_total",
			Help: "Total number of artifacts stored by store name",
		},
		[]string{"store"},
	)

	ArtifactUploadFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firewheel_artifact_upload_failures_total",
			Help: "Total number of VM resource upload failures by store name",
		},
		[]string{"store"},
	)

	// Coordination service metrics (C2)
	VMMappingsNotReady = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "firewheel_vm_mappings_not_ready",
			Help: "Current count of VM mappings not yet in a ready state, by database",
		},
		[]string{"db"},
	)

	ExperimentStartTimeSetTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firewheel_experiment_start_time_set_total",
			Help: "Total number of times an experiment start time was stamped, by database",
		},
		[]string{"db"},
	)

	CoordinationRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firewheel_coordination_requests_total",
			Help: "Total number of coordination RPCs served by method and error category",
		},
		[]string{"method", "category"},
	)

	// Schedule updater metrics (C7)
	UpdaterPollDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "firewheel_updater_poll_duration_seconds",
			Help:    "Time taken for one schedule-updater emit pass in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	UpdaterEventsEmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firewheel_updater_events_emitted_total",
			Help: "Total number of schedule events emitted by type",
		},
		[]string{"event_type"},
	)

	// VM resource handler / supervisor metrics (C8)
	SupervisorDispatchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "firewheel_supervisor_dispatch_latency_seconds",
			Help:    "Time between an entry's scheduled start time and its actual dispatch, in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"vm_name"},
	)

	SupervisorEntriesFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firewheel_supervisor_entries_failed_total",
			Help: "Total number of schedule entries that failed execution, by VM",
		},
		[]string{"vm_name"},
	)

	SupervisorReboots = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firewheel_supervisor_reboots_total",
			Help: "Total number of guest reboots performed, by VM",
		},
		[]string{"vm_name"},
	)

	// Cluster executor metrics (C9)
	ClusterExecHostFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firewheel_clusterexec_host_failures_total",
			Help: "Total number of cluster hosts that returned a fatal result, by host group",
		},
		[]string{"host_group"},
	)

	ClusterExecResyncsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firewheel_clusterexec_resyncs_total",
			Help: "Total number of helper-cache resyncs triggered by a command-not-found exit code",
		},
		[]string{"host_group"},
	)
)

func init() {
	prometheus.MustRegister(
		ResolverBuildDuration,
		ResolverCyclesDetected,
		ArtifactBroadcastDuration,
		ArtifactsStoredTotal,
		ArtifactUploadFailuresTotal,
		VMMappingsNotReady,
		ExperimentStartTimeSetTotal,
		CoordinationRequestsTotal,
		UpdaterPollDuration,
		UpdaterEventsEmittedTotal,
		SupervisorDispatchLatency,
		SupervisorEntriesFailed,
		SupervisorReboots,
		ClusterExecHostFailures,
		ClusterExecResyncsTotal,
	)
}

// Handler returns the Prometheus HTTP handler, exposed alongside the
// coordination gRPC listener (SPEC_FULL.md §10).
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing an operation and recording its duration.
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
