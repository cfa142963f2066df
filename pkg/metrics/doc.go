/*
Package metrics provides Prometheus metrics collection, health checks, and
exposition for the VM resource scheduling and execution subsystem.

Metrics are registered at package init against the default Prometheus
registry and exposed via Handler(), mounted alongside the coordination
gRPC listener (SPEC_FULL.md §10). Health/readiness/liveness are served
separately via HealthHandler/ReadyHandler/LivenessHandler.

# Metric catalog

Resolver (C4):
  - firewheel_resolver_build_duration_seconds: time to build a plan
  - firewheel_resolver_cycles_detected_total: dependency-cycle build failures

Artifact store (C1):
  - firewheel_artifact_broadcast_duration_seconds{store}: peer broadcast time
  - firewheel_artifacts_stored_total{store}: successful add() calls
  - firewheel_artifact_upload_failures_total{store}: VM resource upload failures

Coordination service (C2):
  - firewheel_vm_mappings_not_ready{db}: current not-ready count
  - firewheel_experiment_start_time_set_total{db}: start-time elections won
  - firewheel_coordination_requests_total{method,category}: RPCs served by error category

Schedule updater (C7):
  - firewheel_updater_poll_duration_seconds: one emit() pass
  - firewheel_updater_events_emitted_total{event_type}: events classified and emitted

VM resource handler / supervisor (C8):
  - firewheel_supervisor_dispatch_latency_seconds{vm_name}: scheduled vs. actual dispatch time
  - firewheel_supervisor_entries_failed_total{vm_name}: failed schedule entries
  - firewheel_supervisor_reboots_total{vm_name}: guest reboots performed

Cluster executor (C9):
  - firewheel_clusterexec_host_failures_total{host_group}: fatal per-host results
  - firewheel_clusterexec_resyncs_total{host_group}: helper-cache resyncs triggered

# Usage

	timer := metrics.NewTimer()
	plan, err := resolver.New(registry, attributeDefaults).Resolve(seeds)
	timer.ObserveDuration(metrics.ResolverBuildDuration)
	if errors.Is(err, fwerrors.ErrDependencyCycle) {
		metrics.ResolverCyclesDetected.Inc()
	}

	http.Handle("/metrics", metrics.Handler())
	http.Handle("/health", metrics.HealthHandler())
	http.Handle("/ready", metrics.ReadyHandler())
	http.Handle("/live", metrics.LivenessHandler())

# Collector

Collector polls a CoordinationSnapshot (the running Coordination
Service) on a fixed interval and updates firewheel_vm_mappings_not_ready
for each tracked database, the same periodic-sampling pattern as the
teacher's manager-polling collector, generalized from node/service/task
counts to VM readiness.
*/
package metrics
