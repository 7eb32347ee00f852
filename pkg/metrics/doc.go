/*
Package metrics provides Prometheus metrics and health endpoints for nodeboot.

All metrics are registered on the default registry at package init and are
exposed by Handler. Metric names carry the nodeboot_ prefix:

	nodeboot_pd_resolutions_total{source}         where persistent data came from
	nodeboot_pd_fetch_failures_total{source}      absorbed fetch and parse failures
	nodeboot_pd_saves_total{target,status}        coordinator shutdown saves
	nodeboot_dispatch_total{role,outcome}         role dispatch attempts
	nodeboot_manager_up{role}                     running console manager
	nodeboot_monitor_ticks_total{role}            console monitor ticks
	nodeboot_log_sink_lines                       lines held by the log sink
	nodeboot_log_sink_evicted                     lines dropped by the log sink
	nodeboot_messages{level}                      queued user-facing messages
	nodeboot_advisories_total{kind}               bootstrap advisories
	nodeboot_bootstrap_phase_duration_seconds     per-phase bootstrap latency

Gauges that mirror in-memory state (sink and message counts) are refreshed by
a Collector polling its sources on an interval.

# Health

HealthHandler, ReadyHandler and LivenessHandler serve JSON for /health,
/ready and /live. Components report with RegisterComponent or
UpdateComponent; readiness requires every component named by
SetCriticalComponents to be registered and healthy.

# Usage

	timer := metrics.NewTimer()
	source, err := resolver.Resolve(ctx, cfg)
	timer.ObserveDurationVec(metrics.BootstrapDuration, "resolve")

	http.Handle("/metrics", metrics.Handler())
	http.HandleFunc("/health", metrics.HealthHandler())
*/
package metrics
