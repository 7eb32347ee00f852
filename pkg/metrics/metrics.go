package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Persistent data metrics
	PDResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodeboot_pd_resolutions_total",
			Help: "Total number of persistent data resolutions by source",
		},
		[]string{"source"},
	)

	PDFetchFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodeboot_pd_fetch_failures_total",
			Help: "Total number of persistent data fetch or parse failures by source",
		},
		[]string{"source"},
	)

	PDSavesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodeboot_pd_saves_total",
			Help: "Total number of persistent data saves by target and status",
		},
		[]string{"target", "status"},
	)

	// Dispatch metrics
	DispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodeboot_dispatch_total",
			Help: "Total number of role dispatch attempts by role and outcome",
		},
		[]string{"role", "outcome"},
	)

	ManagerUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nodeboot_manager_up",
			Help: "Whether a console manager is running for the role (1 = running)",
		},
		[]string{"role"},
	)

	MonitorTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodeboot_monitor_ticks_total",
			Help: "Total number of console monitor ticks by role",
		},
		[]string{"role"},
	)

	// Log sink metrics
	LogSinkLines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nodeboot_log_sink_lines",
			Help: "Number of lines currently held by the log sink",
		},
	)

	LogSinkEvicted = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nodeboot_log_sink_evicted",
			Help: "Number of lines evicted from the log sink",
		},
	)

	MessagesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nodeboot_messages",
			Help: "Number of user-facing messages by level",
		},
		[]string{"level"},
	)

	AdvisoriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodeboot_advisories_total",
			Help: "Total number of advisories raised during bootstrap by kind",
		},
		[]string{"kind"},
	)

	BootstrapDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nodeboot_bootstrap_phase_duration_seconds",
			Help:    "Duration of bootstrap phases in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"phase"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(PDResolutionsTotal)
	prometheus.MustRegister(PDFetchFailuresTotal)
	prometheus.MustRegister(PDSavesTotal)
	prometheus.MustRegister(DispatchTotal)
	prometheus.MustRegister(ManagerUp)
	prometheus.MustRegister(MonitorTicksTotal)
	prometheus.MustRegister(LogSinkLines)
	prometheus.MustRegister(LogSinkEvicted)
	prometheus.MustRegister(MessagesTotal)
	prometheus.MustRegister(AdvisoriesTotal)
	prometheus.MustRegister(BootstrapDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
