package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

// Build stage names used as the "stage" label value.
const (
	StageFetch       = "fetch"
	StageContext     = "context"
	StageRegistry    = "registry"
	StageSubmit      = "submit"
	StageBuild       = "build"
	StageMaterialize = "materialize"
)

// Build-lifecycle metric collectors.
//
// These describe the manager's own orchestration state. The per-build Job,
// Service, and Trigger objects have their status visible through the usual
// kube-state metrics, so nothing here duplicates cluster state.
var (
	buildsStartedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lambda_manager_builds_started_total",
			Help: "Number of build attempts accepted from build-start events.",
		},
		[]string{"tenant"},
	)

	buildsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lambda_manager_builds_completed_total",
			Help: "Number of build Jobs observed reaching the Complete condition.",
		},
		[]string{"tenant"},
	)

	buildsAdoptedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lambda_manager_builds_adopted_total",
			Help: "Number of attempts reconstructed from completion events after a restart.",
		},
		[]string{"tenant"},
	)

	buildsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lambda_manager_builds_failed_total",
			Help: "Number of build attempts aborted, by pipeline stage.",
		},
		[]string{"tenant", "stage"},
	)

	buildsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lambda_manager_builds_in_flight",
			Help: "Number of build attempts between acceptance and a terminal state.",
		},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lambda_manager_build_info",
			Help: "Info-style metric for build attempt discovery and phase tracking. Always 1.",
		},
		[]string{"job", "tenant", "handler", "phase"},
	)

	stageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lambda_manager_build_stage_duration_seconds",
			Help:    "Latency of individual build pipeline stages in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	materializationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lambda_manager_materialization_total",
			Help: "Total number of Service/Trigger materializations after completed builds.",
		},
		[]string{"tenant", "result"},
	)

	materializationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lambda_manager_materialization_duration_seconds",
			Help:    "Latency of the full Service/Trigger apply sequence in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tenant"},
	)
)

func init() {
	metrics.Registry.MustRegister(
		buildsStartedTotal,
		buildsCompletedTotal,
		buildsAdoptedTotal,
		buildsFailedTotal,
		buildsInFlight,
		buildInfo,
		stageDurationSeconds,
		materializationTotal,
		materializationDuration,
	)
}

// Collectors returns all registered metric collectors. This is useful for
// testing that metrics are properly registered.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		buildsStartedTotal,
		buildsCompletedTotal,
		buildsAdoptedTotal,
		buildsFailedTotal,
		buildsInFlight,
		buildInfo,
		stageDurationSeconds,
		materializationTotal,
		materializationDuration,
	}
}
