// Package metrics exposes Prometheus metrics for deployment runs.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"atomdeploy/internal/deployment"
)

var (
	// Run metrics
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atomdeploy_runs_total",
			Help: "Total number of runs by target and status",
		},
		[]string{"target", "status"},
	)

	RunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "atomdeploy_run_duration_seconds",
			Help:    "Run duration in seconds",
			Buckets: []float64{15, 30, 60, 120, 180, 300, 600, 1200},
		},
		[]string{"target"},
	)

	RollbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atomdeploy_rollbacks_total",
			Help: "Total number of rollbacks by target and result",
		},
		[]string{"target", "result"},
	)

	HealthProbeAttempts = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "atomdeploy_health_probe_attempts",
			Help:    "Health probe attempts used per run",
			Buckets: []float64{1, 2, 3, 4, 5, 10},
		},
		[]string{"target"},
	)

	// Webhook metrics
	WebhooksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atomdeploy_webhooks_total",
			Help: "Total number of webhook deliveries by target and outcome",
		},
		[]string{"target", "outcome"},
	)

	RunsInProgress = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "atomdeploy_runs_in_progress",
			Help: "Number of runs currently executing",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(RunsTotal)
	prometheus.MustRegister(RunDuration)
	prometheus.MustRegister(RollbacksTotal)
	prometheus.MustRegister(HealthProbeAttempts)
	prometheus.MustRegister(WebhooksTotal)
	prometheus.MustRegister(RunsInProgress)
}

// ObserveRun records a finished run.
func ObserveRun(result *deployment.RunResult) {
	RunsTotal.WithLabelValues(result.Target, result.Status()).Inc()
	RunDuration.WithLabelValues(result.Target).Observe(result.Duration().Seconds())

	if result.RolledBack {
		outcome := "ok"
		if result.RollbackErr != nil {
			outcome = "failed"
		}
		RollbacksTotal.WithLabelValues(result.Target, outcome).Inc()
	}

	for _, step := range result.Steps {
		if step.Step == deployment.StepHealthCheck && step.Attempts > 0 {
			HealthProbeAttempts.WithLabelValues(result.Target).Observe(float64(step.Attempts))
		}
	}
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
