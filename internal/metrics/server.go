package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// JobRunsTotal counts completed job executions by job ID and outcome.
var JobRunsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "automation_job_runs_total",
		Help: "Total number of completed job executions",
	},
	[]string{"job_id", "outcome", "trigger"},
)

// JobRunDuration records job execution wall-clock time.
var JobRunDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "automation_job_run_duration_seconds",
		Help:    "Job execution duration in seconds",
		Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
	},
	[]string{"job_id"},
)

// AlertsTotal counts failure alerts by disposition (sent or suppressed).
var AlertsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "automation_alerts_total",
		Help: "Total number of failure alerts by disposition",
	},
	[]string{"disposition"},
)

// NewServer creates an HTTP server serving /metrics (Prometheus) and /healthz.
func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return &http.Server{
		Addr:    addr,
		Handler: mux,
	}
}
