package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/ErlanBelekov/backup-agent/internal/health"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Dispatcher metrics

	SchedulesRegistered = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "backup_agent",
		Name:      "schedules_registered",
		Help:      "Number of schedules known to the agent, including excluded and running ones.",
	})

	SchedulesRunnable = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "backup_agent",
		Name:      "schedules_runnable",
		Help:      "Number of schedules waiting for their next run.",
	})

	NextRunTimestamp = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "backup_agent",
		Name:      "next_run_timestamp_seconds",
		Help:      "Unix timestamp of the earliest pending backup.",
	})

	DispatchLag = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "backup_agent",
		Name:      "dispatch_lag_seconds",
		Help:      "Delay between a schedule becoming due and its backup starting.",
		Buckets:   []float64{.5, 1, 2.5, 5, 10, 30, 60, 300, 900, 3600},
	})

	// Worker metrics

	BackupDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "backup_agent",
		Name:      "backup_duration_seconds",
		Help:      "Duration of one backup attempt.",
		Buckets:   []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600, 7200},
	}, []string{"kind", "status"})

	BackupsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "backup_agent",
		Name:      "backups_in_flight",
		Help:      "Number of backups currently executing.",
	})

	BackupsCompletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "backup_agent",
		Name:      "backups_completed_total",
		Help:      "Total backup attempts finished, by outcome.",
	}, []string{"outcome"})

	// Sync metrics

	SyncTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "backup_agent",
		Name:      "sync_total",
		Help:      "Schedule definition syncs, by result.",
	}, []string{"result"})

	SyncChangesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "backup_agent",
		Name:      "sync_changes_total",
		Help:      "Schedule changes applied by sync, by action.",
	}, []string{"action"})

	RulesRejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "backup_agent",
		Name:      "rules_rejected_total",
		Help:      "Schedule definitions rejected as invalid.",
	})

	// Reaper metrics

	RunsPrunedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "backup_agent",
		Name:      "runs_pruned_total",
		Help:      "Run history records removed by the reaper.",
	})

	// Agent lifecycle

	AgentStartTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "backup_agent",
		Name:      "start_time_seconds",
		Help:      "Unix timestamp when the dispatcher started.",
	})

	// HTTP metrics

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "backup_agent",
		Name:      "http_request_duration_seconds",
		Help:      "Admin API request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "backup_agent",
		Name:      "http_requests_total",
		Help:      "Total admin API requests.",
	}, []string{"method", "path", "status"})
)

func Register() {
	prometheus.MustRegister(
		SchedulesRegistered,
		SchedulesRunnable,
		NextRunTimestamp,
		DispatchLag,
		BackupDuration,
		BackupsInFlight,
		BackupsCompletedTotal,
		SyncTotal,
		SyncChangesTotal,
		RulesRejectedTotal,
		RunsPrunedTotal,
		AgentStartTime,
		HTTPRequestDuration,
		HTTPRequestsTotal,
	)
}

// NewServer serves /metrics plus liveness and readiness probes.
func NewServer(addr string, checker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Liveness(r.Context()))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Readiness(r.Context()))
	})
	return &http.Server{Addr: addr, Handler: mux}
}

func writeHealth(w http.ResponseWriter, result health.HealthResult) {
	status := http.StatusOK
	if result.Status != "up" {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(result)
}
