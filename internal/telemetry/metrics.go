package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsCreated      = prometheus.NewCounter(prometheus.CounterOpts{Name: "recfleet_jobs_created_total", Help: "Jobs created by acquisition collaborators"})
	JobsAssigned     = prometheus.NewCounter(prometheus.CounterOpts{Name: "recfleet_jobs_assigned_total", Help: "Jobs bound to a worker by the dispatcher"})
	JobsSucceeded    = prometheus.NewCounter(prometheus.CounterOpts{Name: "recfleet_jobs_succeeded_total", Help: "Jobs that reached successful"})
	JobsFailed       = prometheus.NewCounter(prometheus.CounterOpts{Name: "recfleet_jobs_failed_total", Help: "Jobs that reached failed, stalls included"})
	JobsStalled      = prometheus.NewCounter(prometheus.CounterOpts{Name: "recfleet_jobs_stalled_total", Help: "Jobs reclaimed by the stall monitor"})
	AssignConflicts  = prometheus.NewCounter(prometheus.CounterOpts{Name: "recfleet_assign_conflicts_total", Help: "Assignments aborted because preconditions no longer held"})
	DispatchCycles   = prometheus.NewCounter(prometheus.CounterOpts{Name: "recfleet_dispatch_cycles_total", Help: "Dispatch cycles run"})
	PendingGauge     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "recfleet_jobs_pending", Help: "Pending jobs at last dispatch scan"})
	OnlineWorkers    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "recfleet_workers_online", Help: "Workers within heartbeat tolerance at last dispatch scan"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsCreated,
			JobsAssigned,
			JobsSucceeded,
			JobsFailed,
			JobsStalled,
			AssignConflicts,
			DispatchCycles,
			PendingGauge,
			OnlineWorkers,
		)
	})
	return promhttp.Handler()
}
