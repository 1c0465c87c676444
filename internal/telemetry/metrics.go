package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	TouchesEnqueued     = prometheus.NewCounter(prometheus.CounterOpts{Name: "touches_enqueued_total", Help: "Touches accepted into the queue"})
	TouchesSent         = prometheus.NewCounter(prometheus.CounterOpts{Name: "touches_sent_total", Help: "Touches delivered by a provider"})
	TouchesCanceled     = prometheus.NewCounter(prometheus.CounterOpts{Name: "touches_canceled_total", Help: "Touches resolved without a real send (dry run)"})
	TouchesFailed       = prometheus.NewCounter(prometheus.CounterOpts{Name: "touches_failed_total", Help: "Touches rejected by a provider"})
	TouchesClaimed      = prometheus.NewCounter(prometheus.CounterOpts{Name: "touches_claimed_total", Help: "Touches atomically claimed for dispatch"})
	UsageEventsRecorded = prometheus.NewCounter(prometheus.CounterOpts{Name: "usage_events_recorded_total", Help: "Ledger entries written"})
	StatementsFinalized = prometheus.NewCounter(prometheus.CounterOpts{Name: "billing_statements_finalized_total", Help: "Billing statements finalized"})
	DispatchInFlight    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "dispatch_inflight", Help: "Sender calls currently in flight"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			TouchesEnqueued,
			TouchesSent,
			TouchesCanceled,
			TouchesFailed,
			TouchesClaimed,
			UsageEventsRecorded,
			StatementsFinalized,
			DispatchInFlight,
		)
	})
	return promhttp.Handler()
}
