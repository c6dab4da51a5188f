// Package metrics exposes the Prometheus collectors the engine's
// control surface reads from (spec.md §6's "status snapshot" operation)
// and that internal/db's Ledger notifies on every committed event.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cqtfi/arbengine/pkg/domain"
)

// Registry holds every collector the engine registers at startup.
type Registry struct {
	OpportunitiesDetected  prometheus.Counter
	OpportunitiesAdmitted  prometheus.Counter
	OpportunitiesRejected  *prometheus.CounterVec // by riskfilter.RejectReason
	ExecutionsByOutcome    *prometheus.CounterVec // by domain.ExecutionOutcome
	LedgerEventsTotal      *prometheus.CounterVec // by domain.LedgerEventKind
	BridgeTransferDuration prometheus.Histogram
	ReserveBalance         *prometheus.GaugeVec // by pool ID
	NetworkDegraded        *prometheus.GaugeVec // by network ID, 0/1
}

// New registers every collector against reg and returns the Registry.
func New(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)

	return &Registry{
		OpportunitiesDetected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "arbengine", Subsystem: "detector", Name: "opportunities_detected_total",
			Help: "Opportunities emitted by the detector.",
		}),
		OpportunitiesAdmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "arbengine", Subsystem: "riskfilter", Name: "opportunities_admitted_total",
			Help: "Opportunities that passed every risk-filter predicate.",
		}),
		OpportunitiesRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arbengine", Subsystem: "riskfilter", Name: "opportunities_rejected_total",
			Help: "Opportunities rejected by the risk filter, by reason.",
		}, []string{"reason"}),
		ExecutionsByOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arbengine", Subsystem: "executor", Name: "executions_total",
			Help: "Executions reaching a terminal state, by outcome.",
		}, []string{"outcome"}),
		LedgerEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arbengine", Subsystem: "ledger", Name: "events_total",
			Help: "Ledger events appended, by kind.",
		}, []string{"kind"}),
		BridgeTransferDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "arbengine", Subsystem: "bridge", Name: "transfer_duration_seconds",
			Help:    "Time from a bridge transfer's begin to its terminal status.",
			Buckets: prometheus.ExponentialBuckets(5, 2, 10),
		}),
		ReserveBalance: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "arbengine", Subsystem: "reserve", Name: "balance",
			Help: "Current reserve balance per pool, in base units.",
		}, []string{"pool_id"}),
		NetworkDegraded: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "arbengine", Subsystem: "chaingateway", Name: "degraded",
			Help: "1 if the network's ChainGateway is currently degraded, else 0.",
		}, []string{"network_id"}),
	}
}

// ObserveLedgerEvent implements db.MetricsSink without importing
// internal/db (Go's structural interfaces let the Ledger accept this
// directly).
func (r *Registry) ObserveLedgerEvent(kind domain.LedgerEventKind) {
	r.LedgerEventsTotal.WithLabelValues(string(kind)).Inc()
}

// RecordOpportunityDetected increments the detector counter.
func (r *Registry) RecordOpportunityDetected() { r.OpportunitiesDetected.Inc() }

// RecordOpportunityAdmitted increments the risk-filter admit counter.
func (r *Registry) RecordOpportunityAdmitted() { r.OpportunitiesAdmitted.Inc() }

// RecordOpportunityRejected increments the risk-filter reject counter for reason.
func (r *Registry) RecordOpportunityRejected(reason string) {
	r.OpportunitiesRejected.WithLabelValues(reason).Inc()
}

// RecordExecutionOutcome increments the executor outcome counter.
func (r *Registry) RecordExecutionOutcome(outcome domain.ExecutionOutcome) {
	r.ExecutionsByOutcome.WithLabelValues(string(outcome)).Inc()
}

// RecordBridgeTransferDuration observes a completed transfer's total duration.
func (r *Registry) RecordBridgeTransferDuration(d time.Duration) {
	r.BridgeTransferDuration.Observe(d.Seconds())
}

// SetReserveBalance publishes a pool's current reserve balance.
// balance is float64 since Prometheus gauges don't carry big.Int
// precision; the Ledger remains the source of truth for exact amounts.
func (r *Registry) SetReserveBalance(poolID string, balance float64) {
	r.ReserveBalance.WithLabelValues(poolID).Set(balance)
}

// SetNetworkDegraded publishes a network's current ChainGateway health.
func (r *Registry) SetNetworkDegraded(networkID string, degraded bool) {
	value := 0.0
	if degraded {
		value = 1.0
	}
	r.NetworkDegraded.WithLabelValues(networkID).Set(value)
}
