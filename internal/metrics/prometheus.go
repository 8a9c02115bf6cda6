package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements Recorder for Prometheus
type PrometheusCollector struct {
	ledgerOps       *prometheus.CounterVec
	ledgerLatency   *prometheus.HistogramVec
	reconciliations *prometheus.CounterVec
	proposals       *prometheus.CounterVec
	decisions       *prometheus.CounterVec
	ipoTransitions  *prometheus.CounterVec
	distributions   *prometheus.CounterVec
	circuitState    *prometheus.GaugeVec
}

var _ Recorder = (*PrometheusCollector)(nil)

// NewPrometheusCollector creates a collector whose metrics live under namespace
func NewPrometheusCollector(namespace string) *PrometheusCollector {
	return &PrometheusCollector{
		ledgerOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_operations_total",
				Help:      "Ledger operations by transaction type and outcome",
			},
			[]string{"type", "outcome"},
		),
		ledgerLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ledger_operation_duration_seconds",
				Help:      "Duration of ledger units of work, lock wait included",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"type"},
		),
		reconciliations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_reconciliations_total",
				Help:      "Journal reconciliations by outcome",
			},
			[]string{"outcome"},
		),
		proposals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "approval_proposals_total",
				Help:      "Change proposals by target model and outcome (direct, pending or error code)",
			},
			[]string{"target_model", "outcome"},
		),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "approval_decisions_total",
				Help:      "Checker decisions by target model, decision and outcome",
			},
			[]string{"target_model", "decision", "outcome"},
		),
		ipoTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ipo_transitions_total",
				Help:      "IPO application transitions by target status and outcome",
			},
			[]string{"to", "outcome"},
		),
		distributions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "profit_distributions_total",
				Help:      "Profit distributions by outcome",
			},
			[]string{"outcome"},
		),
		circuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_state",
				Help:      "Storage circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"name"},
		),
	}
}

// Register registers all metrics with the given registry
func (pc *PrometheusCollector) Register(registry prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		pc.ledgerOps,
		pc.ledgerLatency,
		pc.reconciliations,
		pc.proposals,
		pc.decisions,
		pc.ipoTransitions,
		pc.distributions,
		pc.circuitState,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (pc *PrometheusCollector) RecordLedgerOperation(txType string, outcome string, duration time.Duration) {
	pc.ledgerOps.WithLabelValues(txType, outcome).Inc()
	pc.ledgerLatency.WithLabelValues(txType).Observe(duration.Seconds())
}

func (pc *PrometheusCollector) RecordReconciliation(outcome string) {
	pc.reconciliations.WithLabelValues(outcome).Inc()
}

func (pc *PrometheusCollector) RecordProposal(targetModel string, outcome string) {
	pc.proposals.WithLabelValues(targetModel, outcome).Inc()
}

func (pc *PrometheusCollector) RecordDecision(targetModel string, decision string, outcome string) {
	pc.decisions.WithLabelValues(targetModel, decision, outcome).Inc()
}

func (pc *PrometheusCollector) RecordIPOTransition(to string, outcome string) {
	pc.ipoTransitions.WithLabelValues(to, outcome).Inc()
}

func (pc *PrometheusCollector) RecordDistribution(outcome string) {
	pc.distributions.WithLabelValues(outcome).Inc()
}

func (pc *PrometheusCollector) RecordCircuitState(name string, state CircuitState) {
	pc.circuitState.WithLabelValues(name).Set(float64(state))
}
