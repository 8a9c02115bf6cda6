package metrics

import "time"

// Recorder collects back-office metrics.
// Outcome labels are error codes from model.Code, or "ok".
type Recorder interface {
	// Ledger
	RecordLedgerOperation(txType string, outcome string, duration time.Duration)
	RecordReconciliation(outcome string)

	// Approval gate
	RecordProposal(targetModel string, outcome string)
	RecordDecision(targetModel string, decision string, outcome string)

	// IPO and profit
	RecordIPOTransition(to string, outcome string)
	RecordDistribution(outcome string)

	// Storage
	RecordCircuitState(name string, state CircuitState)
}

// CircuitState represents the state of the storage circuit breaker
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// String returns the string representation of the circuit state
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Outcome returns the metric label for a result code
func Outcome(code string) string {
	if code == "" {
		return "ok"
	}
	return code
}

// NoOp discards every metric
type NoOp struct{}

func (NoOp) RecordLedgerOperation(txType string, outcome string, duration time.Duration) {}

func (NoOp) RecordReconciliation(outcome string) {}

func (NoOp) RecordProposal(targetModel string, outcome string) {}

func (NoOp) RecordDecision(targetModel string, decision string, outcome string) {}

func (NoOp) RecordIPOTransition(to string, outcome string) {}

func (NoOp) RecordDistribution(outcome string) {}

func (NoOp) RecordCircuitState(name string, state CircuitState) {}

// OrNoOp returns r, or NoOp when r is nil
func OrNoOp(r Recorder) Recorder {
	if r == nil {
		return NoOp{}
	}
	return r
}
