package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestPrometheusCollectorRegisterAndRecord(t *testing.T) {
	registry := prometheus.NewRegistry()
	pc := NewPrometheusCollector("backoffice")
	if err := pc.Register(registry); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	pc.RecordLedgerOperation("deposit", "ok", 3*time.Millisecond)
	pc.RecordLedgerOperation("withdrawal", "InsufficientFunds", time.Millisecond)
	pc.RecordProposal("Account", "pending")
	pc.RecordDecision("Account", "approve", "ok")
	pc.RecordIPOTransition("allotted", "ok")
	pc.RecordDistribution("ok")
	pc.RecordReconciliation("ok")
	pc.RecordCircuitState("postgres", CircuitOpen)

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	found := map[string]bool{}
	for _, f := range families {
		found[f.GetName()] = true
	}
	for _, name := range []string{
		"backoffice_ledger_operations_total",
		"backoffice_ledger_operation_duration_seconds",
		"backoffice_approval_proposals_total",
		"backoffice_approval_decisions_total",
		"backoffice_ipo_transitions_total",
		"backoffice_profit_distributions_total",
		"backoffice_ledger_reconciliations_total",
		"backoffice_circuit_state",
	} {
		if !found[name] {
			t.Errorf("metric %s not gathered", name)
		}
	}

	if err := pc.Register(registry); err == nil {
		t.Error("Register() twice error = nil, want duplicate registration error")
	}
}

func TestOutcome(t *testing.T) {
	if got := Outcome(""); got != "ok" {
		t.Errorf("Outcome(\"\") = %q, want ok", got)
	}
	if got := Outcome("OverSell"); got != "OverSell" {
		t.Errorf("Outcome(OverSell) = %q, want OverSell", got)
	}
}
