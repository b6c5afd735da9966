package workflow

import (
	"testing"

	"pgregory.net/rapid"

	"repairdesk/internal/domain"
)

func TestCanCreateOperation(t *testing.T) {
	cases := []struct {
		status  domain.IssueStatus
		allowed bool
		reason  RejectReason
	}{
		{domain.IssueOpen, true, ""},
		{domain.IssueInProgress, true, ""},
		{domain.IssueWaitingCustomerApproval, true, ""},
		{domain.IssueRepaired, false, ReasonInvalidSequence},
		{domain.IssueClosed, false, ReasonIssueTerminal},
		{domain.IssueCancelled, false, ReasonIssueTerminal},
	}
	for _, c := range cases {
		d := CanCreateOperation(c.status, domain.ServiceOperation{Type: domain.OpRepair})
		if d.Allowed != c.allowed {
			t.Fatalf("%s: allowed=%v, want %v", c.status, d.Allowed, c.allowed)
		}
		if !c.allowed && d.Reason != c.reason {
			t.Fatalf("%s: reason=%s, want %s", c.status, d.Reason, c.reason)
		}
	}
}

func TestRepairedRequiresTerminalTest(t *testing.T) {
	ops := []domain.ServiceOperation{
		{Type: domain.OpRepair, Status: domain.OpCompleted},
	}
	d := CanTransitionIssue(domain.IssueInProgress, domain.IssueRepaired, ops)
	if d.Allowed {
		t.Fatal("expected rejection without terminal test")
	}
	if d.Reason != ReasonMissingTerminalTest {
		t.Fatalf("reason=%s, want %s", d.Reason, ReasonMissingTerminalTest)
	}

	ops = append(ops, domain.ServiceOperation{Type: domain.OpFinalTest, Status: domain.OpCompleted})
	if d := CanTransitionIssue(domain.IssueInProgress, domain.IssueRepaired, ops); !d.Allowed {
		t.Fatalf("expected allowed, got %s: %s", d.Reason, d.Detail)
	}
}

func TestPendingOperationBlocksRepaired(t *testing.T) {
	ops := []domain.ServiceOperation{
		{ID: "op-1", Type: domain.OpFinalTest, Status: domain.OpCompleted},
		{ID: "op-2", Type: domain.OpRepair, Status: domain.OpPending},
	}
	d := CanTransitionIssue(domain.IssueInProgress, domain.IssueRepaired, ops)
	if d.Allowed || d.Reason != ReasonInvalidSequence {
		t.Fatalf("expected sequence rejection, got allowed=%v reason=%s", d.Allowed, d.Reason)
	}
}

func TestTerminalStatesAreFinal(t *testing.T) {
	for _, from := range []domain.IssueStatus{domain.IssueClosed, domain.IssueCancelled} {
		for _, to := range []domain.IssueStatus{
			domain.IssueOpen, domain.IssueInProgress, domain.IssueWaitingCustomerApproval,
			domain.IssueRepaired, domain.IssueClosed, domain.IssueCancelled,
		} {
			d := CanTransitionIssue(from, to, nil)
			if from == to {
				if !d.Allowed {
					t.Fatalf("%s -> %s: idempotent transition rejected", from, to)
				}
				continue
			}
			if d.Allowed {
				t.Fatalf("%s -> %s: expected rejection", from, to)
			}
			if d.Reason != ReasonIssueTerminal {
				t.Fatalf("%s -> %s: reason=%s", from, to, d.Reason)
			}
		}
	}
}

func TestProductRoutingAfterRepair(t *testing.T) {
	if got := ProductStatusAfterRepair(domain.SourceCustomer); got != domain.ProductDelivered {
		t.Fatalf("customer: got %s", got)
	}
	if got := ProductStatusAfterRepair(domain.SourceTSP); got != domain.ProductReadyForShipment {
		t.Fatalf("tsp: got %s", got)
	}
	if got := ProductStatusAfterRepair(domain.SourceFirstProduction); got != domain.ProductReadyForShipment {
		t.Fatalf("first production: got %s", got)
	}
}

// Property: REPAIRED is reachable exactly when some completed terminal test
// exists and no operation is still open, whatever the operation mix.
func TestRepairedGateProperty(t *testing.T) {
	types := []domain.OperationType{
		domain.OpInitialTest, domain.OpFabricationTest, domain.OpHardwareVerification,
		domain.OpConfiguration, domain.OpPreTest, domain.OpRepair,
		domain.OpFinalTest, domain.OpQualityCheck,
	}
	statuses := []domain.OperationStatus{
		domain.OpPending, domain.OpInProgress, domain.OpCompleted, domain.OpCancelled,
	}
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 12).Draw(t, "n")
		ops := make([]domain.ServiceOperation, n)
		for k := range ops {
			ops[k] = domain.ServiceOperation{
				Type:   rapid.SampledFrom(types).Draw(t, "type"),
				Status: rapid.SampledFrom(statuses).Draw(t, "status"),
			}
		}
		anyOpen := false
		terminalDone := false
		for _, op := range ops {
			if op.Status.Open() {
				anyOpen = true
			}
			if op.Status == domain.OpCompleted && op.Type.TerminalTest() {
				terminalDone = true
			}
		}
		d := CanTransitionIssue(domain.IssueInProgress, domain.IssueRepaired, ops)
		want := terminalDone && !anyOpen
		if d.Allowed != want {
			t.Fatalf("allowed=%v, want %v (open=%v terminal=%v)", d.Allowed, want, anyOpen, terminalDone)
		}
	})
}
