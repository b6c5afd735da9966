package workflow

import (
	"fmt"

	"repairdesk/internal/domain"
)

// RejectReason identifies why the validator refused a change.
type RejectReason string

const (
	ReasonIssueTerminal       RejectReason = "ISSUE_TERMINAL"
	ReasonMissingTerminalTest RejectReason = "MISSING_TERMINAL_TEST"
	ReasonInvalidSequence     RejectReason = "INVALID_OPERATION_SEQUENCE"
)

// Decision is the validator's answer. Allowed decisions carry no reason.
type Decision struct {
	Allowed bool
	Reason  RejectReason
	Detail  string
}

func allow() Decision {
	return Decision{Allowed: true}
}

func reject(reason RejectReason, format string, args ...any) Decision {
	return Decision{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Rejection is the error form of a refused decision, surfaced to callers.
type Rejection struct {
	Reason RejectReason
	Detail string
}

func (r Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Reason, r.Detail)
}

// Err converts a refused decision to a Rejection error, nil when allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return Rejection{Reason: d.Reason, Detail: d.Detail}
}

// CanCreateOperation decides whether a new operation may be created against
// an issue in its current state. It never mutates anything.
func CanCreateOperation(issueStatus domain.IssueStatus, proposed domain.ServiceOperation) Decision {
	switch issueStatus {
	case domain.IssueOpen, domain.IssueInProgress, domain.IssueWaitingCustomerApproval:
		return allow()
	case domain.IssueClosed, domain.IssueCancelled:
		return reject(ReasonIssueTerminal, "issue is %s; no further operations accepted", issueStatus)
	case domain.IssueRepaired:
		return reject(ReasonInvalidSequence, "issue is already REPAIRED; %s not accepted", proposed.Type)
	default:
		return reject(ReasonInvalidSequence, "unknown issue status %s", issueStatus)
	}
}

// CanTransitionIssue decides whether an issue may move from its current
// status to the proposed one, given the operations recorded against it.
func CanTransitionIssue(from, to domain.IssueStatus, ops []domain.ServiceOperation) Decision {
	if from == to {
		return allow() // idempotent no-op
	}
	if from.Terminal() {
		return reject(ReasonIssueTerminal, "issue is %s", from)
	}
	switch to {
	case domain.IssueInProgress:
		if from == domain.IssueOpen || from == domain.IssueWaitingCustomerApproval {
			return allow()
		}
	case domain.IssueWaitingCustomerApproval:
		if from == domain.IssueInProgress {
			return allow()
		}
	case domain.IssueRepaired:
		if from != domain.IssueInProgress && from != domain.IssueWaitingCustomerApproval {
			return reject(ReasonInvalidSequence, "cannot repair from %s", from)
		}
		return canComplete(ops)
	case domain.IssueClosed:
		if from == domain.IssueRepaired || from == domain.IssueWaitingCustomerApproval {
			return allow()
		}
	case domain.IssueCancelled:
		return allow() // reachable from any non-terminal state
	}
	return reject(ReasonInvalidSequence, "invalid issue transition %s -> %s", from, to)
}

// canComplete enforces the REPAIRED gate: at least one completed terminal
// test, and nothing still pending or in progress.
func canComplete(ops []domain.ServiceOperation) Decision {
	terminalDone := false
	for _, op := range ops {
		if op.Status.Open() {
			return reject(ReasonInvalidSequence, "operation %s is still %s", op.ID, op.Status)
		}
		if op.Status == domain.OpCompleted && op.Type.TerminalTest() {
			terminalDone = true
		}
	}
	if !terminalDone {
		return reject(ReasonMissingTerminalTest, "no completed FINAL_TEST or QUALITY_CHECK on issue")
	}
	return allow()
}

// ProductStatusAfterRepair routes a linked product once the parent issue
// reaches REPAIRED or CLOSED: customer-owned units go back to the customer,
// stock units return to the shipment pool.
func ProductStatusAfterRepair(source domain.IssueSource) domain.ProductStatus {
	switch source {
	case domain.SourceCustomer:
		return domain.ProductDelivered
	case domain.SourceTSP, domain.SourceFirstProduction:
		return domain.ProductReadyForShipment
	default:
		return domain.ProductReadyForShipment
	}
}
