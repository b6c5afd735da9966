package notify

import (
	"fmt"

	"repairdesk/internal/domain"
	"repairdesk/internal/workflow"
)

// Target addresses a notification: a single user, everyone holding a role,
// or everyone connected.
type Target struct {
	UserID string
	Role   string
	All    bool
}

// Message pairs a composed notification with where it should go.
type Message struct {
	Notification domain.Notification
	Targets      []Target
}

// priorityFor escalates notification priority with the issue priority.
func priorityFor(p domain.IssuePriority) domain.NotificationPriority {
	switch p {
	case domain.PriorityCritical:
		return domain.NotifyPriorityCritical
	case domain.PriorityHigh:
		return domain.NotifyPriorityHigh
	case domain.PriorityLow:
		return domain.NotifyPriorityLow
	default:
		return domain.NotifyPriorityMedium
	}
}

func typeFor(p domain.IssuePriority) domain.NotificationType {
	switch p {
	case domain.PriorityCritical:
		return domain.NotifyCritical
	case domain.PriorityHigh:
		return domain.NotifyWarning
	default:
		return domain.NotifyInfo
	}
}

// Compose turns a committed workflow change into zero or one notification
// with its targets. It is pure; persistence and delivery happen elsewhere.
func Compose(c workflow.Change) (Message, bool) {
	i := c.Issue
	base := domain.Notification{
		Type:      typeFor(i.Priority),
		Priority:  priorityFor(i.Priority),
		CreatedBy: c.ActorID,
	}
	switch c.Type {
	case workflow.ChangeIssueCreated:
		base.Title = fmt.Sprintf("Issue %s opened", i.IssueNumber)
		base.Message = fmt.Sprintf("New %s issue %s with %s priority", i.Source, i.IssueNumber, i.Priority)
		base.Category = "issues"
		return Message{Notification: base, Targets: []Target{{Role: "TECHNICIAN"}, {Role: "ADMIN"}}}, true
	case workflow.ChangeOperationAdded:
		if c.Operation == nil {
			return Message{}, false
		}
		base.Title = fmt.Sprintf("Operation on %s", i.IssueNumber)
		base.Message = fmt.Sprintf("%s recorded as %s on issue %s", c.Operation.Type, c.Operation.Status, i.IssueNumber)
		base.Category = "operations"
		return Message{Notification: base, Targets: []Target{{UserID: i.CreatedBy}}}, true
	case workflow.ChangeIssueStatus:
		base.Title = fmt.Sprintf("Issue %s is %s", i.IssueNumber, i.Status)
		base.Message = fmt.Sprintf("Issue %s moved to %s", i.IssueNumber, i.Status)
		base.Category = "issues"
		return Message{Notification: base, Targets: []Target{{UserID: i.CreatedBy}, {Role: "ADMIN"}}}, true
	case workflow.ChangeIssueRepaired:
		base.Type = domain.NotifySuccess
		base.Title = fmt.Sprintf("Issue %s repaired", i.IssueNumber)
		base.Message = fmt.Sprintf("Issue %s completed repair and passed its final test", i.IssueNumber)
		base.Category = "repairs"
		targets := []Target{{Role: "ADMIN"}}
		if i.Source == domain.SourceCustomer {
			targets = append(targets, Target{UserID: i.CreatedBy})
		}
		return Message{Notification: base, Targets: targets}, true
	case workflow.ChangeProductAttached:
		// Link bookkeeping, not worth a push.
		return Message{}, false
	default:
		return Message{}, false
	}
}
