package notify

import (
	"testing"

	"github.com/stretchr/testify/require"

	"repairdesk/internal/domain"
	"repairdesk/internal/workflow"
)

func TestComposeRepaired(t *testing.T) {
	op := domain.ServiceOperation{Type: domain.OpFinalTest, Status: domain.OpCompleted}
	msg, ok := Compose(workflow.Change{
		Type: workflow.ChangeIssueRepaired,
		Issue: domain.Issue{
			IssueNumber: "ISS-000007",
			Source:      domain.SourceCustomer,
			Priority:    domain.PriorityMedium,
			CreatedBy:   "cust-9",
		},
		Operation: &op,
		ActorID:   "tech-1",
	})
	require.True(t, ok)
	require.Equal(t, domain.NotifySuccess, msg.Notification.Type)
	require.Contains(t, msg.Notification.Title, "ISS-000007")
	// customer-sourced repairs notify the reporter too
	require.Contains(t, msg.Targets, Target{UserID: "cust-9"})
	require.Contains(t, msg.Targets, Target{Role: "ADMIN"})
}

func TestComposePriorityEscalation(t *testing.T) {
	msg, ok := Compose(workflow.Change{
		Type:  workflow.ChangeIssueCreated,
		Issue: domain.Issue{IssueNumber: "ISS-000008", Priority: domain.PriorityCritical},
	})
	require.True(t, ok)
	require.Equal(t, domain.NotifyPriorityCritical, msg.Notification.Priority)
	require.Equal(t, domain.NotifyCritical, msg.Notification.Type)

	msg, ok = Compose(workflow.Change{
		Type:  workflow.ChangeIssueCreated,
		Issue: domain.Issue{IssueNumber: "ISS-000009", Priority: domain.PriorityLow},
	})
	require.True(t, ok)
	require.Equal(t, domain.NotifyPriorityLow, msg.Notification.Priority)
	require.Equal(t, domain.NotifyInfo, msg.Notification.Type)
}

func TestComposeSkipsLinkBookkeeping(t *testing.T) {
	_, ok := Compose(workflow.Change{Type: workflow.ChangeProductAttached})
	require.False(t, ok)
	_, ok = Compose(workflow.Change{Type: workflow.ChangeOperationAdded})
	require.False(t, ok, "operation change without payload has nothing to announce")
}
