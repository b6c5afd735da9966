package workflow_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"repairdesk/internal/config"
	"repairdesk/internal/db"
	"repairdesk/internal/domain"
	"repairdesk/internal/workflow"
)

type testEnv struct {
	Engine workflow.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	cfg := config.Default("workshop-1")
	eng := workflow.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func f64(v float64) *float64 { return &v }
func iptr(v int) *int        { return &v }

func openIssue(t *testing.T, env testEnv, source domain.IssueSource, productIDs ...string) domain.Issue {
	t.Helper()
	i, err := env.Engine.CreateIssue(env.Ctx, workflow.IssueCreateOptions{
		Source:     source,
		Priority:   domain.PriorityHigh,
		ProductIDs: productIDs,
		ActorID:    "tech-1",
	})
	if err != nil {
		t.Fatalf("create issue: %v", err)
	}
	return i
}

func TestRepairFlow(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreateProduct(env.Ctx, "SN-001", domain.ProductReceived, nil)
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	issue := openIssue(t, env, domain.SourceCustomer, p.ID)
	if issue.IssueNumber != "ISS-000001" {
		t.Fatalf("issue number %s", issue.IssueNumber)
	}
	if issue.Status != domain.IssueOpen {
		t.Fatalf("status %s", issue.Status)
	}

	_, issue, err = env.Engine.CreateOperation(env.Ctx, workflow.OperationCreateOptions{
		IssueID:         issue.ID,
		Type:            domain.OpRepair,
		Status:          domain.OpCompleted,
		Description:     "replaced power board",
		Cost:            f64(250),
		DurationMinutes: iptr(120),
		ActorID:         "tech-1",
	})
	if err != nil {
		t.Fatalf("repair op: %v", err)
	}
	if issue.Status != domain.IssueInProgress {
		t.Fatalf("expected IN_PROGRESS after first op, got %s", issue.Status)
	}

	_, issue, err = env.Engine.CreateOperation(env.Ctx, workflow.OperationCreateOptions{
		IssueID:     issue.ID,
		Type:        domain.OpFinalTest,
		Status:      domain.OpCompleted,
		Description: "full functional test",
		ActorID:     "tech-2",
	})
	if err != nil {
		t.Fatalf("final test: %v", err)
	}
	if issue.Status != domain.IssueRepaired {
		t.Fatalf("expected REPAIRED, got %s", issue.Status)
	}
	if issue.ActualCost == nil || *issue.ActualCost != 250 {
		t.Fatalf("actual cost %v", issue.ActualCost)
	}

	// customer-sourced repair routes the product back to the customer
	got, err := env.Engine.Repo.GetProduct(env.Ctx, p.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if got.Status != domain.ProductDelivered {
		t.Fatalf("product status %s", got.Status)
	}

	s, err := env.Engine.RepairSummary(env.Ctx, issue.ID)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if s.TotalCost != 250 || s.TotalDuration != 120 {
		t.Fatalf("summary cost=%v duration=%v", s.TotalCost, s.TotalDuration)
	}
	if s.CompletedBy != "tech-2" {
		t.Fatalf("completed by %s", s.CompletedBy)
	}
}

func TestStockIssueRoutesToShipment(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreateProduct(env.Ctx, "SN-010", domain.ProductFirstProductionIssue, nil)
	if err != nil {
		t.Fatal(err)
	}
	issue := openIssue(t, env, domain.SourceFirstProduction, p.ID)
	_, _, err = env.Engine.CreateOperation(env.Ctx, workflow.OperationCreateOptions{
		IssueID:     issue.ID,
		Type:        domain.OpQualityCheck,
		Status:      domain.OpCompleted,
		Description: "visual and electrical check",
		ActorID:     "tech-1",
	})
	if err != nil {
		t.Fatalf("quality check: %v", err)
	}
	got, err := env.Engine.Repo.GetProduct(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.ProductReadyForShipment {
		t.Fatalf("product status %s", got.Status)
	}
}

func TestTerminalIssueRejectsOperations(t *testing.T) {
	env := newTestEnv(t)
	issue := openIssue(t, env, domain.SourceTSP)
	if _, err := env.Engine.SetIssueStatus(env.Ctx, issue.ID, domain.IssueCancelled, "tech-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	_, _, err := env.Engine.CreateOperation(env.Ctx, workflow.OperationCreateOptions{
		IssueID:     issue.ID,
		Type:        domain.OpRepair,
		Status:      domain.OpCompleted,
		Description: "too late",
		ActorID:     "tech-1",
	})
	var rej workflow.Rejection
	if !errors.As(err, &rej) || rej.Reason != workflow.ReasonIssueTerminal {
		t.Fatalf("expected ISSUE_TERMINAL rejection, got %v", err)
	}
}

func TestRepairedRejectsFurtherOperations(t *testing.T) {
	env := newTestEnv(t)
	issue := openIssue(t, env, domain.SourceTSP)
	_, issue, err := env.Engine.CreateOperation(env.Ctx, workflow.OperationCreateOptions{
		IssueID:     issue.ID,
		Type:        domain.OpFinalTest,
		Status:      domain.OpCompleted,
		Description: "passes",
		ActorID:     "tech-1",
	})
	if err != nil || issue.Status != domain.IssueRepaired {
		t.Fatalf("setup: %v status=%s", err, issue.Status)
	}
	_, _, err = env.Engine.CreateOperation(env.Ctx, workflow.OperationCreateOptions{
		IssueID:     issue.ID,
		Type:        domain.OpRepair,
		Status:      domain.OpCompleted,
		Description: "extra work",
		ActorID:     "tech-1",
	})
	var rej workflow.Rejection
	if !errors.As(err, &rej) || rej.Reason != workflow.ReasonInvalidSequence {
		t.Fatalf("expected INVALID_OPERATION_SEQUENCE, got %v", err)
	}
}

func TestRepairedTransitionIdempotent(t *testing.T) {
	env := newTestEnv(t)
	issue := openIssue(t, env, domain.SourceTSP)
	_, issue, err := env.Engine.CreateOperation(env.Ctx, workflow.OperationCreateOptions{
		IssueID:     issue.ID,
		Type:        domain.OpFinalTest,
		Status:      domain.OpCompleted,
		Description: "passes",
		Cost:        f64(10),
		ActorID:     "tech-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	before, err := env.Engine.Repo.GetIssue(env.Ctx, issue.ID)
	if err != nil {
		t.Fatal(err)
	}
	// repeating the transition changes nothing
	after, err := env.Engine.SetIssueStatus(env.Ctx, issue.ID, domain.IssueRepaired, "tech-1")
	if err != nil {
		t.Fatalf("idempotent transition: %v", err)
	}
	if after.UpdatedAt != before.UpdatedAt || after.Status != domain.IssueRepaired {
		t.Fatalf("issue changed on no-op transition: %+v vs %+v", after, before)
	}
}

func TestMissingTerminalTestBlocksRepaired(t *testing.T) {
	env := newTestEnv(t)
	issue := openIssue(t, env, domain.SourceCustomer)
	_, _, err := env.Engine.CreateOperation(env.Ctx, workflow.OperationCreateOptions{
		IssueID:     issue.ID,
		Type:        domain.OpRepair,
		Status:      domain.OpCompleted,
		Description: "fixed it",
		ActorID:     "tech-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.SetIssueStatus(env.Ctx, issue.ID, domain.IssueRepaired, "tech-1")
	var rej workflow.Rejection
	if !errors.As(err, &rej) || rej.Reason != workflow.ReasonMissingTerminalTest {
		t.Fatalf("expected MISSING_TERMINAL_TEST, got %v", err)
	}
}

func TestWorkflowBatchAtomic(t *testing.T) {
	env := newTestEnv(t)
	issue := openIssue(t, env, domain.SourceCustomer)
	steps := []workflow.OperationCreateOptions{
		{Type: domain.OpInitialTest, Status: domain.OpCompleted, Description: "intake test"},
		{Type: domain.OpRepair, Status: domain.OpCompleted, Description: "board swap", Cost: f64(100)},
		{Type: domain.OpFinalTest, Status: domain.OpCompleted, Description: "passes"},
		// issue is REPAIRED after the final test; this step must be rejected
		{Type: domain.OpRepair, Status: domain.OpCompleted, Description: "late extra"},
	}
	_, _, err := env.Engine.CreateWorkflow(env.Ctx, issue.ID, steps, "tech-1")
	var se workflow.WorkflowStepError
	if !errors.As(err, &se) {
		t.Fatalf("expected step error, got %v", err)
	}
	if se.Step != 3 {
		t.Fatalf("failing step %d, want 3", se.Step)
	}

	// nothing from the batch is visible
	ops, err := env.Engine.Repo.ListOperations(env.Ctx, nil, issue.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 0 {
		t.Fatalf("expected no operations after rollback, got %d", len(ops))
	}
	got, err := env.Engine.Repo.GetIssue(env.Ctx, issue.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.IssueOpen {
		t.Fatalf("issue status %s after rollback", got.Status)
	}

	// the same batch without the trailing step applies in full
	applied, updated, err := env.Engine.CreateWorkflow(env.Ctx, issue.ID, steps[:3], "tech-1")
	if err != nil {
		t.Fatalf("apply batch: %v", err)
	}
	if len(applied) != 3 {
		t.Fatalf("applied %d", len(applied))
	}
	if updated.Status != domain.IssueRepaired {
		t.Fatalf("status %s", updated.Status)
	}
}

func TestSummaryRequiresRepaired(t *testing.T) {
	env := newTestEnv(t)
	issue := openIssue(t, env, domain.SourceCustomer)
	_, err := env.Engine.RepairSummary(env.Ctx, issue.ID)
	var rej workflow.Rejection
	if !errors.As(err, &rej) {
		t.Fatalf("expected rejection, got %v", err)
	}
}

func TestWarrantyAggregate(t *testing.T) {
	build := func(t *testing.T, env testEnv) domain.Issue {
		issue := openIssue(t, env, domain.SourceTSP)
		_, _, err := env.Engine.CreateOperation(env.Ctx, workflow.OperationCreateOptions{
			IssueID: issue.ID, Type: domain.OpRepair, Status: domain.OpCompleted,
			Description: "covered", IsUnderWarranty: true, ActorID: "tech-1",
		})
		if err != nil {
			t.Fatal(err)
		}
		_, issue, err = env.Engine.CreateOperation(env.Ctx, workflow.OperationCreateOptions{
			IssueID: issue.ID, Type: domain.OpFinalTest, Status: domain.OpCompleted,
			Description: "not covered", IsUnderWarranty: false, ActorID: "tech-1",
		})
		if err != nil {
			t.Fatal(err)
		}
		return issue
	}

	env := newTestEnv(t)
	issue := build(t, env)
	s, err := env.Engine.RepairSummary(env.Ctx, issue.ID)
	if err != nil {
		t.Fatal(err)
	}
	if s.IsUnderWarranty {
		t.Fatal("aggregate=all: mixed warranty must not be covered")
	}

	env.Engine.Config.Warranty.Aggregate = config.WarrantyAny
	s, err = env.Engine.RepairSummary(env.Ctx, issue.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !s.IsUnderWarranty {
		t.Fatal("aggregate=any: one covered operation suffices")
	}
}

func TestConcurrentOperationsSerialized(t *testing.T) {
	env := newTestEnv(t)
	issue := openIssue(t, env, domain.SourceTSP)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for n := 0; n < 8; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, _, errs[n] = env.Engine.CreateOperation(env.Ctx, workflow.OperationCreateOptions{
				IssueID:     issue.ID,
				Type:        domain.OpConfiguration,
				Status:      domain.OpCompleted,
				Description: "parallel config",
				ActorID:     "tech-1",
			})
		}(n)
	}
	wg.Wait()
	for n, err := range errs {
		if err != nil {
			t.Fatalf("op %d: %v", n, err)
		}
	}
	ops, err := env.Engine.Repo.ListOperations(env.Ctx, nil, issue.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 8 {
		t.Fatalf("recorded %d operations", len(ops))
	}
}

func TestEmitHookFiresAfterCommit(t *testing.T) {
	env := newTestEnv(t)
	var mu sync.Mutex
	var changes []workflow.Change
	env.Engine.Emit = func(c workflow.Change) {
		mu.Lock()
		changes = append(changes, c)
		mu.Unlock()
	}
	issue := openIssue(t, env, domain.SourceTSP)
	_, _, err := env.Engine.CreateOperation(env.Ctx, workflow.OperationCreateOptions{
		IssueID:     issue.ID,
		Type:        domain.OpFinalTest,
		Status:      domain.OpCompleted,
		Description: "passes",
		ActorID:     "tech-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	var types []string
	for _, c := range changes {
		types = append(types, c.Type)
	}
	want := map[string]bool{
		workflow.ChangeIssueCreated:   false,
		workflow.ChangeOperationAdded: false,
		workflow.ChangeIssueRepaired:  false,
	}
	for _, ty := range types {
		if _, ok := want[ty]; ok {
			want[ty] = true
		}
	}
	for ty, seen := range want {
		if !seen {
			t.Fatalf("missing %s in %v", ty, types)
		}
	}
}
