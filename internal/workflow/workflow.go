package workflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"repairdesk/internal/config"
	"repairdesk/internal/domain"
	"repairdesk/internal/events"
	"repairdesk/internal/repo"
)

// Change describes a committed state change, handed to the emit hook after
// the transaction is durable. Consumers must not block.
type Change struct {
	Type      string
	Issue     domain.Issue
	Operation *domain.ServiceOperation
	ActorID   string
}

const (
	ChangeIssueCreated    = "issue.created"
	ChangeIssueStatus     = "issue.status_changed"
	ChangeIssueRepaired   = "issue.repaired"
	ChangeOperationAdded  = "operation.created"
	ChangeProductAttached = "issue.product_attached"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
	// Emit receives committed changes; nil disables fan-out.
	Emit func(Change)

	locks *issueLocks
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
		locks:  newIssueLocks(),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) emit(c Change) {
	if e.Emit != nil {
		e.Emit(c)
	}
}

// IssueCreateOptions are parameters for opening a repair issue.
type IssueCreateOptions struct {
	Source          domain.IssueSource
	Priority        domain.IssuePriority
	IsUnderWarranty bool
	EstimatedCost   *float64
	ProductIDs      []string
	ActorID         string
}

func (e Engine) CreateIssue(ctx context.Context, opts IssueCreateOptions) (domain.Issue, error) {
	if !opts.Source.Valid() {
		return domain.Issue{}, fmt.Errorf("invalid source %q", opts.Source)
	}
	if opts.Priority == "" {
		opts.Priority = domain.PriorityMedium
	}
	if !opts.Priority.Valid() {
		return domain.Issue{}, fmt.Errorf("invalid priority %q", opts.Priority)
	}
	if opts.EstimatedCost != nil && *opts.EstimatedCost < 0 {
		return domain.Issue{}, errors.New("estimated_cost must not be negative")
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Issue{}, err
	}
	defer tx.Rollback()

	number, err := e.Repo.NextIssueNumber(ctx, tx)
	if err != nil {
		return domain.Issue{}, fmt.Errorf("next issue number: %w", err)
	}
	now := e.now().UTC().Format(time.RFC3339)
	i := domain.Issue{
		ID:              uuid.NewString(),
		IssueNumber:     number,
		Source:          opts.Source,
		Status:          domain.IssueOpen,
		Priority:        opts.Priority,
		IsUnderWarranty: opts.IsUnderWarranty,
		EstimatedCost:   opts.EstimatedCost,
		CreatedBy:       opts.ActorID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.Repo.InsertIssue(ctx, tx, i); err != nil {
		return domain.Issue{}, fmt.Errorf("insert issue: %w", err)
	}
	for _, pid := range opts.ProductIDs {
		if err := e.attachProductTx(ctx, tx, i.ID, pid); err != nil {
			return domain.Issue{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, events.Entry{
		Type: ChangeIssueCreated, IssueID: i.ID, EntityKind: "issue", EntityID: i.ID, ActorID: opts.ActorID,
		Payload: events.Payload{
			"issue_number": i.IssueNumber,
			"source":       string(i.Source),
			"priority":     string(i.Priority),
		},
	}); err != nil {
		return domain.Issue{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Issue{}, err
	}
	e.emit(Change{Type: ChangeIssueCreated, Issue: i, ActorID: opts.ActorID})
	return i, nil
}

// AttachProduct links a product to an existing issue, preserving attach order.
func (e Engine) AttachProduct(ctx context.Context, issueID, productID, actorID string) (domain.Issue, error) {
	unlock := e.locks.lock(issueID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Issue{}, err
	}
	defer tx.Rollback()

	i, err := e.Repo.GetIssueTx(ctx, tx, issueID)
	if err != nil {
		return domain.Issue{}, err
	}
	if i.Status.Terminal() {
		return domain.Issue{}, Rejection{Reason: ReasonIssueTerminal, Detail: fmt.Sprintf("issue is %s", i.Status)}
	}
	if err := e.attachProductTx(ctx, tx, issueID, productID); err != nil {
		return domain.Issue{}, err
	}
	if err := e.Events.Append(ctx, tx, events.Entry{
		Type: ChangeProductAttached, IssueID: issueID, EntityKind: "product", EntityID: productID, ActorID: actorID,
	}); err != nil {
		return domain.Issue{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Issue{}, err
	}
	e.emit(Change{Type: ChangeProductAttached, Issue: i, ActorID: actorID})
	return i, nil
}

func (e Engine) attachProductTx(ctx context.Context, tx *sql.Tx, issueID, productID string) error {
	p, err := e.Repo.GetProductTx(ctx, tx, productID)
	if err != nil {
		return fmt.Errorf("product %s: %w", productID, err)
	}
	link := domain.IssueProduct{ID: uuid.NewString(), IssueID: issueID, ProductID: p.ID}
	if err := e.Repo.AttachProduct(ctx, tx, link); err != nil {
		return fmt.Errorf("attach product %s: %w", productID, err)
	}
	return e.Repo.UpdateProductStatus(ctx, tx, p.ID, domain.ProductIssueCreated)
}

// OperationCreateOptions are parameters for recording a service operation.
type OperationCreateOptions struct {
	IssueID         string
	IssueProductID  *string
	Type            domain.OperationType
	Status          domain.OperationStatus
	Description     string
	Findings        *string
	ActionsTaken    *string
	IsUnderWarranty bool
	Cost            *float64
	DurationMinutes *int
	ActorID         string
}

func (opts OperationCreateOptions) validate() error {
	if !opts.Type.Valid() {
		return fmt.Errorf("invalid operation_type %q", opts.Type)
	}
	if opts.Status == "" {
		return errors.New("status is required")
	}
	if !opts.Status.Valid() {
		return fmt.Errorf("invalid status %q", opts.Status)
	}
	if opts.Description == "" {
		return errors.New("description is required")
	}
	if opts.Cost != nil && *opts.Cost < 0 {
		return errors.New("cost must not be negative")
	}
	if opts.DurationMinutes != nil && *opts.DurationMinutes <= 0 {
		return errors.New("duration_minutes must be positive")
	}
	return nil
}

// CreateOperation records an operation against an issue and applies every
// consequence of it in one transaction: issue activation, product routing
// and, when a terminal test completes, the REPAIRED cascade.
func (e Engine) CreateOperation(ctx context.Context, opts OperationCreateOptions) (domain.ServiceOperation, domain.Issue, error) {
	if err := opts.validate(); err != nil {
		return domain.ServiceOperation{}, domain.Issue{}, err
	}

	unlock := e.locks.lock(opts.IssueID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ServiceOperation{}, domain.Issue{}, err
	}
	defer tx.Rollback()

	i, err := e.Repo.GetIssueTx(ctx, tx, opts.IssueID)
	if err != nil {
		return domain.ServiceOperation{}, domain.Issue{}, err
	}
	op, repaired, err := e.applyOperationTx(ctx, tx, &i, opts)
	if err != nil {
		return domain.ServiceOperation{}, domain.Issue{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ServiceOperation{}, domain.Issue{}, err
	}
	e.emit(Change{Type: ChangeOperationAdded, Issue: i, Operation: &op, ActorID: opts.ActorID})
	if repaired {
		e.emit(Change{Type: ChangeIssueRepaired, Issue: i, Operation: &op, ActorID: opts.ActorID})
	}
	return op, i, nil
}

// applyOperationTx inserts one operation and folds its consequences into the
// issue. The caller owns the transaction and the issue lock. It reports
// whether this operation moved the issue to REPAIRED.
func (e Engine) applyOperationTx(ctx context.Context, tx *sql.Tx, i *domain.Issue, opts OperationCreateOptions) (domain.ServiceOperation, bool, error) {
	op := domain.ServiceOperation{
		ID:              uuid.NewString(),
		IssueID:         i.ID,
		IssueProductID:  opts.IssueProductID,
		Type:            opts.Type,
		Status:          opts.Status,
		Description:     opts.Description,
		Findings:        opts.Findings,
		ActionsTaken:    opts.ActionsTaken,
		IsUnderWarranty: opts.IsUnderWarranty,
		Cost:            opts.Cost,
		DurationMinutes: opts.DurationMinutes,
		PerformedBy:     opts.ActorID,
		PerformedAt:     e.now().UTC().Format(time.RFC3339),
	}
	if d := CanCreateOperation(i.Status, op); !d.Allowed {
		return domain.ServiceOperation{}, false, d.Err()
	}
	if op.IssueProductID != nil {
		link, err := e.Repo.GetIssueProduct(ctx, tx, *op.IssueProductID)
		if err != nil {
			return domain.ServiceOperation{}, false, fmt.Errorf("issue product %s: %w", *op.IssueProductID, err)
		}
		if link.IssueID != i.ID {
			return domain.ServiceOperation{}, false, fmt.Errorf("issue product %s belongs to issue %s", link.ID, link.IssueID)
		}
		if err := e.Repo.UpdateProductStatus(ctx, tx, link.ProductID, domain.ProductUnderRepair); err != nil {
			return domain.ServiceOperation{}, false, err
		}
	}
	if err := e.Repo.InsertOperation(ctx, tx, op); err != nil {
		return domain.ServiceOperation{}, false, fmt.Errorf("insert operation: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.Entry{
		Type: ChangeOperationAdded, IssueID: i.ID, EntityKind: "operation", EntityID: op.ID, ActorID: opts.ActorID,
		Payload: events.Payload{
			"operation_type": string(op.Type),
			"status":         string(op.Status),
		},
	}); err != nil {
		return domain.ServiceOperation{}, false, err
	}

	changed := false
	if i.Status == domain.IssueOpen {
		i.Status = domain.IssueInProgress
		changed = true
		// first operation pulls every linked product onto the bench
		links, err := e.Repo.ListIssueProducts(ctx, tx, i.ID)
		if err != nil {
			return domain.ServiceOperation{}, false, err
		}
		for _, link := range links {
			if err := e.Repo.UpdateProductStatus(ctx, tx, link.ProductID, domain.ProductUnderRepair); err != nil {
				return domain.ServiceOperation{}, false, err
			}
		}
	}
	repaired := false
	if op.Status == domain.OpCompleted && op.Type.TerminalTest() && i.Status != domain.IssueRepaired {
		ops, err := e.Repo.ListOperations(ctx, tx, i.ID)
		if err != nil {
			return domain.ServiceOperation{}, false, err
		}
		if d := canComplete(ops); d.Allowed {
			i.Status = domain.IssueRepaired
			changed = true
			repaired = true
			if err := e.onRepairedTx(ctx, tx, i, op.PerformedBy); err != nil {
				return domain.ServiceOperation{}, false, err
			}
		}
	}
	if changed {
		i.UpdatedAt = e.now().UTC().Format(time.RFC3339)
		if err := e.Repo.UpdateIssue(ctx, tx, *i); err != nil {
			return domain.ServiceOperation{}, false, err
		}
		if err := e.Events.Append(ctx, tx, events.Entry{
			Type: ChangeIssueStatus, IssueID: i.ID, EntityKind: "issue", EntityID: i.ID, ActorID: opts.ActorID,
			Payload: events.Payload{"status": string(i.Status)},
		}); err != nil {
			return domain.ServiceOperation{}, false, err
		}
	}
	return op, repaired, nil
}

// onRepairedTx applies the REPAIRED consequences: reconcile the actual cost
// from the recorded operations and route every linked product onward.
func (e Engine) onRepairedTx(ctx context.Context, tx *sql.Tx, i *domain.Issue, actorID string) error {
	total, _, withCost, err := e.Repo.SumOperations(ctx, tx, i.ID)
	if err != nil {
		return err
	}
	if withCost > 0 {
		i.ActualCost = &total
	}
	links, err := e.Repo.ListIssueProducts(ctx, tx, i.ID)
	if err != nil {
		return err
	}
	next := ProductStatusAfterRepair(i.Source)
	for _, link := range links {
		if err := e.Repo.UpdateProductStatus(ctx, tx, link.ProductID, next); err != nil {
			return err
		}
	}
	return e.Events.Append(ctx, tx, events.Entry{
		Type: ChangeIssueRepaired, IssueID: i.ID, EntityKind: "issue", EntityID: i.ID, ActorID: actorID,
		Payload: events.Payload{
			"actual_cost": total,
			"products":    len(links),
		},
	})
}

// WorkflowStepError wraps a rejection with the index of the failing step.
type WorkflowStepError struct {
	Step int
	Err  error
}

func (e WorkflowStepError) Error() string {
	return fmt.Sprintf("step %d: %v", e.Step, e.Err)
}

func (e WorkflowStepError) Unwrap() error { return e.Err }

// CreateWorkflow applies a batch of operations to one issue atomically. Any
// rejected step rolls back the whole batch and reports which step failed.
func (e Engine) CreateWorkflow(ctx context.Context, issueID string, steps []OperationCreateOptions, actorID string) ([]domain.ServiceOperation, domain.Issue, error) {
	if len(steps) == 0 {
		return nil, domain.Issue{}, errors.New("workflow requires at least one operation")
	}
	for n, s := range steps {
		if err := s.validate(); err != nil {
			return nil, domain.Issue{}, WorkflowStepError{Step: n, Err: err}
		}
	}

	unlock := e.locks.lock(issueID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, domain.Issue{}, err
	}
	defer tx.Rollback()

	i, err := e.Repo.GetIssueTx(ctx, tx, issueID)
	if err != nil {
		return nil, domain.Issue{}, err
	}
	applied := make([]domain.ServiceOperation, 0, len(steps))
	repaired := false
	for n, s := range steps {
		s.IssueID = issueID
		if s.ActorID == "" {
			s.ActorID = actorID
		}
		op, r, err := e.applyOperationTx(ctx, tx, &i, s)
		if err != nil {
			return nil, domain.Issue{}, WorkflowStepError{Step: n, Err: err}
		}
		applied = append(applied, op)
		repaired = repaired || r
	}
	if err := tx.Commit(); err != nil {
		return nil, domain.Issue{}, err
	}
	for n := range applied {
		e.emit(Change{Type: ChangeOperationAdded, Issue: i, Operation: &applied[n], ActorID: actorID})
	}
	if repaired {
		e.emit(Change{Type: ChangeIssueRepaired, Issue: i, ActorID: actorID})
	}
	return applied, i, nil
}

// SetIssueStatus moves an issue to a new status under the transition rules.
// Setting the current status again is a no-op.
func (e Engine) SetIssueStatus(ctx context.Context, issueID string, to domain.IssueStatus, actorID string) (domain.Issue, error) {
	if !to.Valid() {
		return domain.Issue{}, fmt.Errorf("invalid status %q", to)
	}

	unlock := e.locks.lock(issueID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Issue{}, err
	}
	defer tx.Rollback()

	i, err := e.Repo.GetIssueTx(ctx, tx, issueID)
	if err != nil {
		return domain.Issue{}, err
	}
	if i.Status == to {
		return i, nil
	}
	ops, err := e.Repo.ListOperations(ctx, tx, issueID)
	if err != nil {
		return domain.Issue{}, err
	}
	if d := CanTransitionIssue(i.Status, to, ops); !d.Allowed {
		return domain.Issue{}, d.Err()
	}
	from := i.Status
	i.Status = to
	i.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if to == domain.IssueRepaired {
		if err := e.onRepairedTx(ctx, tx, &i, actorID); err != nil {
			return domain.Issue{}, err
		}
	}
	if to == domain.IssueClosed && from != domain.IssueRepaired {
		// closing straight from customer approval still releases the products
		links, err := e.Repo.ListIssueProducts(ctx, tx, i.ID)
		if err != nil {
			return domain.Issue{}, err
		}
		next := ProductStatusAfterRepair(i.Source)
		for _, link := range links {
			if err := e.Repo.UpdateProductStatus(ctx, tx, link.ProductID, next); err != nil {
				return domain.Issue{}, err
			}
		}
	}
	if err := e.Repo.UpdateIssue(ctx, tx, i); err != nil {
		return domain.Issue{}, err
	}
	if err := e.Events.Append(ctx, tx, events.Entry{
		Type: ChangeIssueStatus, IssueID: i.ID, EntityKind: "issue", EntityID: i.ID, ActorID: actorID,
		Payload: events.Payload{"status": string(to)},
	}); err != nil {
		return domain.Issue{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Issue{}, err
	}
	e.emit(Change{Type: ChangeIssueStatus, Issue: i, ActorID: actorID})
	if to == domain.IssueRepaired {
		e.emit(Change{Type: ChangeIssueRepaired, Issue: i, ActorID: actorID})
	}
	return i, nil
}

// RepairSummary derives the completion summary of a repaired issue from its
// recorded operations. It is computed on demand, never stored.
func (e Engine) RepairSummary(ctx context.Context, issueID string) (domain.RepairSummary, error) {
	i, err := e.Repo.GetIssue(ctx, issueID)
	if err != nil {
		return domain.RepairSummary{}, err
	}
	if i.Status != domain.IssueRepaired {
		return domain.RepairSummary{}, Rejection{
			Reason: ReasonInvalidSequence,
			Detail: fmt.Sprintf("summary requires a REPAIRED issue, got %s", i.Status),
		}
	}
	ops, err := e.Repo.ListOperations(ctx, nil, issueID)
	if err != nil {
		return domain.RepairSummary{}, err
	}
	s := domain.RepairSummary{IssueID: issueID}
	withCost := 0
	anyWarranty := false
	allWarranty := true
	counted := 0
	for _, op := range ops {
		if op.Status == domain.OpCancelled {
			continue
		}
		counted++
		if op.Cost != nil {
			s.TotalCost += *op.Cost
			withCost++
		}
		if op.DurationMinutes != nil {
			s.TotalDuration += *op.DurationMinutes
		}
		if op.IsUnderWarranty {
			anyWarranty = true
		} else {
			allWarranty = false
		}
		if op.Status == domain.OpCompleted && op.Type.TerminalTest() {
			s.CompletedBy = op.PerformedBy
		}
	}
	if withCost > 0 && s.TotalCost <= 0 {
		return domain.RepairSummary{}, fmt.Errorf("issue %s has costed operations summing to %.2f", issueID, s.TotalCost)
	}
	switch e.warrantyRule() {
	case config.WarrantyAny:
		s.IsUnderWarranty = anyWarranty
	default:
		s.IsUnderWarranty = counted > 0 && allWarranty
	}
	return s, nil
}

func (e Engine) warrantyRule() config.WarrantyRule {
	if e.Config == nil {
		return config.WarrantyAll
	}
	return e.Config.Warranty.Aggregate
}

// TechnicianPerformance aggregates operation metrics per performer.
func (e Engine) TechnicianPerformance(ctx context.Context, f repo.PerformanceFilters) ([]domain.TechnicianPerformance, error) {
	return e.Repo.TechnicianPerformance(ctx, f)
}

// CreateProduct registers a unit so issues can link to it.
func (e Engine) CreateProduct(ctx context.Context, serialNumber string, status domain.ProductStatus, locationID *string) (domain.Product, error) {
	if serialNumber == "" {
		return domain.Product{}, errors.New("serial_number is required")
	}
	if status == "" {
		status = domain.ProductFirstProduction
	}
	if !status.Valid() {
		return domain.Product{}, fmt.Errorf("invalid status %q", status)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Product{}, err
	}
	defer tx.Rollback()

	p := domain.Product{
		ID:           uuid.NewString(),
		SerialNumber: serialNumber,
		Status:       status,
		LocationID:   locationID,
		CreatedAt:    e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertProduct(ctx, tx, p); err != nil {
		return domain.Product{}, fmt.Errorf("insert product: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Product{}, err
	}
	return p, nil
}
