package domain

type ProductStatus string

const (
	ProductFirstProduction         ProductStatus = "FIRST_PRODUCTION"
	ProductFirstProductionIssue    ProductStatus = "FIRST_PRODUCTION_ISSUE"
	ProductFirstProductionScrapped ProductStatus = "FIRST_PRODUCTION_SCRAPPED"
	ProductReadyForShipment        ProductStatus = "READY_FOR_SHIPMENT"
	ProductShipped                 ProductStatus = "SHIPPED"
	ProductIssueCreated            ProductStatus = "ISSUE_CREATED"
	ProductReceived                ProductStatus = "RECEIVED"
	ProductPreTestCompleted        ProductStatus = "PRE_TEST_COMPLETED"
	ProductUnderRepair             ProductStatus = "UNDER_REPAIR"
	ProductServiceScrapped         ProductStatus = "SERVICE_SCRAPPED"
	ProductDelivered               ProductStatus = "DELIVERED"
)

func (s ProductStatus) Valid() bool {
	switch s {
	case ProductFirstProduction, ProductFirstProductionIssue, ProductFirstProductionScrapped,
		ProductReadyForShipment, ProductShipped, ProductIssueCreated, ProductReceived,
		ProductPreTestCompleted, ProductUnderRepair, ProductServiceScrapped, ProductDelivered:
		return true
	}
	return false
}

type IssueSource string

const (
	SourceCustomer        IssueSource = "CUSTOMER"
	SourceTSP             IssueSource = "TSP"
	SourceFirstProduction IssueSource = "FIRST_PRODUCTION"
)

func (s IssueSource) Valid() bool {
	switch s {
	case SourceCustomer, SourceTSP, SourceFirstProduction:
		return true
	}
	return false
}

type IssueStatus string

const (
	IssueOpen                    IssueStatus = "OPEN"
	IssueInProgress              IssueStatus = "IN_PROGRESS"
	IssueWaitingCustomerApproval IssueStatus = "WAITING_CUSTOMER_APPROVAL"
	IssueRepaired                IssueStatus = "REPAIRED"
	IssueClosed                  IssueStatus = "CLOSED"
	IssueCancelled               IssueStatus = "CANCELLED"
)

func (s IssueStatus) Valid() bool {
	switch s {
	case IssueOpen, IssueInProgress, IssueWaitingCustomerApproval, IssueRepaired, IssueClosed, IssueCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed from s.
func (s IssueStatus) Terminal() bool {
	return s == IssueClosed || s == IssueCancelled
}

type IssuePriority string

const (
	PriorityLow      IssuePriority = "LOW"
	PriorityMedium   IssuePriority = "MEDIUM"
	PriorityHigh     IssuePriority = "HIGH"
	PriorityCritical IssuePriority = "CRITICAL"
)

func (p IssuePriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

type OperationType string

const (
	OpInitialTest          OperationType = "INITIAL_TEST"
	OpFabricationTest      OperationType = "FABRICATION_TEST"
	OpHardwareVerification OperationType = "HARDWARE_VERIFICATION"
	OpConfiguration        OperationType = "CONFIGURATION"
	OpPreTest              OperationType = "PRE_TEST"
	OpRepair               OperationType = "REPAIR"
	OpFinalTest            OperationType = "FINAL_TEST"
	OpQualityCheck         OperationType = "QUALITY_CHECK"
)

func (t OperationType) Valid() bool {
	switch t {
	case OpInitialTest, OpFabricationTest, OpHardwareVerification, OpConfiguration,
		OpPreTest, OpRepair, OpFinalTest, OpQualityCheck:
		return true
	}
	return false
}

// TerminalTest reports whether a completed operation of this type can move
// the parent issue to REPAIRED.
func (t OperationType) TerminalTest() bool {
	return t == OpFinalTest || t == OpQualityCheck
}

type OperationStatus string

const (
	OpPending    OperationStatus = "PENDING"
	OpInProgress OperationStatus = "IN_PROGRESS"
	OpCompleted  OperationStatus = "COMPLETED"
	OpCancelled  OperationStatus = "CANCELLED"
)

func (s OperationStatus) Valid() bool {
	switch s {
	case OpPending, OpInProgress, OpCompleted, OpCancelled:
		return true
	}
	return false
}

// Open reports whether the operation still blocks issue completion.
func (s OperationStatus) Open() bool {
	return s == OpPending || s == OpInProgress
}

type Product struct {
	ID           string        `json:"id"`
	SerialNumber string        `json:"serial_number"`
	Status       ProductStatus `json:"status"`
	LocationID   *string       `json:"location_id,omitempty"`
	CreatedAt    string        `json:"created_at" format:"date-time"`
}

type Issue struct {
	ID              string        `json:"id"`
	IssueNumber     string        `json:"issue_number"`
	Source          IssueSource   `json:"source"`
	Status          IssueStatus   `json:"status"`
	Priority        IssuePriority `json:"priority"`
	IsUnderWarranty bool          `json:"is_under_warranty"`
	EstimatedCost   *float64      `json:"estimated_cost,omitempty"`
	ActualCost      *float64      `json:"actual_cost,omitempty"`
	CreatedBy       string        `json:"created_by"`
	CreatedAt       string        `json:"created_at" format:"date-time"`
	UpdatedAt       string        `json:"updated_at" format:"date-time"`
}

// IssueProduct links a product to an issue; Position keeps the attach order.
type IssueProduct struct {
	ID        string `json:"id"`
	IssueID   string `json:"issue_id"`
	ProductID string `json:"product_id"`
	Position  int    `json:"position"`
}

type ServiceOperation struct {
	ID              string          `json:"id"`
	IssueID         string          `json:"issue_id"`
	IssueProductID  *string         `json:"issue_product_id,omitempty"`
	Type            OperationType   `json:"operation_type"`
	Status          OperationStatus `json:"status"`
	Description     string          `json:"description"`
	Findings        *string         `json:"findings,omitempty"`
	ActionsTaken    *string         `json:"actions_taken,omitempty"`
	IsUnderWarranty bool            `json:"is_under_warranty"`
	Cost            *float64        `json:"cost,omitempty"`
	DurationMinutes *int            `json:"duration_minutes,omitempty"`
	PerformedBy     string          `json:"performed_by"`
	PerformedAt     string          `json:"performed_at" format:"date-time"`
}

// RepairSummary is derived from an issue's operations, never stored.
type RepairSummary struct {
	IssueID         string  `json:"issue_id"`
	TotalCost       float64 `json:"total_cost"`
	TotalDuration   int     `json:"total_duration"`
	IsUnderWarranty bool    `json:"is_under_warranty"`
	CompletedBy     string  `json:"completed_by"`
}

// TechnicianPerformance aggregates operations per performer over a date range.
type TechnicianPerformance struct {
	PerformedBy         string  `json:"performed_by"`
	TotalOperations     int     `json:"total_operations"`
	CompletedOperations int     `json:"completed_operations"`
	TotalCost           float64 `json:"total_cost"`
	TotalDuration       int     `json:"total_duration"`
	AverageDuration     float64 `json:"average_duration"`
	CompletionRate      float64 `json:"completion_rate"`
}

type NotificationType string

const (
	NotifySuccess  NotificationType = "success"
	NotifyError    NotificationType = "error"
	NotifyWarning  NotificationType = "warning"
	NotifyInfo     NotificationType = "info"
	NotifyCritical NotificationType = "critical"
)

func (t NotificationType) Valid() bool {
	switch t {
	case NotifySuccess, NotifyError, NotifyWarning, NotifyInfo, NotifyCritical:
		return true
	}
	return false
}

type NotificationPriority string

const (
	NotifyPriorityLow      NotificationPriority = "low"
	NotifyPriorityMedium   NotificationPriority = "medium"
	NotifyPriorityHigh     NotificationPriority = "high"
	NotifyPriorityCritical NotificationPriority = "critical"
)

func (p NotificationPriority) Valid() bool {
	switch p {
	case NotifyPriorityLow, NotifyPriorityMedium, NotifyPriorityHigh, NotifyPriorityCritical:
		return true
	}
	return false
}

type Notification struct {
	ID           string               `json:"id"`
	Title        string               `json:"title"`
	Message      string               `json:"message"`
	Type         NotificationType     `json:"type"`
	Priority     NotificationPriority `json:"priority"`
	Category     string               `json:"category"`
	Read         bool                 `json:"read"`
	CreatedAt    string               `json:"created_at" format:"date-time"`
	ExpiresAt    *string              `json:"expires_at,omitempty" format:"date-time"`
	TargetUserID *string              `json:"target_user_id,omitempty"`
	CreatedBy    string               `json:"created_by"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	IssueID    string `json:"issue_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
