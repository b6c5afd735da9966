package server

import (
	"repairdesk/internal/domain"
)

// Request payloads

type CreateProductRequest struct {
	SerialNumber string  `json:"serial_number"`
	Status       string  `json:"status,omitempty" enum:"FIRST_PRODUCTION,FIRST_PRODUCTION_ISSUE,FIRST_PRODUCTION_SCRAPPED,READY_FOR_SHIPMENT,SHIPPED,ISSUE_CREATED,RECEIVED,PRE_TEST_COMPLETED,UNDER_REPAIR,SERVICE_SCRAPPED,DELIVERED"`
	LocationID   *string `json:"location_id,omitempty"`
}

type CreateIssueRequest struct {
	Source          string   `json:"source" enum:"CUSTOMER,TSP,FIRST_PRODUCTION"`
	Priority        string   `json:"priority,omitempty" enum:"LOW,MEDIUM,HIGH,CRITICAL"`
	IsUnderWarranty bool     `json:"is_under_warranty,omitempty"`
	EstimatedCost   *float64 `json:"estimated_cost,omitempty"`
	ProductIDs      []string `json:"product_ids,omitempty"`
}

type SetIssueStatusRequest struct {
	Status string `json:"status" enum:"OPEN,IN_PROGRESS,WAITING_CUSTOMER_APPROVAL,REPAIRED,CLOSED,CANCELLED"`
}

type AttachProductRequest struct {
	ProductID string `json:"product_id"`
}

type CreateOperationRequest struct {
	IssueProductID  *string  `json:"issue_product_id,omitempty"`
	OperationType   string   `json:"operation_type" enum:"INITIAL_TEST,FABRICATION_TEST,HARDWARE_VERIFICATION,CONFIGURATION,PRE_TEST,REPAIR,FINAL_TEST,QUALITY_CHECK"`
	Status          string   `json:"status" enum:"PENDING,IN_PROGRESS,COMPLETED,CANCELLED"`
	Description     string   `json:"description"`
	Findings        *string  `json:"findings,omitempty"`
	ActionsTaken    *string  `json:"actions_taken,omitempty"`
	IsUnderWarranty bool     `json:"is_under_warranty,omitempty"`
	Cost            *float64 `json:"cost,omitempty"`
	DurationMinutes *int     `json:"duration_minutes,omitempty"`
}

type CreateWorkflowRequest struct {
	Operations []CreateOperationRequest `json:"operations"`
}

type TestNotificationRequest struct {
	Title        string  `json:"title"`
	Message      string  `json:"message"`
	Type         string  `json:"type,omitempty" enum:"success,error,warning,info,critical"`
	Priority     string  `json:"priority,omitempty" enum:"low,medium,high,critical"`
	Category     string  `json:"category,omitempty"`
	TargetUserID *string `json:"target_user_id,omitempty"`
	TargetRole   *string `json:"target_role,omitempty"`
}

// Response payloads

type ProductResponse struct {
	ID           string  `json:"id"`
	SerialNumber string  `json:"serial_number"`
	Status       string  `json:"status"`
	LocationID   *string `json:"location_id,omitempty"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
}

type IssueResponse struct {
	ID              string   `json:"id"`
	IssueNumber     string   `json:"issue_number"`
	Source          string   `json:"source"`
	Status          string   `json:"status"`
	Priority        string   `json:"priority"`
	IsUnderWarranty bool     `json:"is_under_warranty"`
	EstimatedCost   *float64 `json:"estimated_cost,omitempty"`
	ActualCost      *float64 `json:"actual_cost,omitempty"`
	CreatedBy       string   `json:"created_by"`
	CreatedAt       string   `json:"created_at" format:"date-time"`
	UpdatedAt       string   `json:"updated_at" format:"date-time"`
}

type IssueProductResponse struct {
	ID        string `json:"id"`
	IssueID   string `json:"issue_id"`
	ProductID string `json:"product_id"`
	Position  int    `json:"position"`
}

type OperationResponse struct {
	ID              string   `json:"id"`
	IssueID         string   `json:"issue_id"`
	IssueProductID  *string  `json:"issue_product_id,omitempty"`
	OperationType   string   `json:"operation_type"`
	Status          string   `json:"status"`
	Description     string   `json:"description"`
	Findings        *string  `json:"findings,omitempty"`
	ActionsTaken    *string  `json:"actions_taken,omitempty"`
	IsUnderWarranty bool     `json:"is_under_warranty"`
	Cost            *float64 `json:"cost,omitempty"`
	DurationMinutes *int     `json:"duration_minutes,omitempty"`
	PerformedBy     string   `json:"performed_by"`
	PerformedAt     string   `json:"performed_at" format:"date-time"`
}

type WorkflowResponse struct {
	Issue      IssueResponse       `json:"issue"`
	Operations []OperationResponse `json:"operations"`
}

type RepairSummaryResponse struct {
	IssueID         string  `json:"issue_id"`
	TotalCost       float64 `json:"total_cost"`
	TotalDuration   int     `json:"total_duration"`
	IsUnderWarranty bool    `json:"is_under_warranty"`
	CompletedBy     string  `json:"completed_by"`
}

type TechnicianPerformanceResponse struct {
	PerformedBy         string  `json:"performed_by"`
	TotalOperations     int     `json:"total_operations"`
	CompletedOperations int     `json:"completed_operations"`
	TotalCost           float64 `json:"total_cost"`
	TotalDuration       int     `json:"total_duration"`
	AverageDuration     float64 `json:"average_duration"`
	CompletionRate      float64 `json:"completion_rate"`
}

type NotificationResponse struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Message      string  `json:"message"`
	Type         string  `json:"type"`
	Priority     string  `json:"priority"`
	Category     string  `json:"category"`
	Read         bool    `json:"read"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	ExpiresAt    *string `json:"expires_at,omitempty" format:"date-time"`
	TargetUserID *string `json:"target_user_id,omitempty"`
	CreatedBy    string  `json:"created_by"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	IssueID    string         `json:"issue_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type DashboardResponse struct {
	IssuesByStatus   map[string]int `json:"issues_by_status"`
	ProductsByStatus map[string]int `json:"products_by_status"`
	ConnectedClients int            `json:"connected_clients"`
	ClientsByRole    map[string]int `json:"clients_by_role"`
}

func productResponse(p domain.Product) ProductResponse {
	return ProductResponse{
		ID:           p.ID,
		SerialNumber: p.SerialNumber,
		Status:       string(p.Status),
		LocationID:   p.LocationID,
		CreatedAt:    p.CreatedAt,
	}
}

func issueResponse(i domain.Issue) IssueResponse {
	return IssueResponse{
		ID:              i.ID,
		IssueNumber:     i.IssueNumber,
		Source:          string(i.Source),
		Status:          string(i.Status),
		Priority:        string(i.Priority),
		IsUnderWarranty: i.IsUnderWarranty,
		EstimatedCost:   i.EstimatedCost,
		ActualCost:      i.ActualCost,
		CreatedBy:       i.CreatedBy,
		CreatedAt:       i.CreatedAt,
		UpdatedAt:       i.UpdatedAt,
	}
}

func mapIssues(items []domain.Issue) []IssueResponse {
	out := make([]IssueResponse, 0, len(items))
	for _, i := range items {
		out = append(out, issueResponse(i))
	}
	return out
}

func operationResponse(op domain.ServiceOperation) OperationResponse {
	return OperationResponse{
		ID:              op.ID,
		IssueID:         op.IssueID,
		IssueProductID:  op.IssueProductID,
		OperationType:   string(op.Type),
		Status:          string(op.Status),
		Description:     op.Description,
		Findings:        op.Findings,
		ActionsTaken:    op.ActionsTaken,
		IsUnderWarranty: op.IsUnderWarranty,
		Cost:            op.Cost,
		DurationMinutes: op.DurationMinutes,
		PerformedBy:     op.PerformedBy,
		PerformedAt:     op.PerformedAt,
	}
}

func mapOperations(items []domain.ServiceOperation) []OperationResponse {
	out := make([]OperationResponse, 0, len(items))
	for _, op := range items {
		out = append(out, operationResponse(op))
	}
	return out
}

func notificationResponse(n domain.Notification) NotificationResponse {
	return NotificationResponse{
		ID:           n.ID,
		Title:        n.Title,
		Message:      n.Message,
		Type:         string(n.Type),
		Priority:     string(n.Priority),
		Category:     n.Category,
		Read:         n.Read,
		CreatedAt:    n.CreatedAt,
		ExpiresAt:    n.ExpiresAt,
		TargetUserID: n.TargetUserID,
		CreatedBy:    n.CreatedBy,
	}
}

func mapNotifications(items []domain.Notification) []NotificationResponse {
	out := make([]NotificationResponse, 0, len(items))
	for _, n := range items {
		out = append(out, notificationResponse(n))
	}
	return out
}

func mapPerformance(items []domain.TechnicianPerformance) []TechnicianPerformanceResponse {
	out := make([]TechnicianPerformanceResponse, 0, len(items))
	for _, t := range items {
		out = append(out, TechnicianPerformanceResponse{
			PerformedBy:         t.PerformedBy,
			TotalOperations:     t.TotalOperations,
			CompletedOperations: t.CompletedOperations,
			TotalCost:           t.TotalCost,
			TotalDuration:       t.TotalDuration,
			AverageDuration:     t.AverageDuration,
			CompletionRate:      t.CompletionRate,
		})
	}
	return out
}
