package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	gocache "github.com/patrickmn/go-cache"

	"repairdesk/internal/domain"
	"repairdesk/internal/notify"
	"repairdesk/internal/repo"
	"repairdesk/internal/workflow"
)

// Config for the HTTP API handler.
type Config struct {
	Engine     workflow.Engine
	Dispatcher *notify.Dispatcher
	Registry   *notify.Registry
	BasePath   string
	Auth       AuthConfig
	// Dashboard responses are cached this long; zero disables caching.
	DashboardCacheSeconds int
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"missing_terminal_test"`
	Message string         `json:"message" example:"no completed FINAL_TEST or QUALITY_CHECK on issue"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Repairdesk API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Repairdesk API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerProducts(group, cfg.Engine)
	registerIssues(group, cfg.Engine)
	registerOperations(group, cfg.Engine)
	registerWorkflow(group, cfg.Engine)
	registerSummary(group, cfg.Engine)
	registerPerformance(group, cfg.Engine)
	registerNotifications(group, cfg.Engine, cfg.Dispatcher)
	registerDashboard(group, cfg.Engine, cfg.Registry, cfg.DashboardCacheSeconds)
	registerEvents(group, cfg.Engine)
	registerWS(router, basePath, cfg.Registry)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	details := map[string]any(nil)
	var se workflow.WorkflowStepError
	if errors.As(err, &se) {
		details = map[string]any{"step": se.Step}
	}
	var rej workflow.Rejection
	if errors.As(err, &rej) {
		switch rej.Reason {
		case workflow.ReasonIssueTerminal:
			return newAPIError(http.StatusConflict, "issue_terminal", err.Error(), details)
		case workflow.ReasonMissingTerminalTest:
			return newAPIError(http.StatusUnprocessableEntity, "missing_terminal_test", err.Error(), details)
		default:
			return newAPIError(http.StatusConflict, "invalid_operation_sequence", err.Error(), details)
		}
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required") || strings.Contains(lowered, "must not"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, details)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func bodyBytes(ctx context.Context) []byte {
	b, _ := ctx.Value(bodyBytesKey{}).([]byte)
	return b
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Repairdesk API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerProducts(api huma.API, e workflow.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-product",
		Method:        http.MethodPost,
		Path:          "/products",
		Summary:       "Register product",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateProductRequest `json:"body"`
	}) (*struct {
		Body ProductResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		p, err := e.CreateProduct(ctx, input.Body.SerialNumber, domain.ProductStatus(input.Body.Status), input.Body.LocationID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProductResponse `json:"body"`
		}{Body: productResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-product",
		Method:      http.MethodGet,
		Path:        "/products/{product_id}",
		Summary:     "Get product",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProductID string `path:"product_id"`
	}) (*struct {
		Body ProductResponse `json:"body"`
	}, error) {
		p, err := e.Repo.GetProduct(ctx, input.ProductID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProductResponse `json:"body"`
		}{Body: productResponse(p)}, nil
	})
}

func registerIssues(api huma.API, e workflow.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-issue",
		Method:        http.MethodPost,
		Path:          "/issues",
		Summary:       "Open repair issue",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body CreateIssueRequest `json:"body"`
	}) (*struct {
		Body IssueResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		i, err := e.CreateIssue(ctx, workflow.IssueCreateOptions{
			Source:          domain.IssueSource(input.Body.Source),
			Priority:        domain.IssuePriority(input.Body.Priority),
			IsUnderWarranty: input.Body.IsUnderWarranty,
			EstimatedCost:   input.Body.EstimatedCost,
			ProductIDs:      input.Body.ProductIDs,
			ActorID:         actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IssueResponse `json:"body"`
		}{Body: issueResponse(i)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-issues",
		Method:      http.MethodGet,
		Path:        "/issues",
		Summary:     "List issues",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status          string `query:"status" enum:"OPEN,IN_PROGRESS,WAITING_CUSTOMER_APPROVAL,REPAIRED,CLOSED,CANCELLED" required:"false"`
		Source          string `query:"source" enum:"CUSTOMER,TSP,FIRST_PRODUCTION" required:"false"`
		Priority        string `query:"priority" enum:"LOW,MEDIUM,HIGH,CRITICAL" required:"false"`
		Limit           int    `query:"limit" minimum:"1" maximum:"200" required:"false"`
		CursorCreatedAt string `query:"cursor_created_at" required:"false"`
		CursorID        string `query:"cursor_id" required:"false"`
	}) (*struct {
		Body []IssueResponse `json:"body"`
	}, error) {
		limit := input.Limit
		if limit == 0 {
			limit = 50
		}
		items, err := e.Repo.ListIssues(ctx, repo.IssueFilters{
			Status:          input.Status,
			Source:          input.Source,
			Priority:        input.Priority,
			Limit:           limit,
			CursorCreatedAt: input.CursorCreatedAt,
			CursorID:        input.CursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []IssueResponse `json:"body"`
		}{Body: mapIssues(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-issue",
		Method:      http.MethodGet,
		Path:        "/issues/{issue_id}",
		Summary:     "Get issue",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		IssueID string `path:"issue_id"`
	}) (*struct {
		Body IssueResponse `json:"body"`
	}, error) {
		i, err := e.Repo.GetIssue(ctx, input.IssueID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IssueResponse `json:"body"`
		}{Body: issueResponse(i)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-issue-status",
		Method:      http.MethodPatch,
		Path:        "/issues/{issue_id}/status",
		Summary:     "Transition issue status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		IssueID string                `path:"issue_id"`
		Body    SetIssueStatusRequest `json:"body"`
	}) (*struct {
		Body IssueResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		i, err := e.SetIssueStatus(ctx, input.IssueID, domain.IssueStatus(input.Body.Status), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IssueResponse `json:"body"`
		}{Body: issueResponse(i)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "attach-product",
		Method:        http.MethodPost,
		Path:          "/issues/{issue_id}/products",
		Summary:       "Attach product to issue",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		IssueID string               `path:"issue_id"`
		Body    AttachProductRequest `json:"body"`
	}) (*struct {
		Body IssueResponse `json:"body"`
	}, error) {
		if input.Body.ProductID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "product_id is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		i, err := e.AttachProduct(ctx, input.IssueID, input.Body.ProductID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IssueResponse `json:"body"`
		}{Body: issueResponse(i)}, nil
	})
}

func registerOperations(api huma.API, e workflow.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-operation",
		Method:        http.MethodPost,
		Path:          "/issues/{issue_id}/operations",
		Summary:       "Record service operation",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		IssueID string                 `path:"issue_id"`
		Body    CreateOperationRequest `json:"body"`
	}) (*struct {
		Body struct {
			Operation OperationResponse `json:"operation"`
			Issue     IssueResponse     `json:"issue"`
		} `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		op, i, err := e.CreateOperation(ctx, operationOptions(input.IssueID, input.Body, actorID))
		if err != nil {
			return nil, handleError(err)
		}
		res := &struct {
			Body struct {
				Operation OperationResponse `json:"operation"`
				Issue     IssueResponse     `json:"issue"`
			} `json:"body"`
		}{}
		res.Body.Operation = operationResponse(op)
		res.Body.Issue = issueResponse(i)
		return res, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-operations",
		Method:      http.MethodGet,
		Path:        "/issues/{issue_id}/operations",
		Summary:     "List issue operations",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		IssueID string `path:"issue_id"`
	}) (*struct {
		Body []OperationResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetIssue(ctx, input.IssueID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListOperations(ctx, nil, input.IssueID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []OperationResponse `json:"body"`
		}{Body: mapOperations(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-operation",
		Method:      http.MethodGet,
		Path:        "/operations/{operation_id}",
		Summary:     "Get operation",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OperationID string `path:"operation_id"`
	}) (*struct {
		Body OperationResponse `json:"body"`
	}, error) {
		op, err := e.Repo.GetOperation(ctx, input.OperationID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OperationResponse `json:"body"`
		}{Body: operationResponse(op)}, nil
	})
}

func operationOptions(issueID string, req CreateOperationRequest, actorID string) workflow.OperationCreateOptions {
	return workflow.OperationCreateOptions{
		IssueID:         issueID,
		IssueProductID:  req.IssueProductID,
		Type:            domain.OperationType(req.OperationType),
		Status:          domain.OperationStatus(req.Status),
		Description:     req.Description,
		Findings:        req.Findings,
		ActionsTaken:    req.ActionsTaken,
		IsUnderWarranty: req.IsUnderWarranty,
		Cost:            req.Cost,
		DurationMinutes: req.DurationMinutes,
		ActorID:         actorID,
	}
}

func registerWorkflow(api huma.API, e workflow.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-workflow",
		Method:        http.MethodPost,
		Path:          "/issues/{issue_id}/workflow",
		Summary:       "Apply operation batch atomically",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		IssueID string                `path:"issue_id"`
		Body    CreateWorkflowRequest `json:"body"`
	}) (*struct {
		Body WorkflowResponse `json:"body"`
	}, error) {
		if len(input.Body.Operations) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "operations is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		steps := make([]workflow.OperationCreateOptions, 0, len(input.Body.Operations))
		for _, op := range input.Body.Operations {
			steps = append(steps, operationOptions(input.IssueID, op, actorID))
		}
		ops, i, err := e.CreateWorkflow(ctx, input.IssueID, steps, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkflowResponse `json:"body"`
		}{Body: WorkflowResponse{Issue: issueResponse(i), Operations: mapOperations(ops)}}, nil
	})
}

func registerSummary(api huma.API, e workflow.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "repair-summary",
		Method:      http.MethodGet,
		Path:        "/issues/{issue_id}/summary",
		Summary:     "Repair completion summary",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		IssueID string `path:"issue_id"`
	}) (*struct {
		Body RepairSummaryResponse `json:"body"`
	}, error) {
		s, err := e.RepairSummary(ctx, input.IssueID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RepairSummaryResponse `json:"body"`
		}{Body: RepairSummaryResponse{
			IssueID:         s.IssueID,
			TotalCost:       s.TotalCost,
			TotalDuration:   s.TotalDuration,
			IsUnderWarranty: s.IsUnderWarranty,
			CompletedBy:     s.CompletedBy,
		}}, nil
	})
}

func registerPerformance(api huma.API, e workflow.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "technician-performance",
		Method:      http.MethodGet,
		Path:        "/performance",
		Summary:     "Technician performance metrics",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		PerformedBy string `query:"performed_by" required:"false"`
		DateFrom    string `query:"date_from" required:"false" format:"date-time"`
		DateTo      string `query:"date_to" required:"false" format:"date-time"`
	}) (*struct {
		Body []TechnicianPerformanceResponse `json:"body"`
	}, error) {
		items, err := e.TechnicianPerformance(ctx, repo.PerformanceFilters{
			PerformedBy: input.PerformedBy,
			DateFrom:    input.DateFrom,
			DateTo:      input.DateTo,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TechnicianPerformanceResponse `json:"body"`
		}{Body: mapPerformance(items)}, nil
	})
}

func registerNotifications(api huma.API, e workflow.Engine, d *notify.Dispatcher) {
	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/notifications",
		Summary:     "List my notifications",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		UnreadOnly      bool   `query:"unread_only" required:"false"`
		Limit           int    `query:"limit" minimum:"1" maximum:"200" required:"false"`
		CursorCreatedAt string `query:"cursor_created_at" required:"false"`
		CursorID        string `query:"cursor_id" required:"false"`
	}) (*struct {
		Body []NotificationResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		limit := input.Limit
		if limit == 0 {
			limit = 50
		}
		items, err := e.Repo.ListNotifications(ctx, repo.NotificationFilters{
			TargetUserID:    actorID,
			UnreadOnly:      input.UnreadOnly,
			Limit:           limit,
			CursorCreatedAt: input.CursorCreatedAt,
			CursorID:        input.CursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []NotificationResponse `json:"body"`
		}{Body: mapNotifications(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unread-count",
		Method:      http.MethodGet,
		Path:        "/notifications/unread-count",
		Summary:     "Count my unread notifications",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]int `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.Repo.CountUnreadNotifications(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]int `json:"body"`
		}{Body: map[string]int{"unread": n}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-notification-read",
		Method:      http.MethodPost,
		Path:        "/notifications/{notification_id}/read",
		Summary:     "Mark notification read",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		NotificationID string `path:"notification_id"`
	}) (*struct {
		Body NotificationResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.MarkNotificationRead(ctx, input.NotificationID, actorID); err != nil {
			return nil, handleError(err)
		}
		n, err := e.Repo.GetNotification(ctx, input.NotificationID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body NotificationResponse `json:"body"`
		}{Body: notificationResponse(n)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-notification",
		Method:      http.MethodDelete,
		Path:        "/notifications/{notification_id}",
		Summary:     "Delete notification",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		NotificationID string `path:"notification_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.DeleteNotification(ctx, input.NotificationID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "test-notification",
		Method:      http.MethodPost,
		Path:        "/notifications/test",
		Summary:     "Send manual notification",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body TestNotificationRequest `json:"body"`
	}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		if input.Body.Title == "" || input.Body.Message == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title and message are required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n := domain.Notification{
			Title:     input.Body.Title,
			Message:   input.Body.Message,
			Type:      domain.NotifyInfo,
			Priority:  domain.NotifyPriorityMedium,
			Category:  input.Body.Category,
			CreatedBy: actorID,
		}
		if input.Body.Type != "" {
			n.Type = domain.NotificationType(input.Body.Type)
		}
		if input.Body.Priority != "" {
			n.Priority = domain.NotificationPriority(input.Body.Priority)
		}
		if !n.Type.Valid() || !n.Priority.Valid() {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid type or priority", nil)
		}
		target := notify.Target{All: true}
		switch {
		case input.Body.TargetUserID != nil:
			target = notify.Target{UserID: *input.Body.TargetUserID}
		case input.Body.TargetRole != nil:
			target = notify.Target{Role: *input.Body.TargetRole}
		}
		sent, err := d.Dispatch(ctx, n, []notify.Target{target})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{"message": "notification dispatched", "sent_to": sent}}, nil
	})
}

func registerDashboard(api huma.API, e workflow.Engine, reg *notify.Registry, cacheSeconds int) {
	var cache *gocache.Cache
	if cacheSeconds > 0 {
		ttl := time.Duration(cacheSeconds) * time.Second
		cache = gocache.New(ttl, 2*ttl)
	}
	huma.Register(api, huma.Operation{
		OperationID: "dashboard",
		Method:      http.MethodGet,
		Path:        "/dashboard",
		Summary:     "Workshop dashboard counters",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body DashboardResponse `json:"body"`
	}, error) {
		if cache != nil {
			if v, ok := cache.Get("dashboard"); ok {
				body := v.(DashboardResponse)
				return &struct {
					Body DashboardResponse `json:"body"`
				}{Body: body}, nil
			}
		}
		issues, err := e.Repo.CountIssuesByStatus(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		products, err := e.Repo.CountProductsByStatus(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		body := DashboardResponse{
			IssuesByStatus:   issues,
			ProductsByStatus: products,
		}
		if reg != nil {
			body.ConnectedClients = reg.Count()
			body.ClientsByRole = reg.CountByRole()
		}
		if cache != nil {
			cache.SetDefault("dashboard", body)
		}
		return &struct {
			Body DashboardResponse `json:"body"`
		}{Body: body}, nil
	})
}

func registerEvents(api huma.API, e workflow.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List audit events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		IssueID string `query:"issue_id" required:"false"`
		AfterID int64  `query:"after_id" required:"false"`
		Limit   int    `query:"limit" minimum:"1" maximum:"500" required:"false"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		limit := input.Limit
		if limit == 0 {
			limit = 100
		}
		items, err := e.Repo.ListEvents(ctx, repo.EventFilters{
			IssueID: input.IssueID,
			AfterID: input.AfterID,
			Limit:   limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]EventResponse, 0, len(items))
		for _, ev := range items {
			var payload map[string]any
			_ = json.Unmarshal([]byte(ev.Payload), &payload)
			out = append(out, EventResponse{
				ID:         ev.ID,
				TS:         ev.TS,
				Type:       ev.Type,
				IssueID:    ev.IssueID,
				EntityKind: ev.EntityKind,
				EntityID:   ev.EntityID,
				ActorID:    ev.ActorID,
				Payload:    payload,
			})
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: out}, nil
	})
}
