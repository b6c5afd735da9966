package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gorillaws "github.com/gorilla/websocket"

	"repairdesk/internal/config"
	"repairdesk/internal/db"
	"repairdesk/internal/notify"
	"repairdesk/internal/repo"
	"repairdesk/internal/workflow"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("workshop-1")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	registry := notify.NewRegistry()
	dispatcher := &notify.Dispatcher{
		Repo:        repo.Repo{DB: conn},
		Registry:    registry,
		ExpiryHours: cfg.Notifications.DefaultExpiryHours,
	}
	e := workflow.New(conn, cfg)
	e.Emit = dispatcher.Notify
	handler, err := New(Config{
		Engine:     e,
		Dispatcher: dispatcher,
		Registry:   registry,
		BasePath:   "/v1",
		Auth:       AuthConfig{JWTSecret: testSecret},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func mintToken(t *testing.T, sub, role string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  sub,
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func doJSON(t *testing.T, client *http.Client, method, url, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestUnauthorizedWithoutToken(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/issues", "", nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", "", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health must not require auth, got %d", res.StatusCode)
	}
}

func TestRepairFlowOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	token := mintToken(t, "tech-1", "TECHNICIAN")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/products", token, map[string]any{
		"serial_number": "SN-100",
		"status":        "RECEIVED",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create product: %d %s", res.StatusCode, string(data))
	}
	var product struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(data, &product)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/issues", token, map[string]any{
		"source":      "CUSTOMER",
		"priority":    "HIGH",
		"product_ids": []string{product.ID},
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create issue: %d %s", res.StatusCode, string(data))
	}
	var issue struct {
		ID          string `json:"id"`
		IssueNumber string `json:"issue_number"`
		Status      string `json:"status"`
	}
	_ = json.Unmarshal(data, &issue)
	if issue.Status != "OPEN" {
		t.Fatalf("issue status %s", issue.Status)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/issues/"+issue.ID+"/workflow", token, map[string]any{
		"operations": []map[string]any{
			{"operation_type": "REPAIR", "status": "COMPLETED", "description": "board swap", "cost": 250, "duration_minutes": 120},
			{"operation_type": "FINAL_TEST", "status": "COMPLETED", "description": "full test"},
		},
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("workflow: %d %s", res.StatusCode, string(data))
	}
	var wf struct {
		Issue struct {
			Status string `json:"status"`
		} `json:"issue"`
	}
	_ = json.Unmarshal(data, &wf)
	if wf.Issue.Status != "REPAIRED" {
		t.Fatalf("expected REPAIRED, got %s", wf.Issue.Status)
	}

	// further operations are rejected with a conflict
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/issues/"+issue.ID+"/operations", token, map[string]any{
		"operation_type": "REPAIR", "status": "COMPLETED", "description": "late",
	})
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	_ = json.Unmarshal(data, &envelope)
	if envelope.Error.Code != "invalid_operation_sequence" {
		t.Fatalf("error code %q", envelope.Error.Code)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/issues/"+issue.ID+"/summary", token, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("summary: %d %s", res.StatusCode, string(data))
	}
	var summary struct {
		TotalCost     float64 `json:"total_cost"`
		TotalDuration int     `json:"total_duration"`
	}
	_ = json.Unmarshal(data, &summary)
	if summary.TotalCost != 250 || summary.TotalDuration != 120 {
		t.Fatalf("summary %+v", summary)
	}
}

func TestMissingTerminalTestOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	token := mintToken(t, "tech-1", "TECHNICIAN")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/issues", token, map[string]any{"source": "TSP"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create issue: %d %s", res.StatusCode, string(data))
	}
	var issue struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(data, &issue)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/issues/"+issue.ID+"/operations", token, map[string]any{
		"operation_type": "REPAIR", "status": "COMPLETED", "description": "fixed",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("repair op: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v1/issues/"+issue.ID+"/status", token, map[string]any{
		"status": "REPAIRED",
	})
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	_ = json.Unmarshal(data, &envelope)
	if envelope.Error.Code != "missing_terminal_test" {
		t.Fatalf("error code %q", envelope.Error.Code)
	}
}

func TestWebsocketPush(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	adminToken := mintToken(t, "admin-1", "ADMIN")
	wsURL := "ws" + srv.URL[len("http"):] + "/v1/ws?token=" + adminToken
	conn, _, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	defer conn.Close()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/notifications/test", adminToken, map[string]any{
		"title":       "ping",
		"message":     "hello admins",
		"target_role": "ADMIN",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("test notification: %d %s", res.StatusCode, string(data))
	}
	var out struct {
		SentTo int `json:"sent_to"`
	}
	_ = json.Unmarshal(data, &out)
	if out.SentTo != 1 {
		t.Fatalf("sent_to %d", out.SentTo)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame struct {
		Event string `json:"event"`
		Data  struct {
			Title string `json:"title"`
		} `json:"data"`
	}
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if frame.Event != "notification" || frame.Data.Title != "ping" {
		t.Fatalf("frame %+v", frame)
	}
}

func TestWebsocketRequiresToken(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	wsURL := "ws" + srv.URL[len("http"):] + "/v1/ws"
	_, res, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected dial failure without token")
	}
	if res == nil || res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 handshake response, got %+v", res)
	}
}
