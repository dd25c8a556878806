package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/swiftcheck/qcflow/internal/config"
	"github.com/swiftcheck/qcflow/internal/notify"
	"github.com/swiftcheck/qcflow/internal/respcache"
	"github.com/swiftcheck/qcflow/internal/template"
	"github.com/swiftcheck/qcflow/internal/throttle"
	"github.com/swiftcheck/qcflow/internal/workflow"
	"github.com/swiftcheck/qcflow/model"
)

// testAuth injects fixed claims the way the JWT middleware would.
func testAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithClaims(r.Context(), map[string]any{
			"sub":       "user-1",
			"tenant_id": "tenant-a",
			"roles":     []any{"QC Supervisor"},
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type testServer struct {
	router    http.Handler
	store     *workflow.MemoryStore
	generated int
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := config.Defaults()
	cfg.Throttle.Enabled = false

	store := workflow.NewMemoryStore()
	engine := workflow.NewEngine(store, cfg.Workflow.Chain, notify.NoopNotifier{}, zap.NewNop())
	cache := respcache.NewMemoryCache()

	srv := &testServer{store: store}
	inner := template.GeneratorFunc(func(_ context.Context, _ *model.RequestContext, in template.Input) (template.Result, error) {
		srv.generated++
		return template.Result{Template: map[string]any{"title": in.ProductName}}, nil
	})

	srv.router = NewRouter(Dependencies{
		Config:       cfg,
		Logger:       zap.NewNop(),
		Engine:       engine,
		Generator:    template.NewCachedGenerator(inner, cache, cfg.Cache.KeyPrefix, cfg.Cache.DefaultTTL, zap.NewNop()),
		Cache:        cache,
		Authenticate: testAuth,
	})
	return srv
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeJSON[map[string]map[string]any](t, rec)
	code, _ := body["error"]["code"].(string)
	return code
}

func TestWorkflowCreateEndpoint(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/api/workflows", map[string]any{
		"requestId":        "req_1",
		"templateSnapshot": map[string]any{"title": "SOP-42"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body = %s", rec.Code, rec.Body)
	}

	wf := decodeJSON[model.Workflow](t, rec)
	if wf.CurrentStage != model.StageQCReview || wf.Status != model.StatusPending {
		t.Errorf("workflow = %s/%s", wf.CurrentStage, wf.Status)
	}
	if wf.TenantID != "tenant-a" {
		t.Errorf("tenantId = %s, want claim tenant", wf.TenantID)
	}
}

func TestWorkflowCreateValidation(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/api/workflows", map[string]any{})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	if code := errorCode(t, rec); code != model.ErrValidationError {
		t.Errorf("code = %s", code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/workflows", strings.NewReader("{not json"))
	badRec := httptest.NewRecorder()
	srv.router.ServeHTTP(badRec, req)
	if badRec.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", badRec.Code)
	}
}

func TestApprovalLifecycleEndpoints(t *testing.T) {
	srv := newTestServer(t)

	created := decodeJSON[model.Workflow](t, srv.do(t, http.MethodPost, "/api/workflows", map[string]any{
		"requestId": "req_1",
	}))

	rec := srv.do(t, http.MethodPost, "/api/workflows/"+created.ID+"/approvals", map[string]any{
		"decision": "approved",
		"comments": "fine",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", rec.Code, rec.Body)
	}
	wf := decodeJSON[model.Workflow](t, rec)
	if wf.CurrentStage != model.StageManagerApproval {
		t.Errorf("currentStage = %s, want manager_approval", wf.CurrentStage)
	}

	rec = srv.do(t, http.MethodPost, "/api/workflows/"+created.ID+"/approvals", map[string]any{
		"decision": "rejected",
		"comments": "missing data",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("reject status = %d; body = %s", rec.Code, rec.Body)
	}
	wf = decodeJSON[model.Workflow](t, rec)
	if wf.Status != model.StatusRejected {
		t.Errorf("status = %s, want rejected", wf.Status)
	}

	// Terminal workflow: 409 with WORKFLOW_NOT_PENDING.
	rec = srv.do(t, http.MethodPost, "/api/workflows/"+created.ID+"/approvals", map[string]any{
		"decision": "approved",
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("resubmission status = %d, want 409", rec.Code)
	}
	if code := errorCode(t, rec); code != model.ErrWorkflowNotPending {
		t.Errorf("code = %s, want WORKFLOW_NOT_PENDING", code)
	}
}

func TestApprovalUnknownWorkflow(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/api/workflows/wf_missing/approvals", map[string]any{
		"decision": "approved",
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if code := errorCode(t, rec); code != model.ErrWorkflowNotFound {
		t.Errorf("code = %s, want WORKFLOW_NOT_FOUND", code)
	}
}

func TestPendingApprovalsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	srv.do(t, http.MethodPost, "/api/workflows", map[string]any{"requestId": "req_1"})
	srv.do(t, http.MethodPost, "/api/workflows", map[string]any{"requestId": "req_2"})

	rec := srv.do(t, http.MethodGet, "/api/approvals/pending?role=QC+Supervisor", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rec.Code, rec.Body)
	}
	body := decodeJSON[struct {
		Approvals []model.PendingApproval `json:"approvals"`
		Count     int                     `json:"count"`
	}](t, rec)
	if body.Count != 2 || len(body.Approvals) != 2 {
		t.Errorf("count = %d, approvals = %d; want 2", body.Count, len(body.Approvals))
	}

	// Missing role is a validation error.
	rec = srv.do(t, http.MethodGet, "/api/approvals/pending", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", rec.Code)
	}
}

func TestGenerateEndpointMemoizes(t *testing.T) {
	srv := newTestServer(t)
	body := map[string]any{
		"docType":      "sop",
		"productName":  "Widget",
		"supplierName": "Acme",
		"userMessage":  "draft it",
	}

	first := decodeJSON[template.Result](t, srv.do(t, http.MethodPost, "/api/generate", body))
	if first.Cached {
		t.Error("first generation marked cached")
	}
	second := decodeJSON[template.Result](t, srv.do(t, http.MethodPost, "/api/generate", body))
	if !second.Cached {
		t.Error("second generation not served from cache")
	}
	if srv.generated != 1 {
		t.Errorf("generator calls = %d, want 1", srv.generated)
	}

	// Missing required fields.
	rec := srv.do(t, http.MethodPost, "/api/generate", map[string]any{})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", rec.Code)
	}
}

func TestCacheEndpoints(t *testing.T) {
	srv := newTestServer(t)
	body := map[string]any{"docType": "sop", "productName": "Widget"}
	srv.do(t, http.MethodPost, "/api/generate", body)

	stats := decodeJSON[respcache.Stats](t, srv.do(t, http.MethodGet, "/api/cache/stats", nil))
	if stats.EntryCount != 1 {
		t.Errorf("entryCount = %d, want 1", stats.EntryCount)
	}

	cleared := decodeJSON[map[string]int](t, srv.do(t, http.MethodPost, "/api/cache/clear", nil))
	if cleared["cleared"] != 1 {
		t.Errorf("cleared = %d, want 1", cleared["cleared"])
	}

	stats = decodeJSON[respcache.Stats](t, srv.do(t, http.MethodGet, "/api/cache/stats", nil))
	if stats.EntryCount != 0 {
		t.Errorf("entryCount after clear = %d, want 0", stats.EntryCount)
	}
}

func TestPublishedTemplateEndpoint(t *testing.T) {
	srv := newTestServer(t)

	created := decodeJSON[model.Workflow](t, srv.do(t, http.MethodPost, "/api/workflows", map[string]any{
		"requestId":        "req_1",
		"templateSnapshot": map[string]any{"title": "SOP-42"},
	}))
	srv.do(t, http.MethodPost, "/api/workflows/"+created.ID+"/approvals", map[string]any{"decision": "approved"})
	srv.do(t, http.MethodPost, "/api/workflows/"+created.ID+"/approvals", map[string]any{"decision": "approved"})

	rec := srv.do(t, http.MethodGet, "/api/templates/req_1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rec.Code, rec.Body)
	}
	tpl := decodeJSON[model.PublishedTemplate](t, rec)
	if tpl.ID != "published_req_1" || tpl.Status != "published" {
		t.Errorf("template = %+v", tpl)
	}

	if rec := srv.do(t, http.MethodGet, "/api/templates/req_other", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown template status = %d, want 404", rec.Code)
	}
}

func TestThrottleMiddlewareEnforcesLimit(t *testing.T) {
	cfg := config.Defaults()
	cfg.Throttle.Endpoints["/generate"] = config.EndpointLimit{MaxRequests: 2, Window: time.Minute}

	store := workflow.NewMemoryStore()
	engine := workflow.NewEngine(store, cfg.Workflow.Chain, notify.NoopNotifier{}, zap.NewNop())
	guard := throttle.NewGuard(throttle.NewMemoryCounter(), cfg.Throttle, zap.NewNop())
	cache := respcache.NewMemoryCache()

	router := NewRouter(Dependencies{
		Config: cfg,
		Engine: engine,
		Generator: template.GeneratorFunc(func(context.Context, *model.RequestContext, template.Input) (template.Result, error) {
			return template.Result{Template: map[string]any{}}, nil
		}),
		Cache:        cache,
		Guard:        guard,
		Authenticate: testAuth,
	})

	do := func(product string) *httptest.ResponseRecorder {
		body, _ := json.Marshal(map[string]any{"docType": "sop", "productName": product})
		req := httptest.NewRequest(http.MethodPost, "/api/generate", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		rec := do(fmt.Sprintf("product-%d", i))
		if rec.Code != http.StatusOK {
			t.Fatalf("call %d status = %d; body = %s", i+1, rec.Code, rec.Body)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "2" {
			t.Errorf("X-RateLimit-Limit = %q, want 2", got)
		}
	}

	rec := do("product-3")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429; body = %s", rec.Code, rec.Body)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", got)
	}
	if code := errorCode(t, rec); code != model.ErrRateLimited {
		t.Errorf("code = %s, want RATE_LIMITED", code)
	}
}

func TestHealthEndpointBypassesAuth(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", rec.Code)
	}
}
