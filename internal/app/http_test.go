package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"fleetdesk/api/internal/auth"
	"fleetdesk/api/internal/config"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T) (http.Handler, *testEnv) {
	t.Helper()
	svc, env := newTestService(t)
	server := NewHTTPServer(svc, config.Config{
		JWTSecret:      testSecret,
		CORSOrigin:     "*",
		RequestTimeout: 5 * time.Second,
	}, zap.NewNop())
	return server.Handler(), env
}

func tokenFor(t *testing.T, op auth.Operator) string {
	t.Helper()
	token, err := auth.IssueToken([]byte(testSecret), op, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	return token
}

func withRole(role string) auth.Operator {
	op := testOperator
	op.Role = role
	return op
}

func doJSON(t *testing.T, h http.Handler, op *auth.Operator, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if op != nil {
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, *op))
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func doUpload(t *testing.T, h http.Handler, op auth.Operator, path, contentType string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="photo"; filename="photo.jpg"`)
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		t.Fatalf("CreatePart() error = %v", err)
	}
	_, _ = part.Write(data)
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, op))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeJSON[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return out
}

type errorBody struct {
	Code    string         `json:"code"`
	Error   string         `json:"error"`
	Details map[string]any `json:"details"`
}

func TestHealthEndpoint(t *testing.T) {
	h, _ := newTestServer(t)

	rr := doJSON(t, h, nil, http.MethodGet, "/api/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if body := decodeJSON[map[string]any](t, rr); body["ok"] != true {
		t.Fatalf("body = %v", body)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing X-Request-ID")
	}
}

func TestReadyEndpoint(t *testing.T) {
	h, env := newTestServer(t)

	rr := doJSON(t, h, nil, http.MethodGet, "/api/ready", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeJSON[map[string]any](t, rr)
	if body["status"] != "ready" {
		t.Fatalf("body = %v", body)
	}

	env.store.pingFn = func(context.Context) error { return errors.New("connection refused") }
	rr = doJSON(t, h, nil, http.MethodGet, "/api/ready", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
	body = decodeJSON[map[string]any](t, rr)
	checks, _ := body["checks"].(map[string]any)
	database, _ := checks["database"].(map[string]any)
	if body["status"] != "not_ready" || database["status"] != "error" {
		t.Fatalf("body = %v", body)
	}

	env.store.pingFn = nil
	env.redis.Close()
	rr = doJSON(t, h, nil, http.MethodGet, "/api/ready", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status with redis down = %d", rr.Code)
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	h, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Request-ID"); got != "req-123" {
		t.Fatalf("X-Request-ID = %q", got)
	}
}

func TestAuthentication(t *testing.T) {
	h, _ := newTestServer(t)

	rr := doJSON(t, h, nil, http.MethodGet, "/api/checklist-items", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("no token status = %d", rr.Code)
	}
	if body := decodeJSON[errorBody](t, rr); body.Code != "UNAUTHORIZED" {
		t.Fatalf("body = %+v", body)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/checklist-items", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d", rr.Code)
	}

	expired, err := auth.IssueToken([]byte(testSecret), testOperator, -time.Minute)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/api/checklist-items", nil)
	req.Header.Set("Authorization", "Bearer "+expired)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expired token status = %d", rr.Code)
	}
}

func TestRoleChecks(t *testing.T) {
	h, _ := newTestServer(t)
	viewer := withRole("viewer")
	operator := withRole("operator")
	supervisor := withRole("supervisor")

	if rr := doJSON(t, h, &viewer, http.MethodGet, "/api/checklist-items", nil); rr.Code != http.StatusOK {
		t.Fatalf("viewer read status = %d", rr.Code)
	}
	rr := doJSON(t, h, &viewer, http.MethodPost, "/api/departure-drafts", nil)
	if rr.Code != http.StatusForbidden || decodeJSON[errorBody](t, rr).Code != "FORBIDDEN" {
		t.Fatalf("viewer draft status = %d", rr.Code)
	}
	if rr := doJSON(t, h, &operator, http.MethodPatch, "/api/departure-sheets/42", map[string]any{"fuelPercentage": 30}); rr.Code != http.StatusForbidden {
		t.Fatalf("operator amend status = %d", rr.Code)
	}
	if rr := doJSON(t, h, &supervisor, http.MethodPatch, "/api/departure-sheets/42", map[string]any{"fuelPercentage": 30}); rr.Code != http.StatusNotFound {
		t.Fatalf("supervisor amend of missing sheet status = %d", rr.Code)
	}
}

func TestDepartureFlowOverHTTP(t *testing.T) {
	h, env := newTestServer(t)
	op := testOperator
	supervisor := withRole("supervisor")

	rr := doJSON(t, h, &op, http.MethodPost, "/api/departure-drafts", nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("open status = %d: %s", rr.Code, rr.Body.String())
	}
	draft := decodeJSON[DraftView](t, rr)
	base := "/api/departure-drafts/" + draft.ID

	rr = doJSON(t, h, &op, http.MethodPost, base+"/submit", nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("early submit status = %d", rr.Code)
	}
	if body := decodeJSON[errorBody](t, rr); body.Code != "VALIDATION_ERROR" || body.Details["platform"] == nil {
		t.Fatalf("validation body = %+v", body)
	}

	rr = doJSON(t, h, &op, http.MethodPatch, base+"/header", map[string]any{
		"platform":        "uber",
		"pilotId":         testPilotID,
		"vehicleId":       testVehicleID,
		"odometerReading": 1300,
		"fuelPercentage":  80,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("header status = %d: %s", rr.Code, rr.Body.String())
	}

	for i := 0; i < 5; i++ {
		if rr := doUpload(t, h, op, base+"/photos", "image/jpeg", []byte("jpeg")); rr.Code != http.StatusOK {
			t.Fatalf("upload %d status = %d: %s", i, rr.Code, rr.Body.String())
		}
	}
	if rr := doUpload(t, h, op, base+"/photos", "text/plain", []byte("nope")); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("text upload status = %d", rr.Code)
	}

	if rr := doJSON(t, h, &op, http.MethodPost, base+"/items/1/pass", nil); rr.Code != http.StatusOK {
		t.Fatalf("pass status = %d: %s", rr.Code, rr.Body.String())
	}
	if rr := doJSON(t, h, &op, http.MethodPost, base+"/items/1/pass", nil); rr.Code != http.StatusConflict {
		t.Fatalf("double pass status = %d", rr.Code)
	}
	if rr := doJSON(t, h, &op, http.MethodPut, base+"/items/1/annotation", map[string]string{"annotation": "tyre worn"}); rr.Code != http.StatusOK {
		t.Fatalf("annotation status = %d", rr.Code)
	}
	if rr := doJSON(t, h, &op, http.MethodPost, base+"/items/1/photo", nil); rr.Code != http.StatusOK {
		t.Fatalf("item photo status = %d", rr.Code)
	}
	if rr := doJSON(t, h, &op, http.MethodPost, base+"/items/99/pass", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown item status = %d", rr.Code)
	}

	rr = doJSON(t, h, &op, http.MethodGet, base, nil)
	view := decodeJSON[DraftView](t, rr)
	if !view.CanSubmit || view.ReviewedCount != 1 || view.PhotosAttached != 5 {
		t.Fatalf("draft = %+v", view)
	}

	rr = doJSON(t, h, &op, http.MethodPost, base+"/submit", nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("submit status = %d: %s", rr.Code, rr.Body.String())
	}
	result := decodeJSON[SubmitResult](t, rr)
	if result.Sheet.Sheet.ID != 42 || len(result.Sheet.Reviews) != 1 || result.Draft.PendingCount != 8 {
		t.Fatalf("submit result = %+v", result)
	}

	rr = doJSON(t, h, &op, http.MethodGet, "/api/departure-sheets/42", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get sheet status = %d", rr.Code)
	}

	rr = doJSON(t, h, &supervisor, http.MethodPatch, "/api/departure-sheets/42", map[string]any{"fuelPercentage": 50, "fuelVoucherId": testVoucherID})
	if rr.Code != http.StatusOK {
		t.Fatalf("amend status = %d: %s", rr.Code, rr.Body.String())
	}
	if rr := doJSON(t, h, &supervisor, http.MethodPatch, "/api/departure-sheets/42", map[string]any{"fuelPercentage": 55}); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bad fuel amend status = %d", rr.Code)
	}

	rr = doUpload(t, h, supervisor, "/api/departure-sheets/42/odometer-photo", "image/png", []byte("png"))
	if rr.Code != http.StatusOK {
		t.Fatalf("odometer photo status = %d: %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, h, &op, http.MethodGet, "/api/departure-sheets?platform=uber", nil)
	list := decodeJSON[map[string][]json.RawMessage](t, rr)
	if rr.Code != http.StatusOK || len(list["items"]) != 1 {
		t.Fatalf("list status = %d, body = %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, h, &op, http.MethodGet, "/api/departure-sheets/search?q=ABC", nil)
	if rr.Code != http.StatusOK || env.search.last.CompanyID != 1 {
		t.Fatalf("search status = %d, query = %+v", rr.Code, env.search.last)
	}

	rr = doJSON(t, h, &op, http.MethodGet, "/api/departure-sheets/42/export?format=html", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("export status = %d: %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Content-Disposition"); !strings.Contains(got, "hoja-salida-42.html") {
		t.Fatalf("Content-Disposition = %q", got)
	}
	if !strings.HasPrefix(rr.Header().Get("Content-Type"), "text/html") {
		t.Fatalf("Content-Type = %q", rr.Header().Get("Content-Type"))
	}

	rr = doJSON(t, h, &op, http.MethodGet, "/api/departure-sheets/42/export?format=docx", nil)
	if rr.Code != http.StatusBadRequest || decodeJSON[errorBody](t, rr).Code != "UNSUPPORTED_FORMAT" {
		t.Fatalf("bad format status = %d", rr.Code)
	}

	rr = doJSON(t, h, &op, http.MethodGet, "/api/departure-sheets/register.xlsx?from=2026-01-01", nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Header().Get("Content-Disposition"), ".xlsx") {
		t.Fatalf("register status = %d, disposition = %q", rr.Code, rr.Header().Get("Content-Disposition"))
	}
}

func TestSubmitWhileLockedReturnsConflict(t *testing.T) {
	h, env := newTestServer(t)
	op := testOperator

	rr := doJSON(t, h, &op, http.MethodPost, "/api/departure-drafts", nil)
	draft := decodeJSON[DraftView](t, rr)
	if _, err := env.drafts.AcquireSubmitLock(context.Background(), draft.ID, time.Minute); err != nil {
		t.Fatalf("AcquireSubmitLock() error = %v", err)
	}

	rr = doJSON(t, h, &op, http.MethodPost, "/api/departure-drafts/"+draft.ID+"/submit", nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestUnavailableBackendIsRetryable(t *testing.T) {
	h, env := newTestServer(t)
	op := testOperator
	env.redis.Close()

	rr := doJSON(t, h, &op, http.MethodPost, "/api/departure-drafts", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeJSON[errorBody](t, rr)
	if body.Code != "RESOURCE_UNAVAILABLE" || body.Details["retryable"] != true {
		t.Fatalf("body = %+v", body)
	}
}

func TestReferenceEndpoints(t *testing.T) {
	h, _ := newTestServer(t)
	op := testOperator

	rr := doJSON(t, h, &op, http.MethodGet, "/api/reference", nil)
	ref := decodeJSON[ReferenceData](t, rr)
	if rr.Code != http.StatusOK || ref.NextNumber != 42 || len(ref.ChecklistItems) != 8 {
		t.Fatalf("reference = %d %+v", rr.Code, ref)
	}

	rr = doJSON(t, h, &op, http.MethodGet, fmt.Sprintf("/api/vehicles/%d/odometer", testVehicleID), nil)
	if body := decodeJSON[map[string]any](t, rr); rr.Code != http.StatusOK || body["lastOdometer"] != float64(1000) {
		t.Fatalf("odometer = %d %v", rr.Code, body)
	}
	rr = doJSON(t, h, &op, http.MethodGet, "/api/vehicles/404/odometer", nil)
	if body := decodeJSON[errorBody](t, rr); rr.Code != http.StatusNotFound || body.Details["entity"] != "vehicle" {
		t.Fatalf("missing vehicle = %d %+v", rr.Code, body)
	}

	rr = doJSON(t, h, &op, http.MethodGet, "/api/sequences/departure_sheet/next", nil)
	if body := decodeJSON[map[string]any](t, rr); rr.Code != http.StatusOK || body["next"] != float64(42) {
		t.Fatalf("sequence = %d %v", rr.Code, body)
	}

	rr = doJSON(t, h, &op, http.MethodGet, "/api/fuel-vouchers?vehicleId=abc", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad vehicleId status = %d", rr.Code)
	}
	rr = doJSON(t, h, &op, http.MethodGet, "/api/departure-sheets?from=yesterday", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad from status = %d", rr.Code)
	}
}

func TestRouting(t *testing.T) {
	h, _ := newTestServer(t)
	op := testOperator

	rr := doJSON(t, h, &op, http.MethodGet, "/api/nope", nil)
	if rr.Code != http.StatusNotFound || decodeJSON[errorBody](t, rr).Code != "NOT_FOUND" {
		t.Fatalf("unknown route status = %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("CORS headers missing on 404")
	}

	for _, tc := range []struct{ method, path string }{
		{http.MethodDelete, "/api/departure-sheets/42"},
		{http.MethodPut, "/api/departure-drafts/draft_1/submit"},
		{http.MethodPost, "/api/health"},
	} {
		rr = doJSON(t, h, &op, tc.method, tc.path, nil)
		if rr.Code != http.StatusMethodNotAllowed || decodeJSON[errorBody](t, rr).Code != "METHOD_NOT_ALLOWED" {
			t.Fatalf("%s %s status = %d", tc.method, tc.path, rr.Code)
		}
	}
	for _, path := range []string{"/api/departure-sheets/abc", "/api/departure-drafts/draft_1/nope"} {
		rr = doJSON(t, h, &op, http.MethodGet, path, nil)
		if rr.Code != http.StatusNotFound || decodeJSON[errorBody](t, rr).Code != "NOT_FOUND" {
			t.Fatalf("GET %s status = %d", path, rr.Code)
		}
	}

	req := httptest.NewRequest(http.MethodOptions, "/api/departure-drafts", nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent || rr.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Fatalf("preflight status = %d", rr.Code)
	}

	rr = doJSON(t, h, &op, http.MethodPost, "/api/departure-sheets", "not an object")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad body status = %d", rr.Code)
	}
}
