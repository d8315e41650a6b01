package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hardonian/jobforge/internal/httpapi/handlers"
	"github.com/hardonian/jobforge/internal/store/memory"
	"github.com/gin-gonic/gin"
)

func newJobsRouter() (*gin.Engine, *handlers.JobsHandler) {
	gin.SetMode(gin.TestMode)
	st := memory.New()
	h := handlers.NewJobsHandler(st)
	r := gin.New()
	r.POST("/jobs", h.Enqueue)
	r.POST("/jobs/from-template", h.RequestJob)
	return r, h
}

func postJSON(r http.Handler, path string, body any) *httptest.ResponseRecorder {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestEnqueue_AcceptsRegisteredJobType(t *testing.T) {
	r, _ := newJobsRouter()

	w := postJSON(r, "/jobs", map[string]any{
		"tenantId":       "tenant-1",
		"type":           "ops.scan",
		"payload":        map[string]any{"target": "10.0.0.0/24"},
		"idempotencyKey": "scan-1",
	})

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
}

func TestEnqueue_RejectsPayloadFailingValidation(t *testing.T) {
	r, _ := newJobsRouter()

	w := postJSON(r, "/jobs", map[string]any{
		"tenantId":       "tenant-1",
		"type":           "ops.scan",
		"payload":        map[string]any{"target": ""},
		"idempotencyKey": "scan-2",
	})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestEnqueue_DuplicateIdempotencyKeyIsNotRejected(t *testing.T) {
	r, _ := newJobsRouter()

	req := map[string]any{
		"tenantId":       "tenant-1",
		"type":           "ops.scan",
		"payload":        map[string]any{"target": "10.0.0.0/24"},
		"idempotencyKey": "scan-3",
	}

	first := postJSON(r, "/jobs", req)
	second := postJSON(r, "/jobs", req)

	if first.Code != http.StatusAccepted || second.Code != http.StatusAccepted {
		t.Fatalf("expected both requests to be accepted, got %d and %d", first.Code, second.Code)
	}

	var body struct {
		AlreadyEnqueued bool `json:"alreadyEnqueued"`
	}
	if err := json.Unmarshal(second.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !body.AlreadyEnqueued {
		t.Fatalf("expected second enqueue to report alreadyEnqueued=true")
	}
}

func TestRequestJob_DryRunDoesNotEnqueue(t *testing.T) {
	r, _ := newJobsRouter()

	w := postJSON(r, "/jobs/from-template", map[string]any{
		"tenantId":    "tenant-1",
		"templateKey": "ops.scan",
		"inputs":      map[string]any{"target": "10.0.0.0/24"},
		"dryRun":      true,
	})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for dry run, got %d: %s", w.Code, w.Body.String())
	}

	var body struct {
		DryRun bool `json:"dryRun"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !body.DryRun {
		t.Fatalf("expected dryRun=true in response")
	}
}
