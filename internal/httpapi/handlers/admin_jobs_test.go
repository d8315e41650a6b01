package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hardonian/jobforge/internal/domain/job"
	"github.com/hardonian/jobforge/internal/httpapi/handlers"
	"github.com/hardonian/jobforge/internal/store/memory"
	"github.com/gin-gonic/gin"
)

func newAdminJobsRouter(st *memory.Store) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := handlers.NewAdminJobsHandler(st)
	r := gin.New()
	r.GET("/admin/jobs", h.List)
	r.GET("/admin/jobs/:id", h.GetByID)
	r.POST("/admin/jobs/:id/retry", h.Retry)
	r.POST("/admin/jobs/reprocess-dead", h.ReprocessDead)
	return r
}

func TestAdminJobsList_RequiresTenantID(t *testing.T) {
	r := newAdminJobsRouter(memory.New())

	req := httptest.NewRequest(http.MethodGet, "/admin/jobs", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without tenantId, got %d", w.Code)
	}
}

func TestAdminJobsList_ReturnsEnqueuedJob(t *testing.T) {
	st := memory.New()
	_, _, err := st.EnqueueJob(context.Background(), job.EnqueueRequest{
		TenantID:       "tenant-1",
		Type:           "ops.scan",
		Payload:        json.RawMessage(`{"target":"10.0.0.0/24"}`),
		IdempotencyKey: "scan-1",
		AvailableAt:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed enqueue: %v", err)
	}

	r := newAdminJobsRouter(st)

	req := httptest.NewRequest(http.MethodGet, "/admin/jobs?tenantId=tenant-1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var body struct {
		Items []job.Job `json:"items"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Items) != 1 {
		t.Fatalf("expected 1 job, got %d", len(body.Items))
	}
}

func TestAdminJobsGetByID_UnknownJobReturnsNotFound(t *testing.T) {
	r := newAdminJobsRouter(memory.New())

	req := httptest.NewRequest(http.MethodGet, "/admin/jobs/does-not-exist?tenantId=tenant-1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAdminJobsRetry_RefusesNonFailedJob(t *testing.T) {
	st := memory.New()
	j, _, err := st.EnqueueJob(context.Background(), job.EnqueueRequest{
		TenantID:       "tenant-1",
		Type:           "ops.scan",
		Payload:        json.RawMessage(`{"target":"10.0.0.0/24"}`),
		IdempotencyKey: "scan-2",
		AvailableAt:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed enqueue: %v", err)
	}

	r := newAdminJobsRouter(st)

	req := httptest.NewRequest(http.MethodPost, "/admin/jobs/"+j.ID+"/retry?tenantId=tenant-1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 retrying a pending job, got %d: %s", w.Code, w.Body.String())
	}
}
