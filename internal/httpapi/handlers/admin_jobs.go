package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/hardonian/jobforge/internal/domain/job"
	"github.com/hardonian/jobforge/internal/store"
	"github.com/gin-gonic/gin"
)

type AdminJobsHandler struct {
	store store.Store
}

func NewAdminJobsHandler(s store.Store) *AdminJobsHandler {
	return &AdminJobsHandler{store: s}
}

func parseInt(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

// GET /admin/jobs?tenantId=...&status=failed&limit=50
func (h *AdminJobsHandler) List(ctx *gin.Context) {
	tenantID := ctx.Query("tenantId")
	if tenantID == "" {
		RespondBadRequest(ctx, "tenantId query parameter is required", nil)
		return
	}

	limit := parseInt(ctx.Query("limit"), 50)
	if limit < 1 || limit > 200 {
		RespondBadRequest(ctx, "limit must be between 1 and 200", nil)
		return
	}

	var statusFilter *job.Status
	if s := ctx.Query("status"); s != "" {
		st := job.Status(s)
		if !st.IsValid() {
			RespondBadRequest(ctx, "unknown status filter", nil)
			return
		}
		statusFilter = &st
	}

	var after *store.JobCursor
	if c := ctx.Query("cursor"); c != "" {
		decoded, err := decodeJobCursor(c)
		if err != nil {
			RespondBadRequest(ctx, "invalid cursor", nil)
			return
		}
		after = &decoded
	}

	items, next, hasMore, err := h.store.ListJobs(ctx.Request.Context(), tenantID, statusFilter, limit, after)
	if err != nil {
		respondStoreError(ctx, err)
		return
	}

	resp := gin.H{"items": items, "hasMore": hasMore}
	if next != nil {
		cursor, err := encodeJobCursor(*next)
		if err == nil {
			resp["nextCursor"] = cursor
		}
	}
	ctx.JSON(http.StatusOK, resp)
}

// GET /admin/jobs/:id?tenantId=...
func (h *AdminJobsHandler) GetByID(ctx *gin.Context) {
	tenantID := ctx.Query("tenantId")
	if tenantID == "" {
		RespondBadRequest(ctx, "tenantId query parameter is required", nil)
		return
	}

	j, err := h.store.GetJob(ctx.Request.Context(), tenantID, ctx.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			RespondNotFound(ctx, "job not found")
			return
		}
		respondStoreError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, j)
}

// POST /admin/jobs/:id/retry?tenantId=...
func (h *AdminJobsHandler) Retry(ctx *gin.Context) {
	tenantID := ctx.Query("tenantId")
	if tenantID == "" {
		RespondBadRequest(ctx, "tenantId query parameter is required", nil)
		return
	}

	id := ctx.Param("id")
	if err := h.store.RetryJob(ctx.Request.Context(), tenantID, id); err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			RespondNotFound(ctx, "job not found")
			return
		}
		if errors.Is(err, store.ErrJobNotFailed) {
			RespondConflict(ctx, "job_not_failed", "only failed jobs can be retried")
			return
		}
		respondStoreError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"id": id, "status": job.StatusPending})
}

// POST /admin/jobs/reprocess-dead?tenantId=...&limit=50
func (h *AdminJobsHandler) ReprocessDead(ctx *gin.Context) {
	tenantID := ctx.Query("tenantId")
	if tenantID == "" {
		RespondBadRequest(ctx, "tenantId query parameter is required", nil)
		return
	}

	limit := parseInt(ctx.Query("limit"), 50)

	n, err := h.store.RetryDeadLettered(ctx.Request.Context(), tenantID, limit)
	if err != nil {
		respondStoreError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"requeued": n})
}
