package handlers

import (
	"net/http"

	"github.com/hardonian/jobforge/internal/store"
	"github.com/gin-gonic/gin"
)

type RunsHandler struct {
	store store.Store
}

func NewRunsHandler(s store.Store) *RunsHandler {
	return &RunsHandler{store: s}
}

// GET /runs/:id/manifest?tenantId=...
func (h *RunsHandler) GetManifest(ctx *gin.Context) {
	runID := ctx.Param("id")
	tenantID := ctx.Query("tenantId")
	if tenantID == "" {
		RespondBadRequest(ctx, "tenantId query parameter is required", nil)
		return
	}

	m, err := h.store.GetManifest(ctx.Request.Context(), tenantID, runID)
	if err != nil {
		respondStoreError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, m)
}

// GET /runs/:id/artifacts?tenantId=...
func (h *RunsHandler) ListArtifacts(ctx *gin.Context) {
	runID := ctx.Param("id")
	tenantID := ctx.Query("tenantId")
	if tenantID == "" {
		RespondBadRequest(ctx, "tenantId query parameter is required", nil)
		return
	}

	items, err := h.store.ListArtifacts(ctx.Request.Context(), tenantID, runID)
	if err != nil {
		respondStoreError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"items": items, "totalCount": len(items)})
}
