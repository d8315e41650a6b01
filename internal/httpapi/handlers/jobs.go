package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/hardonian/jobforge/internal/config"
	"github.com/hardonian/jobforge/internal/domain/job"
	"github.com/hardonian/jobforge/internal/jobtypes"
	"github.com/hardonian/jobforge/internal/store"
	"github.com/gin-gonic/gin"
)

type JobsHandler struct {
	store store.Store
}

func NewJobsHandler(s store.Store) *JobsHandler {
	return &JobsHandler{store: s}
}

// EnqueueRequest is the wire shape of POST /jobs (§6 enqueueJob).
type EnqueueRequest struct {
	TenantID       string   `json:"tenantId" binding:"required"`
	ProjectID      *string  `json:"projectId,omitempty"`
	Type           string   `json:"type" binding:"required"`
	Payload        any      `json:"payload" binding:"required"`
	IdempotencyKey string   `json:"idempotencyKey" binding:"required"`
	Priority       int      `json:"priority,omitempty"`
	MaxAttempts    int      `json:"maxAttempts,omitempty"`
	AvailableAt    *time.Time `json:"availableAt,omitempty"`
	IsActionJob    bool     `json:"isActionJob,omitempty"`
	RequiredScopes []string `json:"requiredScopes,omitempty"`
	TraceID        string   `json:"traceId,omitempty"`
}

// POST /jobs
func (h *JobsHandler) Enqueue(ctx *gin.Context) {
	var req EnqueueRequest
	if !BindJSON(ctx, &req) {
		return
	}

	if req.IsActionJob && !config.ActionJobsEnabled() {
		RespondForbidden(ctx, "action_jobs_disabled", "action job submission is disabled for this deployment")
		return
	}

	payload, err := jobtypes.Encode(req.Payload)
	if err != nil {
		RespondBadRequest(ctx, "payload could not be encoded", nil)
		return
	}

	decoded, err := jobtypes.Decode(req.Type, payload)
	if err != nil {
		RespondBadRequest(ctx, "payload does not match the registered shape for this job type", nil)
		return
	}
	if issues := jobtypes.Validate(req.Type, decoded); len(issues) > 0 {
		RespondBadRequest(ctx, "payload failed job type validation", issues)
		return
	}

	availableAt := time.Now().UTC()
	if req.AvailableAt != nil {
		availableAt = req.AvailableAt.UTC()
	}

	j, outcome, err := h.store.EnqueueJob(ctx.Request.Context(), job.EnqueueRequest{
		TenantID:       req.TenantID,
		ProjectID:      req.ProjectID,
		Type:           req.Type,
		Payload:        payload,
		IdempotencyKey: req.IdempotencyKey,
		Priority:       req.Priority,
		MaxAttempts:    req.MaxAttempts,
		AvailableAt:    availableAt,
		IsActionJob:    req.IsActionJob,
		RequiredScopes: req.RequiredScopes,
		TraceID:        traceIDFrom(ctx, req.TraceID),
	})
	if err != nil {
		respondStoreError(ctx, err)
		return
	}

	ctx.JSON(http.StatusAccepted, gin.H{
		"id":              j.ID,
		"status":          j.Status,
		"alreadyEnqueued": outcome == store.OutcomeDuplicate,
	})
}

// RequestJobRequest is the wire shape of POST /jobs/from-template (§6
// requestJob) — syntactic sugar over enqueueJob for a named job type.
type RequestJobRequest struct {
	TenantID    string  `json:"tenantId" binding:"required"`
	TemplateKey string  `json:"templateKey" binding:"required"`
	Inputs      any     `json:"inputs" binding:"required"`
	ProjectID   *string `json:"projectId,omitempty"`
	TraceID     string  `json:"traceId,omitempty"`
	ActorID     string  `json:"actorId,omitempty"`
	DryRun      bool    `json:"dryRun,omitempty"`
}

// POST /jobs/from-template
func (h *JobsHandler) RequestJob(ctx *gin.Context) {
	var req RequestJobRequest
	if !BindJSON(ctx, &req) {
		return
	}

	traceID := traceIDFrom(ctx, req.TraceID)

	inputs, err := jobtypes.Encode(req.Inputs)
	if err != nil {
		RespondBadRequest(ctx, "inputs could not be encoded", nil)
		return
	}

	decoded, err := jobtypes.Decode(req.TemplateKey, inputs)
	if err != nil {
		RespondBadRequest(ctx, "inputs do not match the registered shape for this template", nil)
		return
	}
	if issues := jobtypes.Validate(req.TemplateKey, decoded); len(issues) > 0 {
		RespondBadRequest(ctx, "inputs failed template validation", issues)
		return
	}

	if req.DryRun {
		ctx.JSON(http.StatusOK, gin.H{"traceId": traceID, "dryRun": true})
		return
	}

	j, outcome, err := h.store.EnqueueJob(ctx.Request.Context(), job.EnqueueRequest{
		TenantID:       req.TenantID,
		ProjectID:      req.ProjectID,
		Type:           req.TemplateKey,
		Payload:        inputs,
		IdempotencyKey: "template:" + req.TemplateKey + ":" + traceID,
		TraceID:        traceID,
	})
	if err != nil {
		respondStoreError(ctx, err)
		return
	}

	ctx.JSON(http.StatusAccepted, gin.H{
		"job":             j,
		"traceId":         traceID,
		"alreadyEnqueued": outcome == store.OutcomeDuplicate,
	})
}

func traceIDFrom(ctx *gin.Context, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if h := ctx.GetHeader("x-trace-id"); h != "" {
		return h
	}
	return requestIDFrom(ctx)
}

// respondStoreError maps a store.Error's Kind to the matching HTTP status,
// per §7's propagation rule (store -> worker -> producer, same taxonomy
// throughout).
func respondStoreError(ctx *gin.Context, err error) {
	var serr *store.Error
	if !errors.As(err, &serr) {
		RespondInternal(ctx, err.Error())
		return
	}

	switch serr.Kind {
	case store.KindValidation:
		RespondBadRequest(ctx, serr.Message, nil)
	case store.KindNotFound:
		RespondNotFound(ctx, serr.Message)
	case store.KindConflict:
		RespondConflict(ctx, serr.Code, serr.Message)
	case store.KindCircuitOpen, store.KindRateLimited:
		RespondError(ctx, http.StatusTooManyRequests, serr.Code, serr.Message, nil)
	default:
		RespondInternal(ctx, serr.Message)
	}
}
