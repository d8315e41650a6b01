// Package bundleexec implements the bundle executor: validation, tenant/
// project consistency, per-request policy-token enforcement for action
// jobs, child-job fan-out through the store, and aggregated run manifests.
// It registers itself as the worker's distinguished
// autopilot.execute_request_bundle handler.
package bundleexec

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hardonian/jobforge/internal/canonicaljson"
	"github.com/hardonian/jobforge/internal/config"
	"github.com/hardonian/jobforge/internal/domain/bundle"
	"github.com/hardonian/jobforge/internal/domain/job"
	"github.com/hardonian/jobforge/internal/domain/manifest"
	"github.com/hardonian/jobforge/internal/policytoken"
	"github.com/hardonian/jobforge/internal/queue/worker"
	"github.com/hardonian/jobforge/internal/store"
)

// JobTypeExecuteBundle is the distinguished job type the worker dispatches
// bundle-executor runs to.
const JobTypeExecuteBundle = "autopilot.execute_request_bundle"

// RequestOutcome is the per-request result recorded in the aggregated
// manifest.
type RequestOutcome struct {
	RequestID string  `json:"requestId"`
	Outcome   string  `json:"outcome"` // accepted | duplicate | denied | error
	JobID     *string `json:"jobId,omitempty"`
	Reason    string  `json:"reason,omitempty"`
}

// Summary aggregates outcomes across every request in a bundle.
type Summary struct {
	Total             int `json:"total"`
	Accepted          int `json:"accepted"`
	Duplicates        int `json:"duplicates"`
	Denied            int `json:"denied"`
	Errors            int `json:"errors"`
	ActionJobsBlocked int `json:"actionJobsBlocked"`
}

// Executor runs bundle executions against a Store and policy-token
// verification secrets.
type Executor struct {
	store                  store.Store
	policySecrets          [][]byte
	forcedDryRunActionJobs bool
}

func New(s store.Store, policySecrets [][]byte, forcedDryRunActionJobs bool) *Executor {
	return &Executor{store: s, policySecrets: policySecrets, forcedDryRunActionJobs: forcedDryRunActionJobs}
}

// Register wires e as the worker's autopilot.execute_request_bundle
// handler, unless autopilot job execution is disabled for this
// deployment (AUTOPILOT_JOBS_ENABLED), in which case no handler is
// registered and a claimed bundle job fails with "no handler registered".
func (e *Executor) Register() {
	if !config.AutopilotJobsEnabled() {
		return
	}
	worker.Register(JobTypeExecuteBundle, e.handle)
}

func (e *Executor) handle(ctx context.Context, j job.Job) (worker.Result, error) {
	var payload bundle.ExecutionPayload
	if err := json.Unmarshal(j.Payload, &payload); err != nil {
		return worker.Result{}, store.New(store.KindValidation, "bundle_payload_invalid", err.Error())
	}

	m, err := e.Execute(ctx, payload, j.ID, j.TraceID)
	if err != nil {
		return worker.Result{}, err
	}
	return worker.Result{Manifest: m}, nil
}

// Execute runs the algorithm in §4.5: validate, process each request in
// input order (action-job dry-run rewrite or policy-token check, then
// child-job enqueue), aggregate a summary, and build a single bundle-level
// manifest keyed by runID. Its error result is always nil: bundle-content
// problems are reported inside the returned manifest, and a store failure
// while enqueueing a child job becomes that request's "error" outcome. A
// version/schemaVersion mismatch is recorded as a manifest warning and does
// not fail the bundle. The manifest itself is persisted by the caller — when
// invoked as a worker handler, runOne's CompleteJob call does that using
// the claimed job's own id as runID.
func (e *Executor) Execute(ctx context.Context, payload bundle.ExecutionPayload, runID, traceID string) (manifest.Manifest, error) {
	b := payload.Bundle
	now := time.Now().UTC()

	m := manifest.Manifest{
		RunID:     runID,
		TenantID:  b.TenantID,
		ProjectID: b.ProjectID,
		JobType:   JobTypeExecuteBundle,
		CreatedAt: now,
		Status:    manifest.StatusComplete,
	}

	var issues []bundle.Issue
	for _, is := range bundle.Validate(b) {
		if is.Code == "schema_version_mismatch" {
			m.Warnings = append(m.Warnings, is.Field+": "+is.Message)
			continue
		}
		issues = append(issues, is)
	}
	if len(issues) > 0 {
		m.Status = manifest.StatusFailed
		m.Error = &manifest.ManifestError{
			Kind:    string(store.KindValidation),
			Code:    "bundle_invalid",
			Message: fmt.Sprintf("%d validation issue(s), first: %s: %s", len(issues), issues[0].Field, issues[0].Message),
		}
		m.InputsSnapshotHash = hashInputs(b)
		return m, nil
	}

	outcomes := make([]RequestOutcome, 0, len(b.Requests))
	summary := Summary{Total: len(b.Requests)}

	for _, req := range b.Requests {
		outcome, warning := e.processRequest(ctx, payload, req, traceID)
		outcomes = append(outcomes, outcome)
		if warning != "" {
			m.Warnings = append(m.Warnings, warning)
		}
		switch outcome.Outcome {
		case "accepted":
			summary.Accepted++
		case "duplicate":
			summary.Duplicates++
		case "denied":
			summary.Denied++
			summary.ActionJobsBlocked++
		case "error":
			summary.Errors++
		}
	}

	outcomesJSON, _ := canonicaljson.Marshal(outcomes)
	summaryJSON, _ := canonicaljson.Marshal(summary)

	m.Outputs = []manifest.Artifact{
		{Name: "summary", Type: "application/json", Ref: string(summaryJSON)},
		{Name: "child_runs", Type: "application/json", Ref: string(outcomesJSON)},
	}
	m.InputsSnapshotHash = hashInputs(b)

	if summary.Errors+summary.Denied+summary.ActionJobsBlocked > 0 {
		m.Status = manifest.StatusFailed
		m.Error = &manifest.ManifestError{
			Kind:    string(store.KindConflict),
			Code:    "bundle_partial_failure",
			Message: fmt.Sprintf("%d denied, %d errored", summary.Denied, summary.Errors),
		}
	}

	return m, nil
}

func (e *Executor) processRequest(ctx context.Context, payload bundle.ExecutionPayload, req bundle.Request, traceID string) (RequestOutcome, string) {
	b := payload.Bundle
	effectiveIsActionJob := req.IsActionJob
	warning := ""

	if req.IsActionJob {
		if !config.ActionJobsEnabled() {
			return RequestOutcome{RequestID: req.ID, Outcome: "denied", Reason: "action jobs are disabled for this deployment"}, ""
		}
		if payload.Mode == bundle.ModeDryRun && e.forcedDryRunActionJobs {
			effectiveIsActionJob = false
			warning = fmt.Sprintf("request %s: action job forced to dry_run (is_action_job rewritten false); requested value preserved for audit", req.ID)
		} else if reason, ok := e.denyReason(ctx, payload, req); !ok {
			return RequestOutcome{RequestID: req.ID, Outcome: "denied", Reason: reason}, ""
		}
	}

	enqueueReq := job.EnqueueRequest{
		TenantID:       b.TenantID,
		ProjectID:      req.ProjectID,
		Type:           req.JobType,
		Payload:        req.Payload,
		IdempotencyKey: req.IdempotencyKey,
		TraceID:        traceID,
		IsActionJob:    effectiveIsActionJob,
		RequiredScopes: req.RequiredScopes,
	}

	childJob, outcome, err := e.store.EnqueueJob(ctx, enqueueReq)
	if err != nil {
		return RequestOutcome{RequestID: req.ID, Outcome: "error", Reason: err.Error()}, warning
	}

	result := "accepted"
	if outcome == store.OutcomeDuplicate {
		result = "duplicate"
	}
	return RequestOutcome{RequestID: req.ID, Outcome: result, JobID: &childJob.ID}, warning
}

// denyReason verifies the bundle's policy token against req, per §4.5
// step 3a: aud = request.job_type, tid = request.tenant_id, pid =
// request.project_id, required_scopes ⊆ scp. Returns ok=false and a
// human-readable reason when the token is missing or fails verification.
func (e *Executor) denyReason(ctx context.Context, payload bundle.ExecutionPayload, req bundle.Request) (string, bool) {
	if payload.PolicyToken == nil || *payload.PolicyToken == "" {
		return "policy token required for action job", false
	}

	_, err := policytoken.VerifyAndConsume(ctx, e.store, *payload.PolicyToken, e.policySecrets, policytoken.Requirements{
		Action:         req.JobType,
		TenantID:       req.TenantID,
		ProjectID:      req.ProjectID,
		RequiredScopes: req.RequiredScopes,
	})
	if err != nil {
		return err.Error(), false
	}
	return "", true
}

func hashInputs(b bundle.Bundle) string {
	h, err := canonicaljson.Hash(b)
	if err != nil {
		return ""
	}
	return h
}
