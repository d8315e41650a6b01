// Package store defines the Store interface — the fixed set of named
// procedures the core is allowed to use to mutate durable state (§4.1). No
// component issues ad-hoc DML. Procedures that touch one tenant's rows take
// tenant_id explicitly (EnqueueJob inside its request) and reject
// cross-tenant access (P7); ClaimJobs with a nil tenantID and ReapStuckJobs
// span tenants, and RecordTriggerFire is keyed by rule id.
package store

import (
	"context"
	"time"

	"github.com/hardonian/jobforge/internal/domain/event"
	"github.com/hardonian/jobforge/internal/domain/job"
	"github.com/hardonian/jobforge/internal/domain/manifest"
	"github.com/hardonian/jobforge/internal/domain/trigger"
)

// EnqueueOutcome distinguishes a freshly created job from one matched by
// idempotency key.
type EnqueueOutcome string

const (
	OutcomeAccepted  EnqueueOutcome = "accepted"
	OutcomeDuplicate EnqueueOutcome = "duplicate"
)

// JobCursor paginates admin job listings.
type JobCursor struct {
	UpdatedAt time.Time
	ID        string
}

// Store is the durable backing for jobs, attempts, manifests, events,
// trigger rules, and policy token replay records. All other components
// hold transient copies and mutate exclusively through this interface.
type Store interface {
	// EnqueueJob upserts keyed by (tenant_id, type, idempotency_key); a
	// prior match is returned unchanged.
	EnqueueJob(ctx context.Context, req job.EnqueueRequest) (job.Job, EnqueueOutcome, error)

	// ClaimJobs atomically claims up to limit pending, available jobs
	// ordered by (priority DESC, available_at ASC, created_at ASC). A nil
	// tenantID claims across tenants (multi-tenant worker).
	ClaimJobs(ctx context.Context, tenantID *string, workerID string, limit int) ([]job.Job, error)

	// HeartbeatJob refreshes heartbeat_at iff claimed_by == workerID and
	// the job is still claimed/running. Returns false if the claim was
	// lost, the cooperative-cancellation signal to the handler.
	HeartbeatJob(ctx context.Context, tenantID, jobID, workerID string) (bool, error)

	// CompleteJob transitions a job to succeeded, writes its manifest, and
	// records a succeeded attempt.
	CompleteJob(ctx context.Context, tenantID, jobID, workerID string, resultRef *string, m manifest.Manifest) error

	// FailJob records a failed attempt and either reschedules with backoff
	// or transitions the job to a terminal failed/dead state.
	FailJob(ctx context.Context, tenantID, jobID, workerID string, errKind, errMessage string, retryable bool) error

	// ReapStuckJobs returns claimed/running jobs whose heartbeat has gone
	// stale to the retry schedule and reports how many were reaped.
	ReapStuckJobs(ctx context.Context, staleAfter time.Duration) (int, error)

	// GetJob fetches a single job scoped to tenantID.
	GetJob(ctx context.Context, tenantID, jobID string) (job.Job, error)

	// ListJobs returns a cursor page of jobs for tenantID, optionally
	// filtered by status.
	ListJobs(ctx context.Context, tenantID string, status *job.Status, limit int, after *JobCursor) (items []job.Job, next *JobCursor, hasMore bool, err error)

	// RetryJob requeues a single failed job for tenantID.
	RetryJob(ctx context.Context, tenantID, jobID string) error

	// RetryDeadLettered bulk-requeues up to limit failed jobs for tenantID.
	RetryDeadLettered(ctx context.Context, tenantID string, limit int) (int64, error)

	// GetManifest fetches a run's manifest scoped to tenantID.
	GetManifest(ctx context.Context, tenantID, runID string) (manifest.Manifest, error)

	// ListArtifacts returns a run's output artifacts scoped to tenantID.
	ListArtifacts(ctx context.Context, tenantID, runID string) ([]manifest.Artifact, error)

	// CreateEvent persists an immutable Event.
	CreateEvent(ctx context.Context, e event.Event) error

	// Ping reports whether the store's backing connection is reachable;
	// readyz depends on it.
	Ping(ctx context.Context) error

	PolicyTokenStore
	TriggerStore
}

// PolicyTokenStore persists single-use replay records for policy tokens,
// keyed by (tenant_id, jti) as required by §5's strong-consistency rule.
type PolicyTokenStore interface {
	// ConsumeToken records (tenantID, jti, action, resource) as used. It
	// returns fresh=false if that tuple was already consumed (a replay).
	ConsumeToken(ctx context.Context, tenantID, jti, action, resource string, exp time.Time) (fresh bool, err error)
}

// TriggerStore persists trigger rules and their durable firing counters —
// the Open Question resolution in SPEC_FULL.md §9 adopts durable store
// counters over a single-writer-per-tenant snapshot scheme.
type TriggerStore interface {
	ListEnabledRules(ctx context.Context, tenantID string) ([]trigger.Rule, error)
	// RecordTriggerFire increments fire_count and sets last_fired_at
	// transactionally, returning the updated rule.
	RecordTriggerFire(ctx context.Context, ruleID string, firedAt time.Time) (trigger.Rule, error)
	RecordEvaluation(ctx context.Context, eval trigger.Evaluation) error
}
