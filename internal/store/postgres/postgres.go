// Package postgres is the pgx-backed implementation of store.Store. Every
// procedure takes tenant_id as an early argument and includes it in the
// WHERE clause of any statement touching a specific row (P7). ClaimJobs
// spans tenants when called with a nil tenantID for a shared multi-tenant
// worker pool, and ReapStuckJobs always spans tenants.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/hardonian/jobforge/internal/domain/event"
	"github.com/hardonian/jobforge/internal/domain/job"
	"github.com/hardonian/jobforge/internal/domain/manifest"
	"github.com/hardonian/jobforge/internal/domain/trigger"
	"github.com/hardonian/jobforge/internal/observability"
	"github.com/hardonian/jobforge/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func New(pool *pgxpool.Pool, prom *observability.Prom) *Store {
	return &Store{pool: pool, prom: prom}
}

func (s *Store) observe(op string, fn func() error) error {
	if s.prom != nil {
		return s.prom.ObserveDB(op, fn)
	}
	return fn()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func scanJob(row pgx.Row) (job.Job, error) {
	var j job.Job
	var status string
	var scopes []string
	err := row.Scan(
		&j.ID, &j.TenantID, &j.ProjectID, &j.Type, &j.Payload, &j.IdempotencyKey,
		&status, &j.Priority, &j.AttemptNo, &j.MaxAttempts, &j.AvailableAt,
		&j.ClaimedBy, &j.ClaimedAt, &j.HeartbeatAt, &j.CreatedAt, &j.UpdatedAt,
		&j.ResultID, &j.TraceID, &j.IsActionJob, &scopes,
	)
	if err != nil {
		return job.Job{}, err
	}
	j.Status = job.Status(status)
	j.RequiredScopes = scopes
	return j, nil
}

const jobColumns = `id, tenant_id, project_id, type, payload, idempotency_key,
	status, priority, attempt_no, max_attempts, available_at,
	claimed_by, claimed_at, heartbeat_at, created_at, updated_at,
	result_id, trace_id, is_action_job, required_scopes`

func (s *Store) EnqueueJob(ctx context.Context, req job.EnqueueRequest) (job.Job, store.EnqueueOutcome, error) {
	if len(req.Payload) > job.MaxPayloadBytes {
		return job.Job{}, "", store.New(store.KindValidation, "payload_too_large", "payload exceeds 64 KiB")
	}

	j := job.New(req)
	op := "jobs.enqueue"

	var insertErr error
	err := s.observe(op, func() error {
		_, insertErr = s.pool.Exec(ctx, `
			INSERT INTO jobs (`+jobColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
		`,
			j.ID, j.TenantID, j.ProjectID, j.Type, []byte(j.Payload), j.IdempotencyKey,
			string(j.Status), j.Priority, j.AttemptNo, j.MaxAttempts, j.AvailableAt,
			j.ClaimedBy, j.ClaimedAt, j.HeartbeatAt, j.CreatedAt, j.UpdatedAt,
			j.ResultID, j.TraceID, j.IsActionJob, j.RequiredScopes,
		)
		return insertErr
	})

	if err != nil {
		if isUniqueViolation(err) {
			existing, getErr := s.getByIdempotencyKey(ctx, req.TenantID, req.Type, req.IdempotencyKey)
			if getErr != nil {
				return job.Job{}, "", getErr
			}
			return existing, store.OutcomeDuplicate, nil
		}
		return job.Job{}, "", store.Wrap(store.KindDatabase, "enqueue_failed", "failed to enqueue job", err)
	}

	return j, store.OutcomeAccepted, nil
}

func (s *Store) getByIdempotencyKey(ctx context.Context, tenantID, jobType, key string) (job.Job, error) {
	op := "jobs.get_by_idempotency_key"
	var j job.Job
	var rowErr error
	err := s.observe(op, func() error {
		row := s.pool.QueryRow(ctx, `
			SELECT `+jobColumns+`
			FROM jobs
			WHERE tenant_id = $1 AND type = $2 AND idempotency_key = $3
		`, tenantID, jobType, key)
		j, rowErr = scanJob(row)
		return rowErr
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return job.Job{}, store.ErrJobNotFound
		}
		return job.Job{}, store.Wrap(store.KindDatabase, "query_failed", "failed to look up job", err)
	}
	return j, nil
}

// ClaimJobs adapts the SKIP LOCKED claim pattern to claim up to limit rows
// in one statement instead of one row at a time, so a worker's poll loop
// does one round trip per batch.
func (s *Store) ClaimJobs(ctx context.Context, tenantID *string, workerID string, limit int) ([]job.Job, error) {
	op := "jobs.claim"

	query := `
		WITH next AS (
			SELECT id
			FROM jobs
			WHERE status = 'pending'
			  AND available_at <= NOW()
			  AND attempt_no < max_attempts
			  AND ($1::text IS NULL OR tenant_id = $1)
			ORDER BY priority DESC, available_at ASC, created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $2
		)
		UPDATE jobs
		SET status = 'claimed',
		    claimed_by = $3,
		    claimed_at = NOW(),
		    heartbeat_at = NOW(),
		    attempt_no = attempt_no + 1,
		    updated_at = NOW()
		WHERE id IN (SELECT id FROM next)
		RETURNING ` + jobColumns

	var out []job.Job
	err := s.observe(op, func() error {
		rows, qerr := s.pool.Query(ctx, query, tenantID, limit, workerID)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		for rows.Next() {
			j, serr := scanJob(rows)
			if serr != nil {
				return serr
			}
			out = append(out, j)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, store.Wrap(store.KindDatabase, "claim_failed", "failed to claim jobs", err)
	}
	return out, nil
}

func (s *Store) HeartbeatJob(ctx context.Context, tenantID, jobID, workerID string) (bool, error) {
	op := "jobs.heartbeat"
	var tag pgconn.CommandTag
	var execErr error
	err := s.observe(op, func() error {
		tag, execErr = s.pool.Exec(ctx, `
			UPDATE jobs
			SET heartbeat_at = NOW(),
			    status = CASE WHEN status = 'claimed' THEN 'running' ELSE status END,
			    updated_at = NOW()
			WHERE tenant_id = $1 AND id = $2 AND claimed_by = $3
			  AND status IN ('claimed', 'running')
		`, tenantID, jobID, workerID)
		return execErr
	})
	if err != nil {
		return false, store.Wrap(store.KindDatabase, "heartbeat_failed", "failed to extend heartbeat", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) CompleteJob(ctx context.Context, tenantID, jobID, workerID string, resultRef *string, m manifest.Manifest) error {
	op := "jobs.complete"

	return s.withTx(ctx, op, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE jobs
			SET status = 'succeeded',
			    result_id = $4,
			    updated_at = NOW()
			WHERE tenant_id = $1 AND id = $2 AND claimed_by = $3
		`, tenantID, jobID, workerID, resultRef)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return store.ErrClaimLost
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO job_attempts (id, job_id, tenant_id, attempt_no, worker_id, started_at, ended_at, outcome)
			SELECT gen_random_uuid(), id, tenant_id, attempt_no, $3, COALESCE(claimed_at, NOW()), NOW(), 'succeeded'
			FROM jobs WHERE tenant_id = $1 AND id = $2
		`, tenantID, jobID, workerID)
		if err != nil {
			return err
		}

		m.RunID = jobID
		m.TenantID = tenantID
		m.Status = manifest.StatusComplete
		return upsertManifest(ctx, tx, m)
	})
}

func (s *Store) FailJob(ctx context.Context, tenantID, jobID, workerID, errKind, errMessage string, retryable bool) error {
	op := "jobs.fail"

	return s.withTx(ctx, op, func(tx pgx.Tx) error {
		var attemptNo, maxAttempts int
		err := tx.QueryRow(ctx, `
			SELECT attempt_no, max_attempts FROM jobs
			WHERE tenant_id = $1 AND id = $2 AND claimed_by = $3
			FOR UPDATE
		`, tenantID, jobID, workerID).Scan(&attemptNo, &maxAttempts)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return store.ErrClaimLost
			}
			return err
		}

		if retryable && attemptNo < maxAttempts {
			delay := backoffDelay(attemptNo)
			_, err = tx.Exec(ctx, `
				UPDATE jobs
				SET status = 'pending',
				    available_at = NOW() + $4,
				    claimed_by = NULL, claimed_at = NULL, heartbeat_at = NULL,
				    updated_at = NOW()
				WHERE tenant_id = $1 AND id = $2 AND claimed_by = $3
			`, tenantID, jobID, workerID, delay)
		} else {
			terminal := "failed"
			if !retryable {
				terminal = "dead"
			}
			_, err = tx.Exec(ctx, `
				UPDATE jobs
				SET status = $4, updated_at = NOW()
				WHERE tenant_id = $1 AND id = $2 AND claimed_by = $3
			`, tenantID, jobID, workerID, terminal)
		}
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO job_attempts (id, job_id, tenant_id, attempt_no, worker_id, started_at, ended_at, outcome, error_kind, error_message)
			VALUES (gen_random_uuid(), $1, $2, $3, $4, NOW(), NOW(), 'failed', $5, $6)
		`, jobID, tenantID, attemptNo, workerID, errKind, errMessage)
		if err != nil {
			return err
		}

		if !retryable || attemptNo >= maxAttempts {
			m := manifest.Manifest{
				RunID: jobID, TenantID: tenantID, Status: manifest.StatusFailed,
				Error: &manifest.ManifestError{Kind: errKind, Code: errKind, Message: errMessage},
			}
			return upsertManifest(ctx, tx, m)
		}
		return nil
	})
}

// backoffDelay mirrors store/memory's Backoff.Delay: base 1s, doubling per
// attempt up to a 30s ceiling, with ±25% jitter so retries across many
// jobs don't all land on the same instant.
func backoffDelay(attemptNo int) time.Duration {
	const (
		base       = float64(time.Second)
		multiplier = 2.0
		max        = float64(30 * time.Second)
		jitterPct  = 0.25
	)

	delay := base
	for i := 1; i < attemptNo; i++ {
		delay *= multiplier
	}
	if delay > max {
		delay = max
	}

	jitter := 1 + (rand.Float64()*2-1)*jitterPct
	return time.Duration(delay * jitter)
}

func upsertManifest(ctx context.Context, tx pgx.Tx, m manifest.Manifest) error {
	outputs, err := json.Marshal(m.Outputs)
	if err != nil {
		return err
	}
	var errPayload []byte
	if m.Error != nil {
		errPayload, err = json.Marshal(m.Error)
		if err != nil {
			return err
		}
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO run_manifests (run_id, tenant_id, project_id, job_type, created_at, inputs_snapshot_hash, outputs, status, error)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (run_id) DO UPDATE SET
			status = EXCLUDED.status,
			outputs = EXCLUDED.outputs,
			error = EXCLUDED.error
	`, m.RunID, m.TenantID, m.ProjectID, m.JobType, m.CreatedAt, m.InputsSnapshotHash, outputs, string(m.Status), errPayload)
	return err
}

// ReapStuckJobs treats every job whose heartbeat has gone stale as a
// timed-out attempt: it records a job_attempts row with outcome
// timed_out, then either re-enters the retry schedule with the same
// backoff FailJob uses, or moves to dead once max_attempts is exhausted.
func (s *Store) ReapStuckJobs(ctx context.Context, staleAfter time.Duration) (int, error) {
	op := "jobs.reap_stuck"
	var count int
	err := s.withTx(ctx, op, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id, tenant_id, attempt_no, max_attempts, claimed_by, claimed_at
			FROM jobs
			WHERE status IN ('claimed', 'running')
			  AND heartbeat_at IS NOT NULL
			  AND heartbeat_at < NOW() - $1 * INTERVAL '1 second'
			FOR UPDATE
		`, staleAfter.Seconds())
		if err != nil {
			return err
		}

		type stuckJob struct {
			id          string
			tenantID    string
			attemptNo   int
			maxAttempts int
			claimedBy   *string
			claimedAt   *time.Time
		}
		var stuck []stuckJob
		for rows.Next() {
			var j stuckJob
			if err := rows.Scan(&j.id, &j.tenantID, &j.attemptNo, &j.maxAttempts, &j.claimedBy, &j.claimedAt); err != nil {
				rows.Close()
				return err
			}
			stuck = append(stuck, j)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, j := range stuck {
			workerID := ""
			if j.claimedBy != nil {
				workerID = *j.claimedBy
			}
			startedAt := time.Now()
			if j.claimedAt != nil {
				startedAt = *j.claimedAt
			}

			_, err = tx.Exec(ctx, `
				INSERT INTO job_attempts (id, job_id, tenant_id, attempt_no, worker_id, started_at, ended_at, outcome, error_kind, error_message)
				VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, NOW(), 'timed_out', $6, 'heartbeat stale')
			`, j.id, j.tenantID, j.attemptNo, workerID, startedAt, string(store.KindTimeout))
			if err != nil {
				return err
			}

			if j.attemptNo < j.maxAttempts {
				delay := backoffDelay(j.attemptNo)
				_, err = tx.Exec(ctx, `
					UPDATE jobs
					SET status = 'pending', available_at = NOW() + $3,
					    claimed_by = NULL, claimed_at = NULL, heartbeat_at = NULL,
					    updated_at = NOW()
					WHERE tenant_id = $1 AND id = $2
				`, j.tenantID, j.id, delay)
			} else {
				_, err = tx.Exec(ctx, `
					UPDATE jobs
					SET status = 'dead',
					    claimed_by = NULL, claimed_at = NULL, heartbeat_at = NULL,
					    updated_at = NOW()
					WHERE tenant_id = $1 AND id = $2
				`, j.tenantID, j.id)
			}
			if err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, store.Wrap(store.KindDatabase, "reap_failed", "failed to reap stuck jobs", err)
	}
	return count, nil
}

func (s *Store) GetJob(ctx context.Context, tenantID, jobID string) (job.Job, error) {
	op := "jobs.get"
	var j job.Job
	var rowErr error
	err := s.observe(op, func() error {
		row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE tenant_id = $1 AND id = $2`, tenantID, jobID)
		j, rowErr = scanJob(row)
		return rowErr
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return job.Job{}, store.ErrJobNotFound
		}
		return job.Job{}, store.Wrap(store.KindDatabase, "query_failed", "failed to fetch job", err)
	}
	return j, nil
}

func (s *Store) ListJobs(ctx context.Context, tenantID string, status *job.Status, limit int, after *store.JobCursor) ([]job.Job, *store.JobCursor, bool, error) {
	op := "jobs.admin.list"

	conds := []string{"tenant_id = $1"}
	args := []any{tenantID}
	pos := 2

	if status != nil {
		conds = append(conds, fmt.Sprintf("status = $%d", pos))
		args = append(args, string(*status))
		pos++
	}
	if after != nil {
		conds = append(conds, fmt.Sprintf("(updated_at, id) < ($%d, $%d)", pos, pos+1))
		args = append(args, after.UpdatedAt, after.ID)
		pos += 2
	}

	q := `SELECT ` + jobColumns + ` FROM jobs WHERE ` + strings.Join(conds, " AND ") +
		fmt.Sprintf(" ORDER BY updated_at DESC, id DESC LIMIT $%d", pos)
	args = append(args, limit+1)

	var out []job.Job
	err := s.observe(op, func() error {
		rows, qerr := s.pool.Query(ctx, q, args...)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		for rows.Next() {
			j, serr := scanJob(rows)
			if serr != nil {
				return serr
			}
			out = append(out, j)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, nil, false, store.Wrap(store.KindDatabase, "query_failed", "failed to list jobs", err)
	}

	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}
	var next *store.JobCursor
	if hasMore && len(out) > 0 {
		last := out[len(out)-1]
		next = &store.JobCursor{UpdatedAt: last.UpdatedAt, ID: last.ID}
	}
	return out, next, hasMore, nil
}

func (s *Store) RetryJob(ctx context.Context, tenantID, jobID string) error {
	op := "jobs.admin.retry"

	var status string
	err := s.observe(op, func() error {
		return s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE tenant_id = $1 AND id = $2`, tenantID, jobID).Scan(&status)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrJobNotFound
		}
		return store.Wrap(store.KindDatabase, "query_failed", "failed to check job status", err)
	}
	if job.Status(status) != job.StatusFailed {
		return store.ErrJobNotFailed
	}

	return s.observe(op+".requeue", func() error {
		_, e := s.pool.Exec(ctx, `
			UPDATE jobs
			SET status = 'pending', available_at = NOW(), updated_at = NOW()
			WHERE tenant_id = $1 AND id = $2
		`, tenantID, jobID)
		return e
	})
}

func (s *Store) RetryDeadLettered(ctx context.Context, tenantID string, limit int) (int64, error) {
	op := "jobs.admin.retry_dead_lettered"
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	var rows int64
	err := s.observe(op, func() error {
		tag, execErr := s.pool.Exec(ctx, `
			WITH picked AS (
				SELECT id FROM jobs
				WHERE tenant_id = $1 AND status = 'failed'
				ORDER BY updated_at DESC
				LIMIT $2
			)
			UPDATE jobs
			SET status = 'pending', available_at = NOW(), updated_at = NOW()
			WHERE id IN (SELECT id FROM picked)
		`, tenantID, limit)
		if execErr != nil {
			return execErr
		}
		rows = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, store.Wrap(store.KindDatabase, "query_failed", "failed to retry dead-lettered jobs", err)
	}
	return rows, nil
}

func (s *Store) GetManifest(ctx context.Context, tenantID, runID string) (manifest.Manifest, error) {
	op := "manifests.get"
	var m manifest.Manifest
	var outputs, errPayload []byte
	var status string

	err := s.observe(op, func() error {
		return s.pool.QueryRow(ctx, `
			SELECT run_id, tenant_id, project_id, job_type, created_at, inputs_snapshot_hash, outputs, status, error
			FROM run_manifests WHERE tenant_id = $1 AND run_id = $2
		`, tenantID, runID).Scan(
			&m.RunID, &m.TenantID, &m.ProjectID, &m.JobType, &m.CreatedAt, &m.InputsSnapshotHash, &outputs, &status, &errPayload,
		)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return manifest.Manifest{}, store.ErrRunNotFound
		}
		return manifest.Manifest{}, store.Wrap(store.KindDatabase, "query_failed", "failed to fetch manifest", err)
	}

	m.Status = manifest.Status(status)
	if len(outputs) > 0 {
		if err := json.Unmarshal(outputs, &m.Outputs); err != nil {
			return manifest.Manifest{}, store.Wrap(store.KindInternal, "decode_failed", "failed to decode manifest outputs", err)
		}
	}
	if len(errPayload) > 0 {
		m.Error = &manifest.ManifestError{}
		if err := json.Unmarshal(errPayload, m.Error); err != nil {
			return manifest.Manifest{}, store.Wrap(store.KindInternal, "decode_failed", "failed to decode manifest error", err)
		}
	}
	return m, nil
}

func (s *Store) ListArtifacts(ctx context.Context, tenantID, runID string) ([]manifest.Artifact, error) {
	m, err := s.GetManifest(ctx, tenantID, runID)
	if err != nil {
		return nil, err
	}
	return m.Outputs, nil
}

func (s *Store) CreateEvent(ctx context.Context, e event.Event) error {
	op := "events.create"
	var subjectType, subjectID *string
	if e.Subject != nil {
		subjectType, subjectID = &e.Subject.Type, &e.Subject.ID
	}
	return s.observe(op, func() error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO events (id, tenant_id, project_id, event_type, occurred_at, trace_id, source_app,
				source_module, subject_type, subject_id, payload, contains_pii, redaction_hints, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		`, e.ID, e.TenantID, e.ProjectID, e.EventType, e.OccurredAt, e.TraceID, e.SourceApp,
			e.SourceModule, subjectType, subjectID, []byte(e.Payload), e.ContainsPII, e.RedactionHints, e.CreatedAt)
		return err
	})
}

func (s *Store) ConsumeToken(ctx context.Context, tenantID, jti, action, resource string, exp time.Time) (bool, error) {
	op := "policy_tokens.consume"
	var fresh bool
	err := s.observe(op, func() error {
		_, execErr := s.pool.Exec(ctx, `
			INSERT INTO policy_token_uses (tenant_id, jti, action, resource, expires_at, used_at)
			VALUES ($1,$2,$3,$4,$5,NOW())
		`, tenantID, jti, action, resource, exp)
		if execErr != nil {
			if isUniqueViolation(execErr) {
				fresh = false
				return nil
			}
			return execErr
		}
		fresh = true
		return nil
	})
	if err != nil {
		return false, store.Wrap(store.KindDatabase, "query_failed", "failed to record token use", err)
	}
	return fresh, nil
}

func (s *Store) ListEnabledRules(ctx context.Context, tenantID string) ([]trigger.Rule, error) {
	op := "trigger_rules.list_enabled"
	var out []trigger.Rule
	err := s.observe(op, func() error {
		rows, qerr := s.pool.Query(ctx, `
			SELECT rule_id, tenant_id, project_id, name, enabled, match, action, safety, last_fired_at, fire_count
			FROM trigger_rules WHERE tenant_id = $1 AND enabled = TRUE
		`, tenantID)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		for rows.Next() {
			var r trigger.Rule
			var matchJSON, actionJSON, safetyJSON []byte
			if serr := rows.Scan(&r.RuleID, &r.TenantID, &r.ProjectID, &r.Name, &r.Enabled,
				&matchJSON, &actionJSON, &safetyJSON, &r.LastFiredAt, &r.FireCount); serr != nil {
				return serr
			}
			if err := json.Unmarshal(matchJSON, &r.Match); err != nil {
				return err
			}
			if err := json.Unmarshal(actionJSON, &r.Action); err != nil {
				return err
			}
			if err := json.Unmarshal(safetyJSON, &r.Safety); err != nil {
				return err
			}
			out = append(out, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, store.Wrap(store.KindDatabase, "query_failed", "failed to list trigger rules", err)
	}
	return out, nil
}

func (s *Store) RecordTriggerFire(ctx context.Context, ruleID string, firedAt time.Time) (trigger.Rule, error) {
	op := "trigger_rules.record_fire"
	var r trigger.Rule
	var matchJSON, actionJSON, safetyJSON []byte
	err := s.observe(op, func() error {
		return s.pool.QueryRow(ctx, `
			UPDATE trigger_rules
			SET last_fired_at = $2, fire_count = fire_count + 1
			WHERE rule_id = $1
			RETURNING rule_id, tenant_id, project_id, name, enabled, match, action, safety, last_fired_at, fire_count
		`, ruleID, firedAt).Scan(&r.RuleID, &r.TenantID, &r.ProjectID, &r.Name, &r.Enabled,
			&matchJSON, &actionJSON, &safetyJSON, &r.LastFiredAt, &r.FireCount)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return trigger.Rule{}, store.New(store.KindNotFound, "rule_not_found", "trigger rule not found")
		}
		return trigger.Rule{}, store.Wrap(store.KindDatabase, "query_failed", "failed to record trigger fire", err)
	}
	_ = json.Unmarshal(matchJSON, &r.Match)
	_ = json.Unmarshal(actionJSON, &r.Action)
	_ = json.Unmarshal(safetyJSON, &r.Safety)
	return r, nil
}

func (s *Store) RecordEvaluation(ctx context.Context, eval trigger.Evaluation) error {
	op := "trigger_evaluations.record"
	return s.observe(op, func() error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO trigger_evaluations (id, rule_id, tenant_id, event_id, decision, reason, dry_run, bundle_id, evaluated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, eval.ID, eval.RuleID, eval.TenantID, eval.EventID, string(eval.Decision), eval.Reason, eval.DryRun, eval.BundleID, eval.EvaluatedAt)
		return err
	})
}

// Ping verifies the pool can reach postgres.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) withTx(ctx context.Context, op string, fn func(pgx.Tx) error) error {
	var txErr error
	err := s.observe(op, func() error {
		tx, beginErr := s.pool.Begin(ctx)
		if beginErr != nil {
			return beginErr
		}
		defer tx.Rollback(ctx)

		if txErr = fn(tx); txErr != nil {
			return txErr
		}
		return tx.Commit(ctx)
	})
	if txErr != nil {
		if errors.Is(txErr, store.ErrClaimLost) {
			return txErr
		}
		return store.Wrap(store.KindDatabase, "tx_failed", "transaction failed", err)
	}
	return err
}

var _ store.Store = (*Store)(nil)
