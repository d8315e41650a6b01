// Package memory is a mutex-guarded, process-local implementation of
// store.Store used by unit tests and single-node development. It honors
// the same tenant-isolation invariant (P7) as the postgres implementation
// so tests never special-case it.
package memory

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hardonian/jobforge/internal/domain/attempt"
	"github.com/hardonian/jobforge/internal/domain/event"
	"github.com/hardonian/jobforge/internal/domain/job"
	"github.com/hardonian/jobforge/internal/domain/manifest"
	"github.com/hardonian/jobforge/internal/domain/trigger"
	"github.com/hardonian/jobforge/internal/store"
)

// Backoff parameterizes the retry schedule applied by FailJob; it mirrors
// the queue/worker package's backoff formula so the store can compute
// available_at without importing the worker package (which would create a
// cycle).
type Backoff struct {
	Base       time.Duration
	Multiplier float64
	Max        time.Duration
	JitterPct  float64
}

func DefaultBackoff() Backoff {
	return Backoff{Base: time.Second, Multiplier: 2, Max: 30 * time.Second, JitterPct: 0.25}
}

func (b Backoff) Delay(attemptNo int, rng *rand.Rand) time.Duration {
	delay := float64(b.Base)
	for i := 1; i < attemptNo; i++ {
		delay *= b.Multiplier
	}
	if d := time.Duration(delay); d > b.Max {
		delay = float64(b.Max)
	}
	jitter := 1 + (rng.Float64()*2-1)*b.JitterPct
	return time.Duration(delay * jitter)
}

type Store struct {
	mu sync.Mutex
	rng *rand.Rand

	backoff Backoff

	jobs         map[string]job.Job
	jobsByKey    map[string]string // tenant|type|idempotencyKey -> job id
	attempts     map[string][]attempt.Attempt
	manifests    map[string]manifest.Manifest // runID -> manifest
	events       []event.Event
	rules        map[string]trigger.Rule
	evaluations  []trigger.Evaluation
	consumedTok  map[string]time.Time // tenant|jti|action|resource -> exp
}

func New() *Store {
	return &Store{
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		backoff:     DefaultBackoff(),
		jobs:        make(map[string]job.Job),
		jobsByKey:   make(map[string]string),
		attempts:    make(map[string][]attempt.Attempt),
		manifests:   make(map[string]manifest.Manifest),
		rules:       make(map[string]trigger.Rule),
		consumedTok: make(map[string]time.Time),
	}
}

// SeedRule registers a trigger rule directly, for tests that need fixed
// trigger state without a separate admin API.
func (s *Store) SeedRule(r trigger.Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[r.RuleID] = r
}

func dedupeKey(tenantID, jobType, idempotencyKey string) string {
	return tenantID + "|" + jobType + "|" + idempotencyKey
}

func (s *Store) EnqueueJob(ctx context.Context, req job.EnqueueRequest) (job.Job, store.EnqueueOutcome, error) {
	if len(req.Payload) > job.MaxPayloadBytes {
		return job.Job{}, "", store.New(store.KindValidation, "payload_too_large", "payload exceeds 64 KiB")
	}
	if req.TenantID == "" || req.Type == "" || req.IdempotencyKey == "" {
		return job.Job{}, "", store.New(store.KindValidation, "missing_field", "tenantId, type, and idempotencyKey are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := dedupeKey(req.TenantID, req.Type, req.IdempotencyKey)
	if existingID, ok := s.jobsByKey[key]; ok {
		return s.jobs[existingID], store.OutcomeDuplicate, nil
	}

	j := job.New(req)
	s.jobs[j.ID] = j
	s.jobsByKey[key] = j.ID
	return j, store.OutcomeAccepted, nil
}

func (s *Store) ClaimJobs(ctx context.Context, tenantID *string, workerID string, limit int) ([]job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()

	var candidates []job.Job
	for _, j := range s.jobs {
		if j.Status != job.StatusPending {
			continue
		}
		if j.AvailableAt.After(now) {
			continue
		}
		if tenantID != nil && j.TenantID != *tenantID {
			continue
		}
		candidates = append(candidates, j)
	}

	sort.Slice(candidates, func(i, k int) bool {
		a, b := candidates[i], candidates[k]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.AvailableAt.Equal(b.AvailableAt) {
			return a.AvailableAt.Before(b.AvailableAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	if limit > len(candidates) {
		limit = len(candidates)
	}

	claimed := make([]job.Job, 0, limit)
	for i := 0; i < limit; i++ {
		j := candidates[i]
		j.Status = job.StatusClaimed
		j.ClaimedBy = &workerID
		claimedAt := now
		j.ClaimedAt = &claimedAt
		heartbeat := now
		j.HeartbeatAt = &heartbeat
		j.AttemptNo++
		j.UpdatedAt = now
		s.jobs[j.ID] = j
		claimed = append(claimed, j)
	}

	return claimed, nil
}

func (s *Store) HeartbeatJob(ctx context.Context, tenantID, jobID, workerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok || j.TenantID != tenantID {
		return false, store.ErrJobNotFound
	}
	if j.ClaimedBy == nil || *j.ClaimedBy != workerID {
		return false, nil
	}
	if j.Status != job.StatusClaimed && j.Status != job.StatusRunning {
		return false, nil
	}

	now := time.Now().UTC()
	j.HeartbeatAt = &now
	if j.Status == job.StatusClaimed {
		j.Status = job.StatusRunning
	}
	j.UpdatedAt = now
	s.jobs[jobID] = j
	return true, nil
}

func (s *Store) CompleteJob(ctx context.Context, tenantID, jobID, workerID string, resultRef *string, m manifest.Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok || j.TenantID != tenantID {
		return store.ErrJobNotFound
	}
	if j.ClaimedBy == nil || *j.ClaimedBy != workerID {
		return store.New(store.KindConflict, "not_claimant", "job is not claimed by this worker")
	}

	now := time.Now().UTC()
	j.Status = job.StatusSucceeded
	j.ResultID = resultRef
	j.UpdatedAt = now
	s.jobs[jobID] = j

	s.attempts[jobID] = append(s.attempts[jobID], attempt.Attempt{
		ID:        uuid.NewString(),
		JobID:     jobID,
		TenantID:  tenantID,
		AttemptNo: j.AttemptNo,
		WorkerID:  workerID,
		StartedAt: derefTime(j.ClaimedAt, now),
		EndedAt:   &now,
		Outcome:   attempt.OutcomeSucceeded,
	})

	m.RunID = jobID
	m.TenantID = tenantID
	m.Status = manifest.StatusComplete
	s.manifests[jobID] = m

	return nil
}

func (s *Store) FailJob(ctx context.Context, tenantID, jobID, workerID, errKind, errMessage string, retryable bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok || j.TenantID != tenantID {
		return store.ErrJobNotFound
	}
	if j.ClaimedBy == nil || *j.ClaimedBy != workerID {
		return store.New(store.KindConflict, "not_claimant", "job is not claimed by this worker")
	}

	now := time.Now().UTC()
	outcome := attempt.OutcomeFailed
	if errKind == string(store.KindTimeout) {
		outcome = attempt.OutcomeTimedOut
	}
	s.attempts[jobID] = append(s.attempts[jobID], attempt.Attempt{
		ID:           uuid.NewString(),
		JobID:        jobID,
		TenantID:     tenantID,
		AttemptNo:    j.AttemptNo,
		WorkerID:     workerID,
		StartedAt:    derefTime(j.ClaimedAt, now),
		EndedAt:      &now,
		Outcome:      outcome,
		ErrorKind:    errKind,
		ErrorMessage: errMessage,
	})

	if j.AttemptNo < j.MaxAttempts && retryable {
		delay := s.backoff.Delay(j.AttemptNo, s.rng)
		nextAvailable := now.Add(delay)
		if !nextAvailable.After(j.AvailableAt) {
			nextAvailable = j.AvailableAt.Add(s.backoff.Base)
		}
		j.Status = job.StatusPending
		j.AvailableAt = nextAvailable
		j.ClaimedBy = nil
		j.ClaimedAt = nil
		j.HeartbeatAt = nil
	} else {
		if retryable {
			j.Status = job.StatusFailed
		} else {
			j.Status = job.StatusDead
		}
	}
	j.UpdatedAt = now
	s.jobs[jobID] = j

	failMsg := errMessage
	m := manifest.Manifest{
		RunID:     jobID,
		TenantID:  tenantID,
		CreatedAt: now,
		Status:    manifest.StatusFailed,
		Error:     &manifest.ManifestError{Kind: errKind, Code: errKind, Message: failMsg},
	}
	if j.Status == job.StatusFailed || j.Status == job.StatusDead {
		s.manifests[jobID] = m
	}

	return nil
}

func (s *Store) ReapStuckJobs(ctx context.Context, staleAfter time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	count := 0

	for id, j := range s.jobs {
		if j.Status != job.StatusClaimed && j.Status != job.StatusRunning {
			continue
		}
		if j.HeartbeatAt == nil || !j.HeartbeatAt.Before(now.Add(-staleAfter)) {
			continue
		}

		s.attempts[id] = append(s.attempts[id], attempt.Attempt{
			ID:        uuid.NewString(),
			JobID:     id,
			TenantID:  j.TenantID,
			AttemptNo: j.AttemptNo,
			WorkerID:  derefStr(j.ClaimedBy),
			StartedAt: derefTime(j.ClaimedAt, now),
			EndedAt:   &now,
			Outcome:   attempt.OutcomeTimedOut,
			ErrorKind: string(store.KindTimeout),
			ErrorMessage: "heartbeat stale",
		})

		if j.AttemptNo < j.MaxAttempts {
			delay := s.backoff.Delay(j.AttemptNo, s.rng)
			j.Status = job.StatusPending
			j.AvailableAt = now.Add(delay)
		} else {
			j.Status = job.StatusDead
		}
		j.ClaimedBy = nil
		j.ClaimedAt = nil
		j.HeartbeatAt = nil
		j.UpdatedAt = now
		s.jobs[id] = j
		count++
	}

	return count, nil
}

func (s *Store) GetJob(ctx context.Context, tenantID, jobID string) (job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok || j.TenantID != tenantID {
		return job.Job{}, store.ErrJobNotFound
	}
	return j, nil
}

func (s *Store) ListJobs(ctx context.Context, tenantID string, status *job.Status, limit int, after *store.JobCursor) ([]job.Job, *store.JobCursor, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []job.Job
	for _, j := range s.jobs {
		if j.TenantID != tenantID {
			continue
		}
		if status != nil && j.Status != *status {
			continue
		}
		if after != nil {
			if !j.UpdatedAt.Before(after.UpdatedAt) && j.ID >= after.ID {
				continue
			}
		}
		all = append(all, j)
	}

	sort.Slice(all, func(i, k int) bool {
		if !all[i].UpdatedAt.Equal(all[k].UpdatedAt) {
			return all[i].UpdatedAt.After(all[k].UpdatedAt)
		}
		return all[i].ID > all[k].ID
	})

	hasMore := len(all) > limit
	if hasMore {
		all = all[:limit]
	}

	var next *store.JobCursor
	if hasMore && len(all) > 0 {
		last := all[len(all)-1]
		next = &store.JobCursor{UpdatedAt: last.UpdatedAt, ID: last.ID}
	}

	return all, next, hasMore, nil
}

func (s *Store) RetryJob(ctx context.Context, tenantID, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok || j.TenantID != tenantID {
		return store.ErrJobNotFound
	}
	if j.Status != job.StatusFailed {
		return store.ErrJobNotFailed
	}
	j.Status = job.StatusPending
	j.AvailableAt = time.Now().UTC()
	j.UpdatedAt = time.Now().UTC()
	s.jobs[jobID] = j
	return nil
}

func (s *Store) RetryDeadLettered(ctx context.Context, tenantID string, limit int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for id, j := range s.jobs {
		if count >= int64(limit) {
			break
		}
		if j.TenantID != tenantID || j.Status != job.StatusFailed {
			continue
		}
		j.Status = job.StatusPending
		j.AvailableAt = time.Now().UTC()
		j.UpdatedAt = time.Now().UTC()
		s.jobs[id] = j
		count++
	}
	return count, nil
}

func (s *Store) GetManifest(ctx context.Context, tenantID, runID string) (manifest.Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.manifests[runID]
	if !ok || m.TenantID != tenantID {
		return manifest.Manifest{}, store.ErrRunNotFound
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

// PutManifest allows callers that own manifest construction directly (the
// bundle executor writes bundle-level manifests outside CompleteJob) to
// persist one.
func (s *Store) PutManifest(m manifest.Manifest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manifests[m.RunID] = m
}

func (s *Store) CreateEvent(ctx context.Context, e event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *Store) ConsumeToken(ctx context.Context, tenantID, jti, action, resource string, exp time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := fmt.Sprintf("%s|%s|%s|%s", tenantID, jti, action, resource)
	if _, used := s.consumedTok[key]; used {
		return false, nil
	}
	s.consumedTok[key] = exp
	return true, nil
}

func (s *Store) ListEnabledRules(ctx context.Context, tenantID string) ([]trigger.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []trigger.Rule
	for _, r := range s.rules {
		if r.TenantID == tenantID && r.Enabled {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) RecordTriggerFire(ctx context.Context, ruleID string, firedAt time.Time) (trigger.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rules[ruleID]
	if !ok {
		return trigger.Rule{}, store.New(store.KindNotFound, "rule_not_found", "trigger rule not found")
	}
	r.LastFiredAt = &firedAt
	r.FireCount++
	s.rules[ruleID] = r
	return r, nil
}

func (s *Store) RecordEvaluation(ctx context.Context, eval trigger.Evaluation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evaluations = append(s.evaluations, eval)
	return nil
}

// Evaluations exposes recorded trigger evaluations for test assertions.
func (s *Store) Evaluations() []trigger.Evaluation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]trigger.Evaluation, len(s.evaluations))
	copy(out, s.evaluations)
	return out
}

// Ping always succeeds; there is no backing connection to check.
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

func derefTime(t *time.Time, fallback time.Time) time.Time {
	if t == nil {
		return fallback
	}
	return *t
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var _ store.Store = (*Store)(nil)
