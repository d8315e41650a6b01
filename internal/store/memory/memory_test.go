package memory

import (
	"context"
	"testing"
	"time"

	"github.com/hardonian/jobforge/internal/domain/job"
	"github.com/hardonian/jobforge/internal/domain/manifest"
	"github.com/hardonian/jobforge/internal/store"
	"github.com/stretchr/testify/require"
)

func TestEnqueueJob_DedupesByIdempotencyKey(t *testing.T) {
	s := New()
	ctx := context.Background()

	req := job.EnqueueRequest{TenantID: "t1", Type: "ops.scan", Payload: []byte(`{"target":"x"}`), IdempotencyKey: "k1"}

	j1, outcome1, err := s.EnqueueJob(ctx, req)
	require.NoError(t, err)
	require.Equal(t, store.OutcomeAccepted, outcome1)

	j2, outcome2, err := s.EnqueueJob(ctx, req)
	require.NoError(t, err)
	require.Equal(t, store.OutcomeDuplicate, outcome2)
	require.Equal(t, j1.ID, j2.ID)
}

func TestEnqueueJob_SameKeyDifferentTenant(t *testing.T) {
	s := New()
	ctx := context.Background()

	reqA := job.EnqueueRequest{TenantID: "t1", Type: "ops.scan", IdempotencyKey: "shared"}
	reqB := job.EnqueueRequest{TenantID: "t2", Type: "ops.scan", IdempotencyKey: "shared"}

	jA, _, err := s.EnqueueJob(ctx, reqA)
	require.NoError(t, err)
	jB, _, err := s.EnqueueJob(ctx, reqB)
	require.NoError(t, err)

	require.NotEqual(t, jA.ID, jB.ID)
}

func TestClaimJobs_OrdersByPriorityThenAvailability(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, _, _ = s.EnqueueJob(ctx, job.EnqueueRequest{TenantID: "t1", Type: "ops.scan", IdempotencyKey: "low", Priority: 1})
	_, _, _ = s.EnqueueJob(ctx, job.EnqueueRequest{TenantID: "t1", Type: "ops.scan", IdempotencyKey: "high", Priority: 9})

	claimed, err := s.ClaimJobs(ctx, nil, "worker-1", 10)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	require.Equal(t, "high", claimed[0].IdempotencyKey)
	require.Equal(t, job.StatusClaimed, claimed[0].Status)
	require.NotNil(t, claimed[0].ClaimedBy)
	require.Equal(t, "worker-1", *claimed[0].ClaimedBy)
}

func TestClaimJobs_RespectsTenantScope(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, _, _ = s.EnqueueJob(ctx, job.EnqueueRequest{TenantID: "t1", Type: "ops.scan", IdempotencyKey: "a"})
	_, _, _ = s.EnqueueJob(ctx, job.EnqueueRequest{TenantID: "t2", Type: "ops.scan", IdempotencyKey: "b"})

	tenant := "t1"
	claimed, err := s.ClaimJobs(ctx, &tenant, "worker-1", 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, "t1", claimed[0].TenantID)
}

func TestHeartbeatJob_FalseOnLostClaim(t *testing.T) {
	s := New()
	ctx := context.Background()

	j, _, _ := s.EnqueueJob(ctx, job.EnqueueRequest{TenantID: "t1", Type: "ops.scan", IdempotencyKey: "a"})
	claimed, err := s.ClaimJobs(ctx, nil, "worker-1", 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	ok, err := s.HeartbeatJob(ctx, "t1", j.ID, "worker-2")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = s.HeartbeatJob(ctx, "t1", j.ID, "worker-1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCompleteJob_WritesManifest(t *testing.T) {
	s := New()
	ctx := context.Background()

	j, _, _ := s.EnqueueJob(ctx, job.EnqueueRequest{TenantID: "t1", Type: "ops.scan", IdempotencyKey: "a"})
	claimed, _ := s.ClaimJobs(ctx, nil, "worker-1", 1)
	require.Len(t, claimed, 1)

	err := s.CompleteJob(ctx, "t1", j.ID, "worker-1", nil, manifest.Manifest{JobType: "ops.scan"})
	require.NoError(t, err)

	got, err := s.GetJob(ctx, "t1", j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusSucceeded, got.Status)

	m, err := s.GetManifest(ctx, "t1", j.ID)
	require.NoError(t, err)
	require.Equal(t, manifest.StatusComplete, m.Status)
}

func TestFailJob_RetryableReschedulesUntilMaxAttempts(t *testing.T) {
	s := New()
	ctx := context.Background()

	j, _, _ := s.EnqueueJob(ctx, job.EnqueueRequest{TenantID: "t1", Type: "ops.scan", IdempotencyKey: "a", MaxAttempts: 2})

	claimed, _ := s.ClaimJobs(ctx, nil, "worker-1", 1)
	require.Len(t, claimed, 1)
	err := s.FailJob(ctx, "t1", j.ID, "worker-1", string(store.KindTimeout), "boom", true)
	require.NoError(t, err)

	got, err := s.GetJob(ctx, "t1", j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusPending, got.Status)
	require.True(t, got.AvailableAt.After(time.Now().Add(-time.Minute)))

	claimed2, _ := s.ClaimJobs(ctx, nil, "worker-1", 1)
	if len(claimed2) == 1 {
		err = s.FailJob(ctx, "t1", j.ID, "worker-1", string(store.KindTimeout), "boom again", true)
		require.NoError(t, err)
		final, err := s.GetJob(ctx, "t1", j.ID)
		require.NoError(t, err)
		require.Equal(t, job.StatusFailed, final.Status)
	}
}

func TestFailJob_NonRetryableGoesDeadImmediately(t *testing.T) {
	s := New()
	ctx := context.Background()

	j, _, _ := s.EnqueueJob(ctx, job.EnqueueRequest{TenantID: "t1", Type: "ops.scan", IdempotencyKey: "a", MaxAttempts: 5})
	_, _ = s.ClaimJobs(ctx, nil, "worker-1", 1)

	err := s.FailJob(ctx, "t1", j.ID, "worker-1", string(store.KindValidation), "bad payload", false)
	require.NoError(t, err)

	got, err := s.GetJob(ctx, "t1", j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusDead, got.Status)
}

func TestReapStuckJobs_RequeuesStaleClaims(t *testing.T) {
	s := New()
	ctx := context.Background()

	j, _, _ := s.EnqueueJob(ctx, job.EnqueueRequest{TenantID: "t1", Type: "ops.scan", IdempotencyKey: "a", MaxAttempts: 3})
	_, _ = s.ClaimJobs(ctx, nil, "worker-1", 1)

	s.mu.Lock()
	stale := j
	stale, ok := s.jobs[j.ID]
	require.True(t, ok)
	old := time.Now().Add(-time.Hour)
	stale.HeartbeatAt = &old
	s.jobs[j.ID] = stale
	s.mu.Unlock()

	n, err := s.ReapStuckJobs(ctx, time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := s.GetJob(ctx, "t1", j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusPending, got.Status)
	require.Nil(t, got.ClaimedBy)
}

func TestConsumeToken_RejectsReplay(t *testing.T) {
	s := New()
	ctx := context.Background()

	fresh, err := s.ConsumeToken(ctx, "t1", "jti-1", "restart_job", "job:123", time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.True(t, fresh)

	fresh, err = s.ConsumeToken(ctx, "t1", "jti-1", "restart_job", "job:123", time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.False(t, fresh)
}
