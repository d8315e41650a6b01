package bundleexec_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/hardonian/jobforge/internal/bundleexec"
	"github.com/hardonian/jobforge/internal/domain/bundle"
	"github.com/hardonian/jobforge/internal/domain/manifest"
	"github.com/hardonian/jobforge/internal/policytoken"
	"github.com/hardonian/jobforge/internal/store/memory"
	"github.com/stretchr/testify/require"
)

var secret = []byte("bundle-test-secret-aaaaaaaaaaaaaa")

func simpleRequest(id, idemKey string) bundle.Request {
	return bundle.Request{
		ID:             id,
		JobType:        "notify.send",
		TenantID:       "tenant-1",
		Payload:        json.RawMessage(`{"x":1}`),
		IdempotencyKey: idemKey,
	}
}

func TestExecute_AllRequestsAcceptedSucceeds(t *testing.T) {
	s := memory.New()
	exec := bundleexec.New(s, [][]byte{secret}, false)

	b := bundle.Bundle{
		BundleID:      "bundle-1",
		SchemaVersion: bundle.CurrentSchemaVersion,
		TenantID:      "tenant-1",
		Requests:      []bundle.Request{simpleRequest("r1", "k1"), simpleRequest("r2", "k2")},
	}

	m, err := exec.Execute(context.Background(), bundle.ExecutionPayload{Bundle: b, Mode: bundle.ModeExecute}, "run-1", "trace-1")
	require.NoError(t, err)
	require.Equal(t, manifest.StatusComplete, m.Status)
	require.Equal(t, "run-1", m.RunID)
	require.NotEmpty(t, m.InputsSnapshotHash)
}

func TestExecute_InvalidBundleReturnsFailedManifest(t *testing.T) {
	s := memory.New()
	exec := bundleexec.New(s, [][]byte{secret}, false)

	b := bundle.Bundle{} // missing bundleId, schemaVersion, tenantId, requests

	m, err := exec.Execute(context.Background(), bundle.ExecutionPayload{Bundle: b, Mode: bundle.ModeExecute}, "run-1", "trace-1")
	require.NoError(t, err)
	require.Equal(t, manifest.StatusFailed, m.Status)
	require.NotNil(t, m.Error)
}

func TestExecute_DuplicateIdempotencyKeyWithinBundleIsRejectedByValidation(t *testing.T) {
	s := memory.New()
	exec := bundleexec.New(s, [][]byte{secret}, false)

	b := bundle.Bundle{
		BundleID:      "bundle-1",
		SchemaVersion: bundle.CurrentSchemaVersion,
		TenantID:      "tenant-1",
		Requests:      []bundle.Request{simpleRequest("r1", "same-key"), simpleRequest("r2", "same-key")},
	}

	m, err := exec.Execute(context.Background(), bundle.ExecutionPayload{Bundle: b, Mode: bundle.ModeExecute}, "run-1", "trace-1")
	require.NoError(t, err)
	require.Equal(t, manifest.StatusFailed, m.Status)
}

func TestExecute_ActionJobDeniedWhenActionJobsDisabled(t *testing.T) {
	t.Setenv("ACTION_JOBS_ENABLED", "false")
	s := memory.New()
	exec := bundleexec.New(s, [][]byte{secret}, false)

	actionReq := simpleRequest("r1", "k1")
	actionReq.IsActionJob = true
	actionReq.RequiredScopes = []string{"jobs:write"}

	token, err := policytoken.Issue(policytoken.IssueRequest{
		TenantID: "tenant-1",
		ActorID:  "actor-1",
		Scopes:   []string{"jobs:write"},
		Audience: "notify.send",
	}, [][]byte{secret})
	require.NoError(t, err)

	b := bundle.Bundle{
		BundleID:      "bundle-1",
		SchemaVersion: bundle.CurrentSchemaVersion,
		TenantID:      "tenant-1",
		Requests:      []bundle.Request{actionReq},
	}

	m, err := exec.Execute(context.Background(), bundle.ExecutionPayload{Bundle: b, Mode: bundle.ModeExecute, PolicyToken: &token}, "run-1", "trace-1")
	require.NoError(t, err)
	require.Equal(t, manifest.StatusFailed, m.Status)
}

func TestExecute_ActionJobWithoutTokenIsDenied(t *testing.T) {
	t.Setenv("ACTION_JOBS_ENABLED", "true")
	s := memory.New()
	exec := bundleexec.New(s, [][]byte{secret}, false)

	actionReq := simpleRequest("r1", "k1")
	actionReq.IsActionJob = true
	actionReq.RequiredScopes = []string{"jobs:write"}

	b := bundle.Bundle{
		BundleID:      "bundle-1",
		SchemaVersion: bundle.CurrentSchemaVersion,
		TenantID:      "tenant-1",
		Requests:      []bundle.Request{actionReq},
	}

	m, err := exec.Execute(context.Background(), bundle.ExecutionPayload{Bundle: b, Mode: bundle.ModeExecute}, "run-1", "trace-1")
	require.NoError(t, err)
	require.Equal(t, manifest.StatusFailed, m.Status)
}

func TestExecute_ActionJobWithValidTokenAccepted(t *testing.T) {
	t.Setenv("ACTION_JOBS_ENABLED", "true")
	s := memory.New()
	exec := bundleexec.New(s, [][]byte{secret}, false)

	actionReq := simpleRequest("r1", "k1")
	actionReq.IsActionJob = true
	actionReq.RequiredScopes = []string{"jobs:write"}

	token, err := policytoken.Issue(policytoken.IssueRequest{
		TenantID: "tenant-1",
		ActorID:  "actor-1",
		Scopes:   []string{"jobs:write"},
		Audience: "notify.send",
	}, [][]byte{secret})
	require.NoError(t, err)

	b := bundle.Bundle{
		BundleID:      "bundle-1",
		SchemaVersion: bundle.CurrentSchemaVersion,
		TenantID:      "tenant-1",
		Requests:      []bundle.Request{actionReq},
	}

	m, err := exec.Execute(context.Background(), bundle.ExecutionPayload{Bundle: b, Mode: bundle.ModeExecute, PolicyToken: &token}, "run-1", "trace-1")
	require.NoError(t, err)
	require.Equal(t, manifest.StatusComplete, m.Status)
}

func TestExecute_ActionJobForcedDryRunRewritesAndWarns(t *testing.T) {
	t.Setenv("ACTION_JOBS_ENABLED", "true")
	s := memory.New()
	exec := bundleexec.New(s, [][]byte{secret}, true)

	actionReq := simpleRequest("r1", "k1")
	actionReq.IsActionJob = true

	b := bundle.Bundle{
		BundleID:      "bundle-1",
		SchemaVersion: bundle.CurrentSchemaVersion,
		TenantID:      "tenant-1",
		Requests:      []bundle.Request{actionReq},
	}

	m, err := exec.Execute(context.Background(), bundle.ExecutionPayload{Bundle: b, Mode: bundle.ModeDryRun}, "run-1", "trace-1")
	require.NoError(t, err)
	require.Equal(t, manifest.StatusComplete, m.Status)
	require.Len(t, m.Warnings, 1)
}
