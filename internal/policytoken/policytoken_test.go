package policytoken_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/hardonian/jobforge/internal/policytoken"
	"github.com/hardonian/jobforge/internal/store/memory"
	"github.com/stretchr/testify/require"
)

var secretCurrent = []byte("current-secret-aaaaaaaaaaaaaaaaaaaa")
var secretOld = []byte("old-secret-bbbbbbbbbbbbbbbbbbbbbbbb")

func baseIssueRequest() policytoken.IssueRequest {
	return policytoken.IssueRequest{
		TenantID: "tenant-1",
		ActorID:  "actor-1",
		Scopes:   []string{"jobs:write"},
		Audience: "autopilot.execute_request_bundle",
	}
}

func TestIssueVerify_RoundTrip(t *testing.T) {
	token, err := policytoken.Issue(baseIssueRequest(), [][]byte{secretCurrent})
	require.NoError(t, err)
	require.Equal(t, 2, len(strings.Split(token, ".")))

	claims, err := policytoken.Verify(token, [][]byte{secretCurrent}, policytoken.Requirements{
		Action:         "autopilot.execute_request_bundle",
		TenantID:       "tenant-1",
		RequiredScopes: []string{"jobs:write"},
	})
	require.NoError(t, err)
	require.Equal(t, "tenant-1", claims.TenantID)
	require.Equal(t, "1", claims.Ver)
}

func TestIssue_RejectsEmptyScopes(t *testing.T) {
	req := baseIssueRequest()
	req.Scopes = nil
	_, err := policytoken.Issue(req, [][]byte{secretCurrent})
	require.ErrorIs(t, err, policytoken.ErrEmptyScopes)
}

func TestIssue_RejectsExcessiveTTL(t *testing.T) {
	req := baseIssueRequest()
	req.TTL = 25 * time.Hour
	_, err := policytoken.Issue(req, [][]byte{secretCurrent})
	require.ErrorIs(t, err, policytoken.ErrTTLTooLong)
}

func TestVerify_RotatedSecretStillValidatesOldToken(t *testing.T) {
	token, err := policytoken.Issue(baseIssueRequest(), [][]byte{secretOld})
	require.NoError(t, err)

	// secrets[] newest-first; secretOld is no longer the signing secret for
	// new tokens but must still verify tokens it signed.
	_, err = policytoken.Verify(token, [][]byte{secretCurrent, secretOld}, policytoken.Requirements{
		Action:         "autopilot.execute_request_bundle",
		TenantID:       "tenant-1",
		RequiredScopes: []string{"jobs:write"},
	})
	require.NoError(t, err)
}

func TestVerify_ExpiredTokenUnderRetiredSecretReportsExpired(t *testing.T) {
	req := baseIssueRequest()
	req.TTL = time.Minute
	token, err := policytoken.Issue(req, [][]byte{secretOld})
	require.NoError(t, err)

	// secretOld has since been fully retired (not in the verification set
	// at all), so the signature would never match; the expiry check must
	// still run first and classify this as expired, not invalid_signature.
	future := time.Now().UTC().Add(time.Hour)
	_, err = policytoken.VerifyAt(token, [][]byte{secretCurrent}, policytoken.Requirements{
		Action:   "autopilot.execute_request_bundle",
		TenantID: "tenant-1",
	}, future)
	var verr *policytoken.VerifyError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, policytoken.ReasonExpired, verr.Reason)
}

func TestVerify_UnknownSecretFailsInvalidSignature(t *testing.T) {
	token, err := policytoken.Issue(baseIssueRequest(), [][]byte{secretOld})
	require.NoError(t, err)

	_, err = policytoken.Verify(token, [][]byte{secretCurrent}, policytoken.Requirements{
		Action:   "autopilot.execute_request_bundle",
		TenantID: "tenant-1",
	})
	var verr *policytoken.VerifyError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, policytoken.ReasonInvalidSignature, verr.Reason)
}

func TestVerify_MalformedToken(t *testing.T) {
	for _, tok := range []string{"", "no-dot-here", "a.b.c", "."} {
		_, err := policytoken.Verify(tok, [][]byte{secretCurrent}, policytoken.Requirements{})
		var verr *policytoken.VerifyError
		require.ErrorAs(t, err, &verr, "token %q", tok)
		require.Equal(t, policytoken.ReasonMalformed, verr.Reason)
	}
}

func TestVerify_Expired(t *testing.T) {
	req := baseIssueRequest()
	req.TTL = time.Minute
	token, err := policytoken.Issue(req, [][]byte{secretCurrent})
	require.NoError(t, err)

	future := time.Now().UTC().Add(time.Hour)
	_, err = policytoken.VerifyAt(token, [][]byte{secretCurrent}, policytoken.Requirements{
		Action:   "autopilot.execute_request_bundle",
		TenantID: "tenant-1",
	}, future)
	var verr *policytoken.VerifyError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, policytoken.ReasonExpired, verr.Reason)
}

func TestVerify_ActionMismatch(t *testing.T) {
	token, err := policytoken.Issue(baseIssueRequest(), [][]byte{secretCurrent})
	require.NoError(t, err)

	_, err = policytoken.Verify(token, [][]byte{secretCurrent}, policytoken.Requirements{
		Action:   "autopilot.something_else",
		TenantID: "tenant-1",
	})
	var verr *policytoken.VerifyError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, policytoken.ReasonActionMismatch, verr.Reason)
}

func TestVerify_TenantMismatch(t *testing.T) {
	token, err := policytoken.Issue(baseIssueRequest(), [][]byte{secretCurrent})
	require.NoError(t, err)

	_, err = policytoken.Verify(token, [][]byte{secretCurrent}, policytoken.Requirements{
		Action:   "autopilot.execute_request_bundle",
		TenantID: "tenant-2",
	})
	var verr *policytoken.VerifyError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, policytoken.ReasonTenantMismatch, verr.Reason)
}

func TestVerify_ProjectMismatch(t *testing.T) {
	req := baseIssueRequest()
	proj := "proj-a"
	req.ProjectID = &proj
	token, err := policytoken.Issue(req, [][]byte{secretCurrent})
	require.NoError(t, err)

	wantProj := "proj-b"
	_, err = policytoken.Verify(token, [][]byte{secretCurrent}, policytoken.Requirements{
		Action:    "autopilot.execute_request_bundle",
		TenantID:  "tenant-1",
		ProjectID: &wantProj,
	})
	var verr *policytoken.VerifyError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, policytoken.ReasonProjectMismatch, verr.Reason)
}

func TestVerify_MissingScopes(t *testing.T) {
	token, err := policytoken.Issue(baseIssueRequest(), [][]byte{secretCurrent})
	require.NoError(t, err)

	_, err = policytoken.Verify(token, [][]byte{secretCurrent}, policytoken.Requirements{
		Action:         "autopilot.execute_request_bundle",
		TenantID:       "tenant-1",
		RequiredScopes: []string{"jobs:write", "jobs:admin"},
	})
	var verr *policytoken.VerifyError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, policytoken.ReasonMissingScopes, verr.Reason)
}

func TestVerifyAndConsume_RejectsReplay(t *testing.T) {
	token, err := policytoken.Issue(baseIssueRequest(), [][]byte{secretCurrent})
	require.NoError(t, err)

	ps := memory.New()
	req := policytoken.Requirements{
		Action:         "autopilot.execute_request_bundle",
		TenantID:       "tenant-1",
		RequiredScopes: []string{"jobs:write"},
	}

	_, err = policytoken.VerifyAndConsume(context.Background(), ps, token, [][]byte{secretCurrent}, req)
	require.NoError(t, err)

	_, err = policytoken.VerifyAndConsume(context.Background(), ps, token, [][]byte{secretCurrent}, req)
	var verr *policytoken.VerifyError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, policytoken.ReasonReplayed, verr.Reason)
}
