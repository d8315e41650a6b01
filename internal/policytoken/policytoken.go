// Package policytoken implements the HMAC-signed, short-lived bearer
// capability that authorizes a single action job: jti, issued/expiry
// handling, and constant-time comparison, using a minimal two-segment
// wire format. Replay state persists durably through
// store.PolicyTokenStore rather than an in-process map.
package policytoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hardonian/jobforge/internal/canonicaljson"
)

const (
	currentVersion  = "1"
	defaultTTL      = time.Hour
	maxTTL          = 24 * time.Hour
	defaultClockSkew = 60 * time.Second
)

// Claims is the policy token payload, field names matching spec §4.3's
// wire schema verbatim (ver, tid, pid, act, scp, aud, res, ctx).
type Claims struct {
	JTI       string         `json:"jti"`
	Ver       string         `json:"ver"`
	IssuedAt  int64          `json:"iat"`
	ExpiresAt int64          `json:"exp"`
	TenantID  string         `json:"tid"`
	ProjectID *string        `json:"pid,omitempty"`
	ActorID   string         `json:"act"`
	Scopes    []string       `json:"scp"`
	Audience  string         `json:"aud"`
	Resource  *string        `json:"res,omitempty"`
	Context   map[string]any `json:"ctx,omitempty"`
}

// IssueRequest carries the inputs to Issue; TTL defaults to 1h and is
// rejected if it exceeds 24h.
type IssueRequest struct {
	TenantID  string
	ProjectID *string
	ActorID   string
	Scopes    []string
	Audience  string
	Resource  *string
	Context   map[string]any
	TTL       time.Duration
}

var (
	ErrEmptyScopes  = errors.New("policytoken: scopes must not be empty")
	ErrTTLTooLong   = errors.New("policytoken: ttl exceeds the 24h maximum")
	ErrNoSecret     = errors.New("policytoken: no signing secret configured")
)

// Issue signs claims with the first (newest) secret in secrets and returns
// the two-segment wire token.
func Issue(req IssueRequest, secrets [][]byte) (string, error) {
	if len(secrets) == 0 {
		return "", ErrNoSecret
	}
	if len(req.Scopes) == 0 {
		return "", ErrEmptyScopes
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if ttl > maxTTL {
		return "", ErrTTLTooLong
	}

	now := time.Now().UTC()
	claims := Claims{
		JTI:       uuid.NewString(),
		Ver:       currentVersion,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
		TenantID:  req.TenantID,
		ProjectID: req.ProjectID,
		ActorID:   req.ActorID,
		Scopes:    req.Scopes,
		Audience:  req.Audience,
		Resource:  req.Resource,
		Context:   req.Context,
	}

	payload, err := canonicaljson.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("policytoken: encode claims: %w", err)
	}

	payloadSeg := base64.RawURLEncoding.EncodeToString(payload)
	sig := sign(secrets[0], payloadSeg)
	sigSeg := base64.RawURLEncoding.EncodeToString(sig)

	return payloadSeg + "." + sigSeg, nil
}

func sign(secret []byte, payloadSeg string) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(payloadSeg))
	return h.Sum(nil)
}

// Requirements specify what a caller demands of a verified token.
type Requirements struct {
	Action         string
	TenantID       string
	ProjectID      *string
	RequiredScopes []string
}

// Reason is the verify error taxonomy named in spec §4.3.
type Reason string

const (
	ReasonMalformed        Reason = "malformed"
	ReasonInvalidSignature Reason = "invalid_signature"
	ReasonExpired          Reason = "expired"
	ReasonNotYetValid      Reason = "not_yet_valid"
	ReasonActionMismatch   Reason = "action_mismatch"
	ReasonTenantMismatch   Reason = "tenant_mismatch"
	ReasonProjectMismatch  Reason = "project_mismatch"
	ReasonMissingScopes    Reason = "missing_scopes"
	ReasonReplayed         Reason = "replayed"
)

// VerifyError carries the taxonomized reason a verification failed.
type VerifyError struct {
	Reason Reason
}

func (e *VerifyError) Error() string { return "policytoken: " + string(e.Reason) }

func fail(reason Reason) (Claims, error) {
	return Claims{}, &VerifyError{Reason: reason}
}

// Verify performs the five-step check from spec §4.3 against the token
// using secrets[] (newest-first) but does NOT consume the replay guard —
// callers must separately call a store.PolicyTokenStore.ConsumeToken once
// every other requirement check has passed.
func Verify(token string, secrets [][]byte, req Requirements) (Claims, error) {
	return VerifyAt(token, secrets, req, time.Now().UTC())
}

// VerifyAt is Verify with an explicit "now", for deterministic tests of
// expiry/not-yet-valid boundaries.
func VerifyAt(token string, secrets [][]byte, req Requirements, now time.Time) (Claims, error) {
	parts := splitTwo(token)
	if parts == nil {
		return fail(ReasonMalformed)
	}
	payloadSeg, sigSeg := parts[0], parts[1]

	payload, err := base64.RawURLEncoding.DecodeString(payloadSeg)
	if err != nil {
		return fail(ReasonMalformed)
	}
	sig, err := base64.RawURLEncoding.DecodeString(sigSeg)
	if err != nil {
		return fail(ReasonMalformed)
	}

	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return fail(ReasonMalformed)
	}
	if claims.JTI == "" || claims.TenantID == "" || claims.Audience == "" {
		return fail(ReasonMalformed)
	}

	skewed := now.Add(-defaultClockSkew)
	if time.Unix(claims.ExpiresAt, 0).Before(skewed) {
		return fail(ReasonExpired)
	}
	if time.Unix(claims.IssuedAt, 0).After(now.Add(defaultClockSkew)) {
		return fail(ReasonNotYetValid)
	}

	matched := false
	for _, secret := range secrets {
		want := sign(secret, payloadSeg)
		if hmac.Equal(want, sig) {
			matched = true
			break
		}
	}
	if !matched {
		return fail(ReasonInvalidSignature)
	}

	if claims.Audience != req.Action {
		return fail(ReasonActionMismatch)
	}
	if claims.TenantID != req.TenantID {
		return fail(ReasonTenantMismatch)
	}
	if req.ProjectID != nil {
		if claims.ProjectID == nil || *claims.ProjectID != *req.ProjectID {
			return fail(ReasonProjectMismatch)
		}
	}
	if !scopesSatisfy(claims.Scopes, req.RequiredScopes) {
		return fail(ReasonMissingScopes)
	}

	return claims, nil
}

func scopesSatisfy(granted, required []string) bool {
	set := make(map[string]struct{}, len(granted))
	for _, s := range granted {
		set[s] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; !ok {
			return false
		}
	}
	return true
}

func splitTwo(s string) []string {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			rest := s[i+1:]
			for j := 0; j < len(rest); j++ {
				if rest[j] == '.' {
					return nil // more than one dot
				}
			}
			if s[:i] == "" || rest == "" {
				return nil
			}
			return []string{s[:i], rest}
		}
	}
	return nil
}
