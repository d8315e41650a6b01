package policytoken

import (
	"context"
	"time"

	"github.com/hardonian/jobforge/internal/store"
)

// VerifyAndConsume verifies token against secrets and req, and on success
// enforces the single-use replay guard by consuming (tenantID, jti, action,
// resource) in ps. A token that verifies but was already consumed for the
// same (action, resource) pair fails with ReasonReplayed.
func VerifyAndConsume(ctx context.Context, ps store.PolicyTokenStore, token string, secrets [][]byte, req Requirements) (Claims, error) {
	claims, err := Verify(token, secrets, req)
	if err != nil {
		return Claims{}, err
	}

	resource := ""
	if claims.Resource != nil {
		resource = *claims.Resource
	}

	fresh, err := ps.ConsumeToken(ctx, claims.TenantID, claims.JTI, claims.Audience, resource, time.Unix(claims.ExpiresAt, 0))
	if err != nil {
		return Claims{}, err
	}
	if !fresh {
		return fail(ReasonReplayed)
	}

	return claims, nil
}
