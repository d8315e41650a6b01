package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// TokenVerifier validates an admin access token and returns the operator
// subject it was issued to. Kept as a narrow interface, same as the
// teacher's auth middleware, so tests can fake it without standing up a
// real auth.Manager.
type TokenVerifier interface {
	VerifyAccessToken(token string) (subject string, err error)
}

const ctxOperatorKey = "auth.operator"

// RequireAdmin gates the admin job-ops routes behind a bearer access token.
// There is exactly one operator role in this deployment, so this only
// checks for a valid token, not a role claim.
func RequireAdmin(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"code": "unauthorized", "message": "missing or invalid Authorization header"},
			})
			return
		}

		raw := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer"))
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"code": "unauthorized", "message": "missing access token"},
			})
			return
		}

		subject, err := verifier.VerifyAccessToken(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"code": "unauthorized", "message": "invalid or expired access token"},
			})
			return
		}

		c.Set(ctxOperatorKey, subject)
		c.Next()
	}
}

func OperatorFromContext(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxOperatorKey)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
