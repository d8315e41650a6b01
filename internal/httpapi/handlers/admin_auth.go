package handlers

import (
	"net/http"

	"github.com/hardonian/jobforge/internal/config"
	"github.com/hardonian/jobforge/internal/security"
	"github.com/gin-gonic/gin"
)

// TokenIssuer is satisfied by auth.Manager; kept narrow so this handler
// doesn't need to import the auth package's token/claims types.
type TokenIssuer interface {
	GenerateAccessToken(subject string) (string, error)
}

type AdminAuthHandler struct {
	cfg    config.Config
	tokens TokenIssuer
}

func NewAdminAuthHandler(cfg config.Config, tokens TokenIssuer) *AdminAuthHandler {
	return &AdminAuthHandler{cfg: cfg, tokens: tokens}
}

type adminLoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// POST /admin/login
func (h *AdminAuthHandler) Login(ctx *gin.Context) {
	var req adminLoginRequest
	if !BindJSON(ctx, &req) {
		return
	}

	if req.Username != h.cfg.AdminUsername || h.cfg.AdminPasswordHash == "" {
		RespondUnauthorized(ctx, "unauthorized", "invalid credentials")
		return
	}

	if err := security.CheckPassword(h.cfg.AdminPasswordHash, req.Password); err != nil {
		RespondUnauthorized(ctx, "unauthorized", "invalid credentials")
		return
	}

	token, err := h.tokens.GenerateAccessToken(req.Username)
	if err != nil {
		RespondInternal(ctx, "could not issue access token")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"accessToken": token, "tokenType": "Bearer"})
}
