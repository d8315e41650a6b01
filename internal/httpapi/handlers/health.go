package handlers

import "github.com/gin-gonic/gin"

// Pinger is satisfied by anything readyz depends on (the store pool) so
// the handler doesn't import pgxpool directly.
type Pinger interface {
	Ping() error
}

// PingerFunc adapts a plain func() error (e.g. a closure wrapping
// pool.Ping(ctx)) to the Pinger interface.
type PingerFunc func() error

func (f PingerFunc) Ping() error { return f() }

type HealthHandler struct {
	deps []Pinger
}

func NewHealthHandler(deps ...Pinger) *HealthHandler {
	return &HealthHandler{deps: deps}
}

func (h *HealthHandler) Healthz(ctx *gin.Context) {
	ctx.JSON(200, gin.H{"status": "ok"})
}

func (h *HealthHandler) Readyz(ctx *gin.Context) {
	for _, d := range h.deps {
		if err := d.Ping(); err != nil {
			ctx.JSON(503, gin.H{"status": "not_ready", "error": err.Error()})
			return
		}
	}
	ctx.JSON(200, gin.H{"status": "ready"})
}
