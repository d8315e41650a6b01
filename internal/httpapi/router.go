// Package httpapi assembles the producer-facing HTTP surface: job/event
// ingress, run manifests and artifacts, and a small admin job-ops surface
// behind a single-operator bearer token, with health checks wired to
// every live dependency.
package httpapi

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/hardonian/jobforge/internal/auth"
	"github.com/hardonian/jobforge/internal/bundleexec"
	"github.com/hardonian/jobforge/internal/config"
	"github.com/hardonian/jobforge/internal/domain/event"
	"github.com/hardonian/jobforge/internal/httpapi/handlers"
	"github.com/hardonian/jobforge/internal/httpapi/middlewares"
	"github.com/hardonian/jobforge/internal/ratelimit"
	"github.com/hardonian/jobforge/internal/store"
	"github.com/gin-gonic/gin"
)

// NewRouter builds the gin engine for cmd/api.
func NewRouter(log *slog.Logger, st store.Store, executor *bundleexec.Executor, cfg config.Config) *gin.Engine {
	if os.Getenv("APP_ENV") != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger())
	r.Use(middlewares.CORSMiddleware([]string{"http://localhost:3000"}))
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.MaxBodyBytes(1 << 20))
	r.Use(middlewares.RequireJSON())

	health := handlers.NewHealthHandler(handlers.PingerFunc(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return st.Ping(ctx)
	}))

	jwtManager := auth.NewManager(cfg.AdminTokenSecret, time.Hour)

	var triggerEvaluator handlers.TriggerEvaluator
	if executor != nil {
		triggerEvaluator = func(ctx context.Context, evt event.Event) error {
			_, err := executor.EvaluateEvent(ctx, evt)
			return err
		}
	}

	jobsHandler := handlers.NewJobsHandler(st)
	eventsHandler := handlers.NewEventsHandler(st, triggerEvaluator)
	runsHandler := handlers.NewRunsHandler(st)
	adminJobsHandler := handlers.NewAdminJobsHandler(st)
	adminAuthHandler := handlers.NewAdminAuthHandler(cfg, jwtManager)

	r.GET("/healthz", health.Healthz)
	r.GET("/readyz", health.Readyz)

	ingressLimiter := ratelimit.New(120, time.Minute)
	r.Use(ingressLimiter.Middleware("ingress", ratelimit.KeyByTenant))

	r.POST("/jobs", jobsHandler.Enqueue)
	r.POST("/jobs/from-template", jobsHandler.RequestJob)
	r.POST("/events", eventsHandler.Submit)
	r.GET("/runs/:id/manifest", runsHandler.GetManifest)
	r.GET("/runs/:id/artifacts", runsHandler.ListArtifacts)

	loginLimiter := ratelimit.New(5, time.Minute)
	r.POST("/admin/login", loginLimiter.Middleware("admin_login", ratelimit.KeyByTenant), adminAuthHandler.Login)

	admin := r.Group("/admin")
	admin.Use(middlewares.RequireAdmin(jwtManager))
	{
		admin.GET("/jobs", adminJobsHandler.List)
		admin.GET("/jobs/:id", adminJobsHandler.GetByID)
		admin.POST("/jobs/:id/retry", adminJobsHandler.Retry)
		admin.POST("/jobs/reprocess-dead", adminJobsHandler.ReprocessDead)
	}

	return r
}
