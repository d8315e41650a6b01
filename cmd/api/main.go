// cmd/api runs the producer-facing HTTP surface: job/event ingress, run
// manifests and artifacts, and the admin job-ops routes.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hardonian/jobforge/internal/bundleexec"
	"github.com/hardonian/jobforge/internal/config"
	"github.com/hardonian/jobforge/internal/db"
	"github.com/hardonian/jobforge/internal/httpapi"
	"github.com/hardonian/jobforge/internal/observability"
	"github.com/hardonian/jobforge/internal/store/postgres"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(context.Background(), "jobforge-api", "localhost:4317")
	if err != nil {
		log.Fatalf("otel init failed: %v", err)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	logger := observability.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	pool, err := db.NewPool(cfg.DBURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	reg := prometheus.NewRegistry()
	prom := observability.NewProm(reg)

	st := postgres.New(pool, prom)

	executor := bundleexec.New(st, cfg.PolicyTokenSecrets, config.IntegrationDryRun())
	executor.Register()

	router := httpapi.NewRouter(logger, st, executor, cfg)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server graceful shutdown failed", "err", err)
		_ = srv.Close()
	} else {
		logger.Info("server stopped gracefully")
	}
}
