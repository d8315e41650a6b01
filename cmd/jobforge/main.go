// cmd/jobforge is the operator CLI for the job router: run the worker
// loop, reap stuck claims, or execute a bundle file directly against the
// store without going through the producer API. Exit codes follow the
// core's convention: 0 success, 2 validation/configuration error, 1
// runtime failure.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/hardonian/jobforge/internal/bundleexec"
	"github.com/hardonian/jobforge/internal/config"
	"github.com/hardonian/jobforge/internal/db"
	"github.com/hardonian/jobforge/internal/domain/bundle"
	"github.com/hardonian/jobforge/internal/observability"
	"github.com/hardonian/jobforge/internal/queue/worker"
	"github.com/hardonian/jobforge/internal/store/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// configError marks a flag/environment problem, distinct from a runtime
// failure, so main can map it to exit code 2.
type configError struct{ err error }

func (e configError) Error() string { return e.err.Error() }
func (e configError) Unwrap() error { return e.err }

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		var ce configError
		if os.Getenv("JOBFORGE_DEBUG") != "" {
			log.Println(err)
		}
		if errIs(err, &ce) {
			slog.Default().ErrorContext(ctx, "jobforge.config_error", "err", err)
			os.Exit(2)
		}
		slog.Default().ErrorContext(ctx, "jobforge.command_failed", "err", err)
		os.Exit(1)
	}
}

func errIs(err error, target *configError) bool {
	for err != nil {
		if ce, ok := err.(configError); ok {
			*target = ce
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "jobforge",
		Short:         "jobforge runs and operates the job router",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newWorkerCmd(), newQueueCmd(), newBundleCmd())
	return root
}

func newPool(cfg config.Config) (*pgxpool.Pool, error) {
	pool, err := db.NewPool(cfg.DBURL)
	if err != nil {
		return nil, fmt.Errorf("connect store: %w", err)
	}
	return pool, nil
}

func newWorkerCmd() *cobra.Command {
	var once bool
	var intervalSeconds int

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "worker commands",
	}

	run := &cobra.Command{
		Use:   "run",
		Short: "run the claim/execute/heartbeat loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			if intervalSeconds < 0 {
				return configError{fmt.Errorf("--interval must not be negative")}
			}

			cfg := config.Load()
			logger := observability.NewLogger(cfg.Env)
			slog.SetDefault(logger)

			pool, err := newPool(cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			reg := prometheus.NewRegistry()
			prom := observability.NewProm(reg)
			st := postgres.New(pool, prom)

			executor := bundleexec.New(st, cfg.PolicyTokenSecrets, config.IntegrationDryRun())
			executor.Register()

			pollInterval := cfg.PollInterval
			if intervalSeconds > 0 {
				pollInterval = time.Duration(intervalSeconds) * time.Second
			}

			workerID := cfg.WorkerID
			if workerID == "" {
				host, _ := os.Hostname()
				workerID = host + "-" + strconv.Itoa(os.Getpid())
			}

			healthAddr := os.Getenv("WORKER_HEALTH_ADDR")
			if healthAddr == "" {
				healthAddr = ":8081"
			}

			w := worker.New(worker.Config{
				PollInterval:      pollInterval,
				HeartbeatInterval: cfg.HeartbeatInterval,
				WorkerID:          workerID,
				ClaimLimit:        cfg.ClaimLimit,
				ShutdownGrace:     10 * time.Second,
				HealthAddr:        healthAddr,
				Once:              once,
			}, st, prom)

			logger.Info("worker.start", "worker_id", workerID, "poll_interval", pollInterval, "once", once)
			if err := w.Run(cmd.Context()); err != nil {
				return fmt.Errorf("worker run: %w", err)
			}
			return nil
		},
	}
	run.Flags().BoolVar(&once, "once", false, "claim and process a single batch then exit")
	run.Flags().IntVar(&intervalSeconds, "interval", 0, "poll interval in seconds (overrides POLL_INTERVAL_MS)")

	cmd.AddCommand(run)
	return cmd
}

func newQueueCmd() *cobra.Command {
	var staleAfter time.Duration

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "queue maintenance commands",
	}

	reap := &cobra.Command{
		Use:   "reap",
		Short: "requeue claimed jobs whose heartbeat has gone stale",
		RunE: func(cmd *cobra.Command, args []string) error {
			if staleAfter <= 0 {
				return configError{fmt.Errorf("--stale-after must be a positive duration")}
			}

			cfg := config.Load()
			logger := observability.NewLogger(cfg.Env)
			slog.SetDefault(logger)

			pool, err := newPool(cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			reg := prometheus.NewRegistry()
			prom := observability.NewProm(reg)
			st := postgres.New(pool, prom)

			n, err := st.ReapStuckJobs(cmd.Context(), staleAfter)
			if err != nil {
				return fmt.Errorf("reap stuck jobs: %w", err)
			}

			logger.Info("queue.reap_complete", "reaped", n, "stale_after", staleAfter)
			return nil
		},
	}
	reap.Flags().DurationVar(&staleAfter, "stale-after", 0, "heartbeat age after which a claimed job is considered stuck (required)")

	cmd.AddCommand(reap)
	return cmd
}

func newBundleCmd() *cobra.Command {
	var file string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "bundle commands",
	}

	run := &cobra.Command{
		Use:   "run",
		Short: "execute a JobRequestBundle file synchronously, bypassing the producer API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return configError{fmt.Errorf("--file is required")}
			}

			raw, err := os.ReadFile(file)
			if err != nil {
				return configError{fmt.Errorf("read bundle file: %w", err)}
			}

			var b bundle.Bundle
			if err := json.Unmarshal(raw, &b); err != nil {
				return configError{fmt.Errorf("parse bundle file: %w", err)}
			}

			cfg := config.Load()
			logger := observability.NewLogger(cfg.Env)
			slog.SetDefault(logger)

			pool, err := newPool(cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			reg := prometheus.NewRegistry()
			prom := observability.NewProm(reg)
			st := postgres.New(pool, prom)

			executor := bundleexec.New(st, cfg.PolicyTokenSecrets, config.IntegrationDryRun())

			mode := bundle.ModeExecute
			if dryRun {
				mode = bundle.ModeDryRun
			}

			m, err := executor.Execute(cmd.Context(), bundle.ExecutionPayload{Bundle: b, Mode: mode}, uuid.NewString(), b.TraceID)
			if err != nil {
				return fmt.Errorf("execute bundle: %w", err)
			}

			out, err := json.MarshalIndent(m, "", "  ")
			if err != nil {
				return fmt.Errorf("encode manifest: %w", err)
			}
			fmt.Println(string(out))
			return nil
		},
	}
	run.Flags().StringVar(&file, "file", "", "path to a JobRequestBundle JSON file (required)")
	run.Flags().BoolVar(&dryRun, "dry-run", false, "execute in dry_run mode (action jobs are not performed)")

	cmd.AddCommand(run)
	return cmd
}
