// Package worker is the job-router's runtime: a poll loop that claims
// batches of jobs from a store.Store, dispatches them to the handler
// registered for their type, and reports success/failure back through the
// store's named procedures. A per-job heartbeat goroutine extends the
// claim lease and cancels the handler's context if the lease is lost,
// giving cooperative cancellation to long-running handlers.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/hardonian/jobforge/internal/domain/job"
	"github.com/hardonian/jobforge/internal/observability"
	"github.com/hardonian/jobforge/internal/store"
	"github.com/hardonian/jobforge/internal/tenant"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Config struct {
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	WorkerID          string
	Concurrency       int
	ClaimLimit        int
	ShutdownGrace     time.Duration
	StaleAfter        time.Duration
	HealthAddr        string
	// TenantID scopes claims to a single tenant; nil claims across tenants.
	TenantID *string
	// Once, when set, claims and drains a single batch then returns instead
	// of polling on PollInterval until ctx is cancelled.
	Once bool
}

type Worker struct {
	cfg          Config
	store        store.Store
	metrics      *observability.JobMetrics
	prom         *observability.Prom
	readyMu      sync.RWMutex
	ready        bool
	PromRegistry *prometheus.Registry
}

func New(cfg Config, s store.Store, prom *observability.Prom) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.ClaimLimit <= 0 {
		cfg.ClaimLimit = 10
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 10 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 3 * cfg.HeartbeatInterval
	}
	return &Worker{
		cfg:     cfg,
		store:   s,
		metrics: observability.NewJobMetrics(),
		prom:    prom,
		ready:   true,
	}
}

var tracer = otel.Tracer("jobforge-worker")

func (w *Worker) logMetricsLoop(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s := w.metrics.Snapshot()
			log.Printf(
				"job metrics claimed=%d done=%d failed=%d retried=%d dlq=%d duration_count=%d dur_avg=%s duration_max=%s",
				s.Claimed, s.Done, s.Failed, s.Retried, s.DeadLettered, s.DurationCount, s.AverageDuration, s.MaxDuration,
			)
		}
	}
}

func (w *Worker) reapLoop(ctx context.Context) {
	t := time.NewTicker(w.cfg.HeartbeatInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			n, err := w.store.ReapStuckJobs(hctx, w.cfg.StaleAfter)
			cancel()

			if err != nil {
				log.Printf("worker.reap_stuck error=%v", err)
				continue
			}
			if n > 0 {
				log.Printf("worker.reap_stuck count=%d", n)
			}
		}
	}
}

func (w *Worker) Run(ctx context.Context) error {
	srv := &http.Server{Addr: w.cfg.HealthAddr, Handler: w.HealthHandler(w.PromRegistry)}
	healthDone := make(chan struct{})

	go func() {
		log.Printf("worker boot pid=%d worker_id=%s health_addr=%s", os.Getpid(), w.cfg.WorkerID, w.cfg.HealthAddr)
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("worker health server error: %v", err)
		}
		close(healthDone)
	}()

	go func() {
		<-ctx.Done()

		w.readyMu.Lock()
		w.ready = false
		w.readyMu.Unlock()

		time.Sleep(5 * time.Second)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	jobsCh := make(chan job.Job)

	go w.logMetricsLoop(ctx, 30*time.Second)
	go w.reapLoop(ctx)

	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(workerNum int) {
			defer wg.Done()
			w.runWorker(ctx, workerNum, jobsCh)
		}(i + 1)
	}

	claimOnce := func() (claimed []job.Job, err error) {
		claimCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return w.store.ClaimJobs(claimCtx, w.cfg.TenantID, w.cfg.WorkerID, w.cfg.ClaimLimit)
	}

	if w.cfg.Once {
		claimed, err := claimOnce()
		if err != nil {
			log.Printf("worker: claim error: %v", err)
		}
		for _, j := range claimed {
			jobsCh <- j
			w.metrics.IncClaimed()
		}
	} else {
		ticker := time.NewTicker(w.cfg.PollInterval)
		defer ticker.Stop()

	producerLoop:
		for {
			select {
			case <-ctx.Done():
				log.Println("worker: shutdown signal received; stopping claims")
				break producerLoop

			case <-ticker.C:
				claimed, err := claimOnce()
				if err != nil {
					log.Printf("worker: claim error: %v", err)
					continue
				}

				for _, j := range claimed {
					select {
					case jobsCh <- j:
						w.metrics.IncClaimed()
					case <-ctx.Done():
						break producerLoop
					}
				}
			}
		}
	}

	close(jobsCh)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("worker: all in-flight jobs completed")
	case <-time.After(w.cfg.ShutdownGrace):
		log.Printf("worker: shutdown grace (%s) exceeded; exiting", w.cfg.ShutdownGrace)
	}

	select {
	case <-healthDone:
	case <-time.After(7 * time.Second):
	}

	return nil
}

func (w *Worker) runWorker(ctx context.Context, workerNum int, jobsChan <-chan job.Job) {
	for j := range jobsChan {
		w.runOne(ctx, workerNum, j)
	}
}

// runOne executes a single claimed job under a heartbeat that extends the
// claim lease and cancels execCtx the moment the lease is lost — the
// cooperative-cancellation contract handlers are expected to honor.
func (w *Worker) runOne(ctx context.Context, workerNum int, j job.Job) {
	start := time.Now()

	execCtx := tenant.WithTenantID(ctx, j.TenantID)
	execCtx = tenant.WithTraceID(execCtx, j.TraceID)

	execCtx, cancel := context.WithCancel(execCtx)
	defer cancel()

	heartbeatDone := make(chan struct{})
	go w.heartbeatLoop(execCtx, cancel, j, heartbeatDone)
	defer func() { <-heartbeatDone }()

	execCtx, span := tracer.Start(execCtx, "job.run",
		trace.WithAttributes(
			attribute.String("job.id", j.ID),
			attribute.String("job.tenant_id", j.TenantID),
			attribute.String("job.type", j.Type),
			attribute.Int("job.attempt_no", j.AttemptNo),
			attribute.Int("job.max_attempts", j.MaxAttempts),
			attribute.String("worker.id", w.cfg.WorkerID),
			attribute.Int("worker.num", workerNum),
		),
	)
	defer span.End()

	slog.Default().InfoContext(execCtx, "job.start",
		"worker_num", workerNum, "worker_id", w.cfg.WorkerID,
		"job_id", j.ID, "tenant_id", j.TenantID, "job_type", j.Type,
		"attempt", fmt.Sprintf("%d/%d", j.AttemptNo, j.MaxAttempts),
	)

	result, err := w.execute(execCtx, j)
	d := time.Since(start)

	if w.prom != nil {
		outcome := "succeeded"
		if err != nil {
			outcome = "failed"
		}
		w.prom.JobDuration.WithLabelValues(j.Type, outcome).Observe(d.Seconds())
		w.prom.JobResults.WithLabelValues(j.Type, outcome).Inc()
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		w.metrics.ObserveDuration(d)
		w.metrics.IncFailed()

		w.handleFailure(ctx, j, err)

		slog.Default().ErrorContext(execCtx, "job.error",
			"worker_num", workerNum, "worker_id", w.cfg.WorkerID,
			"job_id", j.ID, "tenant_id", j.TenantID, "job_type", j.Type,
			"duration_ms", d.Milliseconds(), "err", err,
		)
		return
	}

	if completeErr := w.store.CompleteJob(ctx, j.TenantID, j.ID, w.cfg.WorkerID, result.ResultRef, result.Manifest); completeErr != nil {
		span.RecordError(completeErr)
		span.SetStatus(codes.Error, "complete_failed")
		w.metrics.ObserveDuration(d)
		w.metrics.IncFailed()

		slog.Default().ErrorContext(execCtx, "job.complete_failed",
			"job_id", j.ID, "tenant_id", j.TenantID, "job_type", j.Type, "err", completeErr,
		)
		return
	}

	w.metrics.ObserveDuration(d)
	w.metrics.IncDone()
	span.SetStatus(codes.Ok, "succeeded")

	slog.Default().InfoContext(execCtx, "job.done",
		"worker_num", workerNum, "worker_id", w.cfg.WorkerID,
		"job_id", j.ID, "tenant_id", j.TenantID, "job_type", j.Type,
		"duration_ms", d.Milliseconds(),
	)
}

func (w *Worker) heartbeatLoop(ctx context.Context, cancel context.CancelFunc, j job.Job, done chan<- struct{}) {
	defer close(done)

	t := time.NewTicker(w.cfg.HeartbeatInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			hctx, hcancel := context.WithTimeout(context.Background(), 5*time.Second)
			ok, err := w.store.HeartbeatJob(hctx, j.TenantID, j.ID, w.cfg.WorkerID)
			hcancel()

			if err != nil {
				log.Printf("worker.heartbeat error job=%s: %v", j.ID, err)
				continue
			}
			if !ok {
				log.Printf("worker.heartbeat claim lost job=%s; cancelling handler", j.ID)
				cancel()
				return
			}
		}
	}
}

func (w *Worker) execute(ctx context.Context, j job.Job) (Result, error) {
	h, ok := lookup(j.Type)
	if !ok {
		return Result{}, store.New(store.KindValidation, "unregistered_job_type", fmt.Sprintf("no handler registered for job type %q", j.Type))
	}
	return h(ctx, j)
}

func (w *Worker) handleFailure(ctx context.Context, j job.Job, execErr error) {
	kind := store.KindInternal
	retryable := false

	var storeErr *store.Error
	if errors.As(execErr, &storeErr) {
		kind = storeErr.Kind
		retryable = storeErr.Kind.Retryable()
	}

	if err := w.store.FailJob(ctx, j.TenantID, j.ID, w.cfg.WorkerID, string(kind), execErr.Error(), retryable); err != nil {
		log.Printf("worker.fail_job error job=%s: %v", j.ID, err)
		return
	}

	if retryable && j.AttemptNo < j.MaxAttempts {
		w.metrics.IncRetried()
		log.Printf("job retry scheduled job=%s attempt=%d/%d err=%s", j.ID, j.AttemptNo, j.MaxAttempts, execErr)
		return
	}

	w.metrics.IncDeadLettered()
	log.Printf("job terminal job=%s attempt=%d/%d err=%s", j.ID, j.AttemptNo, j.MaxAttempts, execErr)
}
