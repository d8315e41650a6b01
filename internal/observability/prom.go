package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

type Prom struct {
	RequestsTotal    *prometheus.CounterVec
	RequestsDuration *prometheus.HistogramVec
	InFlight         *prometheus.GaugeVec
	// DB
	DbQueryDuration *prometheus.HistogramVec
	DbErrorsTotal   *prometheus.CounterVec

	// Jobs(worker)
	JobDuration  *prometheus.HistogramVec
	JobResults   *prometheus.CounterVec
	JobsInFlight prometheus.Gauge

	// Connector harness
	ConnectorCallDuration *prometheus.HistogramVec
	ConnectorCallResults  *prometheus.CounterVec
	BreakerState          *prometheus.GaugeVec

	// Bundle executor
	BundleRequestsTotal *prometheus.CounterVec
	BundleRunDuration   *prometheus.HistogramVec
	TriggerFiredTotal   *prometheus.CounterVec
}

func NewProm(reg prometheus.Registerer) *Prom {
	p := &Prom{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "jobforge",
				Name:      "http_requests_total",
				Help:      "Total HTTP requests processed",
			},
			[]string{"method", "route", "status"},
		),
		RequestsDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "jobforge",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency distributions.",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"method", "route", "status"},
		),
		InFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "jobforge",
				Name:      "http_in_flight_requests",
				Help:      "Current number of in-flight HTTP requests.",
			},
			[]string{"method", "route"},
		),
		DbQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "jobforge",
				Subsystem: "db",
				Name:      "query_duration_seconds",
				Help:      "DB operation latency (logical op, not raw SQL)",
				Buckets:   []float64{0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.35, 0.5, 1, 2, 5},
			},
			[]string{"op", "status"},
		),
		DbErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "jobforge",
				Subsystem: "db",
				Name:      "errors_total",
				Help:      "DB errors by logical op and class.",
			},
			[]string{"op", "class"},
		),
		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "jobforge",
				Subsystem: "jobs",
				Name:      "duration_seconds",
				Help:      "Job execution duration by type and result",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"job_type", "result"}, // result=succeeded|failed
		),
		JobResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "jobforge",
				Subsystem: "jobs",
				Name:      "results_total",
				Help:      "Job outcomes by type and result.",
			},
			[]string{"job_type", "result"},
		),
		JobsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "jobforge",
				Subsystem: "jobs",
				Name:      "in_flight",
				Help:      "Current number of executing jobs across workers (per process)",
			},
		),
		ConnectorCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "jobforge",
				Subsystem: "connector",
				Name:      "call_duration_seconds",
				Help:      "Connector invocation latency by endpoint and outcome.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"endpoint", "outcome"}, // outcome=success|timeout|error|circuit_open|ssrf_blocked
		),
		ConnectorCallResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "jobforge",
				Subsystem: "connector",
				Name:      "results_total",
				Help:      "Connector invocation outcomes by endpoint.",
			},
			[]string{"endpoint", "outcome"},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "jobforge",
				Subsystem: "connector",
				Name:      "breaker_state",
				Help:      "Circuit breaker state per endpoint: 0=closed, 1=half_open, 2=open.",
			},
			[]string{"endpoint"},
		),
		BundleRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "jobforge",
				Subsystem: "bundle",
				Name:      "requests_total",
				Help:      "Bundle child-request outcomes by job type and result.",
			},
			[]string{"job_type", "result"},
		),
		BundleRunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "jobforge",
				Subsystem: "bundle",
				Name:      "run_duration_seconds",
				Help:      "End-to-end bundle execution duration.",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"mode", "result"}, // mode=dry_run|execute
		),
		TriggerFiredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "jobforge",
				Subsystem: "trigger",
				Name:      "fired_total",
				Help:      "Trigger rule evaluations by decision.",
			},
			[]string{"decision"},
		),
	}
	reg.MustRegister(
		p.RequestsTotal, p.RequestsDuration, p.InFlight, p.DbQueryDuration, p.DbErrorsTotal,
		p.JobDuration, p.JobResults, p.JobsInFlight,
		p.ConnectorCallDuration, p.ConnectorCallResults, p.BreakerState,
		p.BundleRequestsTotal, p.BundleRunDuration, p.TriggerFiredTotal,
	)

	return p
}

func (p *Prom) GinHandleMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()

		route := ctx.FullPath()
		if route == "" {
			route = "unmatched"
		}

		method := ctx.Request.Method
		p.InFlight.WithLabelValues(method, route).Inc()
		defer p.InFlight.WithLabelValues(method, route).Dec()
		ctx.Next()

		status := strconv.Itoa(ctx.Writer.Status())
		secs := time.Since(start).Seconds()

		p.RequestsTotal.WithLabelValues(method, route, status).Inc()
		p.RequestsDuration.WithLabelValues(method, route, status).Observe(secs)
	}
}
