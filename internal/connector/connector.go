// Package connector implements the harness every external effect (HTTP
// call, webhook, remote API) passes through: strict input/config/context
// validation, per-attempt timeout racing, retry with jittered exponential
// backoff, a per-endpoint circuit breaker, and a hash-sealed, redacted
// evidence packet emitted on every path including validation failure.
package connector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hardonian/jobforge/internal/canonicaljson"
	"github.com/hardonian/jobforge/internal/domain/evidence"
	"github.com/hardonian/jobforge/internal/store"
)

// RetryPolicy mirrors spec §4.4's backoff(attempt) = min(base *
// multiplier^attempt, max) + 10% jitter.
type RetryPolicy struct {
	MaxRetries int
	Base       time.Duration
	Multiplier float64
	Max        time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, Base: 250 * time.Millisecond, Multiplier: 2, Max: 10 * time.Second}
}

// Config is the harness's per-invocation connector configuration.
type Config struct {
	ConnectorID string
	AuthType    string
	Settings    map[string]any
	Retry       RetryPolicy
	TimeoutMs   int64
	RateLimit   int
	Endpoint    string // host:port identity used to key the circuit breaker
}

// Input is the operation the connector body executes.
type Input struct {
	Operation      string
	Payload        map[string]any
	IdempotencyKey string
}

// InvokeContext carries correlation and execution-mode metadata.
type InvokeContext struct {
	TraceID    string
	TenantID   string
	ProjectID  *string
	ActorID    string
	DryRun     bool
	AttemptNum int
}

// Outcome is what a ConnectorFunc reports back to the harness for one
// attempt.
type Outcome struct {
	OK          bool
	Data        any
	StatusCode  int
	RateLimited bool
	Retryable   bool
	Err         error
}

// ConnectorFunc is the body the harness races against a timeout and retries
// on a retryable Outcome.
type ConnectorFunc func(ctx context.Context) (Outcome, error)

// Result is what Invoke returns alongside the evidence packet.
type Result struct {
	OK   bool
	Data any
	Err  error
}

var redactKeys = []string{
	"password", "secret", "token", "api_key", "auth_token", "access_token",
	"refresh_token", "bearer", "credential", "private_key", "client_secret",
	"cookie", "authorization", "jwt", "session_id",
}

func validateConfig(cfg Config) error {
	if cfg.ConnectorID == "" {
		return store.New(store.KindValidation, "config_validation_error", "connector id is required")
	}
	if cfg.TimeoutMs <= 0 {
		return store.New(store.KindValidation, "config_validation_error", "timeout_ms must be positive")
	}
	return nil
}

func validateInput(in Input) error {
	if in.Operation == "" {
		return store.New(store.KindValidation, "input_validation_error", "operation is required")
	}
	return nil
}

func validateInvokeContext(ic InvokeContext) error {
	if ic.TenantID == "" {
		return store.New(store.KindValidation, "context_validation_error", "tenant id is required")
	}
	return nil
}

// Harness wraps connector invocations with breaker, retry, and evidence
// emission, as documented in the package comment.
type Harness struct {
	breakers *Breakers
	secrets  []string // configured secret values scanned for in Secret leakage prevention
}

func New(breakers *Breakers, secrets []string) *Harness {
	return &Harness{breakers: breakers, secrets: secrets}
}

// Invoke runs body under the full harness contract and always returns an
// evidence packet, even on validation failure or a tripped breaker.
func (h *Harness) Invoke(ctx context.Context, cfg Config, in Input, ic InvokeContext, body ConnectorFunc) (Result, evidence.Packet) {
	started := time.Now().UTC()
	pkt := evidence.Packet{
		EvidenceID:    uuid.NewString(),
		ConnectorID:   cfg.ConnectorID,
		TraceID:       ic.TraceID,
		TenantID:      ic.TenantID,
		ProjectID:     ic.ProjectID,
		StartedAt:     started,
		RedactedInput: redact(mergeMaps(in.Payload, cfg.Settings)),
	}

	finish := func(res Result) (Result, evidence.Packet) {
		pkt.EndedAt = time.Now().UTC()
		pkt.DurationMs = pkt.EndedAt.Sub(pkt.StartedAt).Milliseconds()
		pkt.OK = res.OK
		if res.Data != nil {
			pkt.OutputHash, _ = canonicaljson.Hash(res.Data)
		}
		if res.Err != nil {
			pkt.Error = classify(res.Err)
		}
		scrubLeaks(&pkt, h.secrets)
		_ = evidence.Seal(&pkt)
		return res, pkt
	}

	if err := validateConfig(cfg); err != nil {
		return finish(Result{Err: err})
	}
	if err := validateInput(in); err != nil {
		return finish(Result{Err: err})
	}
	if err := validateInvokeContext(ic); err != nil {
		return finish(Result{Err: err})
	}

	breaker := h.breakers.get(cfg.Endpoint)
	if !breaker.allowRequest() {
		remaining := breaker.remainingCooldown()
		err := store.New(store.KindCircuitOpen, "circuit_breaker_open",
			fmt.Sprintf("circuit open for %s, remaining_cooldown_ms=%d", cfg.Endpoint, remaining.Milliseconds())).
			WithDetails(map[string]any{"remaining_cooldown_ms": remaining.Milliseconds()})
		return finish(Result{Err: err})
	}

	policy := cfg.Retry
	if policy.MaxRetries == 0 && policy.Base == 0 {
		policy = DefaultRetryPolicy()
	}

	var lastOutcome Outcome
	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.TimeoutMs)*time.Millisecond)
		type attemptResult struct {
			outcome Outcome
			err     error
		}
		resCh := make(chan attemptResult, 1)
		go func() {
			o, e := body(attemptCtx)
			resCh <- attemptResult{o, e}
		}()
		var outcome Outcome
		var err error
		select {
		case r := <-resCh:
			outcome, err = r.outcome, r.err
		case <-attemptCtx.Done():
			err = attemptCtx.Err()
		}
		cancel()

		if attemptCtx.Err() == context.DeadlineExceeded {
			lastErr = store.New(store.KindTimeout, "timeout", "connector call exceeded timeout")
			lastOutcome = Outcome{Retryable: true}
		} else if err != nil {
			lastErr = err
			lastOutcome = outcome
		} else if outcome.OK {
			breaker.afterRequest(nil)
			if outcome.StatusCode != 0 {
				pkt.StatusCodes = append(pkt.StatusCodes, outcome.StatusCode)
			}
			return finish(Result{OK: true, Data: outcome.Data})
		} else {
			lastErr = outcome.Err
			lastOutcome = outcome
		}

		if outcome.StatusCode != 0 {
			pkt.StatusCodes = append(pkt.StatusCodes, outcome.StatusCode)
		}
		if lastOutcome.RateLimited {
			pkt.RateLimited = true
		}

		if attempt == policy.MaxRetries || !lastOutcome.Retryable {
			breaker.afterRequest(lastErr)
			return finish(Result{Err: lastErr})
		}

		breaker.afterRequest(lastErr)
		delay := backoffDelay(policy, attempt)
		pkt.BackoffDelaysMs = append(pkt.BackoffDelaysMs, delay.Milliseconds())
		pkt.Retries++
		select {
		case <-ctx.Done():
			return finish(Result{Err: ctx.Err()})
		case <-time.After(delay):
		}
	}

	return finish(Result{Err: lastErr})
}

func backoffDelay(p RetryPolicy, attempt int) time.Duration {
	d := float64(p.Base)
	for i := 0; i < attempt; i++ {
		d *= p.Multiplier
	}
	if time.Duration(d) > p.Max {
		d = float64(p.Max)
	}
	return time.Duration(d * 1.10)
}

func classify(err error) *evidence.ConnectorError {
	var serr *store.Error
	if se, ok := err.(*store.Error); ok {
		serr = se
	}
	if serr != nil {
		return &evidence.ConnectorError{Code: string(serr.Kind), Message: serr.Message, Retryable: serr.Kind.Retryable()}
	}
	return &evidence.ConnectorError{Code: string(store.KindExternalService), Message: err.Error(), Retryable: true}
}

func redact(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if shouldRedact(k) {
			out[k] = "[REDACTED]"
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = redact(nested)
			continue
		}
		out[k] = v
	}
	return out
}

func shouldRedact(key string) bool {
	lower := strings.ToLower(key)
	for _, bad := range redactKeys {
		if strings.Contains(lower, bad) {
			return true
		}
	}
	return false
}

func mergeMaps(a, b map[string]any) map[string]any {
	out := make(map[string]any, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

// scrubLeaks re-scans the evidence packet's redacted_input for any raw
// configured secret value that survived key-based redaction (e.g. a secret
// embedded inside a free-text field) and replaces it, per §4.4's terminal
// leak-prevention scan.
func scrubLeaks(pkt *evidence.Packet, secrets []string) {
	if len(secrets) == 0 {
		return
	}
	scrubbed := false
	for k, v := range pkt.RedactedInput {
		s, ok := v.(string)
		if !ok {
			continue
		}
		for _, secret := range secrets {
			if secret != "" && strings.Contains(s, secret) {
				pkt.RedactedInput[k] = "[REDACTED]"
				scrubbed = true
				break
			}
		}
	}
	if scrubbed {
		pkt.LeakScrubbed = true
		pkt.RateLimited = false
	}
}
