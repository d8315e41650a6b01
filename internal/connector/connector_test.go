package connector_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/hardonian/jobforge/internal/connector"
	"github.com/hardonian/jobforge/internal/store"
	"github.com/stretchr/testify/require"
)

func baseConfig() connector.Config {
	return connector.Config{
		ConnectorID: "webhook",
		TimeoutMs:   50,
		Endpoint:    "example.com:443",
		Retry:       connector.RetryPolicy{MaxRetries: 2, Base: time.Millisecond, Multiplier: 2, Max: 10 * time.Millisecond},
	}
}

func baseInvokeContext() connector.InvokeContext {
	return connector.InvokeContext{TraceID: "trace-1", TenantID: "tenant-1", ActorID: "actor-1"}
}

func TestInvoke_SucceedsOnFirstAttempt(t *testing.T) {
	h := connector.New(connector.NewBreakers(), nil)
	calls := 0
	res, pkt := h.Invoke(context.Background(), baseConfig(), connector.Input{Operation: "send"}, baseInvokeContext(),
		func(ctx context.Context) (connector.Outcome, error) {
			calls++
			return connector.Outcome{OK: true, Data: map[string]any{"x": 1}}, nil
		})

	require.True(t, res.OK)
	require.Equal(t, 1, calls)
	require.True(t, pkt.OK)
	require.NotEmpty(t, pkt.EvidenceHash)
	require.NotEmpty(t, pkt.OutputHash)
}

func TestInvoke_RetriesRetryableFailuresThenSucceeds(t *testing.T) {
	h := connector.New(connector.NewBreakers(), nil)
	attempts := 0
	res, pkt := h.Invoke(context.Background(), baseConfig(), connector.Input{Operation: "send"}, baseInvokeContext(),
		func(ctx context.Context) (connector.Outcome, error) {
			attempts++
			if attempts < 2 {
				return connector.Outcome{Retryable: true, Err: errors.New("transient")}, errors.New("transient")
			}
			return connector.Outcome{OK: true}, nil
		})

	require.True(t, res.OK)
	require.Equal(t, 2, attempts)
	require.Equal(t, 1, pkt.Retries)
	require.Len(t, pkt.BackoffDelaysMs, 1)
}

func TestInvoke_NonRetryableFailsImmediately(t *testing.T) {
	h := connector.New(connector.NewBreakers(), nil)
	attempts := 0
	res, pkt := h.Invoke(context.Background(), baseConfig(), connector.Input{Operation: "send"}, baseInvokeContext(),
		func(ctx context.Context) (connector.Outcome, error) {
			attempts++
			return connector.Outcome{Retryable: false}, errors.New("permanent")
		})

	require.False(t, res.OK)
	require.Equal(t, 1, attempts)
	require.False(t, pkt.OK)
}

func TestInvoke_ConfigValidationFailsFastWithoutCallingBody(t *testing.T) {
	h := connector.New(connector.NewBreakers(), nil)
	cfg := baseConfig()
	cfg.ConnectorID = ""
	called := false
	res, pkt := h.Invoke(context.Background(), cfg, connector.Input{Operation: "send"}, baseInvokeContext(),
		func(ctx context.Context) (connector.Outcome, error) {
			called = true
			return connector.Outcome{OK: true}, nil
		})

	require.False(t, called)
	require.Error(t, res.Err)
	require.False(t, pkt.OK)
}

func TestInvoke_TripsBreakerAfterConsecutiveFailures(t *testing.T) {
	breakers := connector.NewBreakers()
	h := connector.New(breakers, nil)
	cfg := baseConfig()
	cfg.Retry = connector.RetryPolicy{MaxRetries: 0, Base: time.Millisecond, Multiplier: 1, Max: time.Millisecond}

	var lastErr error
	for i := 0; i < 6; i++ {
		res, _ := h.Invoke(context.Background(), cfg, connector.Input{Operation: "send"}, baseInvokeContext(),
			func(ctx context.Context) (connector.Outcome, error) {
				return connector.Outcome{Retryable: true}, errors.New("refused")
			})
		lastErr = res.Err
	}

	var serr *store.Error
	require.ErrorAs(t, lastErr, &serr)
	require.Equal(t, store.KindCircuitOpen, serr.Kind)
}

func TestInvoke_RedactsSensitiveInputKeys(t *testing.T) {
	h := connector.New(connector.NewBreakers(), nil)
	_, pkt := h.Invoke(context.Background(), baseConfig(), connector.Input{
		Operation: "send",
		Payload:   map[string]any{"api_key": "sk-live-123", "message": "hello"},
	}, baseInvokeContext(),
		func(ctx context.Context) (connector.Outcome, error) {
			return connector.Outcome{OK: true}, nil
		})

	require.Equal(t, "[REDACTED]", pkt.RedactedInput["api_key"])
	require.Equal(t, "hello", pkt.RedactedInput["message"])
}

func TestInvoke_ScrubsRawSecretLeakedInFreeText(t *testing.T) {
	h := connector.New(connector.NewBreakers(), []string{"sk-live-123"})
	_, pkt := h.Invoke(context.Background(), baseConfig(), connector.Input{
		Operation: "send",
		Payload:   map[string]any{"message": "token is sk-live-123"},
	}, baseInvokeContext(),
		func(ctx context.Context) (connector.Outcome, error) {
			return connector.Outcome{OK: true}, nil
		})

	require.Equal(t, "[REDACTED]", pkt.RedactedInput["message"])
	require.True(t, pkt.LeakScrubbed)
}

func TestGuardURL_RejectsNonHTTPScheme(t *testing.T) {
	err := connector.GuardURL(context.Background(), "ftp://example.com/file", connector.GuardConfig{})
	var serr *store.Error
	require.ErrorAs(t, err, &serr)
	require.Equal(t, store.KindSSRFBlocked, serr.Kind)
}

func TestGuardURL_RejectsBlockedHostname(t *testing.T) {
	err := connector.GuardURL(context.Background(), "http://169.254.169.254/latest/meta-data", connector.GuardConfig{})
	require.Error(t, err)
}

func TestGuardURL_RejectsPrivateIP(t *testing.T) {
	err := connector.GuardURL(context.Background(), "http://10.0.0.5/hook", connector.GuardConfig{})
	require.Error(t, err)
}

func TestGuardURL_AllowsPublicIPResolved(t *testing.T) {
	cfg := connector.GuardConfig{
		Resolver: func(ctx context.Context, host string) ([]net.IP, error) {
			return []net.IP{net.ParseIP("93.184.216.34")}, nil
		},
	}
	err := connector.GuardURL(context.Background(), "https://example.com/hook", cfg)
	require.NoError(t, err)
}

func TestGuardURL_AllowlistWildcard(t *testing.T) {
	cfg := connector.GuardConfig{
		Allowlist: []string{"*.example.com"},
		Resolver: func(ctx context.Context, host string) ([]net.IP, error) {
			return []net.IP{net.ParseIP("93.184.216.34")}, nil
		},
	}
	require.NoError(t, connector.GuardURL(context.Background(), "https://hooks.example.com/x", cfg))

	err := connector.GuardURL(context.Background(), "https://evil.com/x", cfg)
	require.Error(t, err)
}
