package connector

import (
	"sync"
	"time"

	"github.com/hardonian/jobforge/internal/cache"
)

// breakerState is a single endpoint's circuit breaker, generalized in shape
// from notifications.ProtectedNotifier's closed/open/half_open state
// machine (consecutive failure counter, cooldown, single half-open trial).
type breakerState struct {
	mu sync.Mutex

	failureThreshold int
	cooldown         time.Duration
	halfOpenMaxCalls int

	state               string // "closed" | "open" | "half_open"
	consecutiveFailures int
	openedAt            time.Time
	halfOpenInFlight    int
}

func newBreakerState() *breakerState {
	return &breakerState{
		failureThreshold: 5,
		cooldown:         30 * time.Second,
		halfOpenMaxCalls: 1,
		state:            "closed",
	}
}

func (b *breakerState) allowRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case "closed":
		return true
	case "open":
		if time.Since(b.openedAt) >= b.cooldown {
			b.state = "half_open"
			b.halfOpenInFlight = 1
			return true
		}
		return false
	case "half_open":
		if b.halfOpenInFlight >= b.halfOpenMaxCalls {
			return false
		}
		b.halfOpenInFlight++
		return true
	default:
		return true
	}
}

func (b *breakerState) afterRequest(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == "half_open" && b.halfOpenInFlight > 0 {
		b.halfOpenInFlight--
	}

	if err == nil {
		b.consecutiveFailures = 0
		b.state = "closed"
		return
	}

	b.consecutiveFailures++

	if b.state == "half_open" {
		b.state = "open"
		b.openedAt = time.Now()
		return
	}

	if b.consecutiveFailures >= b.failureThreshold {
		b.state = "open"
		b.openedAt = time.Now()
	}
}

func (b *breakerState) remainingCooldown() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != "open" {
		return 0
	}
	remaining := b.cooldown - time.Since(b.openedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Breakers is the per-endpoint circuit-breaker store named in the
// concurrency model as an explicit, process-local state holder rather than
// an ambient singleton map. It is backed by the same TTL cache used
// elsewhere for best-effort process-local state; entries are refreshed on
// every access so a breaker under active traffic never silently expires.
type Breakers struct {
	c *cache.Cache
}

func NewBreakers() *Breakers {
	return &Breakers{c: cache.New(time.Hour)}
}

func (b *Breakers) get(endpoint string) *breakerState {
	if v, ok := b.c.Get(endpoint); ok {
		state := v.(*breakerState)
		b.c.Set(endpoint, state)
		return state
	}
	state := newBreakerState()
	b.c.Set(endpoint, state)
	return state
}
