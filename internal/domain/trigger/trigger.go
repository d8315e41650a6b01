// Package trigger defines BundleTriggerRule, the tenant-scoped mapping
// from event pattern to bundle submission, governed by safety gates.
package trigger

import "time"

// Match describes which events a rule responds to.
type Match struct {
	EventTypeAllowlist    []string `json:"eventTypeAllowlist"`
	SourceModuleAllowlist []string `json:"sourceModuleAllowlist,omitempty"`
	SeverityThreshold     *int     `json:"severityThreshold,omitempty"`
}

type BundleSource string

const (
	BundleSourceInline      BundleSource = "inline"
	BundleSourceArtifactRef BundleSource = "artifact_ref"
)

type Mode string

const (
	ModeDryRun  Mode = "dry_run"
	ModeExecute Mode = "execute"
)

// Action describes what firing the rule does.
type Action struct {
	BundleSource  BundleSource `json:"bundleSource"`
	BundleRef     *string      `json:"bundleRef,omitempty"`
	BundleBuilder *string      `json:"bundleBuilder,omitempty"`
	Mode          Mode         `json:"mode"`
}

// Safety describes the cooldown/rate gates a firing decision must pass.
type Safety struct {
	CooldownSeconds     int     `json:"cooldownSeconds"`
	MaxRunsPerHour      int     `json:"maxRunsPerHour"`
	DedupeKeyTemplate   *string `json:"dedupeKeyTemplate,omitempty"`
	AllowActionJobs     bool    `json:"allowActionJobs"`
}

// Rule is a tenant-scoped event-to-bundle trigger.
type Rule struct {
	RuleID       string     `json:"ruleId"`
	TenantID     string     `json:"tenantId"`
	ProjectID    *string    `json:"projectId,omitempty"`
	Name         string     `json:"name"`
	Enabled      bool       `json:"enabled"`
	Match        Match      `json:"match"`
	Action       Action     `json:"action"`
	Safety       Safety     `json:"safety"`
	LastFiredAt  *time.Time `json:"lastFiredAt,omitempty"`
	FireCount    int        `json:"fireCount"`
}

type Decision string

const (
	DecisionFire        Decision = "fire"
	DecisionSkip        Decision = "skip"
	DecisionCooldown    Decision = "cooldown"
	DecisionRateLimited Decision = "rate_limited"
	DecisionDisabled    Decision = "disabled"
)

// Evaluation is the recorded outcome of matching one event against one
// rule — written to trigger_evaluations regardless of decision.
type Evaluation struct {
	ID         string    `json:"id"`
	RuleID     string    `json:"ruleId"`
	TenantID   string    `json:"tenantId"`
	EventID    string    `json:"eventId"`
	Decision   Decision  `json:"decision"`
	Reason     string    `json:"reason"`
	DryRun     bool      `json:"dryRun"`
	BundleID   *string   `json:"bundleId,omitempty"`
	EvaluatedAt time.Time `json:"evaluatedAt"`
}
