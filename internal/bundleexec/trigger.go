package bundleexec

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hardonian/jobforge/internal/domain/bundle"
	"github.com/hardonian/jobforge/internal/domain/event"
	"github.com/hardonian/jobforge/internal/domain/job"
	"github.com/hardonian/jobforge/internal/domain/trigger"
	"github.com/hardonian/jobforge/internal/store"
)

// EvaluateEvent matches evt against every enabled trigger rule for its
// tenant: allowlist/project filter, then cooldown/hourly-cap safety gates,
// then bundle synthesis and submission (a dedupe key template, when set,
// becomes the synthesized request's idempotency key). An execute-mode action
// whose rule does not set safety.allowActionJobs fires in dry_run instead
// of being skipped. Every decision — fire, skip, cooldown, rate_limited —
// is recorded. ListEnabledRules returns enabled rules only, so a disabled
// rule produces no evaluation.
func (e *Executor) EvaluateEvent(ctx context.Context, evt event.Event) ([]trigger.Evaluation, error) {
	rules, err := e.store.ListEnabledRules(ctx, evt.TenantID)
	if err != nil {
		return nil, err
	}

	evaluations := make([]trigger.Evaluation, 0, len(rules))
	for _, rule := range rules {
		eval := e.evaluateRule(ctx, rule, evt)
		evaluations = append(evaluations, eval)
		if err := e.store.RecordEvaluation(ctx, eval); err != nil {
			return evaluations, err
		}
	}
	return evaluations, nil
}

func (e *Executor) evaluateRule(ctx context.Context, rule trigger.Rule, evt event.Event) trigger.Evaluation {
	eval := trigger.Evaluation{
		ID:          uuid.NewString(),
		RuleID:      rule.RuleID,
		TenantID:    rule.TenantID,
		EventID:     evt.ID,
		EvaluatedAt: time.Now().UTC(),
		DryRun:      rule.Action.Mode == trigger.ModeDryRun,
	}

	if !rule.Enabled {
		eval.Decision = trigger.DecisionDisabled
		eval.Reason = "rule is disabled"
		return eval
	}

	if !matchesRule(rule, evt) {
		eval.Decision = trigger.DecisionSkip
		eval.Reason = "event did not match rule filters"
		return eval
	}

	if rule.LastFiredAt != nil {
		elapsed := time.Since(*rule.LastFiredAt)
		cooldown := time.Duration(rule.Safety.CooldownSeconds) * time.Second
		if elapsed < cooldown {
			eval.Decision = trigger.DecisionCooldown
			eval.Reason = fmt.Sprintf("cooldown active, %s remaining", (cooldown - elapsed).Truncate(time.Second))
			return eval
		}
	}

	if rule.Safety.MaxRunsPerHour > 0 && withinHourlyCap(rule) {
		eval.Decision = trigger.DecisionRateLimited
		eval.Reason = fmt.Sprintf("max_runs_per_hour=%d reached", rule.Safety.MaxRunsPerHour)
		return eval
	}

	b, err := e.synthesizeBundle(rule, evt)
	if err != nil {
		eval.Decision = trigger.DecisionSkip
		eval.Reason = "failed to synthesize bundle: " + err.Error()
		return eval
	}

	if _, err := e.store.RecordTriggerFire(ctx, rule.RuleID, eval.EvaluatedAt); err != nil {
		eval.Decision = trigger.DecisionSkip
		eval.Reason = "failed to record trigger fire: " + err.Error()
		return eval
	}

	mode := bundle.ModeExecute
	if rule.Action.Mode == trigger.ModeDryRun {
		mode = bundle.ModeDryRun
	}

	actionGated := rule.Action.Mode == trigger.ModeExecute && !rule.Safety.AllowActionJobs
	if actionGated {
		mode = bundle.ModeDryRun
	}

	payload, err := json.Marshal(bundle.ExecutionPayload{Bundle: b, Mode: mode})
	if err != nil {
		eval.Decision = trigger.DecisionSkip
		eval.Reason = "failed to encode bundle submission: " + err.Error()
		return eval
	}

	// Submission enqueues the bundle as an ordinary
	// autopilot.execute_request_bundle job rather than executing it inline,
	// so it runs through the same worker-claim/heartbeat/manifest path as
	// any producer-submitted bundle.
	_, _, err = e.store.EnqueueJob(ctx, job.EnqueueRequest{
		TenantID:       rule.TenantID,
		ProjectID:      rule.ProjectID,
		Type:           JobTypeExecuteBundle,
		Payload:        payload,
		IdempotencyKey: fmt.Sprintf("trigger-fire:%s:%s", rule.RuleID, eval.ID),
		TraceID:        evt.TraceID,
	})
	if err != nil {
		eval.Decision = trigger.DecisionSkip
		eval.Reason = "bundle submission failed: " + err.Error()
		return eval
	}

	eval.Decision = trigger.DecisionFire
	eval.Reason = "matched and fired"
	if actionGated {
		eval.DryRun = true
		eval.Reason = "matched and fired in dry_run: action.mode=execute requires safety.allowActionJobs"
	}
	eval.BundleID = &b.BundleID
	return eval
}

// withinHourlyCap reports true when the rule's lifetime fire_count has
// reached max_runs_per_hour and its last fire was less than an hour ago.
// fire_count is a lifetime counter in the durable store; fires are not
// counted per rolling or calendar hour, so once the lifetime count reaches
// the cap the rule fires at most once per hour.
// A rule with no cooldown configured relies entirely on this cap.
func withinHourlyCap(rule trigger.Rule) bool {
	if rule.LastFiredAt == nil {
		return false
	}
	return rule.FireCount >= rule.Safety.MaxRunsPerHour && time.Since(*rule.LastFiredAt) < time.Hour
}

func matchesRule(rule trigger.Rule, evt event.Event) bool {
	if !stringInAllowlist(evt.EventType, rule.Match.EventTypeAllowlist) {
		return false
	}
	if len(rule.Match.SourceModuleAllowlist) > 0 && !stringInAllowlist(evt.SourceModule, rule.Match.SourceModuleAllowlist) {
		return false
	}
	if rule.ProjectID != nil {
		if evt.ProjectID == nil || *evt.ProjectID != *rule.ProjectID {
			return false
		}
	}
	return true
}

func stringInAllowlist(s string, allowlist []string) bool {
	for _, v := range allowlist {
		if v == s {
			return true
		}
	}
	return false
}

// synthesizeBundle builds the JobRequestBundle a firing rule submits.
// BundleSourceInline constructs a single-request bundle wrapping the
// triggering event as the job payload; BundleSourceArtifactRef is not yet
// implemented (no artifact store exists in this deployment's scope).
func (e *Executor) synthesizeBundle(rule trigger.Rule, evt event.Event) (bundle.Bundle, error) {
	if rule.Action.BundleSource != trigger.BundleSourceInline {
		return bundle.Bundle{}, store.New(store.KindValidation, "unsupported_bundle_source", "only inline bundle synthesis is supported")
	}

	builder := "autopilot.ops.scan"
	if rule.Action.BundleBuilder != nil {
		builder = *rule.Action.BundleBuilder
	}

	payload, err := json.Marshal(map[string]any{"triggeringEvent": evt})
	if err != nil {
		return bundle.Bundle{}, err
	}

	dedupeKey := fmt.Sprintf("trigger:%s:event:%s", rule.RuleID, evt.ID)
	if rule.Safety.DedupeKeyTemplate != nil {
		dedupeKey = *rule.Safety.DedupeKeyTemplate
	}

	return bundle.Bundle{
		BundleID:      uuid.NewString(),
		SchemaVersion: bundle.CurrentSchemaVersion,
		TenantID:      rule.TenantID,
		ProjectID:     rule.ProjectID,
		TraceID:       evt.TraceID,
		Requests: []bundle.Request{{
			ID:             "1",
			JobType:        builder,
			TenantID:       rule.TenantID,
			ProjectID:      rule.ProjectID,
			Payload:        payload,
			IdempotencyKey: dedupeKey,
			IsActionJob:    false,
		}},
		Metadata: bundle.Metadata{Source: "trigger:" + rule.RuleID, TriggeredAt: rfc3339(evt.OccurredAt)},
	}, nil
}

func rfc3339(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
