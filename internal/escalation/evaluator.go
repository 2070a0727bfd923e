package escalation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/oncall/internal/metrics"
	"github.com/edvin/oncall/internal/model"
)

// Evaluator drives one evaluation pass over a single incident: it walks the
// active policies that match the incident, finds the first due unprocessed
// step of each, claims it, and executes its actions. Per-policy failures are
// logged and recorded on the event; they never stop the other policies.
type Evaluator struct {
	incidents IncidentStore
	policies  PolicyStore
	ledger    EventLedger
	executor  *Executor
	logger    zerolog.Logger

	now func() time.Time
}

func NewEvaluator(incidents IncidentStore, policies PolicyStore, ledger EventLedger, executor *Executor, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		incidents: incidents,
		policies:  policies,
		ledger:    ledger,
		executor:  executor,
		logger:    logger,
		now:       time.Now,
	}
}

// Evaluate runs one pass for the incident on behalf of the periodic sweep.
func (e *Evaluator) Evaluate(ctx context.Context, inc *model.Incident) error {
	return e.EvaluateAs(ctx, inc, "system")
}

// EvaluateAs runs one pass with an explicit trigger origin, recorded in
// event metadata as triggered_by. The manual escalate endpoint passes
// "manual". A snoozed incident whose window has lapsed is moved back to
// triggered before the pass runs.
func (e *Evaluator) EvaluateAs(ctx context.Context, inc *model.Incident, trigger string) error {
	if inc.Status == model.IncidentSnoozed && inc.SnoozedUntil != nil && !e.now().Before(*inc.SnoozedUntil) {
		updated, err := e.incidents.UpdateStatus(ctx, inc.ID, model.IncidentTriggered)
		if err != nil {
			return fmt.Errorf("wake lapsed snooze: %w", err)
		}
		*inc = *updated
		e.logger.Info().
			Str("incident_id", inc.ID).
			Msg("snooze window lapsed, incident re-triggered")
	}

	if !model.Escalatable(inc.Status) {
		e.logger.Debug().
			Str("incident_id", inc.ID).
			Str("status", inc.Status).
			Msg("incident in terminal status, skipping evaluation")
		return nil
	}

	policies, err := e.policies.GetActivePolicies(ctx)
	if err != nil {
		return fmt.Errorf("load active policies: %w", err)
	}

	for i := range policies {
		policy := &policies[i]
		if !policy.Matches(inc) {
			continue
		}
		if err := e.evaluatePolicy(ctx, inc, policy, trigger); err != nil {
			e.logger.Error().Err(err).
				Str("incident_id", inc.ID).
				Str("policy_id", policy.ID).
				Str("policy", policy.Name).
				Msg("policy evaluation failed")
		}
	}
	return nil
}

// evaluatePolicy finds the first due step of the policy that has no pending
// or completed event yet, claims it, and executes its actions. At most one
// step per policy runs per pass; catching up a backlog takes multiple
// passes, which keeps per-pass work bounded and ordering explicit.
func (e *Evaluator) evaluatePolicy(ctx context.Context, inc *model.Incident, policy *model.EscalationPolicy, trigger string) error {
	processed, err := e.ledger.GetProcessedSteps(ctx, inc.ID, policy.ID)
	if err != nil {
		return fmt.Errorf("load processed steps: %w", err)
	}

	age := inc.Age(e.now())

	stepIndex := -1
	for i, step := range policy.Steps {
		if _, done := processed[i]; done {
			continue
		}
		if age >= step.Delay() {
			stepIndex = i
		}
		break
	}
	if stepIndex < 0 {
		return nil
	}
	step := policy.Steps[stepIndex]

	notified, err := e.ledger.GetNotifiedUserIDs(ctx, inc.ID, policy.ID, stepIndex)
	if err != nil {
		return fmt.Errorf("load notified users: %w", err)
	}

	meta := model.EventMetadata{
		model.MetaPolicyName:         policy.Name,
		model.MetaSeverity:           inc.Severity,
		model.MetaService:            inc.Service,
		model.MetaIncidentAgeMinutes: int(age / time.Minute),
		model.MetaDelayMinutes:       step.DelayMinutes,
		model.MetaTriggeredBy:        trigger,
	}
	if policy.Description != "" {
		meta[model.MetaPolicyDescription] = policy.Description
	}
	if len(notified) > 0 {
		prior := make([]string, 0, len(notified))
		for id := range notified {
			prior = append(prior, id)
		}
		meta[model.MetaAlreadyNotifiedUsers] = prior
	}

	ev, err := e.ledger.CreatePending(ctx, inc.ID, policy.ID, stepIndex, meta)
	if err != nil {
		if errors.Is(err, ErrStepAlreadyClaimed) {
			metrics.EscalationStepsLost.Inc()
			e.logger.Debug().
				Str("incident_id", inc.ID).
				Str("policy_id", policy.ID).
				Int("step", stepIndex).
				Msg("step claimed by concurrent evaluator")
			return nil
		}
		return fmt.Errorf("claim step %d: %w", stepIndex, err)
	}

	sc := StepContext{
		PolicyID:   policy.ID,
		PolicyName: policy.Name,
		StepIndex:  stepIndex,
		Step:       step,
	}

	var (
		triggeredFor []string
		targetUsers  []model.TargetUser
		newCount     int
		actionErrs   []error
	)
	for _, action := range step.Actions {
		res, err := e.executor.Execute(ctx, inc, action, sc, notified)
		triggeredFor = append(triggeredFor, res.TriggeredFor...)
		targetUsers = append(targetUsers, res.TargetUsers...)
		newCount += res.NewNotifications
		if err != nil {
			actionErrs = append(actionErrs, err)
		}
	}

	patch := model.EventMetadata{
		model.MetaTriggeredFor:     triggeredFor,
		model.MetaNewNotifications: newCount,
	}
	// A retry that fails before reaching anyone must not wipe the record of
	// who earlier attempts notified; leaving the key out keeps the prior
	// value through the metadata merge.
	if len(targetUsers) > 0 || len(notified) == 0 {
		patch[model.MetaTargetUsers] = targetUsers
	}

	if err := errors.Join(actionErrs...); err != nil {
		metrics.EscalationStepsFailed.WithLabelValues(policy.Name).Inc()
		if ferr := e.ledger.Fail(ctx, ev, err.Error(), patch); ferr != nil {
			return fmt.Errorf("record step failure: %w", errors.Join(err, ferr))
		}
		return fmt.Errorf("step %d: %w", stepIndex, err)
	}

	if err := e.ledger.Complete(ctx, ev, patch); err != nil {
		return fmt.Errorf("record step completion: %w", err)
	}
	metrics.EscalationStepsCompleted.WithLabelValues(policy.Name).Inc()

	e.logger.Info().
		Str("incident_id", inc.ID).
		Str("policy", policy.Name).
		Int("step", stepIndex).
		Int("new_notifications", newCount).
		Msg("escalation step completed")
	return nil
}
