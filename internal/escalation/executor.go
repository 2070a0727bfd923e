package escalation

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/edvin/oncall/internal/metrics"
	"github.com/edvin/oncall/internal/model"
	"github.com/edvin/oncall/internal/notify"
)

// StepContext identifies the policy step an action belongs to. It flows into
// delivery metadata and the notification de-duplication scope.
type StepContext struct {
	PolicyID   string
	PolicyName string
	StepIndex  int
	Step       model.EscalationStep
}

// ActionResult reports what one action touched: which descriptors fired,
// which users were targeted, and how many notifications actually went out
// (targets already notified for this step are skipped and not counted).
type ActionResult struct {
	TriggeredFor     []string
	TargetUsers      []model.TargetUser
	NewNotifications int
}

// Executor performs a single escalation action against the external
// collaborators. Delivery failures within an action are collected and
// returned together rather than aborting the remaining recipients.
type Executor struct {
	resolver   *Resolver
	incidents  IncidentStore
	dispatcher notify.Dispatcher
	logger     zerolog.Logger
}

func NewExecutor(resolver *Resolver, incidents IncidentStore, dispatcher notify.Dispatcher, logger zerolog.Logger) *Executor {
	return &Executor{
		resolver:   resolver,
		incidents:  incidents,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Execute runs one action. alreadyNotified is shared across the actions of a
// step: users notified by an earlier action (or a prior partial attempt of
// the same step) are skipped, and newly notified users are added to it.
func (e *Executor) Execute(ctx context.Context, inc *model.Incident, action model.EscalationAction, sc StepContext, alreadyNotified map[string]struct{}) (ActionResult, error) {
	kind, role := model.ParseActionKind(action.Type)

	switch kind {
	case model.ActionNotify:
		return e.executeNotify(ctx, inc, action, sc, alreadyNotified)
	case model.ActionNotifyRole:
		return e.executeNotifyRole(ctx, inc, action, role, sc, alreadyNotified)
	case model.ActionAssign:
		return e.executeAssign(ctx, inc, action, sc)
	case model.ActionStatusChange:
		return e.executeStatusChange(ctx, inc, action)
	default:
		e.logger.Warn().
			Str("incident_id", inc.ID).
			Str("policy_id", sc.PolicyID).
			Str("action_type", action.Type).
			Msg("unknown escalation action type, skipping")
		return ActionResult{}, nil
	}
}

func (e *Executor) executeNotify(ctx context.Context, inc *model.Incident, action model.EscalationAction, sc StepContext, alreadyNotified map[string]struct{}) (ActionResult, error) {
	message := action.Message
	if message == "" {
		message = fmt.Sprintf("Incident %s requires attention", inc.ID)
	}

	recipients := action.Recipients
	if recipients == nil && action.Target != "" {
		recipients = []string{action.Target}
	}
	if len(recipients) == 0 && len(action.TargetRoles) == 0 {
		recipients = []string{DescriptorAssignees}
	}

	var result ActionResult
	var errs []error

	for _, recipient := range recipients {
		users, err := e.resolver.Resolve(ctx, inc, recipient)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		result.TriggeredFor = append(result.TriggeredFor, recipient)

		for _, user := range users {
			if err := e.notifyUser(ctx, inc, user, "responder", message, sc, alreadyNotified, &result); err != nil {
				errs = append(errs, err)
			}
		}
	}

	for _, role := range action.TargetRoles {
		users, err := e.resolver.Resolve(ctx, inc, role)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		result.TriggeredFor = append(result.TriggeredFor, role)

		for _, user := range users {
			if err := e.notifyUser(ctx, inc, user, role, message, sc, alreadyNotified, &result); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return result, errors.Join(errs...)
}

func (e *Executor) executeNotifyRole(ctx context.Context, inc *model.Incident, action model.EscalationAction, role string, sc StepContext, alreadyNotified map[string]struct{}) (ActionResult, error) {
	message := action.Message
	if message == "" {
		message = fmt.Sprintf("Escalation: Incident %s (%s) requires %s attention", inc.ID, inc.Title, role)
	}

	var result ActionResult
	var errs []error

	users, err := e.resolver.Resolve(ctx, inc, role)
	if err != nil {
		return result, err
	}
	result.TriggeredFor = append(result.TriggeredFor, role)

	for _, user := range users {
		if err := e.notifyUser(ctx, inc, user, role, message, sc, alreadyNotified, &result); err != nil {
			errs = append(errs, err)
		}
	}

	return result, errors.Join(errs...)
}

// notifyUser delivers to one user unless the step already reached them. The
// user lands in result.TargetUsers only once delivery succeeded or was
// skipped as a duplicate, so target_users in event metadata stays an exact
// record of who has been notified for the step.
func (e *Executor) notifyUser(ctx context.Context, inc *model.Incident, user model.User, role, message string, sc StepContext, alreadyNotified map[string]struct{}, result *ActionResult) error {
	target := model.TargetUser{
		ID:    user.ID,
		Name:  user.FullName,
		Email: user.Email,
		Role:  role,
	}

	if _, done := alreadyNotified[user.ID]; done {
		metrics.NotificationsDeduplicated.Inc()
		e.logger.Debug().
			Str("incident_id", inc.ID).
			Str("user_id", user.ID).
			Int("step", sc.StepIndex).
			Msg("user already notified for step, skipping")
		result.TargetUsers = append(result.TargetUsers, target)
		return nil
	}

	err := e.dispatcher.Deliver(ctx, user.Email, message, notify.Context{
		IncidentID: inc.ID,
		UserID:     user.ID,
		ActionType: "escalation",
		Metadata: map[string]any{
			"policy_id":   sc.PolicyID,
			"policy_name": sc.PolicyName,
			"step_index":  sc.StepIndex,
		},
	})
	if err != nil {
		return fmt.Errorf("notify %s: %w", user.Email, err)
	}

	alreadyNotified[user.ID] = struct{}{}
	result.TargetUsers = append(result.TargetUsers, target)
	result.NewNotifications++
	return nil
}

func (e *Executor) executeAssign(ctx context.Context, inc *model.Incident, action model.EscalationAction, sc StepContext) (ActionResult, error) {
	descriptor := action.Target
	if descriptor == "" {
		descriptor = action.AssigneeID
	}
	if descriptor == "" {
		return ActionResult{}, nil
	}

	users, err := e.resolver.Resolve(ctx, inc, descriptor)
	if err != nil {
		return ActionResult{}, err
	}

	result := ActionResult{TriggeredFor: []string{descriptor}}
	for _, user := range users {
		existing, err := e.incidents.GetAssignment(ctx, inc.ID, user.ID)
		if err != nil {
			return result, fmt.Errorf("check assignment for %s: %w", user.ID, err)
		}
		if existing == nil {
			if _, err := e.incidents.CreateAssignment(ctx, inc.ID, user.ID); err != nil {
				return result, fmt.Errorf("create assignment for %s: %w", user.ID, err)
			}
		}
		result.TargetUsers = append(result.TargetUsers, model.TargetUser{
			ID:    user.ID,
			Name:  user.FullName,
			Email: user.Email,
			Role:  "assignee",
		})
	}

	return result, nil
}

func (e *Executor) executeStatusChange(ctx context.Context, inc *model.Incident, action model.EscalationAction) (ActionResult, error) {
	status, ok := model.LookupIncidentStatus(action.Status)
	if !ok {
		e.logger.Warn().
			Str("incident_id", inc.ID).
			Str("status", action.Status).
			Msg("invalid status in status_change action, ignoring")
		return ActionResult{}, nil
	}

	updated, err := e.incidents.UpdateStatus(ctx, inc.ID, status)
	if err != nil {
		return ActionResult{}, fmt.Errorf("change status to %s: %w", status, err)
	}
	inc.Status = updated.Status

	return ActionResult{}, nil
}
