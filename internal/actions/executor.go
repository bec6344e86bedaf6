package actions

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-multierror"

	"github.com/formflowhq/formflow/internal/conditions"
	"github.com/formflowhq/formflow/internal/core"
	"github.com/formflowhq/formflow/internal/domain"
	"github.com/formflowhq/formflow/internal/engine"
)

// ActionConfigRepo lists the configured actions for a form and trigger.
type ActionConfigRepo interface {
	FindActiveByFormAndTrigger(formID int64, trigger string) (*[]domain.PostSubmissionAction, error)
}

// UserRepo resolves the submitter for lookups and templating.
type UserRepo interface {
	FindById(id int64) (*domain.User, error)
}

// AuditRepo is the append-only sink every action outcome is written to.
type AuditRepo interface {
	Save(e *domain.AuditEntry) (int64, error)
}

// ActionExecutionError wraps a handler failure that survived the retry
// policy on a non-silent action.
type ActionExecutionError struct {
	ActionName string
	Retryable  bool
	Err        error
}

func (e *ActionExecutionError) Error() string {
	return fmt.Sprintf("action %q failed: %v", e.ActionName, e.Err)
}

func (e *ActionExecutionError) Unwrap() error { return e.Err }

// Result is a handler's normalized outcome for one attempt.
type Result struct {
	Success bool
	Message string
}

// Invocation carries everything a handler may read. Handlers never mutate
// the action configuration or the submission.
type Invocation struct {
	Action     *domain.PostSubmissionAction
	Submission *domain.Submission
	Fields     map[string]any
	Submitter  *domain.User
}

// Handler executes one action type against its external system.
type Handler interface {
	Execute(ctx context.Context, inv *Invocation) (Result, error)
}

// Executor selects, filters and runs post-submission actions for a lifecycle
// trigger, with per-action retry and failure isolation.
type Executor struct {
	actions   ActionConfigRepo
	users     UserRepo
	audit     AuditRepo
	events    engine.Publisher
	handlers  map[string]Handler
	custom    *Registry
	clock     core.Clock
	baseDelay time.Duration
}

func NewExecutor(actionRepo ActionConfigRepo, users UserRepo, audit AuditRepo,
	events engine.Publisher, custom *Registry, clock core.Clock, baseDelay time.Duration) *Executor {
	if events == nil {
		events = engine.LogPublisher{}
	}
	if custom == nil {
		custom = NewRegistry()
	}
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	return &Executor{
		actions:   actionRepo,
		users:     users,
		audit:     audit,
		events:    events,
		handlers:  map[string]Handler{},
		custom:    custom,
		clock:     clock,
		baseDelay: baseDelay,
	}
}

// RegisterHandler binds a handler to one of the closed action types.
func (x *Executor) RegisterHandler(actionType string, h Handler) {
	x.handlers[actionType] = h
}

// Execute runs every active action configured for the trigger, in
// (exec_order, name) order. One action's failure never prevents the rest of
// the batch from running; all outcomes are returned. The error aggregates
// non-silent residual failures and, when non-nil, the caller must treat the
// triggering transition as blocked.
func (x *Executor) Execute(ctx context.Context, sub *domain.Submission, trigger string) ([]domain.ActionResult, error) {
	list, err := x.actions.FindActiveByFormAndTrigger(sub.FormID, trigger)
	if err != nil {
		return nil, err
	}
	if list == nil || len(*list) == 0 {
		return nil, nil
	}

	inv := &Invocation{Submission: sub, Fields: sub.Fields()}
	if submitter, err := x.users.FindById(sub.SubmitterID); err == nil {
		inv.Submitter = submitter
	} else {
		slog.WarnContext(ctx, "Could not resolve submitter for action execution",
			"submission_id", sub.ID, "submitter_id", sub.SubmitterID, "error", err)
	}

	slog.InfoContext(ctx, "Executing post-submission actions",
		"submission_id", sub.ID, "trigger", trigger, "actions", len(*list))

	var merr *multierror.Error
	results := make([]domain.ActionResult, 0, len(*list))
	for i := range *list {
		action := &(*list)[i]
		inv.Action = action
		res := x.runAction(ctx, inv)
		results = append(results, res)
		x.record(ctx, sub, &res)

		if !res.Success && !res.Skipped && !action.FailSilently {
			merr = multierror.Append(merr, &ActionExecutionError{
				ActionName: action.Name,
				Retryable:  action.Retry,
				Err:        fmt.Errorf("%s", res.Message),
			})
		}
	}
	return results, merr.ErrorOrNil()
}

func (x *Executor) runAction(ctx context.Context, inv *Invocation) domain.ActionResult {
	action := inv.Action
	out := domain.ActionResult{
		ActionID:   action.ID,
		ActionName: action.Name,
		ActionType: action.ActionType,
		DateTime:   x.clock.Now(),
	}

	ok, condErr := x.conditionMet(action, inv.Fields)
	if condErr != nil {
		// A malformed condition must never crash or block the flow; it only
		// disables the action.
		slog.Warn("Action condition is malformed, treating as false",
			"action", action.Name, "error", condErr)
		out.Skipped = true
		out.Message = "condition invalid: " + condErr.Error()
		return out
	}
	if !ok {
		out.Skipped = true
		out.Message = "condition not met"
		slog.Debug("Skipping action, condition not met", "action", action.Name)
		return out
	}

	handler := x.handlerFor(action)
	if handler == nil {
		out.Message = fmt.Sprintf("no handler for action type %q", action.ActionType)
		slog.Error("Action has no handler", "action", action.Name, "type", action.ActionType)
		return out
	}

	maxRetries := uint64(0)
	if action.Retry && action.MaxRetries > 0 {
		maxRetries = uint64(action.MaxRetries)
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = x.baseDelay
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, maxRetries), ctx)

	var last Result
	err := backoff.Retry(func() error {
		out.Attempts++
		res, err := handler.Execute(ctx, inv)
		if err != nil {
			last = Result{Success: false, Message: "handler error: " + err.Error()}
			return err
		}
		last = res
		if !res.Success {
			return fmt.Errorf("%s", res.Message)
		}
		return nil
	}, policy)

	out.Success = err == nil && last.Success
	out.Message = last.Message
	if out.Success {
		out.RetryCount = out.Attempts - 1
	}
	if !out.Success {
		slog.Error("Action failed after retries",
			"action", action.Name, "attempts", out.Attempts, "message", out.Message,
			"fail_silently", action.FailSilently)
	}
	return out
}

func (x *Executor) conditionMet(action *domain.PostSubmissionAction, fields map[string]any) (bool, error) {
	if !action.Condition.Valid || strings.TrimSpace(action.Condition.String) == "" {
		return true, nil
	}
	expr, err := conditions.Parse(action.Condition.String)
	if err != nil {
		return false, err
	}
	return conditions.Evaluate(expr, fields)
}

func (x *Executor) handlerFor(action *domain.PostSubmissionAction) Handler {
	if action.ActionType == domain.ActionTypeCustom {
		return x.custom
	}
	return x.handlers[action.ActionType]
}

func (x *Executor) record(ctx context.Context, sub *domain.Submission, res *domain.ActionResult) {
	detail := fmt.Sprintf("%s (%s): %s", res.ActionName, res.ActionType, outcomeWord(res))
	if res.Message != "" {
		detail += " - " + res.Message
	}
	_, _ = x.audit.Save(&domain.AuditEntry{
		SubmissionID: sub.ID,
		Action:       "ACTION_EXECUTED",
		Detail:       detail,
		DateTime:     x.clock.Now(),
	})

	ev := engine.NewEvent(engine.EventActionExecuted, sub.ID, x.clock.Now())
	ev.Detail = detail
	x.events.Publish(ctx, ev)
}

func outcomeWord(res *domain.ActionResult) string {
	switch {
	case res.Skipped:
		return "skipped"
	case res.Success:
		return fmt.Sprintf("succeeded after %d attempt(s)", res.Attempts)
	default:
		return fmt.Sprintf("failed after %d attempt(s)", res.Attempts)
	}
}
