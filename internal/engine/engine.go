package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/formflowhq/formflow/internal/core"
	"github.com/formflowhq/formflow/internal/domain"
)

// ApprovalEngine owns the approval task lifecycle: creating stage tasks,
// recording decisions, evaluating stage satisfaction, advancing stages and
// finalizing or rejecting submissions.
type ApprovalEngine struct {
	Submissions SubmissionRepo
	Tasks       TaskRepo
	Definitions DefinitionRepo
	Audit       AuditRepo
	Resolver    GroupResolver
	Notify      Notifier
	Actions     ActionRunner
	Events      Publisher
	clock       core.Clock
}

func NewApprovalEngine(submissions SubmissionRepo, tasks TaskRepo, definitions DefinitionRepo,
	audit AuditRepo, resolver GroupResolver, notify Notifier, actions ActionRunner,
	events Publisher, clock core.Clock) *ApprovalEngine {
	if events == nil {
		events = LogPublisher{}
	}
	return &ApprovalEngine{
		Submissions: submissions,
		Tasks:       tasks,
		Definitions: definitions,
		Audit:       audit,
		Resolver:    resolver,
		Notify:      notify,
		Actions:     actions,
		Events:      events,
		clock:       clock,
	}
}

type candidate struct {
	user    domain.User
	groupID sql.NullInt64
}

// MaterializeStages returns the ordered stage list a submission routes
// through. A flat definition becomes a synthetic single stage so the rest of
// the engine never branches on the legacy mode.
func MaterializeStages(def *domain.WorkflowDefinition) []domain.WorkflowStage {
	if len(def.Stages) > 0 {
		return def.Stages
	}
	return []domain.WorkflowStage{{
		WorkflowID:              def.ID,
		Name:                    "Approval",
		Order:                   1,
		ApprovalLogic:           def.ApprovalLogic,
		RequiresManagerApproval: def.RequiresManagerApproval,
		ApprovalGroupIDs:        def.FlatApprovalGroupIDs,
	}}
}

// ValidateDefinition rejects bad stage configuration at save time so the
// routing path never encounters it.
func ValidateDefinition(def *domain.WorkflowDefinition) error {
	seen := map[int]string{}
	prev := 0
	for i, s := range def.Stages {
		if s.Order <= 0 {
			return &StageConfigurationError{Detail: fmt.Sprintf("stage %q has non-positive order %d", s.Name, s.Order)}
		}
		if other, dup := seen[s.Order]; dup {
			return &StageConfigurationError{Detail: fmt.Sprintf("stages %q and %q share order %d", other, s.Name, s.Order)}
		}
		if i > 0 && s.Order <= prev {
			return &StageConfigurationError{Detail: fmt.Sprintf("stage %q order %d is not ascending", s.Name, s.Order)}
		}
		switch s.ApprovalLogic {
		case domain.LogicAll, domain.LogicAny, domain.LogicSequence:
		default:
			return &StageConfigurationError{Detail: fmt.Sprintf("stage %q has unknown approval logic %q", s.Name, s.ApprovalLogic)}
		}
		seen[s.Order] = s.Name
		prev = s.Order
	}
	if len(def.Stages) == 0 {
		switch def.ApprovalLogic {
		case domain.LogicAll, domain.LogicAny, domain.LogicSequence:
		default:
			return &StageConfigurationError{Detail: fmt.Sprintf("unknown approval logic %q", def.ApprovalLogic)}
		}
	}
	return nil
}

// StartApproval routes a freshly submitted form into review. on_submit
// actions run first; a non-silent action failure aborts the transition and
// the submission stays submitted.
func (e *ApprovalEngine) StartApproval(ctx context.Context, submissionID int64) error {
	sub, err := e.Submissions.FindByID(submissionID)
	if err != nil {
		return err
	}
	if sub.Status != domain.SubmissionSubmitted {
		return ErrSubmissionNotOpen
	}

	e.Notify.SubmissionReceived(ctx, sub)
	e.publish(ctx, EventSubmissionSubmitted, sub.ID, 0, 0, sub.SubmitterID)
	e.audit(sub.ID, 0, sub.SubmitterID, "SUBMITTED", "submission entered the approval workflow")

	if _, err := e.Actions.Execute(ctx, sub, domain.TriggerOnSubmit); err != nil {
		slog.ErrorContext(ctx, "Blocking on_submit action failed", "submission_id", sub.ID, "error", err)
		return err
	}

	def, err := e.Definitions.FindByFormID(sub.FormID)
	if err == sql.ErrNoRows || (err == nil && !def.RequiresApproval) {
		// Nothing to approve, the submission completes immediately.
		return e.finalizeApproved(ctx, sub, def)
	}
	if err != nil {
		return err
	}

	if err := e.Submissions.UpdateStatus(sub.ID, []string{domain.SubmissionSubmitted}, domain.SubmissionInReview); err != nil {
		return err
	}
	sub.Status = domain.SubmissionInReview

	stages := MaterializeStages(def)
	return e.createStageTasks(ctx, sub, def, stages[0], 1)
}

// createStageTasks resolves the stage's candidate set and creates its pending
// tasks in one atomic batch. Sequence logic gets exactly one task, for the
// first candidate.
func (e *ApprovalEngine) createStageTasks(ctx context.Context, sub *domain.Submission,
	def *domain.WorkflowDefinition, stage domain.WorkflowStage, stageNumber int) error {

	candidates, err := e.resolveCandidates(ctx, sub, stage)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		e.audit(sub.ID, 0, 0, "NO_APPROVERS",
			fmt.Sprintf("stage %d (%s) resolved to an empty approver set", stageNumber, stage.Name))
		slog.ErrorContext(ctx, "Stage has no eligible approvers, submission left in review",
			"submission_id", sub.ID, "stage", stage.Name, "stage_number", stageNumber)
		return fmt.Errorf("stage %d (%s): %w", stageNumber, stage.Name, ErrNoEligibleApprovers)
	}

	if stage.ApprovalLogic == domain.LogicSequence {
		candidates = candidates[:1]
	}

	now := e.clock.Now()
	due := e.dueDate(def, now)
	tasks := make([]domain.ApprovalTask, 0, len(candidates))
	for i, c := range candidates {
		stepName := fmt.Sprintf("Stage %d: %s", stageNumber, stage.Name)
		if stage.ApprovalLogic == domain.LogicSequence {
			stepName = fmt.Sprintf("Stage %d: %s (step %d)", stageNumber, stage.Name, i+1)
		}
		tasks = append(tasks, domain.ApprovalTask{
			SubmissionID: sub.ID,
			StageID:      sql.NullInt64{Int64: stage.ID, Valid: stage.ID != 0},
			StageNumber:  stageNumber,
			StageLogic:   stage.ApprovalLogic,
			StepName:     stepName,
			AssigneeID:   c.user.ID,
			GroupID:      c.groupID,
			Status:       domain.TaskPending,
			Created:      now,
			DueDate:      due,
		})
	}

	created, err := e.Tasks.CreateBatch(tasks)
	if err != nil {
		return err
	}
	for i := range created {
		t := &created[i]
		e.Notify.TaskCreated(ctx, t, sub)
		e.audit(sub.ID, t.ID, 0, "TASK_CREATED", fmt.Sprintf("%s assigned to user %d", t.StepName, t.AssigneeID))
		e.publish(ctx, EventTaskCreated, sub.ID, t.ID, stageNumber, 0)
	}
	slog.InfoContext(ctx, "Created stage tasks",
		"submission_id", sub.ID, "stage_number", stageNumber, "logic", stage.ApprovalLogic, "tasks", len(created))
	return nil
}

// resolveCandidates builds the deterministic approver list for a stage:
// the submitter's manager first when required, then each approval group in
// declaration order with members in the resolver's stable order, deduped.
func (e *ApprovalEngine) resolveCandidates(ctx context.Context, sub *domain.Submission, stage domain.WorkflowStage) ([]candidate, error) {
	var out []candidate
	seen := map[int64]bool{}

	if stage.RequiresManagerApproval {
		mgr, err := e.Resolver.ManagerOf(sub.SubmitterID)
		if err != nil {
			return nil, err
		}
		if mgr != nil {
			out = append(out, candidate{user: *mgr})
			seen[mgr.ID] = true
		} else {
			slog.InfoContext(ctx, "Manager approval required but no manager found",
				"submission_id", sub.ID, "submitter_id", sub.SubmitterID)
		}
	}

	for _, gid := range stage.ApprovalGroupIDs {
		members, err := e.Resolver.ResolveGroup(gid)
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			out = append(out, candidate{user: m, groupID: sql.NullInt64{Int64: gid, Valid: true}})
		}
	}
	return out, nil
}

// RecordDecision applies an approve/reject decision to a pending task. The
// status change is a compare-and-set so concurrent decisions on the same task
// resolve to exactly one winner; the loser gets ErrTaskNotPending.
func (e *ApprovalEngine) RecordDecision(ctx context.Context, taskID int64, actorID int64, decision string, comment string) error {
	task, err := e.Tasks.FindByID(taskID)
	if err != nil {
		return err
	}
	if task.IsTerminal() {
		return ErrTaskNotPending
	}
	if decision != domain.DecisionApprove && decision != domain.DecisionReject {
		return fmt.Errorf("unknown decision %q", decision)
	}

	status := domain.TaskApproved
	if decision == domain.DecisionReject {
		status = domain.TaskRejected
	}

	now := e.clock.Now()
	won, err := e.Tasks.CompareAndSetDecision(task.ID, status, decision, comment, actorID, now)
	if err != nil {
		return err
	}
	if !won {
		return ErrTaskNotPending
	}
	task.Status = status
	task.CompletedBy = sql.NullInt64{Int64: actorID, Valid: true}

	e.audit(task.SubmissionID, task.ID, actorID, "DECISION", fmt.Sprintf("%s: %s", task.StepName, decision))
	e.publish(ctx, EventDecisionRecorded, task.SubmissionID, task.ID, task.StageNumber, actorID)

	sub, err := e.Submissions.FindByID(task.SubmissionID)
	if err != nil {
		return err
	}
	def, err := e.Definitions.FindByFormID(sub.FormID)
	if err != nil {
		return err
	}

	if decision == domain.DecisionApprove {
		return e.evaluateStageAfterApproval(ctx, sub, def, task)
	}
	return e.handleRejection(ctx, sub, def, task)
}

// evaluateStageAfterApproval decides whether the just-approved task satisfies
// its stage, per the stage's logic.
func (e *ApprovalEngine) evaluateStageAfterApproval(ctx context.Context, sub *domain.Submission,
	def *domain.WorkflowDefinition, task *domain.ApprovalTask) error {

	stages := MaterializeStages(def)

	switch task.StageLogic {
	case domain.LogicAny:
		// First approval wins; close out the siblings quietly.
		if err := e.Tasks.MarkSiblingsSuperseded(sub.ID, task.StageNumber, task.ID, e.clock.Now()); err != nil {
			return err
		}
		return e.advanceToNextStage(ctx, sub, def, stages, task.StageNumber)

	case domain.LogicAll:
		siblings, err := e.Tasks.FindByStage(sub.ID, task.StageNumber)
		if err != nil {
			return err
		}
		pending, rejected := tallyStage(siblings)
		if pending > 0 {
			return nil // others still deciding
		}
		if rejected > 0 {
			return e.rejectSubmission(ctx, sub, task)
		}
		return e.advanceToNextStage(ctx, sub, def, stages, task.StageNumber)

	case domain.LogicSequence:
		if task.StageNumber >= 1 && task.StageNumber <= len(stages) {
			stage := stages[task.StageNumber-1]
			next, err := e.nextSequenceCandidate(ctx, sub, stage, task)
			if err != nil {
				return err
			}
			if next != nil {
				return e.createSequenceTask(ctx, sub, def, stage, task, *next)
			}
		}
		return e.advanceToNextStage(ctx, sub, def, stages, task.StageNumber)

	default:
		return fmt.Errorf("task %d carries unknown stage logic %q", task.ID, task.StageLogic)
	}
}

// nextSequenceCandidate finds the candidate after the current assignee in the
// stage's deterministic order, skipping anyone who already holds a task.
func (e *ApprovalEngine) nextSequenceCandidate(ctx context.Context, sub *domain.Submission,
	stage domain.WorkflowStage, task *domain.ApprovalTask) (*candidate, error) {

	candidates, err := e.resolveCandidates(ctx, sub, stage)
	if err != nil {
		return nil, err
	}
	idx := -1
	for i, c := range candidates {
		if c.user.ID == task.AssigneeID {
			idx = i
			break
		}
	}
	if idx == -1 {
		// Assignee no longer resolvable (group edited mid-flight); treat as
		// the last step so the stage completes rather than stalls.
		return nil, nil
	}
	if idx+1 < len(candidates) {
		return &candidates[idx+1], nil
	}
	return nil, nil
}

func (e *ApprovalEngine) createSequenceTask(ctx context.Context, sub *domain.Submission,
	def *domain.WorkflowDefinition, stage domain.WorkflowStage, prev *domain.ApprovalTask, c candidate) error {

	now := e.clock.Now()
	siblings, err := e.Tasks.FindByStage(sub.ID, prev.StageNumber)
	if err != nil {
		return err
	}
	step := 1
	if siblings != nil {
		step = len(*siblings) + 1
	}
	tasks := []domain.ApprovalTask{{
		SubmissionID: sub.ID,
		StageID:      prev.StageID,
		StageNumber:  prev.StageNumber,
		StageLogic:   domain.LogicSequence,
		StepName:     fmt.Sprintf("Stage %d: %s (step %d)", prev.StageNumber, stage.Name, step),
		AssigneeID:   c.user.ID,
		GroupID:      c.groupID,
		Status:       domain.TaskPending,
		Created:      now,
		DueDate:      e.dueDate(def, now),
	}}
	created, err := e.Tasks.CreateBatch(tasks)
	if err != nil {
		return err
	}
	t := &created[0]
	e.Notify.TaskCreated(ctx, t, sub)
	e.audit(sub.ID, t.ID, 0, "TASK_CREATED", fmt.Sprintf("%s assigned to user %d", t.StepName, t.AssigneeID))
	e.publish(ctx, EventTaskCreated, sub.ID, t.ID, t.StageNumber, 0)
	return nil
}

// advanceToNextStage activates the next stage by ascending order, or
// finalizes the submission when the satisfied stage was the last one.
func (e *ApprovalEngine) advanceToNextStage(ctx context.Context, sub *domain.Submission,
	def *domain.WorkflowDefinition, stages []domain.WorkflowStage, currentStageNumber int) error {

	if currentStageNumber < len(stages) {
		next := stages[currentStageNumber]
		e.audit(sub.ID, 0, 0, "STAGE_ADVANCED", fmt.Sprintf("stage %d satisfied, activating stage %d (%s)",
			currentStageNumber, currentStageNumber+1, next.Name))
		e.publish(ctx, EventStageAdvanced, sub.ID, 0, currentStageNumber+1, 0)
		return e.createStageTasks(ctx, sub, def, next, currentStageNumber+1)
	}
	return e.finalizeApproved(ctx, sub, def)
}

// finalizeApproved completes the workflow. on_approve actions run before the
// status flips so a must-succeed sync failure blocks the approval; on_complete
// actions run after.
func (e *ApprovalEngine) finalizeApproved(ctx context.Context, sub *domain.Submission, def *domain.WorkflowDefinition) error {
	if _, err := e.Actions.Execute(ctx, sub, domain.TriggerOnApprove); err != nil {
		slog.ErrorContext(ctx, "Blocking on_approve action failed, approval not recorded",
			"submission_id", sub.ID, "error", err)
		return err
	}

	now := e.clock.Now()
	if err := e.Submissions.FinalizeAndCancelPending(sub.ID, domain.SubmissionApproved, domain.TaskCancelled, now); err != nil {
		return err
	}
	sub.Status = domain.SubmissionApproved

	e.audit(sub.ID, 0, 0, "APPROVED", "all stages satisfied")
	e.publish(ctx, EventSubmissionApproved, sub.ID, 0, 0, 0)
	e.Notify.SubmissionApproved(ctx, sub)

	if _, err := e.Actions.Execute(ctx, sub, domain.TriggerOnComplete); err != nil {
		// The approval already happened; surface the failure without undoing it.
		slog.ErrorContext(ctx, "on_complete action failed after approval", "submission_id", sub.ID, "error", err)
		return err
	}
	return nil
}

// handleRejection is the single authoritative rejection path. all logic waits
// for every sibling to be decided, any logic waits unless all siblings
// rejected, sequence rejects immediately.
func (e *ApprovalEngine) handleRejection(ctx context.Context, sub *domain.Submission,
	def *domain.WorkflowDefinition, task *domain.ApprovalTask) error {

	switch task.StageLogic {
	case domain.LogicSequence:
		return e.rejectSubmission(ctx, sub, task)

	case domain.LogicAll, domain.LogicAny:
		siblings, err := e.Tasks.FindByStage(sub.ID, task.StageNumber)
		if err != nil {
			return err
		}
		pending, _ := tallyStage(siblings)
		if pending > 0 {
			// A sibling can still decide; premature rejection is the historical
			// bug this path exists to prevent.
			return nil
		}
		if task.StageLogic == domain.LogicAny && stageHasApproval(siblings) {
			return nil // stage already satisfied by an earlier approval
		}
		return e.rejectSubmission(ctx, sub, task)

	default:
		return fmt.Errorf("task %d carries unknown stage logic %q", task.ID, task.StageLogic)
	}
}

func (e *ApprovalEngine) rejectSubmission(ctx context.Context, sub *domain.Submission, task *domain.ApprovalTask) error {
	now := e.clock.Now()
	if err := e.Submissions.FinalizeAndCancelPending(sub.ID, domain.SubmissionRejected, domain.TaskCancelled, now); err != nil {
		return err
	}
	sub.Status = domain.SubmissionRejected

	e.audit(sub.ID, task.ID, 0, "REJECTED", fmt.Sprintf("rejected at %s", task.StepName))
	e.publish(ctx, EventSubmissionRejected, sub.ID, task.ID, task.StageNumber, 0)
	e.Notify.SubmissionRejected(ctx, sub)

	if _, err := e.Actions.Execute(ctx, sub, domain.TriggerOnReject); err != nil {
		// The rejection stands; report the action failure upward.
		slog.ErrorContext(ctx, "on_reject action failed", "submission_id", sub.ID, "error", err)
		return err
	}
	return nil
}

// Withdraw cancels an open submission. Only the submitter may withdraw, and
// all pending tasks close atomically with the status change.
func (e *ApprovalEngine) Withdraw(ctx context.Context, submissionID int64, actorID int64) error {
	sub, err := e.Submissions.FindByID(submissionID)
	if err != nil {
		return err
	}
	if sub.SubmitterID != actorID {
		return ErrNotSubmitter
	}
	if sub.Status != domain.SubmissionSubmitted && sub.Status != domain.SubmissionInReview {
		return ErrSubmissionNotOpen
	}
	if err := e.Submissions.FinalizeAndCancelPending(sub.ID, domain.SubmissionWithdrawn, domain.TaskCancelled, e.clock.Now()); err != nil {
		return err
	}
	e.audit(sub.ID, 0, actorID, "WITHDRAWN", "withdrawn by submitter")
	e.publish(ctx, EventSubmissionWithdrawn, sub.ID, 0, 0, actorID)
	return nil
}

func (e *ApprovalEngine) dueDate(def *domain.WorkflowDefinition, now time.Time) sql.NullTime {
	if def == nil || !def.ApprovalDeadlineDays.Valid {
		return sql.NullTime{}
	}
	return sql.NullTime{
		Time:  now.Add(time.Duration(def.ApprovalDeadlineDays.Int32) * 24 * time.Hour),
		Valid: true,
	}
}

func (e *ApprovalEngine) audit(submissionID int64, taskID int64, actorID int64, action string, detail string) {
	entry := &domain.AuditEntry{
		SubmissionID: submissionID,
		TaskID:       sql.NullInt64{Int64: taskID, Valid: taskID != 0},
		ActorID:      sql.NullInt64{Int64: actorID, Valid: actorID != 0},
		Action:       action,
		Detail:       detail,
		DateTime:     e.clock.Now(),
	}
	_, _ = e.Audit.Save(entry)
}

func (e *ApprovalEngine) publish(ctx context.Context, eventType string, submissionID int64, taskID int64, stageNumber int, actorID int64) {
	ev := NewEvent(eventType, submissionID, e.clock.Now())
	ev.TaskID = taskID
	ev.StageNumber = stageNumber
	ev.ActorID = actorID
	e.Events.Publish(ctx, ev)
}

// tallyStage counts the pending and rejected tasks in a sibling set.
// Superseded, cancelled, expired and escalated tasks count as neither.
func tallyStage(tasks *[]domain.ApprovalTask) (pending int, rejected int) {
	if tasks == nil {
		return 0, 0
	}
	for _, t := range *tasks {
		switch t.Status {
		case domain.TaskPending:
			pending++
		case domain.TaskRejected:
			rejected++
		}
	}
	return pending, rejected
}

func stageHasApproval(tasks *[]domain.ApprovalTask) bool {
	if tasks == nil {
		return false
	}
	for _, t := range *tasks {
		if t.Status == domain.TaskApproved {
			return true
		}
	}
	return false
}
