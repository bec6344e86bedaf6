package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/formflowhq/formflow/internal/domain"
)

// SweepOverdueTasks is the periodic escalation and expiry pass. Scheduling is
// owned by the caller (a ticker goroutine in the app wiring); the sweep may
// run concurrently with user decisions, so every status change here is a
// compare-and-set that loses gracefully to a racing approver.
func (e *ApprovalEngine) SweepOverdueTasks(ctx context.Context) {
	tasks, err := e.Tasks.FindOverduePending(200)
	if err != nil {
		slog.Error("Escalation sweep failed to list pending tasks", "error", err)
		return
	}
	if tasks == nil {
		return
	}

	now := e.clock.Now()
	for i := range *tasks {
		task := &(*tasks)[i]
		if err := e.sweepTask(ctx, task, now); err != nil {
			slog.ErrorContext(ctx, "Escalation sweep failed for task",
				"task_id", task.ID, "submission_id", task.SubmissionID, "error", err)
		}
	}
}

func (e *ApprovalEngine) sweepTask(ctx context.Context, task *domain.ApprovalTask, now time.Time) error {
	sub, err := e.Submissions.FindByID(task.SubmissionID)
	if err != nil {
		return err
	}
	def, err := e.Definitions.FindByFormID(sub.FormID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return err
	}

	// Definition-level deadline: the task simply expires.
	if task.DueDate.Valid && now.After(task.DueDate.Time) {
		changed, err := e.Tasks.CompareAndSetStatus(task.ID, domain.TaskPending, domain.TaskExpired, now)
		if err != nil || !changed {
			return err
		}
		e.audit(sub.ID, task.ID, 0, "TASK_EXPIRED", fmt.Sprintf("%s passed its due date", task.StepName))
		slog.InfoContext(ctx, "Approval task expired", "task_id", task.ID, "submission_id", sub.ID)
		return nil
	}

	stages := MaterializeStages(def)
	if task.StageNumber < 1 || task.StageNumber > len(stages) {
		return nil
	}
	stage := stages[task.StageNumber-1]
	if !stage.EscalateAfterHours.Valid || !stage.EscalationGroupID.Valid {
		return nil
	}
	threshold := task.Created.Add(time.Duration(stage.EscalateAfterHours.Int32) * time.Hour)
	if now.Before(threshold) {
		return nil
	}

	changed, err := e.Tasks.CompareAndSetStatus(task.ID, domain.TaskPending, domain.TaskEscalated, now)
	if err != nil || !changed {
		return err
	}
	task.Status = domain.TaskEscalated
	e.audit(sub.ID, task.ID, 0, "TASK_ESCALATED",
		fmt.Sprintf("%s overdue after %dh", task.StepName, stage.EscalateAfterHours.Int32))
	e.Notify.TaskEscalated(ctx, task, sub)

	return e.reassignEscalated(ctx, sub, def, stage, task, now)
}

// reassignEscalated creates replacement pending tasks for the fallback group
// so the stage can still be satisfied. Approval logic is unchanged; the
// replacements join the same stage scope.
func (e *ApprovalEngine) reassignEscalated(ctx context.Context, sub *domain.Submission,
	def *domain.WorkflowDefinition, stage domain.WorkflowStage, task *domain.ApprovalTask, now time.Time) error {

	members, err := e.Resolver.ResolveGroup(stage.EscalationGroupID.Int64)
	if err != nil {
		return err
	}
	siblings, err := e.Tasks.FindByStage(sub.ID, task.StageNumber)
	if err != nil {
		return err
	}
	holding := map[int64]bool{}
	if siblings != nil {
		for _, s := range *siblings {
			if s.Status == domain.TaskPending {
				holding[s.AssigneeID] = true
			}
		}
	}

	var tasks []domain.ApprovalTask
	for _, m := range members {
		if holding[m.ID] {
			continue
		}
		holding[m.ID] = true
		tasks = append(tasks, domain.ApprovalTask{
			SubmissionID: sub.ID,
			StageID:      task.StageID,
			StageNumber:  task.StageNumber,
			StageLogic:   task.StageLogic,
			StepName:     task.StepName + " (escalated)",
			AssigneeID:   m.ID,
			GroupID:      stage.EscalationGroupID,
			Status:       domain.TaskPending,
			Created:      now,
			DueDate:      e.dueDate(def, now),
		})
		if task.StageLogic == domain.LogicSequence {
			break // sequence keeps a single active task
		}
	}
	if len(tasks) == 0 {
		slog.WarnContext(ctx, "Escalation group resolved to no replacement approvers",
			"task_id", task.ID, "group_id", stage.EscalationGroupID.Int64)
		return nil
	}

	created, err := e.Tasks.CreateBatch(tasks)
	if err != nil {
		return err
	}
	for i := range created {
		t := &created[i]
		e.Notify.TaskCreated(ctx, t, sub)
		e.audit(sub.ID, t.ID, 0, "TASK_CREATED", fmt.Sprintf("%s reassigned to user %d", t.StepName, t.AssigneeID))
		e.publish(ctx, EventTaskCreated, sub.ID, t.ID, t.StageNumber, 0)
	}
	return nil
}
