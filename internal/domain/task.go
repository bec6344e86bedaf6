package domain

import (
	"database/sql"
	"time"
)

const (
	TaskPending    = "pending"
	TaskApproved   = "approved"
	TaskRejected   = "rejected"
	TaskSuperseded = "superseded"
	TaskCancelled  = "cancelled"
	TaskEscalated  = "escalated"
	TaskExpired    = "expired"
)

const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
)

// ApprovalTask is one approval unit tied to (submission, stage, approver).
// StageNumber and StageLogic are denormalized so historical tasks remain
// interpretable after a stage is edited or removed.
type ApprovalTask struct {
	ID           int64          `json:"id"`
	SubmissionID int64          `json:"submissionId"`
	StageID      sql.NullInt64  `json:"stageId"`
	StageNumber  int            `json:"stageNumber"`
	StageLogic   string         `json:"stageLogic"`
	StepName     string         `json:"stepName"`
	AssigneeID   int64          `json:"assigneeId"`
	GroupID      sql.NullInt64  `json:"groupId"` // group the assignee was resolved from
	Status       string         `json:"status"`
	Decision     sql.NullString `json:"decision"`
	Comment      sql.NullString `json:"comment"`
	Created      time.Time      `json:"created"`
	DueDate      sql.NullTime   `json:"dueDate"`
	CompletedAt  sql.NullTime   `json:"completedAt"`
	CompletedBy  sql.NullInt64  `json:"completedBy"`
}

// IsTerminal reports whether a decision has been recorded or the task was
// otherwise closed. Escalated tasks are replaced by reassigned pending tasks
// and no longer count toward stage satisfaction.
func (t *ApprovalTask) IsTerminal() bool {
	return t.Status != TaskPending
}
