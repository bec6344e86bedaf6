package domain

import (
	"database/sql"
	"time"
)

// AuditEntry is one append-only row in the submission audit trail.
type AuditEntry struct {
	ID           int64         `json:"id"`
	SubmissionID int64         `json:"submissionId"`
	TaskID       sql.NullInt64 `json:"taskId"`
	ActorID      sql.NullInt64 `json:"actorId"`
	Action       string        `json:"action"` // SUBMITTED, TASK_CREATED, DECISION, STAGE_ADVANCED, ...
	Detail       string        `json:"detail"`
	DateTime     time.Time     `json:"dateTime"`
}
