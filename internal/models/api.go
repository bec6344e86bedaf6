package models

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/formflowhq/formflow/internal/domain"
)

// CreateSubmissionRequest creates a submission. When Draft is true the
// submission is parked in draft and approval does not start.
type CreateSubmissionRequest struct {
	FormID    int64          `json:"formId"`
	FieldData map[string]any `json:"fieldData"`
	Draft     bool           `json:"draft"`
}

type SubmissionResponse struct {
	ID          int64          `json:"id"`
	Reference   string         `json:"reference"`
	FormID      int64          `json:"formId"`
	SubmitterID int64          `json:"submitterId"`
	Status      string         `json:"status"`
	FieldData   map[string]any `json:"fieldData"`
	Created     time.Time      `json:"created"`
	SubmittedAt *time.Time     `json:"submittedAt,omitempty"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
}

func ToSubmissionResponse(s *domain.Submission) SubmissionResponse {
	resp := SubmissionResponse{
		ID:          s.ID,
		Reference:   s.Reference,
		FormID:      s.FormID,
		SubmitterID: s.SubmitterID,
		Status:      s.Status,
		FieldData:   s.Fields(),
		Created:     s.Created,
	}
	if s.SubmittedAt.Valid {
		t := s.SubmittedAt.Time
		resp.SubmittedAt = &t
	}
	if s.CompletedAt.Valid {
		t := s.CompletedAt.Time
		resp.CompletedAt = &t
	}
	return resp
}

// DecisionRequest records an approve or reject on a task.
type DecisionRequest struct {
	Decision string `json:"decision"` // approve | reject
	Comment  string `json:"comment"`
}

type TaskResponse struct {
	ID           int64      `json:"id"`
	SubmissionID int64      `json:"submissionId"`
	StageNumber  int        `json:"stageNumber"`
	StageLogic   string     `json:"stageLogic"`
	StepName     string     `json:"stepName"`
	AssigneeID   int64      `json:"assigneeId"`
	Status       string     `json:"status"`
	Decision     string     `json:"decision,omitempty"`
	Comment      string     `json:"comment,omitempty"`
	Created      time.Time  `json:"created"`
	DueDate      *time.Time `json:"dueDate,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

func ToTaskResponse(t *domain.ApprovalTask) TaskResponse {
	resp := TaskResponse{
		ID:           t.ID,
		SubmissionID: t.SubmissionID,
		StageNumber:  t.StageNumber,
		StageLogic:   t.StageLogic,
		StepName:     t.StepName,
		AssigneeID:   t.AssigneeID,
		Status:       t.Status,
		Created:      t.Created,
	}
	if t.Decision.Valid {
		resp.Decision = t.Decision.String
	}
	if t.Comment.Valid {
		resp.Comment = t.Comment.String
	}
	if t.DueDate.Valid {
		d := t.DueDate.Time
		resp.DueDate = &d
	}
	if t.CompletedAt.Valid {
		d := t.CompletedAt.Time
		resp.CompletedAt = &d
	}
	return resp
}

type AuditEntryResponse struct {
	ID       int64     `json:"id"`
	TaskID   int64     `json:"taskId,omitempty"`
	ActorID  int64     `json:"actorId,omitempty"`
	Action   string    `json:"action"`
	Detail   string    `json:"detail"`
	DateTime time.Time `json:"dateTime"`
}

func ToAuditEntryResponse(e *domain.AuditEntry) AuditEntryResponse {
	resp := AuditEntryResponse{
		ID:       e.ID,
		Action:   e.Action,
		Detail:   e.Detail,
		DateTime: e.DateTime,
	}
	if e.TaskID.Valid {
		resp.TaskID = e.TaskID.Int64
	}
	if e.ActorID.Valid {
		resp.ActorID = e.ActorID.Int64
	}
	return resp
}

// SaveActionRequest carries an action configuration over the wire. Condition
// and Config arrive as raw JSON documents.
type SaveActionRequest struct {
	FormID       int64           `json:"formId"`
	Name         string          `json:"name"`
	ActionType   string          `json:"actionType"`
	Trigger      string          `json:"trigger"`
	ExecOrder    int             `json:"execOrder"`
	Active       bool            `json:"active"`
	Condition    json.RawMessage `json:"condition,omitempty"`
	FailSilently bool            `json:"failSilently"`
	Retry        bool            `json:"retry"`
	MaxRetries   int             `json:"maxRetries"`
	Config       json.RawMessage `json:"config,omitempty"`
}

func (r *SaveActionRequest) ToDomain() domain.PostSubmissionAction {
	a := domain.PostSubmissionAction{
		FormID:       r.FormID,
		Name:         r.Name,
		ActionType:   r.ActionType,
		Trigger:      r.Trigger,
		ExecOrder:    r.ExecOrder,
		Active:       r.Active,
		FailSilently: r.FailSilently,
		Retry:        r.Retry,
		MaxRetries:   r.MaxRetries,
	}
	if len(r.Condition) > 0 {
		a.Condition = sql.NullString{String: string(r.Condition), Valid: true}
	}
	if len(r.Config) > 0 {
		a.Config = sql.NullString{String: string(r.Config), Valid: true}
	}
	return a
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	SessionID string    `json:"sessionId"`
	Expires   time.Time `json:"expires"`
}
