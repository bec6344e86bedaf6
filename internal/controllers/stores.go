package controllers

import (
	"context"
	"time"

	"github.com/formflowhq/formflow/internal/domain"
)

// The controller layer depends on narrow store interfaces so handlers can be
// tested without a database. The repository package provides the real
// implementations.

type SubmissionStore interface {
	FindByID(id int64) (*domain.Submission, error)
	FindByReference(ref string) (*domain.Submission, error)
	Save(s *domain.Submission) (int64, error)
	MarkSubmitted(id int64, at time.Time) error
	FindBySubmitter(submitterID int64, limit int) (*[]domain.Submission, error)
}

type TaskStore interface {
	FindByID(id int64) (*domain.ApprovalTask, error)
	FindBySubmission(submissionID int64) (*[]domain.ApprovalTask, error)
	FindPendingByAssignee(assigneeID int64) (*[]domain.ApprovalTask, error)
}

type AuditStore interface {
	FindAllBySubmissionID(submissionID int64) (*[]domain.AuditEntry, error)
}

type DefinitionStore interface {
	FindAll() (*[]domain.WorkflowDefinition, error)
	FindByID(id int64) (*domain.WorkflowDefinition, error)
	Save(d *domain.WorkflowDefinition) error
}

type FormStore interface {
	FindBySlug(slug string) (*domain.FormDefinition, error)
	Save(f *domain.FormDefinition) (int64, error)
}

type ActionStore interface {
	Save(a *domain.PostSubmissionAction) (int64, error)
}

// Approver is the slice of the approval engine the HTTP layer drives.
type Approver interface {
	StartApproval(ctx context.Context, submissionID int64) error
	RecordDecision(ctx context.Context, taskID int64, actorID int64, decision string, comment string) error
	Withdraw(ctx context.Context, submissionID int64, actorID int64) error
}
