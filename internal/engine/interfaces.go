package engine

import (
	"context"
	"time"

	"github.com/formflowhq/formflow/internal/domain"
)

// SubmissionRepo defines the interface for submission persistence, matching
// repository.SubmissionRepository.
type SubmissionRepo interface {
	FindByID(id int64) (*domain.Submission, error)
	FindByReference(ref string) (*domain.Submission, error)
	Save(s *domain.Submission) (int64, error)
	MarkSubmitted(id int64, at time.Time) error
	UpdateStatus(id int64, from []string, to string) error
	FinalizeAndCancelPending(id int64, status string, taskStatus string, at time.Time) error
}

// TaskRepo defines the interface for approval task persistence.
type TaskRepo interface {
	FindByID(id int64) (*domain.ApprovalTask, error)
	CreateBatch(tasks []domain.ApprovalTask) ([]domain.ApprovalTask, error)
	CompareAndSetDecision(id int64, status string, decision string, comment string, actorID int64, at time.Time) (bool, error)
	CompareAndSetStatus(id int64, from string, to string, at time.Time) (bool, error)
	FindByStage(submissionID int64, stageNumber int) (*[]domain.ApprovalTask, error)
	FindBySubmission(submissionID int64) (*[]domain.ApprovalTask, error)
	FindPendingByAssignee(assigneeID int64) (*[]domain.ApprovalTask, error)
	MarkSiblingsSuperseded(submissionID int64, stageNumber int, winnerTaskID int64, at time.Time) error
	FindOverduePending(limit int) (*[]domain.ApprovalTask, error)
}

// DefinitionRepo defines the interface for workflow definition persistence.
type DefinitionRepo interface {
	FindByFormID(formID int64) (*domain.WorkflowDefinition, error)
}

// AuditRepo is the append-only audit sink.
type AuditRepo interface {
	Save(e *domain.AuditEntry) (int64, error)
}

// GroupResolver resolves approver groups and organizational managers to
// concrete identities, keeping directory specifics out of the engine.
type GroupResolver interface {
	ResolveGroup(groupID int64) ([]domain.User, error)
	ManagerOf(userID int64) (*domain.User, error)
}

// Notifier is a fire-and-forget message sink; failures are logged by the
// implementation, never surfaced into the approval flow.
type Notifier interface {
	SubmissionReceived(ctx context.Context, sub *domain.Submission)
	TaskCreated(ctx context.Context, task *domain.ApprovalTask, sub *domain.Submission)
	TaskEscalated(ctx context.Context, task *domain.ApprovalTask, sub *domain.Submission)
	SubmissionApproved(ctx context.Context, sub *domain.Submission)
	SubmissionRejected(ctx context.Context, sub *domain.Submission)
}

// ActionRunner executes the post-submission actions configured for a
// lifecycle trigger. A non-nil error means a non-silent action exhausted its
// retries and the triggering transition must not proceed.
type ActionRunner interface {
	Execute(ctx context.Context, sub *domain.Submission, trigger string) ([]domain.ActionResult, error)
}
