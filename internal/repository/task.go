package repository

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/formflowhq/formflow/internal/domain"
)

const taskColumns = ` id, submission_id, stage_id, stage_number, stage_logic, step_name,
		       assignee_id, group_id, status, decision, comment, created,
		       due_date, completed_at, completed_by `

type TaskRepository struct {
	db *sql.DB
}

func NewTaskRepository(db *sql.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func scanTask(scan func(dest ...any) error) (*domain.ApprovalTask, error) {
	var t domain.ApprovalTask
	err := scan(
		&t.ID,
		&t.SubmissionID,
		&t.StageID,
		&t.StageNumber,
		&t.StageLogic,
		&t.StepName,
		&t.AssigneeID,
		&t.GroupID,
		&t.Status,
		&t.Decision,
		&t.Comment,
		&t.Created,
		&t.DueDate,
		&t.CompletedAt,
		&t.CompletedBy,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TaskRepository) FindByID(id int64) (*domain.ApprovalTask, error) {
	query := `SELECT ` + taskColumns + ` FROM approval_tasks WHERE id = ` + placeholder(1)
	return scanTask(r.db.QueryRow(query, id).Scan)
}

// CreateBatch inserts all tasks for a stage entry atomically: either every
// candidate gets a task or none do, so a stage never starts with a partial
// approver set.
func (r *TaskRepository) CreateBatch(tasks []domain.ApprovalTask) ([]domain.ApprovalTask, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return nil, err
	}

	base := `INSERT INTO approval_tasks (
		submission_id, stage_id, stage_number, stage_logic, step_name,
		assignee_id, group_id, status, created, due_date
	) VALUES (` + placeholder(1) + `, ` + placeholder(2) + `, ` + placeholder(3) + `, ` + placeholder(4) + `, ` + placeholder(5) + `, ` + placeholder(6) + `, ` + placeholder(7) + `, ` + placeholder(8) + `, ` + placeholder(9) + `, ` + placeholder(10) + `)`

	created := make([]domain.ApprovalTask, 0, len(tasks))
	for _, t := range tasks {
		vals := []interface{}{t.SubmissionID, t.StageID, t.StageNumber, t.StageLogic, t.StepName,
			t.AssigneeID, t.GroupID, t.Status, t.Created, t.DueDate}
		if supportsReturning() {
			if err := tx.QueryRow(base+" RETURNING id", vals...).Scan(&t.ID); err != nil {
				tx.Rollback()
				return nil, err
			}
		} else {
			res, err := tx.Exec(base, vals...)
			if err != nil {
				tx.Rollback()
				return nil, err
			}
			if t.ID, err = res.LastInsertId(); err != nil {
				tx.Rollback()
				return nil, err
			}
		}
		created = append(created, t)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return created, nil
}

// CompareAndSetDecision records a decision only when the task is still
// pending. Concurrent approvers race on the same UPDATE and exactly one wins;
// the loser sees false and no rows changed.
func (r *TaskRepository) CompareAndSetDecision(id int64, status string, decision string, comment string, actorID int64, at time.Time) (bool, error) {
	query := `UPDATE approval_tasks
		SET status = ` + placeholder(1) + `, decision = ` + placeholder(2) + `, comment = ` + placeholder(3) + `,
		    completed_by = ` + placeholder(4) + `, completed_at = ` + placeholder(5) + `
		WHERE id = ` + placeholder(6) + ` AND status = ` + placeholder(7)
	res, err := r.db.Exec(query, status, decision, comment, actorID, at, id, domain.TaskPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CompareAndSetStatus moves a task between states without recording a
// decision (escalation and expiry paths).
func (r *TaskRepository) CompareAndSetStatus(id int64, from string, to string, at time.Time) (bool, error) {
	query := `UPDATE approval_tasks SET status = ` + placeholder(1) + `, completed_at = ` + placeholder(2) + `
		WHERE id = ` + placeholder(3) + ` AND status = ` + placeholder(4)
	res, err := r.db.Exec(query, to, at, id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// FindByStage returns every task created for a (submission, stage-number)
// scope ordered by creation. Stage satisfaction is always evaluated over
// this full sibling set.
func (r *TaskRepository) FindByStage(submissionID int64, stageNumber int) (*[]domain.ApprovalTask, error) {
	query := `SELECT ` + taskColumns + ` FROM approval_tasks
		WHERE submission_id = ` + placeholder(1) + ` AND stage_number = ` + placeholder(2) + `
		ORDER BY id ASC`
	return r.queryTasks(query, submissionID, stageNumber)
}

func (r *TaskRepository) FindBySubmission(submissionID int64) (*[]domain.ApprovalTask, error) {
	query := `SELECT ` + taskColumns + ` FROM approval_tasks
		WHERE submission_id = ` + placeholder(1) + ` ORDER BY id ASC`
	return r.queryTasks(query, submissionID)
}

func (r *TaskRepository) FindPendingByAssignee(assigneeID int64) (*[]domain.ApprovalTask, error) {
	query := `SELECT ` + taskColumns + ` FROM approval_tasks
		WHERE assignee_id = ` + placeholder(1) + ` AND status = ` + placeholder(2) + `
		ORDER BY id ASC`
	return r.queryTasks(query, assigneeID, domain.TaskPending)
}

// MarkSiblingsSuperseded closes the other pending tasks in a stage after an
// any-logic approval, keeping their assignees out of further notifications.
func (r *TaskRepository) MarkSiblingsSuperseded(submissionID int64, stageNumber int, winnerTaskID int64, at time.Time) error {
	query := `UPDATE approval_tasks SET status = ` + placeholder(1) + `, completed_at = ` + placeholder(2) + `
		WHERE submission_id = ` + placeholder(3) + ` AND stage_number = ` + placeholder(4) + `
		  AND status = ` + placeholder(5) + ` AND id != ` + placeholder(6)
	_, err := r.db.Exec(query, domain.TaskSuperseded, at, submissionID, stageNumber, domain.TaskPending, winnerTaskID)
	if err != nil {
		slog.Error("Failed to supersede sibling tasks", "submission_id", submissionID, "error", err)
	}
	return err
}

// FindOverduePending returns pending tasks created before the cutoff. The
// escalation sweep joins against stage configuration itself.
func (r *TaskRepository) FindOverduePending(limit int) (*[]domain.ApprovalTask, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + taskColumns + ` FROM approval_tasks
		WHERE status = ` + placeholder(1) + ` ORDER BY created ASC`
	tasks, err := r.queryTasks(query, domain.TaskPending)
	if err != nil {
		return nil, err
	}
	if tasks != nil && len(*tasks) > limit {
		trimmed := (*tasks)[:limit]
		return &trimmed, nil
	}
	return tasks, nil
}

func (r *TaskRepository) queryTasks(query string, args ...interface{}) (*[]domain.ApprovalTask, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.ApprovalTask
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return &tasks, rows.Err()
}
