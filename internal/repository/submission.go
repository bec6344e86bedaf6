package repository

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/formflowhq/formflow/internal/domain"
)

const submissionColumns = ` id, form_id, submitter_id, reference, status, field_data,
		       created, submitted_at, completed_at `

type SubmissionRepository struct {
	db *sql.DB
}

func NewSubmissionRepository(db *sql.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

func scanSubmission(scan func(dest ...any) error) (*domain.Submission, error) {
	var s domain.Submission
	err := scan(
		&s.ID,
		&s.FormID,
		&s.SubmitterID,
		&s.Reference,
		&s.Status,
		&s.FieldData,
		&s.Created,
		&s.SubmittedAt,
		&s.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SubmissionRepository) FindByID(id int64) (*domain.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE id = ` + placeholder(1)
	return scanSubmission(r.db.QueryRow(query, id).Scan)
}

func (r *SubmissionRepository) FindByReference(ref string) (*domain.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE reference = ` + placeholder(1)
	return scanSubmission(r.db.QueryRow(query, ref).Scan)
}

func (r *SubmissionRepository) Save(s *domain.Submission) (int64, error) {
	base := `INSERT INTO submissions (
		form_id, submitter_id, reference, status, field_data, created, submitted_at, completed_at
	) VALUES (` + placeholder(1) + `, ` + placeholder(2) + `, ` + placeholder(3) + `, ` + placeholder(4) + `, ` + placeholder(5) + `, ` + placeholder(6) + `, ` + placeholder(7) + `, ` + placeholder(8) + `)`
	vals := []interface{}{s.FormID, s.SubmitterID, s.Reference, s.Status, s.FieldData, s.Created, s.SubmittedAt, s.CompletedAt}
	var err error
	if supportsReturning() {
		err = r.db.QueryRow(base+" RETURNING id", vals...).Scan(&s.ID)
	} else {
		res, e := r.db.Exec(base, vals...)
		if e != nil {
			err = e
		} else {
			s.ID, err = res.LastInsertId()
		}
	}
	if err != nil {
		slog.Error("Failed to save submission", "error", err)
	}
	return s.ID, err
}

// UpdateStatus moves a submission between non-terminal states. The WHERE
// clause refuses to touch terminal rows so finalized submissions stay final.
func (r *SubmissionRepository) UpdateStatus(id int64, from []string, to string) error {
	if len(from) == 0 {
		return fmt.Errorf("no source statuses supplied")
	}
	query := `UPDATE submissions SET status = ` + placeholder(1) + ` WHERE id = ` + placeholder(2) + ` AND status IN (`
	vals := []interface{}{to, id}
	for i, st := range from {
		if i > 0 {
			query += ", "
		}
		query += placeholder(3 + i)
		vals = append(vals, st)
	}
	query += ")"
	res, err := r.db.Exec(query, vals...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("submission %d is not in any of %v", id, from)
	}
	return nil
}

func (r *SubmissionRepository) MarkSubmitted(id int64, at time.Time) error {
	query := `UPDATE submissions SET status = ` + placeholder(1) + `, submitted_at = ` + placeholder(2) + `
		WHERE id = ` + placeholder(3) + ` AND status = ` + placeholder(4)
	res, err := r.db.Exec(query, domain.SubmissionSubmitted, at, id, domain.SubmissionDraft)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("submission %d is not a draft", id)
	}
	return nil
}

// FinalizeAndCancelPending sets a terminal status and closes the remaining
// pending tasks in one transaction so an approver can never act on a task
// belonging to a finalized submission.
func (r *SubmissionRepository) FinalizeAndCancelPending(id int64, status string, taskStatus string, at time.Time) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}

	subQuery := `UPDATE submissions SET status = ` + placeholder(1) + `, completed_at = ` + placeholder(2) + `
		WHERE id = ` + placeholder(3) + ` AND status IN (` + placeholder(4) + `, ` + placeholder(5) + `)`
	res, err := tx.Exec(subQuery, status, at, id, domain.SubmissionSubmitted, domain.SubmissionInReview)
	if err != nil {
		tx.Rollback()
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return err
	}
	if n == 0 {
		tx.Rollback()
		return fmt.Errorf("submission %d is not open for finalization", id)
	}

	taskQuery := `UPDATE approval_tasks SET status = ` + placeholder(1) + `, completed_at = ` + placeholder(2) + `
		WHERE submission_id = ` + placeholder(3) + ` AND status = ` + placeholder(4)
	if _, err := tx.Exec(taskQuery, taskStatus, at, id, domain.TaskPending); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

func (r *SubmissionRepository) FindBySubmitter(submitterID int64, limit int) (*[]domain.Submission, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + submissionColumns + ` FROM submissions
		WHERE submitter_id = ` + placeholder(1) + ` ORDER BY id DESC LIMIT ` + fmt.Sprint(limit)
	rows, err := r.db.Query(query, submitterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []domain.Submission
	for rows.Next() {
		s, err := scanSubmission(rows.Scan)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *s)
	}
	return &subs, rows.Err()
}
