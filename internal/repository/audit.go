package repository

import (
	"database/sql"
	"log/slog"

	"github.com/formflowhq/formflow/internal/domain"
)

// AuditRepository appends to and reads the submission audit trail. Rows are
// never updated or deleted.
type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Save(e *domain.AuditEntry) (int64, error) {
	base := `INSERT INTO audit_log (
		submission_id, task_id, actor_id, action, detail, date_time
	) VALUES (` + placeholder(1) + `, ` + placeholder(2) + `, ` + placeholder(3) + `, ` + placeholder(4) + `, ` + placeholder(5) + `, ` + placeholder(6) + `)`
	vals := []interface{}{e.SubmissionID, e.TaskID, e.ActorID, e.Action, e.Detail, e.DateTime}
	var err error
	if supportsReturning() {
		err = r.db.QueryRow(base+" RETURNING id", vals...).Scan(&e.ID)
	} else {
		res, e2 := r.db.Exec(base, vals...)
		if e2 != nil {
			err = e2
		} else {
			e.ID, err = res.LastInsertId()
		}
	}
	if err != nil {
		slog.Error("Failed to save audit entry", "error", err)
	}
	return e.ID, err
}

func (r *AuditRepository) FindAllBySubmissionID(submissionID int64) (*[]domain.AuditEntry, error) {
	query := `SELECT id, submission_id, task_id, actor_id, action, detail, date_time
		FROM audit_log WHERE submission_id = ` + placeholder(1) + `
		ORDER BY id DESC`
	rows, err := r.db.Query(query, submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(
			&e.ID,
			&e.SubmissionID,
			&e.TaskID,
			&e.ActorID,
			&e.Action,
			&e.Detail,
			&e.DateTime,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return &entries, rows.Err()
}
