package repository

import (
	"database/sql"

	"github.com/formflowhq/formflow/internal/domain"
)

const actionColumns = ` id, form_id, name, action_type, trigger_on, exec_order, active,
		       condition_expr, fail_silently, retry_on_failure, max_retries,
		       config, created, updated `

type ActionRepository struct {
	db *sql.DB
}

func NewActionRepository(db *sql.DB) *ActionRepository {
	return &ActionRepository{db: db}
}

// FindActiveByFormAndTrigger returns the actions to run for one lifecycle
// trigger, ordered by (exec_order, name) for deterministic execution.
func (r *ActionRepository) FindActiveByFormAndTrigger(formID int64, trigger string) (*[]domain.PostSubmissionAction, error) {
	query := `SELECT ` + actionColumns + ` FROM post_submission_actions
		WHERE form_id = ` + placeholder(1) + ` AND trigger_on = ` + placeholder(2) + ` AND active = ` + placeholder(3) + `
		ORDER BY exec_order ASC, name ASC`
	rows, err := r.db.Query(query, formID, trigger, true)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []domain.PostSubmissionAction
	for rows.Next() {
		var a domain.PostSubmissionAction
		if err := rows.Scan(
			&a.ID,
			&a.FormID,
			&a.Name,
			&a.ActionType,
			&a.Trigger,
			&a.ExecOrder,
			&a.Active,
			&a.Condition,
			&a.FailSilently,
			&a.Retry,
			&a.MaxRetries,
			&a.Config,
			&a.Created,
			&a.Updated,
		); err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return &actions, rows.Err()
}

func (r *ActionRepository) Save(a *domain.PostSubmissionAction) (int64, error) {
	base := `INSERT INTO post_submission_actions (
		form_id, name, action_type, trigger_on, exec_order, active,
		condition_expr, fail_silently, retry_on_failure, max_retries, config, created, updated
	) VALUES (` + placeholder(1) + `, ` + placeholder(2) + `, ` + placeholder(3) + `, ` + placeholder(4) + `, ` + placeholder(5) + `, ` + placeholder(6) + `, ` + placeholder(7) + `, ` + placeholder(8) + `, ` + placeholder(9) + `, ` + placeholder(10) + `, ` + placeholder(11) + `, ` + placeholder(12) + `, ` + placeholder(13) + `)`
	vals := []interface{}{a.FormID, a.Name, a.ActionType, a.Trigger, a.ExecOrder, a.Active,
		a.Condition, a.FailSilently, a.Retry, a.MaxRetries, a.Config, a.Created, a.Updated}
	if supportsReturning() {
		err := r.db.QueryRow(base+" RETURNING id", vals...).Scan(&a.ID)
		return a.ID, err
	}
	res, err := r.db.Exec(base, vals...)
	if err != nil {
		return 0, err
	}
	a.ID, err = res.LastInsertId()
	return a.ID, err
}
