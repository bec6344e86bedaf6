package repository

import (
	"database/sql"
	"time"

	"github.com/formflowhq/formflow/internal/domain"
)

type WorkflowDefinitionRepository struct {
	db *sql.DB
}

func NewWorkflowDefinitionRepository(db *sql.DB) *WorkflowDefinitionRepository {
	return &WorkflowDefinitionRepository{db: db}
}

const definitionColumns = ` id, form_id, mode, requires_approval, approval_logic,
		       requires_manager_approval, approval_deadline_days, created, updated `

func (r *WorkflowDefinitionRepository) FindByFormID(formID int64) (*domain.WorkflowDefinition, error) {
	query := `SELECT ` + definitionColumns + ` FROM workflow_definitions WHERE form_id = ` + placeholder(1)
	return r.loadDefinition(r.db.QueryRow(query, formID))
}

func (r *WorkflowDefinitionRepository) FindByID(id int64) (*domain.WorkflowDefinition, error) {
	query := `SELECT ` + definitionColumns + ` FROM workflow_definitions WHERE id = ` + placeholder(1)
	return r.loadDefinition(r.db.QueryRow(query, id))
}

func (r *WorkflowDefinitionRepository) loadDefinition(row *sql.Row) (*domain.WorkflowDefinition, error) {
	var d domain.WorkflowDefinition
	err := row.Scan(
		&d.ID,
		&d.FormID,
		&d.Mode,
		&d.RequiresApproval,
		&d.ApprovalLogic,
		&d.RequiresManagerApproval,
		&d.ApprovalDeadlineDays,
		&d.Created,
		&d.Updated,
	)
	if err != nil {
		return nil, err
	}
	if d.Stages, err = r.findStages(d.ID); err != nil {
		return nil, err
	}
	if d.FlatApprovalGroupIDs, err = r.findFlatGroups(d.ID); err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *WorkflowDefinitionRepository) findStages(workflowID int64) ([]domain.WorkflowStage, error) {
	query := `SELECT id, workflow_id, name, stage_order, approval_logic,
			 requires_manager_approval, escalate_after_hours, escalation_group_id
		FROM workflow_stages WHERE workflow_id = ` + placeholder(1) + `
		ORDER BY stage_order ASC`
	rows, err := r.db.Query(query, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stages []domain.WorkflowStage
	for rows.Next() {
		var s domain.WorkflowStage
		if err := rows.Scan(
			&s.ID,
			&s.WorkflowID,
			&s.Name,
			&s.Order,
			&s.ApprovalLogic,
			&s.RequiresManagerApproval,
			&s.EscalateAfterHours,
			&s.EscalationGroupID,
		); err != nil {
			return nil, err
		}
		stages = append(stages, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range stages {
		groups, err := r.findStageGroups(stages[i].ID)
		if err != nil {
			return nil, err
		}
		stages[i].ApprovalGroupIDs = groups
	}
	return stages, nil
}

// findStageGroups preserves declaration order (position column), which drives
// sequence-logic candidate ordering.
func (r *WorkflowDefinitionRepository) findStageGroups(stageID int64) ([]int64, error) {
	query := `SELECT group_id FROM stage_approval_groups
		WHERE stage_id = ` + placeholder(1) + ` ORDER BY position ASC`
	return r.queryIDs(query, stageID)
}

func (r *WorkflowDefinitionRepository) findFlatGroups(workflowID int64) ([]int64, error) {
	query := `SELECT group_id FROM workflow_approval_groups
		WHERE workflow_id = ` + placeholder(1) + ` ORDER BY position ASC`
	return r.queryIDs(query, workflowID)
}

func (r *WorkflowDefinitionRepository) queryIDs(query string, args ...interface{}) ([]int64, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Save replaces the definition, its stages and group bindings in one
// transaction. Callers validate stage ordering before saving.
func (r *WorkflowDefinitionRepository) Save(d *domain.WorkflowDefinition) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}

	now := time.Now()
	if d.ID == 0 {
		base := `INSERT INTO workflow_definitions (
			form_id, mode, requires_approval, approval_logic,
			requires_manager_approval, approval_deadline_days, created, updated
		) VALUES (` + placeholder(1) + `, ` + placeholder(2) + `, ` + placeholder(3) + `, ` + placeholder(4) + `, ` + placeholder(5) + `, ` + placeholder(6) + `, ` + placeholder(7) + `, ` + placeholder(8) + `)`
		vals := []interface{}{d.FormID, d.Mode, d.RequiresApproval, d.ApprovalLogic,
			d.RequiresManagerApproval, d.ApprovalDeadlineDays, now, now}
		if supportsReturning() {
			if err := tx.QueryRow(base+" RETURNING id", vals...).Scan(&d.ID); err != nil {
				tx.Rollback()
				return err
			}
		} else {
			res, err := tx.Exec(base, vals...)
			if err != nil {
				tx.Rollback()
				return err
			}
			if d.ID, err = res.LastInsertId(); err != nil {
				tx.Rollback()
				return err
			}
		}
	} else {
		query := `UPDATE workflow_definitions SET mode = ` + placeholder(1) + `, requires_approval = ` + placeholder(2) + `,
			approval_logic = ` + placeholder(3) + `, requires_manager_approval = ` + placeholder(4) + `,
			approval_deadline_days = ` + placeholder(5) + `, updated = ` + placeholder(6) + `
			WHERE id = ` + placeholder(7)
		if _, err := tx.Exec(query, d.Mode, d.RequiresApproval, d.ApprovalLogic,
			d.RequiresManagerApproval, d.ApprovalDeadlineDays, now, d.ID); err != nil {
			tx.Rollback()
			return err
		}
		for _, table := range []string{"stage_approval_groups", "workflow_stages", "workflow_approval_groups"} {
			var del string
			if table == "stage_approval_groups" {
				del = `DELETE FROM stage_approval_groups WHERE stage_id IN
					(SELECT id FROM workflow_stages WHERE workflow_id = ` + placeholder(1) + `)`
			} else {
				del = `DELETE FROM ` + table + ` WHERE workflow_id = ` + placeholder(1)
			}
			if _, err := tx.Exec(del, d.ID); err != nil {
				tx.Rollback()
				return err
			}
		}
	}

	for i, gid := range d.FlatApprovalGroupIDs {
		query := `INSERT INTO workflow_approval_groups (workflow_id, group_id, position)
			VALUES (` + placeholder(1) + `, ` + placeholder(2) + `, ` + placeholder(3) + `)`
		if _, err := tx.Exec(query, d.ID, gid, i); err != nil {
			tx.Rollback()
			return err
		}
	}

	for si := range d.Stages {
		s := &d.Stages[si]
		s.WorkflowID = d.ID
		base := `INSERT INTO workflow_stages (
			workflow_id, name, stage_order, approval_logic,
			requires_manager_approval, escalate_after_hours, escalation_group_id
		) VALUES (` + placeholder(1) + `, ` + placeholder(2) + `, ` + placeholder(3) + `, ` + placeholder(4) + `, ` + placeholder(5) + `, ` + placeholder(6) + `, ` + placeholder(7) + `)`
		vals := []interface{}{s.WorkflowID, s.Name, s.Order, s.ApprovalLogic,
			s.RequiresManagerApproval, s.EscalateAfterHours, s.EscalationGroupID}
		if supportsReturning() {
			if err := tx.QueryRow(base+" RETURNING id", vals...).Scan(&s.ID); err != nil {
				tx.Rollback()
				return err
			}
		} else {
			res, err := tx.Exec(base, vals...)
			if err != nil {
				tx.Rollback()
				return err
			}
			if s.ID, err = res.LastInsertId(); err != nil {
				tx.Rollback()
				return err
			}
		}
		for gi, gid := range s.ApprovalGroupIDs {
			query := `INSERT INTO stage_approval_groups (stage_id, group_id, position)
				VALUES (` + placeholder(1) + `, ` + placeholder(2) + `, ` + placeholder(3) + `)`
			if _, err := tx.Exec(query, s.ID, gid, gi); err != nil {
				tx.Rollback()
				return err
			}
		}
	}

	return tx.Commit()
}

func (r *WorkflowDefinitionRepository) FindAll() (*[]domain.WorkflowDefinition, error) {
	rows, err := r.db.Query(`SELECT id FROM workflow_definitions ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var defs []domain.WorkflowDefinition
	for _, id := range ids {
		d, err := r.FindByID(id)
		if err != nil {
			return nil, err
		}
		defs = append(defs, *d)
	}
	return &defs, nil
}
