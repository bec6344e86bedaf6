package repository

import (
	"database/sql"
	"time"

	"github.com/formflowhq/formflow/internal/domain"
)

type FormRepository struct {
	db *sql.DB
}

func NewFormRepository(db *sql.DB) *FormRepository {
	return &FormRepository{db: db}
}

func (r *FormRepository) FindByID(id int64) (*domain.FormDefinition, error) {
	query := `SELECT id, name, slug, active, created FROM form_definitions WHERE id = ` + placeholder(1)
	var f domain.FormDefinition
	err := r.db.QueryRow(query, id).Scan(&f.ID, &f.Name, &f.Slug, &f.Active, &f.Created)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *FormRepository) FindBySlug(slug string) (*domain.FormDefinition, error) {
	query := `SELECT id, name, slug, active, created FROM form_definitions WHERE slug = ` + placeholder(1)
	var f domain.FormDefinition
	err := r.db.QueryRow(query, slug).Scan(&f.ID, &f.Name, &f.Slug, &f.Active, &f.Created)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *FormRepository) Save(f *domain.FormDefinition) (int64, error) {
	base := `INSERT INTO form_definitions (name, slug, active, created)
		VALUES (` + placeholder(1) + `, ` + placeholder(2) + `, ` + placeholder(3) + `, ` + placeholder(4) + `)`
	vals := []interface{}{f.Name, f.Slug, f.Active, time.Now()}
	if supportsReturning() {
		err := r.db.QueryRow(base+" RETURNING id", vals...).Scan(&f.ID)
		return f.ID, err
	}
	res, err := r.db.Exec(base, vals...)
	if err != nil {
		return 0, err
	}
	f.ID, err = res.LastInsertId()
	return f.ID, err
}
