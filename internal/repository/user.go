package repository

import (
	"database/sql"
	"time"

	"github.com/formflowhq/formflow/internal/domain"
)

const userColumns = ` id, username, password, email, employee_id, manager_id,
		       session_id, api_key, session_expiry, created, enabled `

// UserRepository persists users and group membership. It also backs the
// engine's group-resolver capability: groups resolve to their enabled members
// and a user's organizational manager comes from the manager_id reference.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) scanUser(row *sql.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Password,
		&u.Email,
		&u.EmployeeID,
		&u.ManagerID,
		&u.SessionID,
		&u.ApiKey,
		&u.SessionExpiry,
		&u.Created,
		&u.Enabled,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) FindById(id int64) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ` + placeholder(1)
	return r.scanUser(r.db.QueryRow(query, id))
}

func (r *UserRepository) FindByUsername(username string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = ` + placeholder(1)
	return r.scanUser(r.db.QueryRow(query, username))
}

func (r *UserRepository) FindBySessionID(sessionID string, now time.Time) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users
		WHERE session_id = ` + placeholder(1) + ` AND session_expiry > ` + placeholder(2)
	return r.scanUser(r.db.QueryRow(query, sessionID, now))
}

func (r *UserRepository) FindByApiKey(apiKey string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE api_key = ` + placeholder(1) + ` AND enabled = ` + placeholder(2)
	return r.scanUser(r.db.QueryRow(query, apiKey, true))
}

func (r *UserRepository) Save(u *domain.User) (int64, error) {
	base := `INSERT INTO users (username, password, email, employee_id, manager_id, created, enabled)
		VALUES (` + placeholder(1) + `, ` + placeholder(2) + `, ` + placeholder(3) + `, ` + placeholder(4) + `, ` + placeholder(5) + `, ` + placeholder(6) + `, ` + placeholder(7) + `)`
	vals := []interface{}{u.Username, u.Password, u.Email, u.EmployeeID, u.ManagerID, time.Now(), u.Enabled}
	if supportsReturning() {
		err := r.db.QueryRow(base+" RETURNING id", vals...).Scan(&u.ID)
		return u.ID, err
	}
	res, err := r.db.Exec(base, vals...)
	if err != nil {
		return 0, err
	}
	u.ID, err = res.LastInsertId()
	return u.ID, err
}

func (r *UserRepository) UpdateSession(userID int64, sessionID string, expiry time.Time) error {
	query := `UPDATE users SET session_id = ` + placeholder(1) + `, session_expiry = ` + placeholder(2) + ` WHERE id = ` + placeholder(3)
	_, err := r.db.Exec(query, sessionID, expiry, userID)
	return err
}

func (r *UserRepository) ClearSessionBySessionID(sessionID string) error {
	query := `UPDATE users SET session_id = NULL, session_expiry = NULL WHERE session_id = ` + placeholder(1)
	_, err := r.db.Exec(query, sessionID)
	return err
}

// ResolveGroup returns the enabled members of a group ordered by username,
// which gives sequence stages a deterministic candidate order.
func (r *UserRepository) ResolveGroup(groupID int64) ([]domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users
		JOIN group_members gm ON gm.user_id = users.id
		WHERE gm.group_id = ` + placeholder(1) + ` AND users.enabled = ` + placeholder(2) + `
		ORDER BY users.username ASC`
	rows, err := r.db.Query(query, groupID, true)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(
			&u.ID,
			&u.Username,
			&u.Password,
			&u.Email,
			&u.EmployeeID,
			&u.ManagerID,
			&u.SessionID,
			&u.ApiKey,
			&u.SessionExpiry,
			&u.Created,
			&u.Enabled,
		); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ManagerOf returns the user's organizational manager, or nil when none is set.
func (r *UserRepository) ManagerOf(userID int64) (*domain.User, error) {
	u, err := r.FindById(userID)
	if err != nil {
		return nil, err
	}
	if !u.ManagerID.Valid {
		return nil, nil
	}
	mgr, err := r.FindById(u.ManagerID.Int64)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return mgr, err
}

func (r *UserRepository) FindGroupByID(id int64) (*domain.Group, error) {
	query := `SELECT id, name FROM groups WHERE id = ` + placeholder(1)
	var g domain.Group
	if err := r.db.QueryRow(query, id).Scan(&g.ID, &g.Name); err != nil {
		return nil, err
	}
	return &g, nil
}
