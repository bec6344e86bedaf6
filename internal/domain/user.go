package domain

import (
	"database/sql"
)

type User struct {
	ID            int64          `json:"id"`
	Username      string         `json:"username"`
	Password      string         `json:"-"`
	Email         sql.NullString `json:"email"`
	EmployeeID    sql.NullString `json:"employeeId"`
	ManagerID     sql.NullInt64  `json:"managerId"`
	SessionID     sql.NullString `json:"-"`
	ApiKey        sql.NullString `json:"-"`
	SessionExpiry sql.NullTime   `json:"-"`
	Created       sql.NullTime   `json:"created"`
	Enabled       sql.NullBool   `json:"enabled"`
}

type Group struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}
