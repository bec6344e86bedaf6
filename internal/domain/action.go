package domain

import (
	"database/sql"
	"encoding/json"
	"time"
)

const (
	ActionTypeDatabase  = "database"
	ActionTypeDirectory = "directory"
	ActionTypeHTTP      = "http"
	ActionTypeCustom    = "custom"
)

const (
	TriggerOnSubmit   = "on_submit"
	TriggerOnApprove  = "on_approve"
	TriggerOnReject   = "on_reject"
	TriggerOnComplete = "on_complete"
)

// PostSubmissionAction is an administrator-authored side effect configuration.
// It is read-only at execution time; outcomes are recorded as ActionResults.
type PostSubmissionAction struct {
	ID           int64          `json:"id"`
	FormID       int64          `json:"formId"`
	Name         string         `json:"name"`
	ActionType   string         `json:"actionType"` // database | directory | http | custom
	Trigger      string         `json:"trigger"`
	ExecOrder    int            `json:"execOrder"`
	Active       bool           `json:"active"`
	Condition    sql.NullString `json:"-"` // JSON condition expression, optional
	FailSilently bool           `json:"failSilently"`
	Retry        bool           `json:"retry"`
	MaxRetries   int            `json:"maxRetries"`
	Config       sql.NullString `json:"-"` // JSON, type-specific handler config
	Created      time.Time      `json:"created"`
	Updated      time.Time      `json:"updated"`
}

// DecodeConfig unmarshals the type-specific handler configuration into dst.
func (a *PostSubmissionAction) DecodeConfig(dst any) error {
	if !a.Config.Valid || a.Config.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(a.Config.String), dst)
}

// ActionResult is the normalized outcome of one handler invocation batch
// (including retries). RetryCount is Attempts-1 for a successful action.
type ActionResult struct {
	ActionID   int64     `json:"actionId"`
	ActionName string    `json:"actionName"`
	ActionType string    `json:"actionType"`
	Success    bool      `json:"success"`
	Skipped    bool      `json:"skipped"`
	Message    string    `json:"message"`
	Attempts   int       `json:"attempts"`
	RetryCount int       `json:"retryCount"`
	DateTime   time.Time `json:"dateTime"`
}

// DatabaseActionConfig drives the database handler.
type DatabaseActionConfig struct {
	Alias             string            `json:"alias"`
	Schema            string            `json:"schema"`
	Table             string            `json:"table"`
	LookupColumn      string            `json:"lookupColumn"`
	LookupValueSource string            `json:"lookupValueSource"` // form field or submitter attribute
	ColumnMapping     map[string]string `json:"columnMapping"`     // form field -> db column
}

// DirectoryActionConfig drives the LDAP handler.
type DirectoryActionConfig struct {
	DNTemplate       string            `json:"dnTemplate"`
	AttributeMapping map[string]string `json:"attributeMapping"` // form field -> ldap attribute
}

// HTTPActionConfig drives the HTTP handler.
type HTTPActionConfig struct {
	URL            string            `json:"url"`
	Method         string            `json:"method"`
	HeaderTemplate map[string]string `json:"headerTemplate"`
	BodyTemplate   string            `json:"bodyTemplate"`
}

// CustomActionConfig names a registered custom handler.
type CustomActionConfig struct {
	Identifier string          `json:"identifier"`
	Config     json.RawMessage `json:"config"`
}
