package domain

import (
	"database/sql"
	"time"
)

const (
	WorkflowModeFlat   = "flat"
	WorkflowModeStaged = "staged"
)

const (
	LogicAll      = "all"
	LogicAny      = "any"
	LogicSequence = "sequence"
)

// WorkflowDefinition is the approval routing configuration attached to a form.
// A definition is either flat (single approval_logic + groups) or staged; when
// stages are present they take precedence and the flat fields are ignored.
type WorkflowDefinition struct {
	ID                       int64         `json:"id"`
	FormID                   int64         `json:"formId"`
	Mode                     string        `json:"mode"` // flat | staged
	RequiresApproval         bool          `json:"requiresApproval"`
	ApprovalLogic            string        `json:"approvalLogic"` // flat mode only
	RequiresManagerApproval  bool          `json:"requiresManagerApproval"`
	ApprovalDeadlineDays     sql.NullInt32 `json:"approvalDeadlineDays"`
	Created                  time.Time     `json:"created"`
	Updated                  time.Time     `json:"updated"`
	FlatApprovalGroupIDs     []int64       `json:"flatApprovalGroupIds"`
	Stages                   []WorkflowStage `json:"stages"`
}

// WorkflowStage is one ordered approval unit. Order values are unique and
// strictly ascending within a definition; gaps are allowed.
type WorkflowStage struct {
	ID                      int64         `json:"id"`
	WorkflowID              int64         `json:"workflowId"`
	Name                    string        `json:"name"`
	Order                   int           `json:"order"`
	ApprovalLogic           string        `json:"approvalLogic"` // all | any | sequence
	RequiresManagerApproval bool          `json:"requiresManagerApproval"`
	EscalateAfterHours      sql.NullInt32 `json:"escalateAfterHours"`
	EscalationGroupID       sql.NullInt64 `json:"escalationGroupId"`
	// ApprovalGroupIDs keeps group declaration order; sequence logic walks
	// candidates in this order.
	ApprovalGroupIDs []int64 `json:"approvalGroupIds"`
}
