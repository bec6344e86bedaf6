package engine

import (
	"errors"
	"fmt"
)

// ErrTaskNotPending is returned when a decision arrives for a task that has
// already been decided or otherwise closed. Double submissions resolve to
// this benign error, never to a second recorded decision.
var ErrTaskNotPending = errors.New("task is no longer pending")

// ErrNoEligibleApprovers means a stage resolved to an empty candidate set.
// The submission is left in review for manual intervention.
var ErrNoEligibleApprovers = errors.New("no eligible approvers for stage")

// ErrNotSubmitter guards withdrawal: only the submitter may withdraw.
var ErrNotSubmitter = errors.New("only the submitter may withdraw a submission")

// ErrSubmissionNotOpen is returned when a transition is requested on a
// submission outside the states that allow it.
var ErrSubmissionNotOpen = errors.New("submission is not open for this transition")

// StageConfigurationError is raised at definition-save time for duplicate or
// invalid stage ordering so it can never surface during routing.
type StageConfigurationError struct {
	Detail string
}

func (e *StageConfigurationError) Error() string {
	return fmt.Sprintf("invalid workflow stage configuration: %s", e.Detail)
}
