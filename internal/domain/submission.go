package domain

import (
	"database/sql"
	"encoding/json"
	"time"
)

const (
	SubmissionDraft     = "draft"
	SubmissionSubmitted = "submitted"
	SubmissionInReview  = "in_review"
	SubmissionApproved  = "approved"
	SubmissionRejected  = "rejected"
	SubmissionWithdrawn = "withdrawn"
)

// Submission is one filled-in form routed through approval. FieldData is the
// raw JSON map the condition evaluator and action handlers read.
type Submission struct {
	ID          int64          `json:"id"`
	FormID      int64          `json:"formId"`
	SubmitterID int64          `json:"submitterId"`
	Reference   string         `json:"reference"` // uuid, external correlation key
	Status      string         `json:"status"`
	FieldData   sql.NullString `json:"-"` // JSON object as stored
	Created     time.Time      `json:"created"`
	SubmittedAt sql.NullTime   `json:"submittedAt"`
	CompletedAt sql.NullTime   `json:"completedAt"`
}

// Fields decodes FieldData into a map. A missing or malformed payload yields
// an empty map so condition checks degrade to false rather than crash.
func (s *Submission) Fields() map[string]any {
	out := map[string]any{}
	if s.FieldData.Valid && s.FieldData.String != "" {
		_ = json.Unmarshal([]byte(s.FieldData.String), &out)
	}
	return out
}

// IsTerminal reports whether the submission can no longer change status.
func (s *Submission) IsTerminal() bool {
	return s.Status == SubmissionApproved || s.Status == SubmissionRejected || s.Status == SubmissionWithdrawn
}
