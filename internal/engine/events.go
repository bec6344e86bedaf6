package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	EventSubmissionSubmitted = "SubmissionSubmitted"
	EventTaskCreated         = "TaskCreated"
	EventDecisionRecorded    = "DecisionRecorded"
	EventStageAdvanced       = "StageAdvanced"
	EventSubmissionApproved  = "SubmissionApproved"
	EventSubmissionRejected  = "SubmissionRejected"
	EventSubmissionWithdrawn = "SubmissionWithdrawn"
	EventActionExecuted      = "ActionExecuted"
)

// Event is one lifecycle occurrence, published on every state transition.
type Event struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	SubmissionID int64     `json:"submissionId"`
	TaskID       int64     `json:"taskId,omitempty"`
	StageNumber  int       `json:"stageNumber,omitempty"`
	ActorID      int64     `json:"actorId,omitempty"`
	Detail       string    `json:"detail,omitempty"`
	DateTime     time.Time `json:"dateTime"`
}

// Publisher receives lifecycle events. Implementations must not block the
// transition that produced the event.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// NewEvent stamps an event with a fresh ID and timestamp.
func NewEvent(eventType string, submissionID int64, at time.Time) Event {
	return Event{
		ID:           uuid.NewString(),
		Type:         eventType,
		SubmissionID: submissionID,
		DateTime:     at,
	}
}

// LogPublisher writes events to the structured log. It is the default sink
// when no external event transport is wired in.
type LogPublisher struct{}

func (LogPublisher) Publish(ctx context.Context, ev Event) {
	slog.InfoContext(ctx, "Lifecycle event",
		"event_id", ev.ID,
		"type", ev.Type,
		"submission_id", ev.SubmissionID,
		"task_id", ev.TaskID,
		"stage_number", ev.StageNumber,
		"actor_id", ev.ActorID,
	)
}
