package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/formflowhq/formflow/internal/domain"
)

// LogNotifier writes every notification to the structured log. It is the
// default sink when no webhook is configured.
type LogNotifier struct{}

func (LogNotifier) SubmissionReceived(ctx context.Context, sub *domain.Submission) {
	slog.InfoContext(ctx, "Notification: submission received",
		"submission_id", sub.ID, "reference", sub.Reference)
}

func (LogNotifier) TaskCreated(ctx context.Context, task *domain.ApprovalTask, sub *domain.Submission) {
	slog.InfoContext(ctx, "Notification: approval task created",
		"task_id", task.ID, "assignee_id", task.AssigneeID, "submission_id", sub.ID)
}

func (LogNotifier) TaskEscalated(ctx context.Context, task *domain.ApprovalTask, sub *domain.Submission) {
	slog.WarnContext(ctx, "Notification: approval task escalated",
		"task_id", task.ID, "assignee_id", task.AssigneeID, "submission_id", sub.ID)
}

func (LogNotifier) SubmissionApproved(ctx context.Context, sub *domain.Submission) {
	slog.InfoContext(ctx, "Notification: submission approved",
		"submission_id", sub.ID, "reference", sub.Reference)
}

func (LogNotifier) SubmissionRejected(ctx context.Context, sub *domain.Submission) {
	slog.InfoContext(ctx, "Notification: submission rejected",
		"submission_id", sub.ID, "reference", sub.Reference)
}

// WebhookNotifier posts notification payloads to a single configured
// endpoint. Delivery is best effort; a failed post is logged and dropped so
// the approval flow never stalls on a messaging outage.
type WebhookNotifier struct {
	URL    string
	client *http.Client
}

func NewWebhookNotifier(url string, client *http.Client) *WebhookNotifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookNotifier{URL: url, client: client}
}

type webhookPayload struct {
	Kind         string    `json:"kind"`
	SubmissionID int64     `json:"submissionId"`
	Reference    string    `json:"reference"`
	Status       string    `json:"status"`
	TaskID       int64     `json:"taskId,omitempty"`
	AssigneeID   int64     `json:"assigneeId,omitempty"`
	StepName     string    `json:"stepName,omitempty"`
	DateTime     time.Time `json:"dateTime"`
}

func (n *WebhookNotifier) post(ctx context.Context, p webhookPayload) {
	p.DateTime = time.Now()
	body, err := json.Marshal(p)
	if err != nil {
		slog.ErrorContext(ctx, "Could not encode webhook payload", "kind", p.Kind, "error", err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		slog.ErrorContext(ctx, "Could not build webhook request", "kind", p.Kind, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		slog.WarnContext(ctx, "Webhook delivery failed", "kind", p.Kind, "url", n.URL, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.WarnContext(ctx, "Webhook endpoint returned non-success status",
			"kind", p.Kind, "url", n.URL, "status", resp.StatusCode)
	}
}

func (n *WebhookNotifier) SubmissionReceived(ctx context.Context, sub *domain.Submission) {
	n.post(ctx, webhookPayload{Kind: "submission.received", SubmissionID: sub.ID, Reference: sub.Reference, Status: sub.Status})
}

func (n *WebhookNotifier) TaskCreated(ctx context.Context, task *domain.ApprovalTask, sub *domain.Submission) {
	n.post(ctx, webhookPayload{Kind: "task.created", SubmissionID: sub.ID, Reference: sub.Reference,
		Status: sub.Status, TaskID: task.ID, AssigneeID: task.AssigneeID, StepName: task.StepName})
}

func (n *WebhookNotifier) TaskEscalated(ctx context.Context, task *domain.ApprovalTask, sub *domain.Submission) {
	n.post(ctx, webhookPayload{Kind: "task.escalated", SubmissionID: sub.ID, Reference: sub.Reference,
		Status: sub.Status, TaskID: task.ID, AssigneeID: task.AssigneeID, StepName: task.StepName})
}

func (n *WebhookNotifier) SubmissionApproved(ctx context.Context, sub *domain.Submission) {
	n.post(ctx, webhookPayload{Kind: "submission.approved", SubmissionID: sub.ID, Reference: sub.Reference, Status: sub.Status})
}

func (n *WebhookNotifier) SubmissionRejected(ctx context.Context, sub *domain.Submission) {
	n.post(ctx, webhookPayload{Kind: "submission.rejected", SubmissionID: sub.ID, Reference: sub.Reference, Status: sub.Status})
}
