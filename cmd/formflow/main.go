package main

import (
	"context"
	"log/slog"

	"github.com/formflowhq/formflow/internal/actions"
	"github.com/formflowhq/formflow/pkg/formflow"
)

func main() {

	//you may do your own logger setup here or use this default one with slog
	formflow.SetupLogger()

	// Custom action handlers are registered by identifier before the server
	// starts. Deployments add their own here.
	formflow.CustomActions.Register("log-summary", func(ctx context.Context, inv *actions.Invocation) (actions.Result, error) {
		slog.InfoContext(ctx, "Submission summary",
			"submission_id", inv.Submission.ID,
			"reference", inv.Submission.Reference,
			"status", inv.Submission.Status,
		)
		return actions.Result{Success: true, Message: "summary logged"}, nil
	})

	if err := formflow.Start(nil); err != nil {
		slog.Error("Engine exited with error", "error", err)
	}
}
