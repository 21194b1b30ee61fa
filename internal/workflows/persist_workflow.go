package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/Keyring-Network/keyring-chat/internal/turn"
)

const (
	StatusRecorded = "recorded"
	StatusFailed   = "failed"
)

type PersistTurnInput struct {
	Completion turn.Completion
}

type PersistTurnResult struct {
	Status string
	Error  string `json:",omitempty"`
}

type TurnFailureInput struct {
	ThreadID  string
	MessageID string
	Error     string
}

// PersistTurnWorkflow writes one assistant message. A message write is not
// idempotent, so the activity runs at most once.
func PersistTurnWorkflow(ctx workflow.Context, input PersistTurnInput) (PersistTurnResult, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	})
	logger := workflow.GetLogger(ctx)

	err := workflow.ExecuteActivity(ctx, "RecordAssistant", input).Get(ctx, nil)
	if err == nil {
		return PersistTurnResult{Status: StatusRecorded}, nil
	}

	logger.Error("record assistant activity failed", "message_id", input.Completion.MessageID, "error", err)
	failure := TurnFailureInput{
		ThreadID:  input.Completion.ThreadID,
		MessageID: input.Completion.MessageID,
		Error:     err.Error(),
	}
	if failureErr := workflow.ExecuteActivity(ctx, "HandleTurnFailure", failure).Get(ctx, nil); failureErr != nil {
		logger.Error("failed to report turn failure", "error", failureErr)
	}
	return PersistTurnResult{Status: StatusFailed, Error: err.Error()}, nil
}
