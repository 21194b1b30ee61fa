package workflows

import (
	"context"
	"errors"

	"go.temporal.io/sdk/activity"

	"github.com/Keyring-Network/keyring-chat/internal/events"
	"github.com/Keyring-Network/keyring-chat/internal/turn"
)

const TypeTurnPersistFailed = "turn.persist_failed"

// TurnActivities is registered on the worker; method names are the
// activity names used by PersistTurnWorkflow.
type TurnActivities struct {
	recorder  turn.Recorder
	publisher turn.Publisher
}

// NewTurnActivities wraps recorder. publisher may be nil when the worker
// runs outside the process that serves thread subscriptions.
func NewTurnActivities(recorder turn.Recorder, publisher turn.Publisher) *TurnActivities {
	return &TurnActivities{recorder: recorder, publisher: publisher}
}

func (a *TurnActivities) RecordAssistant(ctx context.Context, input PersistTurnInput) error {
	if a.recorder == nil {
		return errors.New("recorder not configured")
	}
	return a.recorder.RecordAssistant(ctx, input.Completion)
}

func (a *TurnActivities) HandleTurnFailure(ctx context.Context, input TurnFailureInput) error {
	activity.GetLogger(ctx).Warn("assistant message not persisted",
		"thread_id", input.ThreadID,
		"message_id", input.MessageID,
		"error", input.Error,
	)
	if a.publisher != nil {
		a.publisher.Publish(events.NewThreadEvent(input.ThreadID, TypeTurnPersistFailed, map[string]any{
			"message_id": input.MessageID,
			"error":      input.Error,
		}))
	}
	return nil
}
