package workflows

import (
	"context"
	"fmt"
	"strings"

	"go.temporal.io/sdk/client"

	"github.com/Keyring-Network/keyring-chat/internal/turn"
)

const DefaultTaskQueue = "chat-turns"

// Service hands finished turns to Temporal so persistence survives a
// restart of the chat server. It satisfies turn.Recorder.
type Service struct {
	client    client.Client
	taskQueue string
}

func NewService(client client.Client, taskQueue string) *Service {
	if strings.TrimSpace(taskQueue) == "" {
		taskQueue = DefaultTaskQueue
	}
	return &Service{client: client, taskQueue: taskQueue}
}

func (s *Service) RecordAssistant(ctx context.Context, completion turn.Completion) error {
	options := client.StartWorkflowOptions{
		ID:        workflowID(completion.MessageID),
		TaskQueue: s.taskQueue,
	}
	_, err := s.client.ExecuteWorkflow(ctx, options, PersistTurnWorkflow, PersistTurnInput{Completion: completion})
	if err != nil {
		return fmt.Errorf("start persist workflow: %w", err)
	}
	return nil
}

func workflowID(messageID string) string {
	return fmt.Sprintf("turn:%s", messageID)
}
