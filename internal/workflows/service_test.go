package workflows

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/mocks"

	"github.com/Keyring-Network/keyring-chat/internal/turn"
)

func TestNewService_DefaultTaskQueue(t *testing.T) {
	mockClient := mocks.NewClient(t)
	service := NewService(mockClient, " ")
	require.Equal(t, DefaultTaskQueue, service.taskQueue)
}

func TestRecordAssistant_StartsWorkflow(t *testing.T) {
	mockClient := mocks.NewClient(t)
	workflowRun := mocks.NewWorkflowRun(t)
	taskQueue := "chat-turns-test"
	completion := turn.Completion{MessageID: "msg-1", ThreadID: "thread-1", Text: "hello"}

	mockClient.On(
		"ExecuteWorkflow",
		mock.Anything,
		mock.MatchedBy(func(opts client.StartWorkflowOptions) bool {
			return opts.ID == "turn:msg-1" && opts.TaskQueue == taskQueue
		}),
		mock.Anything,
		PersistTurnInput{Completion: completion},
	).Return(workflowRun, nil)

	service := NewService(mockClient, taskQueue)
	require.NoError(t, service.RecordAssistant(context.Background(), completion))
}

func TestRecordAssistant_Error(t *testing.T) {
	mockClient := mocks.NewClient(t)
	expectedErr := errors.New("start failed")
	completion := turn.Completion{MessageID: "msg-err"}

	mockClient.On(
		"ExecuteWorkflow",
		mock.Anything,
		mock.MatchedBy(func(opts client.StartWorkflowOptions) bool {
			return opts.ID == workflowID("msg-err")
		}),
		mock.Anything,
		PersistTurnInput{Completion: completion},
	).Return((*mocks.WorkflowRun)(nil), expectedErr)

	service := NewService(mockClient, "")
	err := service.RecordAssistant(context.Background(), completion)
	require.ErrorIs(t, err, expectedErr)
	require.ErrorContains(t, err, "start persist workflow")
}

func TestService_IsRecorder(t *testing.T) {
	var _ turn.Recorder = (*Service)(nil)
}
