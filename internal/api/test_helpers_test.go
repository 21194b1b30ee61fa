package api

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/mock"

	"github.com/Keyring-Network/keyring-chat/internal/auth"
	"github.com/Keyring-Network/keyring-chat/internal/events"
	"github.com/Keyring-Network/keyring-chat/internal/store"
	"github.com/Keyring-Network/keyring-chat/internal/turn"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateThread(ctx context.Context, thread store.Thread) error {
	args := m.Called(ctx, thread)
	return args.Error(0)
}

func (m *MockStore) GetThread(ctx context.Context, threadID string) (*store.Thread, error) {
	args := m.Called(ctx, threadID)
	if value := args.Get(0); value != nil {
		return value.(*store.Thread), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) ListThreads(ctx context.Context, userID string) ([]store.Thread, error) {
	args := m.Called(ctx, userID)
	var result []store.Thread
	if value := args.Get(0); value != nil {
		result = value.([]store.Thread)
	}
	return result, args.Error(1)
}

func (m *MockStore) SetThreadTitleIfUnset(ctx context.Context, threadID string, title string) (bool, error) {
	args := m.Called(ctx, threadID, title)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) AddMessage(ctx context.Context, msg store.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockStore) ListMessages(ctx context.Context, threadID string) ([]store.Message, error) {
	args := m.Called(ctx, threadID)
	var result []store.Message
	if value := args.Get(0); value != nil {
		result = value.([]store.Message)
	}
	return result, args.Error(1)
}

func (m *MockStore) ListModels(ctx context.Context) ([]store.AIModel, error) {
	args := m.Called(ctx)
	var result []store.AIModel
	if value := args.Get(0); value != nil {
		result = value.([]store.AIModel)
	}
	return result, args.Error(1)
}

func (m *MockStore) UpsertModel(ctx context.Context, model store.AIModel) error {
	args := m.Called(ctx, model)
	return args.Error(0)
}

type MockBroker struct {
	mock.Mock
}

func (m *MockBroker) Publish(event events.ThreadEvent) {
	m.Called(event)
}

func (m *MockBroker) Subscribe(ctx context.Context, threadID string) <-chan events.ThreadEvent {
	args := m.Called(ctx, threadID)
	if value := args.Get(0); value != nil {
		if ch, ok := value.(chan events.ThreadEvent); ok {
			return ch
		}
		if ch, ok := value.(<-chan events.ThreadEvent); ok {
			return ch
		}
	}
	return nil
}

type MockTurnRunner struct {
	mock.Mock
}

func (m *MockTurnRunner) Run(ctx context.Context, req turn.Request, emit turn.Emitter) (turn.Result, error) {
	args := m.Called(ctx, req, emit)
	return args.Get(0).(turn.Result), args.Error(1)
}

type MockTitleGenerator struct {
	mock.Mock
}

func (m *MockTitleGenerator) Generate(ctx context.Context, userID string, threadID string, seed string, model string) (string, error) {
	args := m.Called(ctx, userID, threadID, seed, model)
	return args.String(0), args.Error(1)
}

func newTestServer(t *testing.T, store store.Store, broker Broker, turns TurnRunner, titles TitleGenerator) *httptest.Server {
	t.Helper()
	server := NewServer(store, broker, turns, titles, auth.HeaderResolver{})
	return httptest.NewServer(server.Router())
}
