package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Keyring-Network/keyring-chat/internal/events"
	"github.com/Keyring-Network/keyring-chat/internal/store"
)

var ErrRecorderClosed = errors.New("recorder closed")

type Publisher interface {
	Publish(event events.ThreadEvent)
}

// StoreRecorder writes the assistant message and announces the completed
// turn to thread subscribers.
type StoreRecorder struct {
	messages  store.MessageStore
	publisher Publisher
}

func NewStoreRecorder(messages store.MessageStore, publisher Publisher) *StoreRecorder {
	return &StoreRecorder{messages: messages, publisher: publisher}
}

func (r *StoreRecorder) RecordAssistant(ctx context.Context, completion Completion) error {
	msg := store.Message{
		ID:        completion.MessageID,
		ThreadID:  completion.ThreadID,
		Role:      store.RoleAssistant,
		Content:   completion.Text,
		Reasoning: completion.Reasoning,
		Sources:   completion.Sources,
		Model:     completion.Model,
		CreatedAt: completion.CreatedAt,
	}
	if err := r.messages.AddMessage(ctx, msg); err != nil {
		return fmt.Errorf("record assistant message: %w", err)
	}
	if r.publisher != nil {
		r.publisher.Publish(events.NewThreadEvent(completion.ThreadID, events.TypeTurnCompleted, map[string]any{
			"message_id":    completion.MessageID,
			"user_id":       completion.UserID,
			"model":         completion.Model,
			"finish_reason": completion.FinishReason,
			"text":          completion.Text,
		}))
	}
	return nil
}

// AsyncRecorder queues completions for a background worker so the request
// path never waits on the store.
type AsyncRecorder struct {
	next   Recorder
	logger *slog.Logger
	queue  chan Completion
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewAsyncRecorder(next Recorder, buffer int, logger *slog.Logger) *AsyncRecorder {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &AsyncRecorder{
		next:   next,
		logger: logger,
		queue:  make(chan Completion, buffer),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *AsyncRecorder) RecordAssistant(ctx context.Context, completion Completion) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrRecorderClosed
	}
	select {
	case r.queue <- completion:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *AsyncRecorder) run() {
	defer close(r.done)
	for completion := range r.queue {
		if err := r.next.RecordAssistant(context.Background(), completion); err != nil {
			r.logger.Error("assistant message not recorded", "thread_id", completion.ThreadID, "message_id", completion.MessageID, "error", err)
		}
	}
}

// Close stops accepting completions and waits for queued ones to be written.
func (r *AsyncRecorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	<-r.done
}
