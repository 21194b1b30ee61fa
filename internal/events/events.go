package events

import (
	"context"
	"strings"
	"sync"
	"time"
)

const (
	TypeTurnCompleted      = "turn.completed"
	TypeThreadTitleUpdated = "thread.title.updated"
)

type ThreadEvent struct {
	ThreadID string         `json:"thread_id"`
	Type     string         `json:"type"`
	Ts       string         `json:"ts"`
	Payload  map[string]any `json:"payload"`
}

func NewThreadEvent(threadID string, eventType string, payload map[string]any) ThreadEvent {
	if payload == nil {
		payload = map[string]any{}
	}
	return ThreadEvent{
		ThreadID: threadID,
		Type:     NormalizeType(eventType),
		Ts:       time.Now().UTC().Format(time.RFC3339Nano),
		Payload:  payload,
	}
}

// Broker fans thread notifications out to in-process subscribers. Slow
// subscribers drop events instead of blocking publishers.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan ThreadEvent]struct{}
}

func NormalizeType(eventType string) string {
	return strings.TrimSpace(strings.ToLower(eventType))
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: map[string]map[chan ThreadEvent]struct{}{},
	}
}

func (b *Broker) Subscribe(ctx context.Context, threadID string) <-chan ThreadEvent {
	ch := make(chan ThreadEvent, 16)

	b.mu.Lock()
	if b.subscribers[threadID] == nil {
		b.subscribers[threadID] = map[chan ThreadEvent]struct{}{}
	}
	b.subscribers[threadID][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		if b.subscribers[threadID] != nil {
			delete(b.subscribers[threadID], ch)
			if len(b.subscribers[threadID]) == 0 {
				delete(b.subscribers, threadID)
			}
		}
		close(ch)
		b.mu.Unlock()
	}()

	return ch
}

func (b *Broker) Publish(event ThreadEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers[event.ThreadID] {
		select {
		case ch <- event:
		default:
		}
	}
}
