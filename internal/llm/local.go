package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// LocalProvider is an offline provider that echoes the latest user message.
// When a tool call is required it calls the first registered tool with the
// user message as the query.
type LocalProvider struct{}

func (LocalProvider) Generate(ctx context.Context, messages []Message) (string, error) {
	return LocalProvider{}.Complete(ctx, "", messages)
}

func (LocalProvider) Complete(ctx context.Context, model string, messages []Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	words := strings.Fields(lastUserContent(messages))
	if len(words) == 0 {
		return "", errors.New("LLM response was empty")
	}
	if len(words) > 7 {
		words = words[:7]
	}
	return strings.Join(words, " "), nil
}

func (LocalProvider) Stream(ctx context.Context, req StreamRequest) (<-chan StreamEvent, error) {
	prompt := lastUserContent(req.Messages)
	events := make(chan StreamEvent)
	go func() {
		defer close(events)
		send := func(event StreamEvent) bool {
			select {
			case events <- event:
				return true
			case <-ctx.Done():
				return false
			}
		}
		if req.ToolChoice == ToolChoiceRequired && len(req.Tools) > 0 {
			args, _ := json.Marshal(map[string]any{"query": prompt})
			call := &ToolCall{
				ID:       "call_local_0",
				Type:     "function",
				Function: FunctionCall{Name: req.Tools[0].Name, Arguments: string(args)},
			}
			if send(StreamEvent{Type: EventToolCall, ToolCall: call}) {
				send(StreamEvent{Type: EventFinish, FinishReason: "tool_calls"})
			}
			return
		}
		reply := "You said: " + prompt
		for i, word := range strings.Fields(reply) {
			delta := word
			if i > 0 {
				delta = " " + word
			}
			if !send(StreamEvent{Type: EventTextDelta, Delta: delta}) {
				return
			}
		}
		send(StreamEvent{Type: EventFinish, FinishReason: "stop"})
	}()
	return events, nil
}

func lastUserContent(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return strings.TrimSpace(messages[i].Content)
		}
	}
	return ""
}
