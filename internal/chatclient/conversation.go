// Package chatclient consumes the chat stream on the client side: it folds
// protocol events into an ordered message list and drives title generation
// once a thread's first answer completes.
package chatclient

import (
	"strings"

	"github.com/google/uuid"

	"github.com/Keyring-Network/keyring-chat/internal/protocol"
)

type Status string

const (
	StatusIdle      Status = "idle"
	StatusSubmitted Status = "submitted"
	StatusStreaming Status = "streaming"
	StatusError     Status = "error"
)

// Conversation is the client-side state of one thread. It is not safe for
// concurrent use.
type Conversation struct {
	ThreadID string
	Model    string
	Title    string
	Messages []protocol.UIMessage
	Status   Status
	Err      string

	stopped        bool
	titleRequested bool
	newID          func() string
}

func NewConversation(threadID string, model string) *Conversation {
	return &Conversation{
		ThreadID: threadID,
		Model:    model,
		Status:   StatusIdle,
		newID:    uuid.NewString,
	}
}

// Submit appends a user message and waits for the stream to start.
func (c *Conversation) Submit(text string) protocol.UIMessage {
	msg := protocol.UIMessage{
		ID:    c.newID(),
		Role:  protocol.RoleUser,
		Parts: []protocol.Part{{Type: protocol.PartText, Text: text}},
	}
	c.Messages = append(c.Messages, msg)
	c.Status = StatusSubmitted
	c.Err = ""
	c.stopped = false
	return msg
}

// Stop ends consumption of the current turn. Content received so far is kept.
func (c *Conversation) Stop() {
	c.stopped = true
	if c.Status == StatusSubmitted || c.Status == StatusStreaming {
		c.Status = StatusIdle
	}
}

func (c *Conversation) Stopped() bool {
	return c.stopped
}

// Apply folds one stream event into the message list. It reports false when
// the event was ignored because the turn was stopped.
func (c *Conversation) Apply(event protocol.Event) bool {
	if c.stopped {
		return false
	}
	switch event.Type {
	case protocol.EventStart:
		id := event.MessageID
		if id == "" {
			id = c.newID()
		}
		c.Messages = append(c.Messages, protocol.UIMessage{ID: id, Role: protocol.RoleAssistant})
		c.Status = StatusStreaming
	case protocol.EventTextDelta:
		c.appendDelta(protocol.PartText, event.Delta)
	case protocol.EventReasoningDelta:
		c.appendDelta(protocol.PartReasoning, event.Delta)
	case protocol.EventToolCallStart:
		msg := c.assistant()
		msg.Parts = append(msg.Parts, protocol.Part{
			Type:       protocol.PartToolResult,
			ToolCallID: event.ToolCallID,
			ToolName:   event.ToolName,
			State:      protocol.ToolStatePending,
			Input:      event.Input,
		})
	case protocol.EventToolCallResult:
		part := c.toolPart(event)
		part.State = protocol.ToolStateDone
		part.Output = event.Output
	case protocol.EventToolCallError:
		part := c.toolPart(event)
		part.State = protocol.ToolStateError
		part.ErrorText = event.ErrorText
	case protocol.EventSourceURL:
		msg := c.assistant()
		msg.Parts = append(msg.Parts, protocol.Part{Type: protocol.PartSourceURL, URL: event.URL, Title: event.Title})
	case protocol.EventStreamEnd:
		c.Status = StatusIdle
	case protocol.EventError:
		c.Status = StatusError
		c.Err = event.ErrorText
	}
	return true
}

// Completed reports whether the latest message is a finished assistant turn.
func (c *Conversation) Completed() bool {
	if c.Status != StatusIdle || len(c.Messages) == 0 {
		return false
	}
	last := c.Messages[len(c.Messages)-1]
	return last.Role == protocol.RoleAssistant && !c.stopped
}

// NeedsTitle is true once per thread: after the first completed assistant
// turn while no title is known.
func (c *Conversation) NeedsTitle() bool {
	if c.titleRequested || strings.TrimSpace(c.Title) != "" || c.ThreadID == "" {
		return false
	}
	return c.Completed() && strings.TrimSpace(c.LastAssistantText()) != ""
}

func (c *Conversation) markTitleRequested() {
	c.titleRequested = true
}

func (c *Conversation) LastAssistantText() string {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == protocol.RoleAssistant {
			return c.Messages[i].Text()
		}
	}
	return ""
}

// assistant returns the in-progress assistant message, creating one when a
// delta arrives without a start event.
func (c *Conversation) assistant() *protocol.UIMessage {
	if n := len(c.Messages); n > 0 && c.Messages[n-1].Role == protocol.RoleAssistant {
		return &c.Messages[n-1]
	}
	c.Messages = append(c.Messages, protocol.UIMessage{ID: c.newID(), Role: protocol.RoleAssistant})
	c.Status = StatusStreaming
	return &c.Messages[len(c.Messages)-1]
}

func (c *Conversation) appendDelta(partType string, delta string) {
	msg := c.assistant()
	if n := len(msg.Parts); n > 0 && msg.Parts[n-1].Type == partType {
		msg.Parts[n-1].Text += delta
		return
	}
	msg.Parts = append(msg.Parts, protocol.Part{Type: partType, Text: delta})
}

func (c *Conversation) toolPart(event protocol.Event) *protocol.Part {
	msg := c.assistant()
	for i := range msg.Parts {
		part := &msg.Parts[i]
		if part.Type == protocol.PartToolResult && part.ToolCallID == event.ToolCallID {
			return part
		}
	}
	msg.Parts = append(msg.Parts, protocol.Part{
		Type:       protocol.PartToolResult,
		ToolCallID: event.ToolCallID,
		ToolName:   event.ToolName,
		Input:      event.Input,
	})
	return &msg.Parts[len(msg.Parts)-1]
}
