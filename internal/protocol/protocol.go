// Package protocol defines the chat wire format: UI messages exchanged with
// the browser and the incremental events of a streamed turn.
package protocol

import (
	"encoding/json"
	"strings"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	PartText       = "text"
	PartReasoning  = "reasoning"
	PartToolResult = "tool-result"
	PartSourceURL  = "source-url"
)

const (
	ToolStatePending = "pending"
	ToolStateDone    = "done"
	ToolStateError   = "error"
)

type UIMessage struct {
	ID    string `json:"id"`
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

type Part struct {
	Type       string         `json:"type"`
	Text       string         `json:"text,omitempty"`
	ToolCallID string         `json:"toolCallId,omitempty"`
	ToolName   string         `json:"toolName,omitempty"`
	State      string         `json:"state,omitempty"`
	Input      map[string]any `json:"input,omitempty"`
	Output     []Document     `json:"output,omitempty"`
	ErrorText  string         `json:"errorText,omitempty"`
	URL        string         `json:"url,omitempty"`
	Title      string         `json:"title,omitempty"`
}

type Document struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// Text joins the message's text parts.
func (m UIMessage) Text() string {
	var b strings.Builder
	for _, part := range m.Parts {
		if part.Type == PartText {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

type EventType string

const (
	EventStart          EventType = "start"
	EventTextDelta      EventType = "text-delta"
	EventReasoningDelta EventType = "reasoning-delta"
	EventToolCallStart  EventType = "tool-call-start"
	EventToolCallResult EventType = "tool-call-result"
	EventToolCallError  EventType = "tool-call-error"
	EventSourceURL      EventType = "source-url"
	EventStreamEnd      EventType = "stream-end"
	EventError          EventType = "error"
)

type Event struct {
	Type         EventType      `json:"type"`
	MessageID    string         `json:"messageId,omitempty"`
	Delta        string         `json:"delta,omitempty"`
	ToolCallID   string         `json:"toolCallId,omitempty"`
	ToolName     string         `json:"toolName,omitempty"`
	Input        map[string]any `json:"input,omitempty"`
	Output       []Document     `json:"output,omitempty"`
	URL          string         `json:"url,omitempty"`
	Title        string         `json:"title,omitempty"`
	ErrorText    string         `json:"errorText,omitempty"`
	FinishReason string         `json:"finishReason,omitempty"`
}

// MarshalJSON keeps the output array on tool results even when a search
// returned nothing.
func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	if e.Type != EventToolCallResult {
		return json.Marshal(plain(e))
	}
	output := e.Output
	if output == nil {
		output = []Document{}
	}
	return json.Marshal(struct {
		plain
		Output []Document `json:"output"`
	}{plain: plain(e), Output: output})
}
