// Package turn drives one chat turn: it persists the inbound user message,
// runs the model for a bounded number of steps with web search gated per
// step, forwards deltas as protocol events and hands the finished assistant
// message to a Recorder.
package turn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Keyring-Network/keyring-chat/internal/llm"
	"github.com/Keyring-Network/keyring-chat/internal/protocol"
	"github.com/Keyring-Network/keyring-chat/internal/search"
	"github.com/Keyring-Network/keyring-chat/internal/store"
)

const WebSearchToolName = "webSearch"

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrThreadNotFound = errors.New("thread not found")
	ErrInvalidRequest = errors.New("thread id and model are required")
)

type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeAborted   Outcome = "aborted"
	OutcomeFailed    Outcome = "failed"
)

type Request struct {
	UserID    string
	ThreadID  string
	Model     string
	Messages  []protocol.UIMessage
	WebSearch bool
}

// Completion is the assistant message produced by a successful turn.
type Completion struct {
	MessageID    string   `json:"message_id"`
	ThreadID     string   `json:"thread_id"`
	UserID       string   `json:"user_id"`
	Model        string   `json:"model"`
	Text         string   `json:"text"`
	Reasoning    string   `json:"reasoning,omitempty"`
	Sources      []string `json:"sources,omitempty"`
	FinishReason string   `json:"finish_reason"`
	CreatedAt    string   `json:"created_at"`
}

type Result struct {
	Outcome    Outcome
	MessageID  string
	Completion *Completion
}

type Emitter interface {
	Emit(event protocol.Event) error
}

type EmitterFunc func(event protocol.Event) error

func (f EmitterFunc) Emit(event protocol.Event) error {
	return f(event)
}

// History is the part of the store a turn touches directly.
type History interface {
	GetThread(ctx context.Context, threadID string) (*store.Thread, error)
	AddMessage(ctx context.Context, msg store.Message) error
}

// Recorder receives completed assistant messages. Implementations decide
// whether the write happens inline, on a worker or in a workflow.
type Recorder interface {
	RecordAssistant(ctx context.Context, completion Completion) error
}

type Config struct {
	History  History
	Streamer llm.Streamer
	Search   search.Provider
	Recorder Recorder
	Logger   *slog.Logger
	// SystemPrompt, when set, leads every model request.
	SystemPrompt string
}

type Orchestrator struct {
	history  History
	streamer llm.Streamer
	search   search.Provider
	recorder Recorder
	logger   *slog.Logger
	system   string
	newID    func() string
	now      func() time.Time
}

func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		history:  cfg.History,
		streamer: cfg.Streamer,
		search:   cfg.Search,
		recorder: cfg.Recorder,
		logger:   logger,
		system:   strings.TrimSpace(cfg.SystemPrompt),
		newID:    uuid.NewString,
		now:      time.Now,
	}
}

var webSearchTool = llm.ToolSpec{
	Name:        WebSearchToolName,
	Description: "Search the web for up-to-date information",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The search query",
			},
			"maxResults": map[string]any{
				"type":        "integer",
				"description": "Maximum number of results to return",
				"default":     search.DefaultMaxResults,
			},
		},
		"required": []string{"query"},
	},
}

// turnContext is the in-flight state of one Run call.
type turnContext struct {
	req          Request
	messageID    string
	emit         Emitter
	history      []llm.Message
	text         strings.Builder
	reasoning    []string
	toolOutputs  [][]search.Document
	seenSources  map[string]struct{}
	finishReason string
}

type stepResult struct {
	outcome   Outcome
	toolCalls []llm.ToolCall
	text      string
}

// Run executes one turn. The returned error is non-nil only for failures
// detected before anything was emitted; once streaming starts the outcome
// is reported through Result.
func (o *Orchestrator) Run(ctx context.Context, req Request, emit Emitter) (Result, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return Result{}, ErrUnauthorized
	}
	if strings.TrimSpace(req.ThreadID) == "" || strings.TrimSpace(req.Model) == "" {
		return Result{}, ErrInvalidRequest
	}
	thread, err := o.history.GetThread(ctx, req.ThreadID)
	if err != nil {
		o.logger.Warn("thread lookup failed", "thread_id", req.ThreadID, "error", err)
	} else if thread != nil && thread.UserID != req.UserID {
		return Result{}, ErrThreadNotFound
	}

	o.persistUserTurn(ctx, req)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tc := &turnContext{
		req:         req,
		messageID:   o.newID(),
		emit:        emit,
		history:     o.withSystem(toLLMMessages(req.Messages)),
		seenSources: map[string]struct{}{},
	}
	result := Result{MessageID: tc.messageID}

	if err := emit.Emit(protocol.Event{Type: protocol.EventStart, MessageID: tc.messageID}); err != nil {
		return o.aborted(req, result, err), nil
	}

	for step := 0; step < MaxSteps; step++ {
		choice := ToolChoiceFor(GateState{Step: step, SearchRequested: req.WebSearch})
		res := o.runStep(ctx, tc, choice)
		if res.outcome != "" {
			result.Outcome = res.outcome
			if res.outcome == OutcomeAborted {
				return o.aborted(req, result, ctx.Err()), nil
			}
			return result, nil
		}
		if choice == llm.ToolChoiceNone || len(res.toolCalls) == 0 {
			break
		}
		if outcome := o.runTools(ctx, tc, res); outcome != "" {
			result.Outcome = outcome
			return o.aborted(req, result, ctx.Err()), nil
		}
	}

	finishReason := tc.finishReason
	if finishReason == "" {
		finishReason = "stop"
	}
	if err := emit.Emit(protocol.Event{Type: protocol.EventStreamEnd, FinishReason: finishReason}); err != nil {
		return o.aborted(req, result, err), nil
	}

	completion := Completion{
		MessageID:    tc.messageID,
		ThreadID:     req.ThreadID,
		UserID:       req.UserID,
		Model:        req.Model,
		Text:         tc.text.String(),
		Reasoning:    strings.Join(tc.reasoning, "\n"),
		Sources:      ExtractSources(tc.toolOutputs),
		FinishReason: finishReason,
		CreatedAt:    o.now().UTC().Format(time.RFC3339Nano),
	}
	result.Outcome = OutcomeCompleted
	result.Completion = &completion

	if o.recorder != nil {
		if err := o.recorder.RecordAssistant(context.WithoutCancel(ctx), completion); err != nil {
			o.logger.Error("assistant message not recorded", "thread_id", req.ThreadID, "message_id", tc.messageID, "error", err)
		}
	}
	return result, nil
}

func (o *Orchestrator) persistUserTurn(ctx context.Context, req Request) {
	if len(req.Messages) == 0 {
		return
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != protocol.RoleUser {
		return
	}
	msg := store.Message{
		ID:        o.newID(),
		ThreadID:  req.ThreadID,
		Role:      store.RoleUser,
		Content:   last.Text(),
		Model:     req.Model,
		CreatedAt: o.now().UTC().Format(time.RFC3339Nano),
	}
	if err := o.history.AddMessage(ctx, msg); err != nil {
		o.logger.Error("user message not persisted", "thread_id", req.ThreadID, "error", err)
	}
}

func (o *Orchestrator) aborted(req Request, result Result, cause error) Result {
	result.Outcome = OutcomeAborted
	result.Completion = nil
	o.logger.Info("turn aborted", "thread_id", req.ThreadID, "message_id", result.MessageID, "cause", cause)
	return result
}

func (o *Orchestrator) runStep(ctx context.Context, tc *turnContext, choice llm.ToolChoice) stepResult {
	streamReq := llm.StreamRequest{
		Model:      tc.req.Model,
		Messages:   tc.history,
		ToolChoice: choice,
	}
	if o.search != nil {
		streamReq.Tools = []llm.ToolSpec{webSearchTool}
	}

	events, err := o.streamer.Stream(ctx, streamReq)
	if err != nil {
		if ctx.Err() != nil {
			return stepResult{outcome: OutcomeAborted}
		}
		return o.failStep(tc, err)
	}

	var text strings.Builder
	var reasoning strings.Builder
	var calls []llm.ToolCall
	var streamErr error

	for event := range events {
		switch event.Type {
		case llm.EventTextDelta:
			if event.Delta == "" {
				continue
			}
			text.WriteString(event.Delta)
			if err := tc.emit.Emit(protocol.Event{Type: protocol.EventTextDelta, Delta: event.Delta}); err != nil {
				return stepResult{outcome: OutcomeAborted}
			}
		case llm.EventReasoningDelta:
			if event.Delta == "" {
				continue
			}
			reasoning.WriteString(event.Delta)
			if err := tc.emit.Emit(protocol.Event{Type: protocol.EventReasoningDelta, Delta: event.Delta}); err != nil {
				return stepResult{outcome: OutcomeAborted}
			}
		case llm.EventToolCall:
			if event.ToolCall != nil {
				calls = append(calls, *event.ToolCall)
			}
		case llm.EventFinish:
			tc.finishReason = event.FinishReason
		case llm.EventError:
			streamErr = event.Err
		}
	}

	if ctx.Err() != nil {
		return stepResult{outcome: OutcomeAborted}
	}
	if streamErr != nil {
		return o.failStep(tc, streamErr)
	}

	tc.text.WriteString(text.String())
	if reasoning.Len() > 0 {
		tc.reasoning = append(tc.reasoning, reasoning.String())
	}
	return stepResult{toolCalls: calls, text: text.String()}
}

func (o *Orchestrator) failStep(tc *turnContext, cause error) stepResult {
	o.logger.Error("model stream failed", "thread_id", tc.req.ThreadID, "model", tc.req.Model, "error", cause)
	if err := tc.emit.Emit(protocol.Event{Type: protocol.EventError, ErrorText: cause.Error()}); err != nil {
		return stepResult{outcome: OutcomeAborted}
	}
	return stepResult{outcome: OutcomeFailed}
}

// runTools executes the step's tool calls and appends the exchange to the
// model history. It returns a non-empty outcome only when the turn aborted.
func (o *Orchestrator) runTools(ctx context.Context, tc *turnContext, step stepResult) Outcome {
	tc.history = append(tc.history, llm.Message{
		Role:      llm.RoleAssistant,
		Content:   step.text,
		ToolCalls: step.toolCalls,
	})

	for _, call := range step.toolCalls {
		content, outcome := o.runTool(ctx, tc, call)
		if outcome != "" {
			return outcome
		}
		tc.history = append(tc.history, llm.Message{
			Role:       llm.RoleTool,
			ToolCallID: call.ID,
			Name:       call.Function.Name,
			Content:    content,
		})
	}
	return ""
}

// MaxResults is a float because models often send integral values as 3.0.
type webSearchArgs struct {
	Query      string  `json:"query"`
	MaxResults float64 `json:"maxResults"`
}

func (o *Orchestrator) runTool(ctx context.Context, tc *turnContext, call llm.ToolCall) (string, Outcome) {
	name := call.Function.Name
	if name != WebSearchToolName || o.search == nil {
		return o.toolFailed(tc, call, nil, fmt.Errorf("unknown tool %q", name))
	}

	var args webSearchArgs
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
		return o.toolFailed(tc, call, nil, fmt.Errorf("invalid tool arguments: %w", err))
	}
	maxResults := int(args.MaxResults)
	if maxResults <= 0 {
		maxResults = search.DefaultMaxResults
	}
	input := map[string]any{"query": args.Query, "maxResults": maxResults}

	if err := tc.emit.Emit(protocol.Event{
		Type:       protocol.EventToolCallStart,
		ToolCallID: call.ID,
		ToolName:   name,
		Input:      input,
	}); err != nil {
		return "", OutcomeAborted
	}

	docs, err := o.search.Search(ctx, args.Query, maxResults)
	if err != nil {
		if ctx.Err() != nil {
			return "", OutcomeAborted
		}
		return o.toolFailed(tc, call, input, err)
	}

	tc.toolOutputs = append(tc.toolOutputs, docs)
	output := make([]protocol.Document, 0, len(docs))
	for _, doc := range docs {
		output = append(output, protocol.Document{Title: doc.Title, URL: doc.URL, Content: doc.Content})
	}
	if err := tc.emit.Emit(protocol.Event{
		Type:       protocol.EventToolCallResult,
		ToolCallID: call.ID,
		ToolName:   name,
		Output:     output,
	}); err != nil {
		return "", OutcomeAborted
	}
	for _, doc := range docs {
		url := strings.TrimSpace(doc.URL)
		if url == "" {
			continue
		}
		if _, ok := tc.seenSources[url]; ok {
			continue
		}
		tc.seenSources[url] = struct{}{}
		if err := tc.emit.Emit(protocol.Event{Type: protocol.EventSourceURL, URL: url, Title: doc.Title}); err != nil {
			return "", OutcomeAborted
		}
	}

	content, err := json.Marshal(output)
	if err != nil {
		return o.toolFailed(tc, call, input, err)
	}
	return string(content), ""
}

// toolFailed reports a tool error to the client and returns the payload fed
// back to the model in place of results.
func (o *Orchestrator) toolFailed(tc *turnContext, call llm.ToolCall, input map[string]any, cause error) (string, Outcome) {
	o.logger.Warn("tool call failed", "thread_id", tc.req.ThreadID, "tool", call.Function.Name, "error", cause)
	if err := tc.emit.Emit(protocol.Event{
		Type:       protocol.EventToolCallError,
		ToolCallID: call.ID,
		ToolName:   call.Function.Name,
		Input:      input,
		ErrorText:  cause.Error(),
	}); err != nil {
		return "", OutcomeAborted
	}
	payload, _ := json.Marshal(map[string]string{"error": cause.Error()})
	return string(payload), ""
}

func (o *Orchestrator) withSystem(messages []llm.Message) []llm.Message {
	if o.system == "" {
		return messages
	}
	return append([]llm.Message{{Role: llm.RoleSystem, Content: o.system}}, messages...)
}

func toLLMMessages(messages []protocol.UIMessage) []llm.Message {
	out := make([]llm.Message, 0, len(messages))
	for _, msg := range messages {
		role := llm.RoleUser
		if msg.Role == protocol.RoleAssistant {
			role = llm.RoleAssistant
		}
		content := msg.Text()
		if strings.TrimSpace(content) == "" {
			continue
		}
		out = append(out, llm.Message{Role: role, Content: content})
	}
	return out
}
