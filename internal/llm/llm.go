package llm

import (
	"context"
	"time"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolSpec describes a callable function. Parameters is a JSON schema object.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

type ToolChoice string

const (
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceRequired ToolChoice = "required"
	ToolChoiceNone     ToolChoice = "none"
)

type StreamRequest struct {
	Model      string
	Messages   []Message
	Tools      []ToolSpec
	ToolChoice ToolChoice
}

type StreamEventType string

const (
	EventTextDelta      StreamEventType = "text-delta"
	EventReasoningDelta StreamEventType = "reasoning-delta"
	EventToolCall       StreamEventType = "tool-call"
	EventFinish         StreamEventType = "finish"
	EventError          StreamEventType = "error"
)

// StreamEvent is one item of a generation step. A stream ends with exactly
// one EventFinish or EventError, after which the channel is closed.
type StreamEvent struct {
	Type         StreamEventType
	Delta        string
	ToolCall     *ToolCall
	FinishReason string
	Err          error
}

// Streamer runs one generation step.
type Streamer interface {
	Stream(ctx context.Context, req StreamRequest) (<-chan StreamEvent, error)
}

// Completer runs a single non-streaming generation against model. An empty
// model uses the provider default.
type Completer interface {
	Complete(ctx context.Context, model string, messages []Message) (string, error)
}

type Provider interface {
	Streamer
	Completer
	Generate(ctx context.Context, messages []Message) (string, error)
}

type Config struct {
	Mode             string
	Provider         string
	Model            string
	BaseURL          string
	OpenAIAPIKey     string
	OpenRouterAPIKey string
	AIGatewayAPIKey  string
	Timeout          time.Duration
}

func NewProvider(cfg Config) (Provider, error) {
	if cfg.Mode == "local" {
		return LocalProvider{}, nil
	}

	switch cfg.Provider {
	case "openai":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
		}), nil
	case "openrouter":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:  cfg.OpenRouterAPIKey,
			Model:   cfg.Model,
			BaseURL: defaultIfEmpty(cfg.BaseURL, "https://openrouter.ai/api/v1"),
			Timeout: cfg.Timeout,
		}), nil
	case "gateway":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:  cfg.AIGatewayAPIKey,
			Model:   cfg.Model,
			BaseURL: defaultIfEmpty(cfg.BaseURL, "https://ai-gateway.vercel.sh/v1"),
			Timeout: cfg.Timeout,
		}), nil
	case "moonshot-ai":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.Model,
			BaseURL: defaultIfEmpty(cfg.BaseURL, "https://api.moonshot.ai/v1"),
			Timeout: cfg.Timeout,
		}), nil
	default:
		return nil, ErrUnsupportedProvider{Provider: cfg.Provider}
	}
}

func defaultIfEmpty(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
