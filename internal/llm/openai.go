package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

type OpenAIProvider struct {
	apiKey       string
	model        string
	baseURL      string
	client       *openai.Client
	streamClient *openai.Client
}

func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	baseURL = strings.TrimRight(baseURL, "/")
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 35 * time.Second
	}
	return &OpenAIProvider{
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		baseURL: baseURL,
		client:  newOpenAIClient(cfg.APIKey, baseURL, &http.Client{Timeout: timeout}),
		// Streams are bounded by the request context instead of a client timeout.
		streamClient: newOpenAIClient(cfg.APIKey, baseURL, &http.Client{}),
	}
}

func newOpenAIClient(apiKey string, baseURL string, httpClient *http.Client) *openai.Client {
	config := openai.DefaultConfig(apiKey)
	config.BaseURL = baseURL
	config.HTTPClient = httpClient
	return openai.NewClientWithConfig(config)
}

func (p *OpenAIProvider) Generate(ctx context.Context, messages []Message) (string, error) {
	return p.Complete(ctx, "", messages)
}

func (p *OpenAIProvider) Complete(ctx context.Context, model string, messages []Message) (string, error) {
	model = defaultIfEmpty(model, p.model)
	if err := p.validate(model); err != nil {
		return "", err
	}
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: toOpenAIMessages(messages),
	})
	if err != nil {
		return "", translateError(err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("LLM response had no choices")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", errors.New("LLM response was empty")
	}
	return content, nil
}

func (p *OpenAIProvider) Stream(ctx context.Context, req StreamRequest) (<-chan StreamEvent, error) {
	model := defaultIfEmpty(req.Model, p.model)
	if err := p.validate(model); err != nil {
		return nil, err
	}
	request := openai.ChatCompletionRequest{
		Model:    model,
		Messages: toOpenAIMessages(req.Messages),
		Stream:   true,
	}
	if len(req.Tools) > 0 {
		request.Tools = toOpenAITools(req.Tools)
		if req.ToolChoice != "" {
			request.ToolChoice = string(req.ToolChoice)
		}
	}
	stream, err := p.streamClient.CreateChatCompletionStream(ctx, request)
	if err != nil {
		return nil, translateError(err)
	}

	events := make(chan StreamEvent)
	go func() {
		defer close(events)
		defer stream.Close()
		readStream(ctx, stream, events)
	}()
	return events, nil
}

func (p *OpenAIProvider) validate(model string) error {
	if p.apiKey == "" {
		return errors.New("missing API key for remote provider")
	}
	if model == "" {
		return errors.New("missing model for remote provider")
	}
	return nil
}

// translateError keeps provider HTTP failures inspectable as *StatusError.
func translateError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return &StatusError{
			StatusCode: apiErr.HTTPStatusCode,
			Status:     statusText(apiErr.HTTPStatus, apiErr.HTTPStatusCode),
			Body:       strings.TrimSpace(apiErr.Message),
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &StatusError{
			StatusCode: reqErr.HTTPStatusCode,
			Status:     statusText(reqErr.HTTPStatus, reqErr.HTTPStatusCode),
			Body:       strings.TrimSpace(string(reqErr.Body)),
		}
	}
	return err
}

func statusText(status string, code int) string {
	if status != "" {
		return status
	}
	return fmt.Sprintf("%d %s", code, http.StatusText(code))
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		converted := openai.ChatCompletionMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
			Name:       msg.Name,
		}
		for _, call := range msg.ToolCalls {
			converted.ToolCalls = append(converted.ToolCalls, openai.ToolCall{
				ID:   call.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      call.Function.Name,
					Arguments: call.Function.Arguments,
				},
			})
		}
		out = append(out, converted)
	}
	return out
}

func toOpenAITools(tools []ToolSpec) []openai.Tool {
	encoded := make([]openai.Tool, 0, len(tools))
	for _, tool := range tools {
		parameters := tool.Parameters
		if parameters == nil {
			parameters = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		encoded = append(encoded, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  parameters,
			},
		})
	}
	return encoded
}

// chunkReceiver is the part of *openai.ChatCompletionStream readStream needs.
type chunkReceiver interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
}

type toolCallAccumulator struct {
	id        string
	name      string
	arguments strings.Builder
}

func readStream(ctx context.Context, stream chunkReceiver, events chan<- StreamEvent) {
	send := func(event StreamEvent) bool {
		select {
		case events <- event:
			return true
		case <-ctx.Done():
			return false
		}
	}

	calls := map[int]*toolCallAccumulator{}
	finishReason := ""
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			send(StreamEvent{Type: EventError, Err: fmt.Errorf("LLM stream error: %w", translateError(err))})
			return
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.ReasoningContent != "" && !send(StreamEvent{Type: EventReasoningDelta, Delta: choice.Delta.ReasoningContent}) {
				return
			}
			if choice.Delta.Content != "" && !send(StreamEvent{Type: EventTextDelta, Delta: choice.Delta.Content}) {
				return
			}
			for position, call := range choice.Delta.ToolCalls {
				index := position
				if call.Index != nil {
					index = *call.Index
				}
				acc, ok := calls[index]
				if !ok {
					acc = &toolCallAccumulator{}
					calls[index] = acc
				}
				if call.ID != "" {
					acc.id = call.ID
				}
				if call.Function.Name != "" {
					acc.name = call.Function.Name
				}
				acc.arguments.WriteString(call.Function.Arguments)
			}
			if choice.FinishReason != "" {
				finishReason = string(choice.FinishReason)
			}
		}
	}
	if err := ctx.Err(); err != nil {
		send(StreamEvent{Type: EventError, Err: err})
		return
	}

	indexes := make([]int, 0, len(calls))
	for index := range calls {
		indexes = append(indexes, index)
	}
	sort.Ints(indexes)
	for _, index := range indexes {
		acc := calls[index]
		if acc.name == "" {
			continue
		}
		call := &ToolCall{
			ID:   acc.id,
			Type: "function",
			Function: FunctionCall{
				Name:      acc.name,
				Arguments: acc.arguments.String(),
			},
		}
		if call.ID == "" {
			call.ID = fmt.Sprintf("call_%d", index)
		}
		if !send(StreamEvent{Type: EventToolCall, ToolCall: call}) {
			return
		}
	}
	if finishReason == "" {
		finishReason = "stop"
	}
	send(StreamEvent{Type: EventFinish, FinishReason: finishReason})
}
