package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/Keyring-Network/keyring-chat/internal/protocol"
)

var errStopped = errors.New("turn stopped")

type Config struct {
	BaseURL    string
	UserID     string
	UserHeader string
	Token      string
	HTTPClient *http.Client
	Logger     *slog.Logger
	// OnEvent is called after each event is folded into the conversation.
	OnEvent func(conv *Conversation, event protocol.Event)
}

type Client struct {
	baseURL    string
	userID     string
	userHeader string
	token      string
	http       *http.Client
	logger     *slog.Logger
	onEvent    func(conv *Conversation, event protocol.Event)
}

// APIError is a non-success API response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("chat api returned %d", e.StatusCode)
	}
	return fmt.Sprintf("chat api returned %d: %s", e.StatusCode, e.Message)
}

func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	header := cfg.UserHeader
	if header == "" {
		header = "X-User-ID"
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		userID:     cfg.UserID,
		userHeader: header,
		token:      cfg.Token,
		http:       httpClient,
		logger:     logger,
		onEvent:    cfg.OnEvent,
	}
}

type chatRequest struct {
	Messages  []protocol.UIMessage `json:"messages"`
	Model     string               `json:"model"`
	ThreadID  string               `json:"threadId"`
	WebSearch bool                 `json:"webSearch"`
}

// Send submits text as the next user turn and folds the streamed reply into
// conv. A thread is created first when conv has none. After the first
// completed answer the thread title is requested once.
func (c *Client) Send(ctx context.Context, conv *Conversation, text string, webSearch bool) error {
	if conv.ThreadID == "" {
		threadID, err := c.CreateThread(ctx, conv.Model)
		if err != nil {
			return err
		}
		conv.ThreadID = threadID
	}

	conv.Submit(text)
	payload, err := json.Marshal(chatRequest{
		Messages:  conv.Messages,
		Model:     conv.Model,
		ThreadID:  conv.ThreadID,
		WebSearch: webSearch,
	})
	if err != nil {
		return err
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/chat", "application/json", bytes.NewReader(payload))
	if err != nil {
		return c.interrupted(ctx, conv, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		apiErr := readAPIError(resp)
		conv.Status = StatusError
		conv.Err = apiErr.Message
		return apiErr
	}

	err = protocol.Decode(resp.Body, func(event protocol.Event) error {
		if !conv.Apply(event) {
			return errStopped
		}
		if c.onEvent != nil {
			c.onEvent(conv, event)
		}
		return nil
	})
	if err != nil {
		return c.interrupted(ctx, conv, err)
	}
	if conv.Status == StatusStreaming || conv.Status == StatusSubmitted {
		conv.Status = StatusIdle
	}

	if conv.NeedsTitle() {
		conv.markTitleRequested()
		title, err := c.GenerateTitle(ctx, conv.ThreadID, conv.LastAssistantText(), conv.Model)
		if err != nil {
			c.logger.Warn("title generation failed", "thread_id", conv.ThreadID, "error", err)
		} else if title != "" {
			conv.Title = title
		}
	}
	return nil
}

// interrupted keeps partial content when the caller stopped the turn.
func (c *Client) interrupted(ctx context.Context, conv *Conversation, err error) error {
	if errors.Is(err, errStopped) || conv.Stopped() {
		return nil
	}
	if ctx.Err() != nil {
		conv.Stop()
		return ctx.Err()
	}
	conv.Status = StatusError
	conv.Err = err.Error()
	return err
}

func (c *Client) CreateThread(ctx context.Context, model string) (string, error) {
	payload, err := json.Marshal(map[string]string{"model": model})
	if err != nil {
		return "", err
	}
	resp, err := c.do(ctx, http.MethodPost, "/api/threads", "application/json", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", readAPIError(resp)
	}
	var body struct {
		ThreadID string `json:"threadId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode thread response: %w", err)
	}
	if body.ThreadID == "" {
		return "", errors.New("thread response missing threadId")
	}
	return body.ThreadID, nil
}

func (c *Client) GenerateTitle(ctx context.Context, threadID string, seed string, model string) (string, error) {
	form := url.Values{}
	form.Set("threadId", threadID)
	form.Set("aiResponse", seed)
	form.Set("model", model)
	resp, err := c.do(ctx, http.MethodPost, "/api/generate-title", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", readAPIError(resp)
	}
	var body struct {
		Success bool   `json:"success"`
		Title   string `json:"title"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode title response: %w", err)
	}
	return body.Title, nil
}

func (c *Client) do(ctx context.Context, method string, path string, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.userID != "" {
		req.Header.Set(c.userHeader, c.userID)
	}
	return c.http.Do(req)
}

func readAPIError(resp *http.Response) *APIError {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Error string `json:"error"`
	}
	message := strings.TrimSpace(string(data))
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		message = body.Error
	}
	return &APIError{StatusCode: resp.StatusCode, Message: message}
}
