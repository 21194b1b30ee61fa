package search

import (
	"context"
	"fmt"
)

const (
	DefaultMaxResults = 3
	MaxContentLength  = 1000
)

type Document struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

type Provider interface {
	Search(ctx context.Context, query string, limit int) ([]Document, error)
}

// ToolError marks a search failure that is reported back to the model as a
// failed tool result rather than failing the turn.
type ToolError struct {
	Query string
	Err   error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("web search %q failed: %v", e.Query, e.Err)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}
