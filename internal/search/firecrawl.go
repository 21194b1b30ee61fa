package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

type FirecrawlConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	MaxAge  time.Duration
}

type Firecrawl struct {
	apiKey  string
	baseURL string
	timeout time.Duration
	maxAge  time.Duration
	client  *http.Client
}

func NewFirecrawl(cfg FirecrawlConfig) *Firecrawl {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.firecrawl.dev"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	return &Firecrawl{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		maxAge:  maxAge,
		client:  &http.Client{},
	}
}

type firecrawlResult struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Markdown    string `json:"markdown"`
	HTML        string `json:"html"`
	Metadata    struct {
		Title     string `json:"title"`
		SourceURL string `json:"sourceURL"`
	} `json:"metadata"`
}

type firecrawlResponse struct {
	Success bool              `json:"success"`
	Error   string            `json:"error"`
	Data    []firecrawlResult `json:"data"`
}

// Search queries Firecrawl with a per-call timeout. Every failure is returned
// as a *ToolError.
func (f *Firecrawl) Search(ctx context.Context, query string, limit int) ([]Document, error) {
	docs, err := f.search(ctx, query, limit)
	if err != nil {
		return nil, &ToolError{Query: query, Err: err}
	}
	return docs, nil
}

func (f *Firecrawl) search(ctx context.Context, query string, limit int) ([]Document, error) {
	if f.apiKey == "" {
		return nil, errors.New("missing Firecrawl API key")
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("empty search query")
	}
	if limit <= 0 {
		limit = DefaultMaxResults
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	payload := map[string]any{
		"query": query,
		"limit": limit,
		"scrapeOptions": map[string]any{
			"formats":         []string{"markdown"},
			"onlyMainContent": true,
			"timeout":         f.timeout.Milliseconds(),
			"maxAge":          f.maxAge.Milliseconds(),
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+"/v1/search", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+f.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed firecrawlResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&parsed); err != nil {
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("search request failed: %s", resp.Status)
		}
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	if resp.StatusCode >= 400 || !parsed.Success {
		message := strings.TrimSpace(parsed.Error)
		if message == "" {
			message = resp.Status
		}
		return nil, fmt.Errorf("search request failed: %s", message)
	}

	docs := make([]Document, 0, len(parsed.Data))
	for _, result := range parsed.Data {
		docs = append(docs, toDocument(result))
	}
	return docs, nil
}

func toDocument(result firecrawlResult) Document {
	url := strings.TrimSpace(result.URL)
	if url == "" {
		url = strings.TrimSpace(result.Metadata.SourceURL)
	}
	title := strings.TrimSpace(result.Title)
	if title == "" {
		title = strings.TrimSpace(result.Metadata.Title)
	}
	if title == "" {
		title = url
	}
	content := strings.TrimSpace(result.Markdown)
	if content == "" && result.HTML != "" {
		content = htmlToText(result.HTML)
	}
	if content == "" {
		content = strings.TrimSpace(result.Description)
	}
	return Document{
		Title:   title,
		URL:     url,
		Content: truncate(content, MaxContentLength),
	}
}

// htmlToText extracts readable text, dropping script and style content.
func htmlToText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	doc.Find("script, style, noscript, nav, footer").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}
