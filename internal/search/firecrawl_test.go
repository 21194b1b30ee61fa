package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFirecrawl_SearchMapsResults(t *testing.T) {
	longMarkdown := strings.Repeat("é", MaxContentLength+50)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/search", r.URL.Path)
		require.Equal(t, "Bearer fc-key", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "capital of France", body["query"])
		require.EqualValues(t, 3, body["limit"])
		scrape := body["scrapeOptions"].(map[string]any)
		require.Equal(t, []any{"markdown"}, scrape["formats"])
		require.Equal(t, true, scrape["onlyMainContent"])
		require.EqualValues(t, 15000, scrape["timeout"])
		require.EqualValues(t, 3600000, scrape["maxAge"])

		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": []map[string]any{
				{"url": "https://a.example", "title": "A", "markdown": longMarkdown},
				{"url": "https://b.example", "html": "<html><head><style>p{}</style></head><body><p>Paris  is</p>\n<script>x()</script>\n<p>the capital</p></body></html>"},
				{"metadata": map[string]any{"sourceURL": "https://c.example", "title": "C"}, "description": "fallback text"},
			},
		})
	}))
	defer server.Close()

	provider := NewFirecrawl(FirecrawlConfig{APIKey: "fc-key", BaseURL: server.URL + "/"})
	docs, err := provider.Search(context.Background(), "capital of France", 0)
	require.NoError(t, err)
	require.Len(t, docs, 3)

	require.Equal(t, "A", docs[0].Title)
	require.Len(t, []rune(docs[0].Content), MaxContentLength)

	require.Equal(t, "https://b.example", docs[1].Title)
	require.Equal(t, "Paris is the capital", docs[1].Content)

	require.Equal(t, Document{Title: "C", URL: "https://c.example", Content: "fallback text"}, docs[2])
}

func TestFirecrawl_ProviderFailureIsToolError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "insufficient credits"})
	}))
	defer server.Close()

	provider := NewFirecrawl(FirecrawlConfig{APIKey: "fc-key", BaseURL: server.URL})
	_, err := provider.Search(context.Background(), "q", 2)

	var toolErr *ToolError
	require.True(t, errors.As(err, &toolErr))
	require.Equal(t, "q", toolErr.Query)
	require.ErrorContains(t, err, "insufficient credits")
}

func TestFirecrawl_UnsuccessfulBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false}`))
	}))
	defer server.Close()

	provider := NewFirecrawl(FirecrawlConfig{APIKey: "fc-key", BaseURL: server.URL})
	_, err := provider.Search(context.Background(), "q", 2)
	require.ErrorContains(t, err, "200 OK")
}

func TestFirecrawl_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	provider := NewFirecrawl(FirecrawlConfig{APIKey: "fc-key", BaseURL: server.URL, Timeout: 50 * time.Millisecond})
	_, err := provider.Search(context.Background(), "slow", 1)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFirecrawl_Validation(t *testing.T) {
	_, err := NewFirecrawl(FirecrawlConfig{}).Search(context.Background(), "q", 1)
	require.ErrorContains(t, err, "missing Firecrawl API key")

	_, err = NewFirecrawl(FirecrawlConfig{APIKey: "k"}).Search(context.Background(), "   ", 1)
	require.ErrorContains(t, err, "empty search query")
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "abc", truncate("abc", 5))
	require.Equal(t, "ab", truncate("abc", 2))
	require.Equal(t, "日本", truncate("日本語", 2))
}
