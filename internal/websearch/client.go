package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Source is one ephemeral search snippet injected as prompt context.
// Sources are never persisted.
type Source struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Searcher fetches web snippets for prompt augmentation.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) []Source
}

// Client queries a search backend. Augmentation is strictly best-effort:
// every failure mode degrades to zero sources, never an error.
type Client struct {
	endpoint string
	timeout  time.Duration
	client   *http.Client
	logger   *zap.Logger
}

func NewClient(endpoint string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		endpoint: strings.TrimSpace(endpoint),
		timeout:  timeout,
		client:   &http.Client{},
		logger:   logger,
	}
}

// Configured reports whether a search backend is set.
func (c *Client) Configured() bool { return c.endpoint != "" }

type searchResponse struct {
	Results []searchItem `json:"results"`
}

type searchItem struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Content string `json:"content"`
}

// Search returns up to maxResults normalized snippets. With no endpoint
// configured it returns empty immediately without touching the network.
func (c *Client) Search(ctx context.Context, query string, maxResults int) []Source {
	if c.endpoint == "" || strings.TrimSpace(query) == "" || maxResults <= 0 {
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqURL := fmt.Sprintf("%s?q=%s&n=%d", c.endpoint, url.QueryEscape(query), maxResults)
	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, reqURL, nil)
	if err != nil {
		c.logger.Warn("search request build failed", zap.Error(err))
		return nil
	}

	res, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("search backend unreachable", zap.Error(err))
		return nil
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 1<<10))
		c.logger.Warn("search backend rejected query",
			zap.Int("status", res.StatusCode), zap.String("body", string(body)))
		return nil
	}

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		c.logger.Warn("search body read failed", zap.Error(err))
		return nil
	}

	var parsed searchResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		// Some backends return a bare array.
		if err := json.Unmarshal(raw, &parsed.Results); err != nil {
			c.logger.Warn("search response not JSON", zap.Error(err))
			return nil
		}
	}

	return normalize(parsed.Results, maxResults)
}

// normalize converts raw backend items to Sources with stable S<n> ids,
// dropping entries that carry neither a URL nor any text.
func normalize(items []searchItem, maxResults int) []Source {
	out := make([]Source, 0, len(items))
	for _, it := range items {
		snippet := strings.TrimSpace(it.Snippet)
		if snippet == "" {
			snippet = strings.TrimSpace(it.Content)
		}
		u := strings.TrimSpace(it.URL)
		if u == "" && snippet == "" && strings.TrimSpace(it.Title) == "" {
			continue
		}
		out = append(out, Source{
			ID:      fmt.Sprintf("S%d", len(out)+1),
			Title:   strings.TrimSpace(it.Title),
			URL:     u,
			Snippet: snippet,
		})
		if len(out) == maxResults {
			break
		}
	}
	return out
}
