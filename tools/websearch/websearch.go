// Package websearch talks to the MCP-style tool server that fronts web
// search and page scraping. Two tools are exposed: search_engine and
// scrape_as_markdown.
package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/rfvalente/morada/internal/helpers"
	"github.com/rfvalente/morada/models"
)

const (
	defaultBaseURL     = "https://mcp.brightdata.com"
	defaultMaxAttempts = 3
	defaultTimeout     = 45 * time.Second
	backoffBase        = 500 * time.Millisecond
	backoffCap         = 8 * time.Second
)

// Config carries the tool-server settings.
type Config struct {
	APIKey      string
	BaseURL     string
	Timeout     time.Duration
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// Client is the HTTP adapter for the tool server. Both operations are
// idempotent; transient and rate-limit failures retry with backoff.
type Client struct {
	cfg    Config
	client *http.Client
	logger *log.Logger
}

// New builds the client. A nil logger gets a prefixed default.
func New(cfg Config, logger *log.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = backoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = backoffCap
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[SEARCH] ", log.LstdFlags)
	}
	return &Client{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}, logger: logger}
}

type toolRequest struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
}

// Search runs a web search through the tool server. Engine defaults to
// google.
func (c *Client) Search(ctx context.Context, query, engine string) ([]models.SearchHit, error) {
	const op = "websearch.search"
	if engine == "" {
		engine = "google"
	}
	var out struct {
		Results []struct {
			Title      string `json:"title"`
			URL        string `json:"url"`
			Snippet    string `json:"snippet"`
			DisplayURL string `json:"display_url"`
		} `json:"results"`
	}
	if err := c.call(ctx, op, toolRequest{
		Tool:      "search_engine",
		Arguments: map[string]any{"query": query, "engine": engine},
	}, &out); err != nil {
		return nil, err
	}
	hits := make([]models.SearchHit, 0, len(out.Results))
	for _, r := range out.Results {
		if strings.TrimSpace(r.URL) == "" {
			continue
		}
		hits = append(hits, models.SearchHit{
			Title:      r.Title,
			URL:        r.URL,
			Snippet:    r.Snippet,
			DisplayURL: r.DisplayURL,
		})
	}
	return hits, nil
}

// ScrapeMarkdown fetches one page as markdown.
func (c *Client) ScrapeMarkdown(ctx context.Context, url string) (string, error) {
	const op = "websearch.scrape"
	var out struct {
		Markdown string `json:"markdown"`
	}
	if err := c.call(ctx, op, toolRequest{
		Tool:      "scrape_as_markdown",
		Arguments: map[string]any{"url": url},
	}, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.Markdown) == "" {
		return "", models.E(models.KindUpstreamFatal, op, "scrape produced no content", nil)
	}
	return out.Markdown, nil
}

func (c *Client) call(ctx context.Context, op string, req toolRequest, out any) error {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return models.E(models.KindConfiguration, op, "SEARCH_PROVIDER_API_KEY is not set", nil)
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return models.E(models.KindLogic, op, "encode tool request", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			wait := helpers.Backoff(attempt-1, c.cfg.BackoffBase, c.cfg.BackoffCap)
			c.logger.Printf("retrying %s in %v (attempt %d/%d): %v", req.Tool, wait.Round(time.Millisecond), attempt+1, c.cfg.MaxAttempts, lastErr)
			if err := helpers.SleepCtx(ctx, wait); err != nil {
				return models.E(models.KindTimeout, op, "cancelled while backing off", err)
			}
		}

		err := c.doCall(ctx, op, payload, out)
		if err == nil {
			return nil
		}
		if !models.Retryable(err) {
			return err
		}
		lastErr = err
	}
	return models.E(models.KindUpstreamTransient, op, fmt.Sprintf("gave up after %d attempts", c.cfg.MaxAttempts), lastErr)
}

func (c *Client) doCall(ctx context.Context, op string, payload []byte, out any) error {
	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/call"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return models.E(models.KindLogic, op, "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return models.E(models.KindTimeout, op, "request deadline exceeded", err)
		}
		return models.E(models.KindUpstreamTransient, op, "network failure", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return models.E(models.KindUpstreamTransient, op, "read response", err)
	}

	if kind, _ := models.ClassifyHTTPStatus(resp.StatusCode); kind != models.KindUnknown {
		return models.E(kind, op, fmt.Sprintf("tool server status %d", resp.StatusCode), nil)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return models.E(models.KindUpstreamTransient, op, "malformed tool response", err)
	}
	return nil
}
