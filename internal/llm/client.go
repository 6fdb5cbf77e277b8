// Package llm is the single gateway to the chat-completion service. Every
// agent talks to the model through it; it owns retries, per-attempt
// timeouts, and the JSON coercion contract.
package llm

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
	defaultBaseURL        = "https://api.openai.com/v1"
	defaultModel          = "gpt-4o-mini"
	defaultPoolSize       = 32
	defaultAttemptTimeout = 30 * time.Second
	defaultMaxAttempts    = 3
	backoffBase           = 500 * time.Millisecond
	backoffCap            = 8 * time.Second

	// jsonRepairPasses bounds how many model responses one CompleteJSON call
	// may consume: the initial answer plus one stricter re-issue.
	jsonRepairPasses = 2

	strictJSONInstruction = "Return ONLY a single valid JSON document. " +
		"No markdown fences, no commentary, no trailing commas."
)

// Config carries the gateway settings. Zero values fall back to defaults.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	PoolSize       int
	AttemptTimeout time.Duration
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffCap     time.Duration

	// OnRetry, when set, is invoked once per retried attempt. The server wires
	// it to a counter.
	OnRetry func()
}

// Request is one completion call. MaxTokens <= 0 lets the service decide.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Client is safe for unlimited concurrent callers; the underlying transport
// bounds connections per host.
type Client struct {
	cfg    Config
	client *http.Client
	logger *log.Logger
}

// New builds the gateway client. A nil logger gets a prefixed default.
func New(cfg Config, logger *log.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = defaultPoolSize
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = defaultAttemptTimeout
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
		logger = log.New(log.Writer(), "[LLM] ", log.LstdFlags)
	}
	transport := &http.Transport{
		MaxIdleConns:        cfg.PoolSize,
		MaxIdleConnsPerHost: cfg.PoolSize,
		MaxConnsPerHost:     cfg.PoolSize,
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Transport: transport},
		logger: logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete performs one chat completion and returns the raw assistant text.
// Transient upstream failures are retried with jittered exponential backoff;
// auth and other 4xx failures surface immediately.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	const op = "llm.complete"
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return "", models.E(models.KindConfiguration, op, "LLM_API_KEY is not set", nil)
	}

	body := chatRequest{
		Model:       c.cfg.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.System != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: req.Prompt})

	payload, err := json.Marshal(body)
	if err != nil {
		return "", models.E(models.KindLogic, op, "encode request", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			wait := helpers.Backoff(attempt-1, c.cfg.BackoffBase, c.cfg.BackoffCap)
			c.logger.Printf("retrying completion in %v (attempt %d/%d): %v", wait.Round(time.Millisecond), attempt+1, c.cfg.MaxAttempts, lastErr)
			if err := helpers.SleepCtx(ctx, wait); err != nil {
				return "", models.E(models.KindTimeout, op, "cancelled while backing off", err)
			}
			if c.cfg.OnRetry != nil {
				c.cfg.OnRetry()
			}
		}

		text, err := c.doAttempt(ctx, payload)
		if err == nil {
			return text, nil
		}
		if !models.Retryable(err) {
			return "", err
		}
		lastErr = err
	}
	return "", models.E(models.KindUpstreamTransient, op, fmt.Sprintf("gave up after %d attempts", c.cfg.MaxAttempts), lastErr)
}

func (c *Client) doAttempt(ctx context.Context, payload []byte) (string, error) {
	const op = "llm.complete"
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
	defer cancel()

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", models.E(models.KindLogic, op, "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", models.E(models.KindTimeout, op, "request deadline exceeded", err)
		}
		return "", models.E(models.KindUpstreamTransient, op, "network failure", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", models.E(models.KindUpstreamTransient, op, "read response", err)
	}

	if kind, _ := models.ClassifyHTTPStatus(resp.StatusCode); kind != models.KindUnknown {
		return "", models.E(kind, op, upstreamMessage(raw, resp.StatusCode), nil)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", models.E(models.KindUpstreamTransient, op, "malformed completion envelope", err)
	}
	if parsed.Error != nil {
		return "", models.E(models.KindUpstreamFatal, op, parsed.Error.Message, nil)
	}
	if len(parsed.Choices) == 0 {
		return "", models.E(models.KindUpstreamTransient, op, "completion had no choices", nil)
	}
	return parsed.Choices[0].Message.Content, nil
}

func upstreamMessage(raw []byte, status int) string {
	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error != nil && parsed.Error.Message != "" {
		return fmt.Sprintf("upstream %d: %s", status, parsed.Error.Message)
	}
	return fmt.Sprintf("upstream status %d", status)
}

// CompleteJSON runs Complete under the JSON contract: the answer must parse
// (after the repair ladder) and unmarshal into out. One stricter re-issue is
// allowed before the call fails with a parse-kind error.
func (c *Client) CompleteJSON(ctx context.Context, req Request, out any) error {
	const op = "llm.complete_json"
	var lastErr error
	for pass := 0; pass < jsonRepairPasses; pass++ {
		attempt := req
		if pass > 0 {
			attempt.System = strings.TrimSpace(req.System + "\n\n" + strictJSONInstruction)
		}
		raw, err := c.Complete(ctx, attempt)
		if err != nil {
			return err
		}
		doc, err := RepairJSON(raw)
		if err != nil {
			lastErr = err
			c.logger.Printf("json repair pass %d failed: %v", pass+1, err)
			continue
		}
		if err := json.Unmarshal([]byte(doc), out); err != nil {
			lastErr = err
			c.logger.Printf("json decode pass %d failed: %v", pass+1, err)
			continue
		}
		return nil
	}
	return models.E(models.KindParse, op, "model output stayed unparseable", lastErr)
}
