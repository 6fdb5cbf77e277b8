// Package telephony drives an outbound voice-agent provider with a
// Vapi-style REST surface: configure an assistant, place a phone call, poll
// it to a terminal state.
package telephony

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

	"github.com/rfvalente/morada/models"
)

const (
	defaultBaseURL = "https://api.vapi.ai"
	defaultTimeout = 30 * time.Second
)

// Terminal call statuses.
const (
	StatusEnded    = "ended"
	StatusFailed   = "failed"
	StatusTimedOut = "timed_out"
)

type Config struct {
	APIKey        string
	BaseURL       string
	AssistantID   string
	PhoneNumberID string
	Timeout       time.Duration
}

type Client struct {
	cfg    Config
	client *http.Client
	logger *log.Logger
}

func New(cfg Config, logger *log.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[CALL] ", log.LstdFlags)
	}
	return &Client{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}, logger: logger}
}

// Call is the subset of the provider's call object we act on.
type Call struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	Summary    string `json:"summary"`
	Transcript string `json:"transcript"`
}

// Terminal reports whether the call has reached a final status.
func (c Call) Terminal() bool {
	switch c.Status {
	case StatusEnded, StatusFailed, StatusTimedOut:
		return true
	}
	return false
}

// UpdateAssistant rewrites the assistant's system prompt and first message so
// the next call opens with the negotiation brief.
func (c *Client) UpdateAssistant(ctx context.Context, systemPrompt, firstMessage string) error {
	const op = "telephony.update_assistant"
	if err := c.preflight(op); err != nil {
		return err
	}

	body := map[string]any{
		"firstMessage": firstMessage,
		"model": map[string]any{
			"messages": []map[string]string{
				{"role": "system", "content": systemPrompt},
			},
		},
	}
	return c.do(ctx, op, http.MethodPatch, "/assistant/"+c.cfg.AssistantID, body, nil)
}

// CreateCall places an outbound call to number (E.164) and returns the
// provider's call id.
func (c *Client) CreateCall(ctx context.Context, number string) (string, error) {
	const op = "telephony.create_call"
	if err := c.preflight(op); err != nil {
		return "", err
	}
	number = NormalizeE164(number)
	if number == "" {
		return "", models.E(models.KindLogic, op, "no target phone number", nil)
	}

	body := map[string]any{
		"assistantId":   c.cfg.AssistantID,
		"phoneNumberId": c.cfg.PhoneNumberID,
		"customer":      map[string]string{"number": number},
	}
	var call Call
	if err := c.do(ctx, op, http.MethodPost, "/call/phone", body, &call); err != nil {
		return "", err
	}
	if call.ID == "" {
		return "", models.E(models.KindParse, op, "provider returned no call id", nil)
	}
	c.logger.Printf("call %s created to %s", call.ID, number)
	return call.ID, nil
}

// GetCall fetches the current state of a call.
func (c *Client) GetCall(ctx context.Context, id string) (Call, error) {
	const op = "telephony.get_call"
	if err := c.preflight(op); err != nil {
		return Call{}, err
	}

	var payload struct {
		ID       string `json:"id"`
		Status   string `json:"status"`
		Analysis struct {
			Summary string `json:"summary"`
		} `json:"analysis"`
		Transcript string `json:"transcript"`
	}
	if err := c.do(ctx, op, http.MethodGet, "/call/"+id, nil, &payload); err != nil {
		return Call{}, err
	}
	return Call{
		ID:         payload.ID,
		Status:     payload.Status,
		Summary:    payload.Analysis.Summary,
		Transcript: payload.Transcript,
	}, nil
}

func (c *Client) preflight(op string) error {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return models.E(models.KindConfiguration, op, "TELEPHONY_API_KEY is not set", nil)
	}
	if strings.TrimSpace(c.cfg.AssistantID) == "" {
		return models.E(models.KindConfiguration, op, "TELEPHONY_ASSISTANT_ID is not set", nil)
	}
	return nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return models.E(models.KindUpstreamFatal, op, "encoding request", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return models.E(models.KindUpstreamFatal, op, "building request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return models.E(models.KindTimeout, op, "request cancelled", err)
		}
		return models.E(models.KindUpstreamTransient, op, "request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return models.E(models.KindUpstreamTransient, op, "reading response", err)
	}
	if kind, _ := models.ClassifyHTTPStatus(resp.StatusCode); kind != models.KindUnknown {
		return models.E(kind, op, fmt.Sprintf("provider returned status %d", resp.StatusCode), nil)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return models.E(models.KindParse, op, "decoding response", err)
	}
	return nil
}

// NormalizeE164 coerces a dialable number into E.164: strips separators,
// turns a leading "00" into "+", and prefixes "+" onto bare digits. Returns
// "" when nothing dialable remains.
func NormalizeE164(raw string) string {
	var digits strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	s := digits.String()
	if s == "" {
		return ""
	}
	s = strings.TrimPrefix(s, "00")
	return "+" + s
}
