// Package ai classifies and summarizes messages with a hosted language
// model.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/nhle/mailsweep/internal/apperr"
	"github.com/nhle/mailsweep/internal/model"
)

const (
	defaultModel     = "claude-sonnet-4-5-20250929"
	defaultMaxTokens = 512
	defaultBaseURL   = "https://api.anthropic.com"
	messagesPath     = "/v1/messages"
	apiVersion       = "2023-06-01"
)

// Completer sends one prompt and returns the text of the reply.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Client calls the Claude Messages API.
type Client struct {
	baseURL   string
	apiKey    string
	model     string
	maxTokens int
	client    *http.Client
}

var _ Completer = (*Client)(nil)

// NewClient creates a Client from cfg. httpClient may be nil.
func NewClient(cfg model.AIConfig, httpClient *http.Client) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		client:    httpClient,
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.model == "" {
		c.model = defaultModel
	}
	if c.maxTokens <= 0 {
		c.maxTokens = defaultMaxTokens
	}
	if c.client == nil {
		c.client = &http.Client{}
	}
	return c
}

// Complete makes a single request. Rate limiting, overload and server
// errors are transient; a rejected key is an auth error. Any other
// rejection means the request itself is wrong.
func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	const op = "ai.Complete"

	reqBody := apiRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    system,
		Messages: []apiMessage{{
			Role:    "user",
			Content: []apiContentBlock{{Type: "text", Text: prompt}},
		}},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+messagesPath, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", apperr.Wrap(apperr.KindConfig, op, "creating request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", apperr.Wrap(apperr.KindTransient, op, "calling AI service", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperr.Wrap(apperr.KindTransient, op, "reading response", err)
	}

	if resp.StatusCode != http.StatusOK {
		detail := string(respBody)
		var apiErr apiErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			detail = apiErr.Error.Message
		}
		return "", apperr.Wrap(statusKind(resp.StatusCode), op,
			fmt.Sprintf("AI service error (%d)", resp.StatusCode), fmt.Errorf("%s", detail))
	}

	var result apiResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", apperr.Wrap(apperr.KindFormat, op, "decoding response", err)
	}

	var sb strings.Builder
	for _, block := range result.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

func statusKind(status int) apperr.Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperr.KindAuth
	case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500:
		return apperr.KindTransient
	default:
		return apperr.KindConfig
	}
}

// --- Claude API types ---

type apiRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	System    string       `json:"system,omitempty"`
	Messages  []apiMessage `json:"messages"`
}

type apiMessage struct {
	Role    string            `json:"role"`
	Content []apiContentBlock `json:"content"`
}

type apiContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type apiResponse struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Role       string            `json:"role"`
	Content    []apiContentBlock `json:"content"`
	Model      string            `json:"model"`
	StopReason string            `json:"stop_reason"`
}

type apiErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
