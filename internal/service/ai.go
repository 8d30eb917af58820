package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/davet/prodsync/internal/config"
	"github.com/davet/prodsync/internal/jsonx"
)

// Completer is the AI completion surface the enrichment stages depend on.
// Tests substitute an in-memory fake.
type Completer interface {
	CompleteJSON(ctx context.Context, system, user string, maxTokens int, out interface{}) error
}

// AIClient calls an OpenAI-compatible chat completions endpoint.
type AIClient struct {
	client      *resty.Client
	model       string
	endpoint    string
	temperature float32
}

// NewAIClient creates a new AI client from config.
// Parameters:
//   - cfg: AI configuration including model, API key and base URL.
// Returns:
//   - *AIClient: initialized client wrapper.
func NewAIClient(cfg *config.AIConfig) *AIClient {
	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	// Set timeout to prevent hanging requests
	client.SetTimeout(60 * time.Second)

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	return &AIClient{
		client:      client,
		model:       cfg.Model,
		endpoint:    baseURL + "/chat/completions",
		temperature: cfg.Temperature,
	}
}

// OpenAI-compatible Chat Completion API request/response structures
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
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
	} `json:"error,omitempty"`
}

// Complete sends one system/user message pair and returns the assistant text.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - system: system prompt.
//   - user: user prompt.
//   - maxTokens: completion token budget.
// Returns:
//   - string: assistant message content.
//   - error: non-nil if the API request fails.
func (c *AIClient) Complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	req := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: c.temperature,
		MaxTokens:   maxTokens,
	}

	var resp chatResponse
	httpResp, err := c.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		Post(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("failed to call AI API: %w", err)
	}

	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		errorMsg := fmt.Sprintf("HTTP %d", httpResp.StatusCode())
		if resp.Error != nil {
			errorMsg = fmt.Sprintf("HTTP %d: %s", httpResp.StatusCode(), resp.Error.Message)
		} else {
			errorMsg = fmt.Sprintf("HTTP %d: %s", httpResp.StatusCode(), string(httpResp.Body()))
		}
		return "", fmt.Errorf("AI API returned error: %s", errorMsg)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("AI API error: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from AI API (status: %d)", httpResp.StatusCode())
	}
	return resp.Choices[0].Message.Content, nil
}

// CompleteJSON runs Complete and extracts the first recoverable JSON value
// from the completion into out. Callers fail their own stage on error; a
// malformed completion never aborts the surrounding pipeline.
func (c *AIClient) CompleteJSON(ctx context.Context, system, user string, maxTokens int, out interface{}) error {
	text, err := c.Complete(ctx, system, user, maxTokens)
	if err != nil {
		return err
	}
	if err := jsonx.Extract(text, out); err != nil {
		return fmt.Errorf("failed to parse AI response: %w", err)
	}
	return nil
}
