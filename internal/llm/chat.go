// Package llm provides the model clients: an OpenAI-compatible chat
// completion client and an Ollama embedding client with an expiring
// result cache.
package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/graph-memory-service/internal/jsonx"
	"github.com/graph-memory-service/internal/memerr"
)

// ChatClient is the surface the service depends on. Implementations
// must be safe for concurrent use.
type ChatClient interface {
	Complete(ctx context.Context, messages []ChatMessage) (string, error)
}

// ChatMessage is one turn in a chat completion request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatConfig holds settings for the OpenAI-compatible client.
type ChatConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
}

// Client talks to any OpenAI-compatible /chat/completions endpoint
// (Ollama, vLLM, hosted providers).
type Client struct {
	cfg        ChatConfig
	httpClient *http.Client
	logger     *zap.Logger
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message      ChatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// NewClient creates a chat client. Missing fields fall back to local
// Ollama defaults.
func NewClient(cfg ChatConfig, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "llama3.1:8b"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// Complete runs one chat completion and returns the first choice's
// content.
func (c *Client) Complete(ctx context.Context, messages []ChatMessage) (string, error) {
	body, err := jsonx.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	c.logger.Debug("sending chat completion",
		zap.String("model", c.cfg.Model),
		zap.Int("messages", len(messages)))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", memerr.NewUpstream("model", "chat", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return "", memerr.NewUpstream("model", "chat",
			fmt.Errorf("status %d: %s", resp.StatusCode, string(raw)))
	}

	var parsed chatResponse
	if err := jsonx.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", memerr.NewUpstream("model", "chat", fmt.Errorf("decode response: %w", err))
	}
	if len(parsed.Choices) == 0 {
		return "", memerr.NewUpstream("model", "chat", fmt.Errorf("no choices returned"))
	}

	c.logger.Debug("chat completion received",
		zap.Int("prompt_tokens", parsed.Usage.PromptTokens),
		zap.Int("completion_tokens", parsed.Usage.CompletionTokens))

	return parsed.Choices[0].Message.Content, nil
}
