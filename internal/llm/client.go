// Package llm provides the text generators behind the generative narrative.
//
// Usage:
//
//	client, err := llm.New(endpoint, apiKey, llm.WithModel("gpt-4.1-mini"), llm.WithTimeout(8*time.Second))
//	text, err := client.GenerateText(ctx, prompt)
//
// Prompts and keys are never logged; only their sizes are.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nneupane1/telemetry-agent/internal/config"
	"github.com/nneupane1/telemetry-agent/internal/logging"
)

// ErrNotConfigured is returned by FromConfig when no provider is set up.
var ErrNotConfigured = errors.New("llm: provider not configured")

const systemPrompt = "You are a careful fleet maintenance analyst. Answer only from the facts provided."

// Client talks to an OpenAI-compatible chat completions API.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
	logger      *slog.Logger
}

// Option configures the Client during construction.
type Option func(*clientConfig) error

type clientConfig struct {
	httpClient  *http.Client
	logger      *slog.Logger
	timeout     time.Duration
	model       string
	temperature float64
	maxTokens   int
}

// New creates a Client for the API rooted at baseURL (for example
// https://api.openai.com/v1). The key is sent as a bearer token.
func New(baseURL, apiKey string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("llm: baseURL is required")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	cfg := &clientConfig{model: "gpt-4.1-mini", temperature: 0.2, maxTokens: 1024}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	httpClient := cfg.httpClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.timeout > 0 {
		// The caller may share its client; the timeout applies to ours only.
		c := *httpClient
		c.Timeout = cfg.timeout
		httpClient = &c
	}
	logger := cfg.logger
	if logger == nil {
		logger = logging.New("llm")
	}

	return &Client{
		baseURL:     baseURL,
		apiKey:      apiKey,
		model:       cfg.model,
		temperature: cfg.temperature,
		maxTokens:   cfg.maxTokens,
		httpClient:  httpClient,
		logger:      logger,
	}, nil
}

// FromConfig builds a Client from the llm configuration section.
func FromConfig(c config.LLM) (*Client, error) {
	if c.Provider == "" || c.APIKey == "" {
		return nil, ErrNotConfigured
	}
	if c.Provider != "openai" {
		return nil, fmt.Errorf("llm: unknown provider %q", c.Provider)
	}
	return New(c.Endpoint, c.APIKey,
		WithModel(c.Model),
		WithTimeout(c.Timeout),
		WithSampling(c.Temperature, c.MaxTokens),
	)
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *clientConfig) error {
		cfg.httpClient = c
		return nil
	}
}

// WithLogger configures structured logging.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *clientConfig) error {
		cfg.logger = l
		return nil
	}
}

// WithTimeout sets a timeout on the HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(cfg *clientConfig) error {
		cfg.timeout = d
		return nil
	}
}

func WithModel(model string) Option {
	return func(cfg *clientConfig) error {
		if model != "" {
			cfg.model = model
		}
		return nil
	}
}

// WithSampling sets temperature and the completion token limit.
func WithSampling(temperature float64, maxTokens int) Option {
	return func(cfg *clientConfig) error {
		if temperature < 0 || temperature > 2 {
			return fmt.Errorf("llm: temperature %v out of range [0,2]", temperature)
		}
		cfg.temperature = temperature
		if maxTokens > 0 {
			cfg.maxTokens = maxTokens
		}
		return nil
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// GenerateText asks the model to complete prompt. It returns when ctx is done.
func (c *Client) GenerateText(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("generate text: encode request: %w", err)
	}
	c.logger.DebugContext(ctx, "chat completion requested", "model", c.model, "prompt_chars", len(prompt))

	var resp chatResponse
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/chat/completions", "generate text", bytes.NewReader(body), &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("generate text: response has no choices")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	c.logger.DebugContext(ctx, "chat completion received", "model", c.model, "text_chars", len(text),
		"finish_reason", resp.Choices[0].FinishReason)
	return text, nil
}

// Probe checks that the API is reachable and accepts the key.
func (c *Client) Probe(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, c.baseURL+"/models", "probe", nil, nil)
}

// doJSON executes an HTTP request and decodes the JSON response into dst.
// If the response has an error status, it returns an *APIError.
func (c *Client) doJSON(ctx context.Context, method, url, operation string, body io.Reader, dst any) error {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", operation, err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: do request: %w", operation, err)
	}
	defer resp.Body.Close()

	c.logger.DebugContext(ctx, "API response", "operation", operation, "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var errRS errorResponse
		if json.Unmarshal(respBody, &errRS) == nil && errRS.Error.Message != "" {
			return newAPIError(operation, resp.StatusCode, errRS.Error.Type, errRS.Error.Message)
		}
		msg := strings.TrimSpace(string(respBody))
		if msg == "" {
			msg = resp.Status
		}
		return newAPIError(operation, resp.StatusCode, "", msg)
	}

	if dst != nil {
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			return fmt.Errorf("%s: decode response: %w", operation, err)
		}
	}
	return nil
}
