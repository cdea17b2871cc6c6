// Package llm talks to an OpenAI-compatible chat-completions endpoint to
// turn video metadata into encoder command lines.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jmylchreest/compressarr/internal/urlutil"
	"github.com/jmylchreest/compressarr/pkg/httpclient"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the chat-completions payload.
type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

// chatResponse is the subset of the chat-completions answer that gets read.
type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *apiError `json:"error"`
}

// apiError is the error envelope compatible endpoints return.
type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Config holds everything needed to reach the endpoint.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// Client calls a chat-completions endpoint through the resilient HTTP
// client, so retries, backoff, and circuit breaking apply to model calls.
type Client struct {
	http        *httpclient.Client
	endpoint    string
	apiKey      string
	model       string
	temperature float64
	logger      *slog.Logger
}

// NewClient creates a chat-completions client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	hcfg := httpclient.DefaultConfig()
	hcfg.Logger = logger
	if cfg.Timeout > 0 {
		hcfg.Timeout = cfg.Timeout
	}

	return &Client{
		http:        httpclient.New(hcfg),
		endpoint:    endpointURL(cfg.BaseURL),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		logger:      logger,
	}
}

// endpointURL composes the chat-completions URL, tolerating bases that
// already carry the /v1 prefix (LM Studio, vLLM, and llama.cpp all serve
// one).
func endpointURL(baseURL string) string {
	base := urlutil.NormalizeBaseURL(strings.TrimSpace(baseURL))
	base = strings.TrimSuffix(base, "/")
	if strings.HasSuffix(base, "/v1") {
		return urlutil.JoinPath(base, "/chat/completions")
	}
	return urlutil.JoinPath(base, "/v1/chat/completions")
}

// Complete sends one system+user exchange and returns the assistant's text.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: c.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("encoding chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("creating chat request: %w", err)
	}
	req.Header.Set(httpclient.HeaderContentType, "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling chat completions: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading chat response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var parsed chatResponse
		if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != nil && parsed.Error.Message != "" {
			return "", fmt.Errorf("chat completions returned %d: %s", resp.StatusCode, parsed.Error.Message)
		}
		return "", fmt.Errorf("chat completions returned %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("parsing chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("chat completions returned no choices")
	}

	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

// CircuitStats exposes the underlying breaker state for status reporting.
func (c *Client) CircuitStats() httpclient.BreakerStats {
	return c.http.CircuitStats("chat-completions")
}
