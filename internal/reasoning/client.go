package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/spectrad/internal/state"
)

const analyzePrompt = `You are the analysis planner for a radiation spectrum analysis assistant.
Classify the request and break it into tasks. Respond with JSON only:
{
  "task_type": "consultation|data_analysis|expert_analysis|multi_step|tool_execution",
  "priority": "low|medium|high|urgent",
  "reasoning": "...",
  "tasks": [
    {"description": "...", "role": "consultant|data_analyst|expert|tool_runner",
     "capabilities": ["..."], "expected_output": "..."}
  ]
}`

const scorePrompt = `You are a quality reviewer for an analysis workflow.
Rate the recent execution window from 0.0 to 1.0.
Respond with JSON only: {"score": 0.0, "reasoning": "..."}`

// ClientConfig configures the chat-completions reasoning client.
type ClientConfig struct {
	BaseURL   string        `koanf:"base_url"`
	APIKey    string        `koanf:"api_key"`
	Model     string        `koanf:"model"`
	MaxTokens int           `koanf:"max_tokens"`
	Timeout   time.Duration `koanf:"timeout"`
}

// DefaultClientConfig returns client defaults; BaseURL stays empty so the
// client is off unless explicitly configured.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Model:     "gpt-4o-mini",
		MaxTokens: 2048,
		Timeout:   60 * time.Second,
	}
}

// Client implements Analyzer against an OpenAI-compatible chat-completions
// endpoint.
type Client struct {
	cfg    ClientConfig
	http   *http.Client
	logger *zap.Logger
}

// NewClient creates a reasoning client.
func NewClient(cfg ClientConfig, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("reasoning: base_url is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("reasoning: model is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

// Analyze implements Analyzer. Malformed model output degrades to the
// fallback analysis; only transport failures surface as errors.
func (c *Client) Analyze(ctx context.Context, query string, history []state.Message) (*Analysis, error) {
	messages := []map[string]string{{"role": "system", "content": analyzePrompt}}
	for _, m := range recentHistory(history, 10) {
		messages = append(messages, map[string]string{"role": string(m.Role), "content": m.Content})
	}
	messages = append(messages, map[string]string{"role": "user", "content": query})

	content, err := c.complete(ctx, messages)
	if err != nil {
		return nil, err
	}
	return ParseAnalysis(content, query), nil
}

// Score implements Analyzer.
func (c *Client) Score(ctx context.Context, window string) (float64, string, error) {
	content, err := c.complete(ctx, []map[string]string{
		{"role": "system", "content": scorePrompt},
		{"role": "user", "content": window},
	})
	if err != nil {
		return 0, "", err
	}

	raw := ExtractJSON(content)
	if raw == "" {
		return 0, "", fmt.Errorf("reasoning: score response is not structured")
	}
	score := gjson.Get(raw, "score").Float()
	if score < 0 || score > 1 {
		return 0, "", fmt.Errorf("reasoning: score %v out of range", score)
	}
	return score, gjson.Get(raw, "reasoning").String(), nil
}

// complete performs one chat-completions round trip and returns the
// assistant message content.
func (c *Client) complete(ctx context.Context, messages []map[string]string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"model":      c.cfg.Model,
		"messages":   messages,
		"max_tokens": c.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("reasoning: marshal request: %w", err)
	}

	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("reasoning: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("reasoning: request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reasoning: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("reasoning: endpoint returned %d: %s", resp.StatusCode, truncate(string(payload), 200))
	}

	content := gjson.GetBytes(payload, "choices.0.message.content").String()
	if content == "" {
		return "", fmt.Errorf("reasoning: empty completion")
	}
	return content, nil
}

func recentHistory(history []state.Message, n int) []state.Message {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
