package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"kitchen-voice/internal/domain"
	"kitchen-voice/internal/infra"
	"kitchen-voice/internal/parser"
)

const DefaultModel = "claude-sonnet-4-20250514"

// ClaudeClient is a command parsing strategy backed by the Messages API.
// Requests are never retried; the caller falls back to the local grammar.
type ClaudeClient struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
	model      string
}

func NewClaudeClient(apiKey, model string, timeout time.Duration) *ClaudeClient {
	return NewClaudeClientWithURL(apiKey, model, "https://api.anthropic.com/v1", timeout)
}

func NewClaudeClientWithURL(apiKey, model, baseURL string, timeout time.Duration) *ClaudeClient {
	if model == "" {
		model = DefaultModel
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ClaudeClient{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
	}
}

func (c *ClaudeClient) Name() string {
	return "anthropic"
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	System      string    `json:"system"`
	Messages    []message `json:"messages"`
}

type response struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (c *ClaudeClient) Parse(ctx context.Context, text string, numbers domain.OrderNumberMap) (domain.CommandResult, error) {
	reqBody := request{
		Model:     c.model,
		MaxTokens: 256,
		System:    parser.SystemPrompt(numbers),
		Messages: []message{
			{Role: "user", Content: text},
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return domain.CommandResult{}, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(bodyBytes))
	if err != nil {
		return domain.CommandResult{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.CommandResult{}, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.CommandResult{}, fmt.Errorf("reading response: %w", err)
	}
	if err := infra.CheckStatus("claude", resp, respBody); err != nil {
		return domain.CommandResult{}, err
	}

	var result response
	if err = json.Unmarshal(respBody, &result); err != nil {
		return domain.CommandResult{}, fmt.Errorf("decoding response: %w", err)
	}

	var out strings.Builder
	for _, block := range result.Content {
		if block.Type == "" || block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	if out.Len() == 0 {
		return domain.CommandResult{}, fmt.Errorf("empty response from claude")
	}

	return parser.DecodeResult(out.String(), text)
}

var _ parser.Strategy = (*ClaudeClient)(nil)
