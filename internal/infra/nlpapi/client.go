// Package nlpapi calls a hosted command parsing endpoint that takes the
// utterance and the current order numbering and answers with a command.
package nlpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"kitchen-voice/internal/domain"
	"kitchen-voice/internal/infra"
	"kitchen-voice/internal/parser"
)

type Client struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

func NewClient(url, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		url:        url,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Name() string {
	return "endpoint"
}

type request struct {
	Text           string            `json:"text"`
	OrderNumberMap map[string]string `json:"orderNumberMap,omitempty"`
}

// Parse makes one attempt. Any transport failure, non-2xx status or
// undecodable body is returned as an error.
func (c *Client) Parse(ctx context.Context, text string, numbers domain.OrderNumberMap) (domain.CommandResult, error) {
	body := request{Text: text}
	if numbers.Len() > 0 {
		body.OrderNumberMap = numbers.Numbers()
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return domain.CommandResult{}, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return domain.CommandResult{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.CommandResult{}, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return domain.CommandResult{}, fmt.Errorf("reading response: %w", err)
	}
	if err := infra.CheckStatus("nlp", resp, respBody); err != nil {
		return domain.CommandResult{}, err
	}

	return parser.DecodeResult(string(respBody), text)
}

var _ parser.Strategy = (*Client)(nil)
