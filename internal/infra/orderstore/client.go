// Package orderstore talks to the external order store that owns the
// restaurant's orders: it reads active-order snapshots and delivers
// dispatched voice commands as signed webhooks.
package orderstore

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"kitchen-voice/internal/application"
	"kitchen-voice/internal/domain"
	"kitchen-voice/internal/infra"
)

const (
	SignatureHeader = "X-Signature"
	TimestampHeader = "X-Timestamp"
)

type Client struct {
	baseURL    string
	token      string
	secret     string
	httpClient *http.Client
	retry      infra.RetryConfig
	now        func() time.Time
}

type Option func(*Client)

func WithRetryConfig(cfg infra.RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func NewClient(baseURL, token, secret string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		secret:     secret,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		retry:      infra.DefaultRetryConfig(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type ordersEnvelope struct {
	Orders []domain.Order `json:"orders"`
}

// FetchOrders returns the store's current orders. The store may answer with
// a bare array or an {"orders": [...]} envelope.
func (c *Client) FetchOrders(ctx context.Context) ([]domain.Order, error) {
	var body []byte
	err := infra.WithRetry(ctx, c.retry, func() error {
		resp, err := c.doRequest(ctx, http.MethodGet, "/orders", nil)
		if err != nil {
			return err
		}
		body = resp
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetching orders: %w", err)
	}

	orders, err := DecodeOrders(body)
	if err != nil {
		return nil, fmt.Errorf("parsing orders: %w", err)
	}
	return orders, nil
}

// DecodeOrders accepts a bare JSON array of orders or an {"orders": [...]}
// envelope.
func DecodeOrders(body []byte) ([]domain.Order, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var orders []domain.Order
		if err := json.Unmarshal(trimmed, &orders); err != nil {
			return nil, err
		}
		return orders, nil
	}

	var env ordersEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, err
	}
	return env.Orders, nil
}

type webhook struct {
	Event   string              `json:"event"`
	SentAt  time.Time           `json:"sentAt"`
	Command domain.VoiceCommand `json:"command"`
}

// ApplyCommand posts the command to the store's webhook. It is sent once;
// the store is not assumed to deduplicate.
func (c *Client) ApplyCommand(ctx context.Context, cmd domain.VoiceCommand) error {
	body, err := json.Marshal(webhook{Event: "voice_command", SentAt: c.now().UTC(), Command: cmd})
	if err != nil {
		return fmt.Errorf("marshaling webhook: %w", err)
	}
	if _, err := c.doRequest(ctx, http.MethodPost, "/webhooks/voice-command", body); err != nil {
		return fmt.Errorf("delivering command: %w", err)
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, infra.Permanent(fmt.Errorf("creating request: %w", err))
	}

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.secret != "" {
		ts := strconv.FormatInt(c.now().Unix(), 10)
		req.Header.Set(TimestampHeader, ts)
		req.Header.Set(SignatureHeader, Sign(c.secret, ts, body))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if err := infra.CheckStatus("order store", resp, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// Sign returns the hex HMAC-SHA256 of "timestamp.body" under secret.
func Sign(secret, timestamp string, body []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(timestamp))
	h.Write([]byte("."))
	h.Write(body)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// Verify checks a signature produced by Sign.
func Verify(secret, timestamp string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, timestamp, body)), []byte(signature))
}

var _ application.OrderStore = (*Client)(nil)
