package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"kitchen-voice/internal/domain"
	"kitchen-voice/internal/parser"
)

const DefaultModel = "gemini-2.0-flash"

var ErrEmptyResponse = errors.New("no response from Gemini API")

// Client is a command parsing strategy backed by Gemini. The SDK client is
// created on first use so a bad key surfaces as a parse error and the
// caller falls back to the local grammar.
type Client struct {
	apiKey    string
	modelName string
	opts      []option.ClientOption

	mu     sync.Mutex
	client *genai.Client
}

func NewClient(apiKey, model string, opts ...option.ClientOption) *Client {
	if model == "" {
		model = DefaultModel
	}
	return &Client{apiKey: apiKey, modelName: model, opts: opts}
}

func (c *Client) Name() string {
	return "gemini"
}

func (c *Client) sdk(ctx context.Context) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	if c.apiKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	opts := append([]option.ClientOption{option.WithAPIKey(c.apiKey)}, c.opts...)
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	c.client = client
	return client, nil
}

func (c *Client) model(client *genai.Client, numbers domain.OrderNumberMap) *genai.GenerativeModel {
	model := client.GenerativeModel(c.modelName)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(parser.SystemPrompt(numbers))}}
	model.ResponseMIMEType = "application/json"
	model.SetTemperature(0)
	model.SetMaxOutputTokens(256)
	return model
}

func (c *Client) Parse(ctx context.Context, text string, numbers domain.OrderNumberMap) (domain.CommandResult, error) {
	client, err := c.sdk(ctx)
	if err != nil {
		return domain.CommandResult{}, err
	}

	res, err := c.model(client, numbers).GenerateContent(ctx, genai.Text(text))
	if err != nil {
		return domain.CommandResult{}, fmt.Errorf("generating content: %w", err)
	}

	raw, err := ResponseText(res)
	if err != nil {
		return domain.CommandResult{}, err
	}
	return parser.DecodeResult(raw, text)
}

// ResponseText joins the text parts of the first candidate.
func ResponseText(res *genai.GenerateContentResponse) (string, error) {
	if res == nil || len(res.Candidates) == 0 || res.Candidates[0].Content == nil {
		return "", ErrEmptyResponse
	}
	var b strings.Builder
	for _, p := range res.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	if b.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return b.String(), nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

var _ parser.Strategy = (*Client)(nil)
