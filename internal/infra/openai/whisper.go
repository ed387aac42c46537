package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"kitchen-voice/internal/application"
	"kitchen-voice/internal/infra"
)

const DefaultBaseURL = "https://api.openai.com/v1"

type WhisperClient struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
	language   string
	model      string
	retry      infra.RetryConfig
}

type Option func(*WhisperClient)

func WithBaseURL(url string) Option {
	return func(c *WhisperClient) {
		if url != "" {
			c.baseURL = strings.TrimRight(url, "/")
		}
	}
}

func WithModel(model string) Option {
	return func(c *WhisperClient) {
		if model != "" {
			c.model = model
		}
	}
}

func WithRetryConfig(cfg infra.RetryConfig) Option {
	return func(c *WhisperClient) { c.retry = cfg }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *WhisperClient) { c.httpClient = hc }
}

func NewWhisperClient(apiKey, language string, opts ...Option) *WhisperClient {
	c := &WhisperClient{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    DefaultBaseURL,
		language:   language,
		model:      "whisper-1",
		retry:      infra.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type transcriptionSegment struct {
	Text         string  `json:"text"`
	AvgLogprob   float64 `json:"avg_logprob"`
	NoSpeechProb float64 `json:"no_speech_prob"`
}

type transcriptionResponse struct {
	Text     string                 `json:"text"`
	Language string                 `json:"language"`
	Segments []transcriptionSegment `json:"segments"`
}

// Transcribe sends a WAV utterance to the transcription endpoint. The
// returned confidence is derived from the segments' mean log-probability.
func (c *WhisperClient) Transcribe(ctx context.Context, audio []byte) (application.Transcript, error) {
	var result transcriptionResponse

	retryErr := infra.WithRetry(ctx, c.retry, func() error {
		body, contentType, err := c.form(audio)
		if err != nil {
			return infra.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", body)
		if err != nil {
			return infra.Permanent(fmt.Errorf("creating request: %w", err))
		}

		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", contentType)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("sending request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading response: %w", err)
		}
		if err := infra.CheckStatus("whisper", resp, respBody); err != nil {
			return err
		}

		if err := json.Unmarshal(respBody, &result); err != nil {
			return infra.Permanent(fmt.Errorf("decoding response: %w", err))
		}
		return nil
	})

	if retryErr != nil {
		return application.Transcript{}, retryErr
	}

	text := strings.TrimSpace(result.Text)
	confidence := segmentConfidence(result.Segments)
	return application.Transcript{
		Text:         text,
		Confidence:   confidence,
		Final:        true,
		Alternatives: []application.Alternative{{Text: text, Confidence: confidence}},
	}, nil
}

func (c *WhisperClient) form(audio []byte) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err = part.Write(audio); err != nil {
		return nil, "", fmt.Errorf("writing audio: %w", err)
	}

	fields := map[string]string{
		"model":           c.model,
		"response_format": "verbose_json",
	}
	if c.language != "" {
		fields["language"] = c.language
	}
	for k, v := range fields {
		if err = writer.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("writing %s field: %w", k, err)
		}
	}

	if err = writer.Close(); err != nil {
		return nil, "", fmt.Errorf("closing writer: %w", err)
	}
	return body, writer.FormDataContentType(), nil
}

// segmentConfidence maps segment log-probabilities to [0,1], discounted by the
// model's no-speech probability. Zero segments yield zero.
func segmentConfidence(segments []transcriptionSegment) float64 {
	if len(segments) == 0 {
		return 0
	}
	var logprob, speech float64
	for _, s := range segments {
		logprob += s.AvgLogprob
		speech += 1 - s.NoSpeechProb
	}
	n := float64(len(segments))
	conf := math.Exp(logprob/n) * (speech / n)
	return math.Max(0, math.Min(1, conf))
}

var _ application.SpeechToText = (*WhisperClient)(nil)
