// Package wakeword provides wake-word detection backends: a keyword
// spotting server reached over a websocket and a fallback that runs
// continuous speech recognition and looks for the phrase in transcripts.
package wakeword

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"kitchen-voice/internal/application"
	"kitchen-voice/internal/infra"
)

type KeywordConfig struct {
	Endpoint    string
	AccessKey   string
	DialTimeout time.Duration
	Retry       infra.RetryConfig
}

// KeywordBackend streams PCM to a keyword spotting server and waits for a
// wake_word event.
type KeywordBackend struct {
	cfg    KeywordConfig
	dialer *websocket.Dialer
	logger *slog.Logger
}

func NewKeywordBackend(cfg KeywordConfig, logger *slog.Logger) *KeywordBackend {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = infra.DefaultRetryConfig()
	}
	return &KeywordBackend{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout},
		logger: logger,
	}
}

func (k *KeywordBackend) Name() string {
	return "keyword"
}

type configMessage struct {
	Type      string   `json:"type"`
	Enabled   bool     `json:"enabled"`
	WakeWords []string `json:"wake_words"`
	Threshold float64  `json:"threshold"`
	Timestamp float64  `json:"timestamp"`
}

type serverMessage struct {
	Type       string  `json:"type"`
	WakeWord   string  `json:"wake_word"`
	Confidence float64 `json:"confidence"`
	Message    string  `json:"message"`
}

func (k *KeywordBackend) Detect(ctx context.Context, frames <-chan application.Frame, opts application.WakeOptions) (<-chan application.WakeEvent, error) {
	if k.cfg.Endpoint == "" || k.cfg.AccessKey == "" {
		return nil, fmt.Errorf("%w: keyword server endpoint and access key are required", application.ErrBackendUnavailable)
	}

	conn, err := k.dial(ctx)
	if err != nil {
		return nil, err
	}

	cfg := configMessage{
		Type:      "wake_word_config",
		Enabled:   true,
		WakeWords: []string{opts.Phrase},
		Threshold: 1 - opts.Sensitivity,
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
	}
	if err := conn.WriteJSON(cfg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sending wake word config: %w", err)
	}
	k.logger.Debug("keyword server configured", "phrase", opts.Phrase, "threshold", cfg.Threshold)

	out := make(chan application.WakeEvent, 1)
	runCtx, cancel := context.WithCancel(ctx)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		k.stream(runCtx, conn, frames)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		k.await(ctx, conn, opts, out)
	}()
	go func() {
		<-runCtx.Done()
		conn.Close()
		wg.Wait()
		close(out)
	}()

	return out, nil
}

func (k *KeywordBackend) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+k.cfg.AccessKey)

	var conn *websocket.Conn
	err := infra.WithRetry(ctx, k.cfg.Retry, func() error {
		c, resp, err := k.dialer.DialContext(ctx, k.cfg.Endpoint, header)
		if err != nil {
			if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
				return infra.Permanent(fmt.Errorf("%w: keyword server rejected access key (%d)", application.ErrBackendUnavailable, resp.StatusCode))
			}
			return fmt.Errorf("dialing keyword server: %w", err)
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// stream forwards frames as little-endian 16-bit PCM until ctx ends.
func (k *KeywordBackend) stream(ctx context.Context, conn *websocket.Conn, frames <-chan application.Frame) {
	var buf []byte
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			buf = buf[:0]
			for _, s := range f.PCM {
				buf = append(buf, byte(s), byte(s>>8))
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, buf); err != nil {
				if ctx.Err() == nil {
					k.logger.Debug("writing audio to keyword server", "error", err)
				}
				return
			}
		}
	}
}

// await reads server messages until a detection or failure.
func (k *KeywordBackend) await(ctx context.Context, conn *websocket.Conn, opts application.WakeOptions, out chan<- application.WakeEvent) {
	for {
		var msg serverMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.ClosePolicyViolation {
				err = fmt.Errorf("%w: %s", application.ErrBackendUnavailable, closeErr.Text)
			}
			out <- application.WakeEvent{Err: fmt.Errorf("keyword server: %w", err)}
			return
		}

		switch msg.Type {
		case "wake_word":
			k.logger.Debug("keyword detected", "wake_word", msg.WakeWord, "confidence", msg.Confidence)
			out <- application.WakeEvent{Phrase: opts.Phrase, Confidence: msg.Confidence}
			return
		case "error":
			if strings.Contains(strings.ToLower(msg.Message), "permission") {
				out <- application.WakeEvent{Err: fmt.Errorf("%w: %s", application.ErrPermissionDenied, msg.Message)}
			} else {
				out <- application.WakeEvent{Err: fmt.Errorf("keyword server: %s", msg.Message)}
			}
			return
		}
	}
}

var _ application.WakeWordBackend = (*KeywordBackend)(nil)
