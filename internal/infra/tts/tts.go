// Package tts speaks short responses, preferring a cloud voice and falling
// back to a synthesizer on the host.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"runtime"
	"time"

	"kitchen-voice/internal/application"
	"kitchen-voice/internal/infra"
)

// Player plays an encoded audio clip.
type Player interface {
	Play(ctx context.Context, clip []byte) error
}

// CloudSpeaker posts {text} to a TTS endpoint and plays the returned audio.
// It makes a single attempt.
type CloudSpeaker struct {
	url        string
	apiKey     string
	httpClient *http.Client
	player     Player
}

func NewCloudSpeaker(url, apiKey string, timeout time.Duration, player Player) *CloudSpeaker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &CloudSpeaker{
		url:        url,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		player:     player,
	}
}

func (c *CloudSpeaker) Speak(ctx context.Context, text string) error {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	clip, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return fmt.Errorf("reading audio: %w", err)
	}
	if err := infra.CheckStatus("tts", resp, clip); err != nil {
		return err
	}
	if len(clip) == 0 {
		return errors.New("tts returned no audio")
	}
	return c.player.Play(ctx, clip)
}

// LocalSpeaker runs an on-device synthesizer such as espeak-ng or say.
type LocalSpeaker struct {
	binary string
	args   []string
}

// NewLocalSpeaker uses binary, or the platform default when empty. The text
// is passed as the final argument.
func NewLocalSpeaker(binary, voice string) *LocalSpeaker {
	if binary == "" {
		binary = "espeak-ng"
		if runtime.GOOS == "darwin" {
			binary = "say"
		}
	}
	var args []string
	if voice != "" {
		args = append(args, "-v", voice)
	}
	return &LocalSpeaker{binary: binary, args: args}
}

func (l *LocalSpeaker) Speak(ctx context.Context, text string) error {
	path, err := exec.LookPath(l.binary)
	if err != nil {
		return fmt.Errorf("speech synthesizer %q not found: %w", l.binary, err)
	}
	args := append(append([]string(nil), l.args...), text)
	out, err := exec.CommandContext(ctx, path, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("running %s: %w (%s)", l.binary, err, bytes.TrimSpace(out))
	}
	return nil
}

// FallbackSpeaker tries each speaker in order until one succeeds.
type FallbackSpeaker struct {
	speakers []application.Speaker
	logger   *slog.Logger
}

func NewFallbackSpeaker(logger *slog.Logger, speakers ...application.Speaker) *FallbackSpeaker {
	return &FallbackSpeaker{speakers: speakers, logger: logger}
}

func (f *FallbackSpeaker) Speak(ctx context.Context, text string) error {
	var errs []error
	for i, s := range f.speakers {
		err := s.Speak(ctx, text)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		errs = append(errs, err)
		if i < len(f.speakers)-1 {
			f.logger.Warn("speaker failed, trying next", "index", i, "error", err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

var (
	_ application.Speaker = (*CloudSpeaker)(nil)
	_ application.Speaker = (*LocalSpeaker)(nil)
	_ application.Speaker = (*FallbackSpeaker)(nil)
)
