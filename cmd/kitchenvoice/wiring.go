package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/spf13/afero"

	"kitchen-voice/config"
	"kitchen-voice/internal/application"
	"kitchen-voice/internal/infra/anthropic"
	"kitchen-voice/internal/infra/audio"
	"kitchen-voice/internal/infra/gemini"
	"kitchen-voice/internal/infra/nlpapi"
	"kitchen-voice/internal/infra/openai"
	"kitchen-voice/internal/infra/pushover"
	"kitchen-voice/internal/infra/tts"
	"kitchen-voice/internal/parser"
)

// maxCachedStrategies bounds the per-request API keys kept alive. The least
// recently used strategy is closed when a new key needs room.
const maxCachedStrategies = 64

// strategies builds cloud parsing strategies for the configured provider
// and keeps one per API key, so SDK clients are reused and closed on exit.
type strategies struct {
	cfg    config.NLPConfig
	logger *slog.Logger

	mu        sync.Mutex
	byKey     *lru.Cache[string, parser.Strategy]
	closeErrs []error
}

func newStrategies(cfg config.NLPConfig, logger *slog.Logger) *strategies {
	s := &strategies{cfg: cfg, logger: logger}
	// Only fails for a non-positive size.
	s.byKey, _ = lru.NewWithEvict(maxCachedStrategies, s.evicted)
	return s
}

func (s *strategies) evicted(_ string, st parser.Strategy) {
	c, ok := st.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		s.closeErrs = append(s.closeErrs, err)
	}
}

// For returns the strategy for apiKey, or nil when the provider is "none"
// or needs a key that was not given.
func (s *strategies) For(apiKey string) parser.Strategy {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.byKey.Get(apiKey); ok {
		return st
	}

	st := s.build(apiKey)
	if st != nil {
		if s.byKey.Add(apiKey, st) {
			s.logger.Debug("evicted least recently used NLP client", "cached", s.byKey.Len())
		}
	}
	return st
}

func (s *strategies) build(apiKey string) parser.Strategy {
	timeout := s.cfg.TimeoutDuration()
	switch s.cfg.Provider {
	case "endpoint":
		if s.cfg.Endpoint == "" {
			return nil
		}
		return nlpapi.NewClient(s.cfg.Endpoint, apiKey, timeout)
	case "anthropic":
		if apiKey == "" {
			return nil
		}
		return anthropic.NewClaudeClient(apiKey, s.cfg.Model, timeout)
	case "gemini":
		if apiKey == "" {
			return nil
		}
		return gemini.NewClient(apiKey, s.cfg.Model)
	}
	return nil
}

func (s *strategies) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byKey.Len()
}

func (s *strategies) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byKey.Purge()
	err := errors.Join(s.closeErrs...)
	s.closeErrs = nil
	return err
}

// parserStack is the default chain plus the text-only service sharing its
// options.
func parserStack(cfg config.NLPConfig, hook func(strategy, outcome string), logger *slog.Logger) (*parser.Chain, *parser.Service, *strategies) {
	cloud := newStrategies(cfg, logger)
	opts := []parser.ChainOption{parser.WithOutcomeHook(hook)}

	chain := parser.NewChain(cloud.For(cfg.APIKey), logger, opts...)
	factory := func(apiKey string) parser.Strategy { return cloud.For(apiKey) }
	return chain, parser.NewService(chain, factory, logger, opts...), cloud
}

func buildCapture(cfg config.AudioConfig, logger *slog.Logger) (application.AudioCapture, error) {
	switch cfg.Source {
	case "file":
		return audio.NewFileSource(afero.NewOsFs(), audio.FileSourceConfig{
			Dir:             cfg.FileDir,
			SampleRate:      cfg.SampleRate,
			FramesPerBuffer: cfg.FramesPerBuffer,
			Realtime:        cfg.Realtime,
		}, logger), nil
	case "microphone":
		return audio.NewMicrophoneSource(cfg.Device, cfg.SampleRate, cfg.FramesPerBuffer, logger), nil
	}
	return nil, fmt.Errorf("unknown audio source %q", cfg.Source)
}

func buildSpool(cfg config.AudioConfig) (*audio.Spool, error) {
	if cfg.SpoolDir == "" {
		return audio.NewMemorySpool(), nil
	}
	spool, err := audio.NewSpool(afero.NewOsFs(), cfg.SpoolDir, true)
	if err != nil {
		return nil, fmt.Errorf("creating utterance spool: %w", err)
	}
	return spool, nil
}

func buildWhisper(cfg config.STTConfig) *openai.WhisperClient {
	var opts []openai.Option
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Model != "" {
		opts = append(opts, openai.WithModel(cfg.Model))
	}
	return openai.NewWhisperClient(cfg.APIKey, cfg.Language, opts...)
}

// buildSpeaker prefers the cloud voice and falls back to the local
// synthesizer.
func buildSpeaker(cfg config.TTSConfig, audioCfg config.AudioConfig, logger *slog.Logger) application.Speaker {
	var speakers []application.Speaker
	if cfg.Endpoint != "" {
		player := audio.NewPlayer(audioCfg.FramesPerBuffer)
		speakers = append(speakers, tts.NewCloudSpeaker(cfg.Endpoint, cfg.APIKey, cfg.TimeoutDuration(), player))
	}
	speakers = append(speakers, tts.NewLocalSpeaker(cfg.Binary, cfg.Voice))
	return tts.NewFallbackSpeaker(logger, speakers...)
}

func buildNotifier(cfg config.PushoverConfig) application.Notifier {
	if !cfg.Enabled {
		return &application.NoopNotifier{}
	}
	return pushover.NewClient(cfg.Token, cfg.UserKey, cfg.Title)
}
