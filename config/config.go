package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"kitchen-voice/internal/application"
)

type Config struct {
	Engine     application.EngineConfig `yaml:"engine"`
	Audio      AudioConfig              `yaml:"audio"`
	WakeWord   WakeWordConfig           `yaml:"wakeword"`
	STT        STTConfig                `yaml:"stt"`
	NLP        NLPConfig                `yaml:"nlp"`
	TTS        TTSConfig                `yaml:"tts"`
	HTTP       HTTPConfig               `yaml:"http"`
	OrderStore OrderStoreConfig         `yaml:"orderstore"`
	Pushover   PushoverConfig           `yaml:"pushover"`
	Log        LogConfig                `yaml:"log"`
}

type AudioConfig struct {
	// Source is "microphone" or "file".
	Source          string `yaml:"source"`
	Device          string `yaml:"device"`
	SampleRate      int    `yaml:"sample_rate"`
	FramesPerBuffer int    `yaml:"frames_per_buffer"`
	FileDir         string `yaml:"file_dir"`
	Realtime        bool   `yaml:"realtime"`
	// SpoolDir keeps every command utterance on disk when set.
	SpoolDir string `yaml:"spool_dir"`
	VADMode  int    `yaml:"vad_mode"`
}

type WakeWordConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
}

type STTConfig struct {
	APIKey   string `yaml:"api_key"`
	Language string `yaml:"language"`
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`
}

type NLPConfig struct {
	// Provider is "endpoint", "anthropic", "gemini" or "none".
	Provider string `yaml:"provider"`
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Timeout  string `yaml:"timeout"`
}

type TTSConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	Binary   string `yaml:"binary"`
	Voice    string `yaml:"voice"`
	Timeout  string `yaml:"timeout"`
}

type HTTPConfig struct {
	Addr          string `yaml:"addr"`
	AuthToken     string `yaml:"auth_token"`
	RatePerMinute int    `yaml:"rate_per_minute"`
	Burst         int    `yaml:"burst"`
}

type OrderStoreConfig struct {
	BaseURL       string `yaml:"base_url"`
	Token         string `yaml:"token"`
	WebhookSecret string `yaml:"webhook_secret"`
	SyncInterval  string `yaml:"sync_interval"`
}

type PushoverConfig struct {
	Token   string `yaml:"token"`
	UserKey string `yaml:"user_key"`
	Title   string `yaml:"title"`
	Enabled bool   `yaml:"enabled"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File, when set, receives a rotated copy of the log.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse expands ${VAR} references, decodes the YAML and fills defaults.
// Engine fields that are absent keep their default values.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := Config{Engine: application.DefaultEngineConfig()}
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Audio.Source == "" {
		c.Audio.Source = "microphone"
	}
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = 16000
	}
	if c.Audio.FramesPerBuffer == 0 {
		c.Audio.FramesPerBuffer = 320
	}
	if c.Audio.FileDir == "" {
		c.Audio.FileDir = "./audio"
	}
	if c.Audio.VADMode == 0 {
		c.Audio.VADMode = 2
	}
	if c.STT.Language == "" {
		c.STT.Language = c.Engine.Language
	}
	if c.NLP.Provider == "" {
		c.NLP.Provider = "none"
	}
	if c.NLP.Timeout == "" {
		c.NLP.Timeout = "10s"
	}
	if c.TTS.Timeout == "" {
		c.TTS.Timeout = "10s"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.RatePerMinute == 0 {
		c.HTTP.RatePerMinute = 30
	}
	if c.HTTP.Burst == 0 {
		c.HTTP.Burst = 5
	}
	if c.OrderStore.SyncInterval == "" {
		c.OrderStore.SyncInterval = "30s"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 50
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 3
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = 14
	}
}

func (c *Config) validate() error {
	switch c.Audio.Source {
	case "microphone", "file":
	default:
		return fmt.Errorf("invalid audio source %q: want microphone or file", c.Audio.Source)
	}
	switch c.NLP.Provider {
	case "none", "endpoint", "anthropic", "gemini":
	default:
		return fmt.Errorf("invalid nlp provider %q: want endpoint, anthropic, gemini or none", c.NLP.Provider)
	}
	for name, v := range map[string]string{
		"nlp.timeout":              c.NLP.Timeout,
		"tts.timeout":              c.TTS.Timeout,
		"orderstore.sync_interval": c.OrderStore.SyncInterval,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	return nil
}

func (n NLPConfig) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(n.Timeout)
	return d
}

func (t TTSConfig) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(t.Timeout)
	return d
}

func (o OrderStoreConfig) SyncIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(o.SyncInterval)
	return d
}
