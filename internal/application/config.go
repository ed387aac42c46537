package application

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// EngineConfig is fixed for the lifetime of an Engine. NewEngine stores a
// copy, so later changes to the caller's value have no effect.
type EngineConfig struct {
	WakeWord            string  `yaml:"wake_word" json:"wakeWord" validate:"required"`
	Sensitivity         float64 `yaml:"sensitivity" json:"sensitivity" validate:"gte=0,lte=1"`
	EndpointDurationSec float64 `yaml:"endpoint_duration_sec" json:"endpointDurationSec" validate:"gte=0"`
	RequireEndpoint     bool    `yaml:"require_endpoint" json:"requireEndpoint"`
	CommandTimeoutMs    int     `yaml:"command_timeout_ms" json:"commandTimeoutMs" validate:"gt=0"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold" json:"confidenceThreshold" validate:"gte=0,lte=1"`

	ConfirmationTimeoutMs   int     `yaml:"confirmation_timeout_ms" json:"confirmationTimeoutMs" validate:"gt=0"`
	PromptTimeoutMs         int     `yaml:"prompt_timeout_ms" json:"promptTimeoutMs" validate:"gt=0"`
	WakeRestartDelayMs      int     `yaml:"wake_restart_delay_ms" json:"wakeRestartDelayMs" validate:"gte=0"`
	WakeMaxRestarts         int     `yaml:"wake_max_restarts" json:"wakeMaxRestarts" validate:"gte=0"`
	MaxAlternatives         int     `yaml:"max_alternatives" json:"maxAlternatives" validate:"gte=1"`
	InterimResults          bool    `yaml:"interim_results" json:"interimResults"`
	MinRecognizerConfidence float64 `yaml:"min_recognizer_confidence" json:"minRecognizerConfidence" validate:"gte=0,lte=1"`
	Language                string  `yaml:"language" json:"language"`
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		WakeWord:              "hey kitchen",
		Sensitivity:           0.5,
		EndpointDurationSec:   0.8,
		CommandTimeoutMs:      10000,
		ConfidenceThreshold:   0.7,
		ConfirmationTimeoutMs: 5000,
		PromptTimeoutMs:       10000,
		WakeRestartDelayMs:    1000,
		WakeMaxRestarts:       5,
		MaxAlternatives:       1,
		InterimResults:        true,
		Language:              "en",
	}
}

var validate = validator.New()

// Validate rejects configurations the engine cannot run with.
func (c EngineConfig) Validate() error {
	if strings.TrimSpace(c.WakeWord) == "" {
		return fmt.Errorf("invalid engine config: wake word is empty")
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid engine config: %w", err)
	}
	return nil
}

func (c EngineConfig) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutMs) * time.Millisecond
}

func (c EngineConfig) ConfirmationTimeout() time.Duration {
	return time.Duration(c.ConfirmationTimeoutMs) * time.Millisecond
}

// PromptTimeout caps how long the confirmation prompt may take to play
// before the reply window opens.
func (c EngineConfig) PromptTimeout() time.Duration {
	return time.Duration(c.PromptTimeoutMs) * time.Millisecond
}

func (c EngineConfig) WakeRestartDelay() time.Duration {
	return time.Duration(c.WakeRestartDelayMs) * time.Millisecond
}

func (c EngineConfig) EndpointDuration() time.Duration {
	return time.Duration(c.EndpointDurationSec * float64(time.Second))
}

func (c EngineConfig) wakeOptions() WakeOptions {
	return WakeOptions{
		Phrase:      strings.ToLower(strings.TrimSpace(c.WakeWord)),
		Sensitivity: c.Sensitivity,
	}
}

func (c EngineConfig) listenOptions() ListenOptions {
	return ListenOptions{
		Language:         c.Language,
		InterimResults:   c.InterimResults,
		MaxAlternatives:  c.MaxAlternatives,
		EndpointDuration: c.EndpointDuration(),
		RequireEndpoint:  c.RequireEndpoint,
	}
}
