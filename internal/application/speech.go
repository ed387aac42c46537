package application

import (
	"context"
	"time"
)

type WakeOptions struct {
	// Phrase is lowercased and trimmed.
	Phrase      string
	Sensitivity float64
}

type WakeEvent struct {
	Phrase     string
	Confidence float64
	Err        error
}

// WakeWordBackend listens for the activation phrase only. Detect returns a
// channel that carries at most one detection, then closes. Recognizer
// failures arrive as a WakeEvent with Err set. The channel is closed once
// ctx is cancelled and the backend has stopped reading frames.
type WakeWordBackend interface {
	Detect(ctx context.Context, frames <-chan Frame, opts WakeOptions) (<-chan WakeEvent, error)
	Name() string
}

type ListenOptions struct {
	Language         string
	InterimResults   bool
	MaxAlternatives  int
	EndpointDuration time.Duration
	RequireEndpoint  bool
}

type Alternative struct {
	Text       string
	Confidence float64
}

// Transcript is one recognizer result. Confidence is the recognizer's own
// acoustic score, zero when the backend does not report one.
type Transcript struct {
	Text         string
	Confidence   float64
	Final        bool
	Alternatives []Alternative
	Err          error
}

// CommandRecognizer runs single-shot recognition sessions. The returned
// channel closes after the final transcript, after an error, or once ctx is
// cancelled and the session no longer reads frames.
type CommandRecognizer interface {
	Listen(ctx context.Context, frames <-chan Frame, opts ListenOptions) (<-chan Transcript, error)
}

// SpeechToText turns a finished utterance into text.
type SpeechToText interface {
	Transcribe(ctx context.Context, audio []byte) (Transcript, error)
}

// Speaker plays a short spoken response. Failures are advisory.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

type NoopSpeaker struct{}

func (NoopSpeaker) Speak(_ context.Context, _ string) error {
	return nil
}
