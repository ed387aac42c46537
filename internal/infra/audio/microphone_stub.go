//go:build !portaudio
// +build !portaudio

package audio

import (
	"context"
	"fmt"
	"log/slog"

	"kitchen-voice/internal/application"
)

// MicrophoneSource stub when portaudio is not available
type MicrophoneSource struct {
	*bus
	logger *slog.Logger
}

func NewMicrophoneSource(_ string, sampleRate, _ int, logger *slog.Logger) *MicrophoneSource {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &MicrophoneSource{bus: newBus(sampleRate, 1), logger: logger}
}

func (m *MicrophoneSource) Name() string {
	return "microphone"
}

func (m *MicrophoneSource) Start(_ context.Context) error {
	return fmt.Errorf("microphone source not available: rebuild with -tags portaudio")
}

func (m *MicrophoneSource) Close() error {
	return nil
}

var _ application.AudioCapture = (*MicrophoneSource)(nil)
