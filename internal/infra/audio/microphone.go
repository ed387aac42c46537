//go:build portaudio
// +build portaudio

package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	"kitchen-voice/internal/application"
)

type MicrophoneSource struct {
	*bus
	device          string
	framesPerBuffer int
	logger          *slog.Logger

	mu      sync.Mutex
	stream  *portaudio.Stream
	cancel  context.CancelFunc
	stopped chan struct{}
}

func NewMicrophoneSource(device string, sampleRate, framesPerBuffer int, logger *slog.Logger) *MicrophoneSource {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if framesPerBuffer <= 0 {
		framesPerBuffer = DefaultFramesPerBuffer
	}
	return &MicrophoneSource{
		bus:             newBus(sampleRate, 64),
		device:          device,
		framesPerBuffer: framesPerBuffer,
		logger:          logger,
	}
}

func (m *MicrophoneSource) Name() string {
	return "microphone"
}

func (m *MicrophoneSource) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream != nil {
		return nil
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initializing portaudio: %w", err)
	}

	buffer := make([]int16, m.framesPerBuffer)
	stream, err := m.open(buffer)
	if err != nil {
		portaudio.Terminate()
		return classify(err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return classify(fmt.Errorf("starting stream: %w", err))
	}

	ctx, cancel := context.WithCancel(ctx)
	m.stream = stream
	m.cancel = cancel
	m.stopped = make(chan struct{})
	go m.read(ctx, stream, buffer)

	m.logger.Info("microphone started", "device", m.device, "sampleRate", m.sampleRate, "framesPerBuffer", m.framesPerBuffer)
	return nil
}

func (m *MicrophoneSource) open(buffer []int16) (*portaudio.Stream, error) {
	if m.device == "" {
		stream, err := portaudio.OpenDefaultStream(1, 0, float64(m.sampleRate), len(buffer), buffer)
		if err != nil {
			return nil, fmt.Errorf("opening default stream: %w", err)
		}
		return stream, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	for _, d := range devices {
		if d.MaxInputChannels < 1 || !strings.Contains(strings.ToLower(d.Name), strings.ToLower(m.device)) {
			continue
		}
		params := portaudio.LowLatencyParameters(d, nil)
		params.Input.Channels = 1
		params.SampleRate = float64(m.sampleRate)
		params.FramesPerBuffer = len(buffer)
		stream, err := portaudio.OpenStream(params, buffer)
		if err != nil {
			return nil, fmt.Errorf("opening device %q: %w", d.Name, err)
		}
		return stream, nil
	}
	return nil, fmt.Errorf("input device %q not found", m.device)
}

func (m *MicrophoneSource) read(ctx context.Context, stream *portaudio.Stream, buffer []int16) {
	defer close(m.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				continue
			}
			m.logger.Error("reading from microphone", "error", err)
			return
		}
		m.publish(buffer)
	}
}

func (m *MicrophoneSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil {
		return nil
	}
	m.cancel()
	<-m.stopped
	m.stream.Stop()
	m.stream.Close()
	m.stream = nil
	return portaudio.Terminate()
}

// classify maps host audio failures that mean the device is off limits.
func classify(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "permission") || strings.Contains(msg, "not allowed") || strings.Contains(msg, "access denied") {
		return fmt.Errorf("%w: %v", application.ErrPermissionDenied, err)
	}
	return err
}

var _ application.AudioCapture = (*MicrophoneSource)(nil)
