package application

import (
	"context"
	"errors"
)

var (
	// ErrPermissionDenied marks a capture or recognizer failure that retrying
	// cannot fix. The engine deactivates when it sees one.
	ErrPermissionDenied = errors.New("microphone permission denied")

	ErrEngineDestroyed = errors.New("engine destroyed")

	// ErrBackendUnavailable is returned by a wake-word backend that cannot
	// initialise on this host (missing credential, unsupported platform).
	ErrBackendUnavailable = errors.New("wake word backend unavailable")
)

// Frame is one buffer of mono 16-bit PCM.
type Frame struct {
	PCM        []int16
	SampleRate int
	// Level is the RMS energy of PCM normalised to [0,1].
	Level float64
}

// AudioCapture owns the single microphone stream. Only one consumer reads
// Frames at a time; the engine hands the channel to whichever of the
// wake-word detector or the command recognizer is running.
type AudioCapture interface {
	Start(ctx context.Context) error
	Frames() <-chan Frame
	// Suspend stops delivering frames without releasing the device.
	Suspend()
	Resume()
	// Flush discards frames buffered for a previous consumer and returns
	// how many were dropped.
	Flush() int
	Close() error
	// Level is the RMS of the most recent frame.
	Level() float64
	Name() string
}

type AudioFormat struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

func DefaultAudioFormat() AudioFormat {
	return AudioFormat{
		SampleRate: 16000,
		Channels:   1,
		BitDepth:   16,
	}
}
