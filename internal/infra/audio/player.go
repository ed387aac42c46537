//go:build portaudio
// +build portaudio

package audio

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// Player plays WAV clips on the default output device, one at a time.
type Player struct {
	framesPerBuffer int
	mu              sync.Mutex
}

func NewPlayer(framesPerBuffer int) *Player {
	if framesPerBuffer <= 0 {
		framesPerBuffer = DefaultFramesPerBuffer
	}
	return &Player{framesPerBuffer: framesPerBuffer}
}

func (p *Player) Play(ctx context.Context, clip []byte) error {
	pcm, rate, err := DecodeWAV(bytes.NewReader(clip))
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initializing portaudio: %w", err)
	}
	defer portaudio.Terminate()

	out := make([]int16, p.framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(rate), len(out), out)
	if err != nil {
		return fmt.Errorf("opening output stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("starting output stream: %w", err)
	}
	defer stream.Stop()

	for i := 0; i < len(pcm); i += len(out) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := copy(out, pcm[i:])
		for j := n; j < len(out); j++ {
			out[j] = 0
		}
		if err := stream.Write(); err != nil {
			return fmt.Errorf("writing output stream: %w", err)
		}
	}
	return nil
}
