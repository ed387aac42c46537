//go:build !portaudio
// +build !portaudio

package audio

import (
	"bytes"
	"context"
	"fmt"
)

// Player stub when portaudio is not available. Clips are validated and
// discarded.
type Player struct{}

func NewPlayer(_ int) *Player {
	return &Player{}
}

func (p *Player) Play(_ context.Context, clip []byte) error {
	if _, _, err := DecodeWAV(bytes.NewReader(clip)); err != nil {
		return err
	}
	return fmt.Errorf("audio playback not available: rebuild with -tags portaudio")
}
