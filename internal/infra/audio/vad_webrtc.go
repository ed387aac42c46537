//go:build cgo

package audio

import (
	"fmt"
	"sync"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"
)

// WebRTCVAD wraps the WebRTC voice activity detector. It accepts 10ms
// chunks only, so frames are split and any speech chunk marks the frame.
type WebRTCVAD struct {
	mu  sync.Mutex
	vad *webrtcvad.VAD
}

func newWebRTCVAD(mode int) (VAD, error) {
	v, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("creating webrtc vad: %w", err)
	}
	if mode < 0 {
		mode = 0
	}
	if mode > 3 {
		mode = 3
	}
	if err := v.SetMode(mode); err != nil {
		return nil, fmt.Errorf("setting vad mode: %w", err)
	}
	return &WebRTCVAD{vad: v}, nil
}

func (w *WebRTCVAD) IsSpeech(pcm []int16, sampleRate int) (bool, error) {
	switch sampleRate {
	case 8000, 16000, 32000, 48000:
	default:
		return false, fmt.Errorf("unsupported vad sample rate %d", sampleRate)
	}

	chunk := sampleRate / 100
	if len(pcm) < chunk {
		padded := make([]int16, chunk)
		copy(padded, pcm)
		pcm = padded
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	buf := make([]byte, chunk*2)
	for i := 0; i+chunk <= len(pcm); i += chunk {
		for j, s := range pcm[i : i+chunk] {
			buf[j*2] = byte(s)
			buf[j*2+1] = byte(s >> 8)
		}
		active, err := w.vad.Process(sampleRate, buf)
		if err != nil {
			return false, fmt.Errorf("vad processing: %w", err)
		}
		if active {
			return true, nil
		}
	}
	return false, nil
}
