//go:build !cgo

package audio

import "errors"

func newWebRTCVAD(_ int) (VAD, error) {
	return nil, errors.New("webrtc vad requires cgo")
}
