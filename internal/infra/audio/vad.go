package audio

import "log/slog"

// VAD classifies a frame as speech or not.
type VAD interface {
	IsSpeech(pcm []int16, sampleRate int) (bool, error)
}

// DefaultEnergyThreshold is the RMS level treated as speech by EnergyVAD.
const DefaultEnergyThreshold = 0.02

// EnergyVAD is a plain RMS threshold detector.
type EnergyVAD struct {
	Threshold float64
}

func (v EnergyVAD) IsSpeech(pcm []int16, _ int) (bool, error) {
	threshold := v.Threshold
	if threshold <= 0 {
		threshold = DefaultEnergyThreshold
	}
	return RMS(pcm) >= threshold, nil
}

// NewVAD returns the best detector this build supports. mode is the WebRTC
// aggressiveness (0-3) and is ignored by the energy fallback.
func NewVAD(mode int, logger *slog.Logger) VAD {
	v, err := newWebRTCVAD(mode)
	if err != nil {
		logger.Warn("webrtc vad unavailable, using energy threshold", "error", err)
		return EnergyVAD{Threshold: DefaultEnergyThreshold}
	}
	return v
}
