package audio

import (
	"time"

	"kitchen-voice/internal/application"
)

type SegmenterConfig struct {
	// Silence is how much non-speech ends an utterance.
	Silence time.Duration
	// MinSpeech discards blips shorter than this.
	MinSpeech time.Duration
	// MaxLength force-ends an utterance. Zero means no limit.
	MaxLength time.Duration
	// PreRoll keeps audio from just before speech started.
	PreRoll time.Duration
}

func DefaultSegmenterConfig() SegmenterConfig {
	return SegmenterConfig{
		Silence:   800 * time.Millisecond,
		MinSpeech: 200 * time.Millisecond,
		MaxLength: 8 * time.Second,
		PreRoll:   200 * time.Millisecond,
	}
}

// Segmenter cuts a frame stream into utterances using a VAD. Durations are
// measured in audio time, not wall-clock time.
type Segmenter struct {
	cfg SegmenterConfig
	vad VAD

	preRoll  []preRollFrame
	preLen   time.Duration
	samples  []int16
	speaking bool
	speech   time.Duration
	silence  time.Duration
	length   time.Duration
}

func NewSegmenter(cfg SegmenterConfig, vad VAD) *Segmenter {
	return &Segmenter{cfg: cfg, vad: vad}
}

// Push feeds one frame. It returns the finished utterance when this frame
// completes one, and forced reports whether MaxLength cut it short.
func (s *Segmenter) Push(f application.Frame) (utterance []int16, forced bool, err error) {
	if f.SampleRate <= 0 || len(f.PCM) == 0 {
		return nil, false, nil
	}
	d := time.Duration(len(f.PCM)) * time.Second / time.Duration(f.SampleRate)

	speech, err := s.vad.IsSpeech(f.PCM, f.SampleRate)
	if err != nil {
		return nil, false, err
	}

	if !s.speaking {
		if !speech {
			s.keepPreRoll(f.PCM, d)
			return nil, false, nil
		}
		s.speaking = true
		for _, p := range s.preRoll {
			s.samples = append(s.samples, p.pcm...)
		}
		s.length = s.preLen
		s.preRoll, s.preLen = nil, 0
	}

	s.samples = append(s.samples, f.PCM...)
	s.length += d
	if speech {
		s.speech += d
		s.silence = 0
	} else {
		s.silence += d
	}

	if s.cfg.MaxLength > 0 && s.length >= s.cfg.MaxLength {
		return s.finish(true)
	}
	if s.silence >= s.cfg.Silence {
		if s.speech < s.cfg.MinSpeech {
			s.Reset()
			return nil, false, nil
		}
		return s.finish(false)
	}
	return nil, false, nil
}

// Partial returns a copy of the utterance collected so far.
func (s *Segmenter) Partial() []int16 {
	return append([]int16(nil), s.samples...)
}

// Speaking reports whether an utterance is in progress.
func (s *Segmenter) Speaking() bool { return s.speaking }

// SpeechDuration is how much speech the current utterance holds.
func (s *Segmenter) SpeechDuration() time.Duration { return s.speech }

func (s *Segmenter) Reset() {
	s.samples = nil
	s.speaking = false
	s.speech, s.silence, s.length = 0, 0, 0
	s.preRoll, s.preLen = nil, 0
}

func (s *Segmenter) finish(forced bool) ([]int16, bool, error) {
	out := s.samples
	s.Reset()
	return out, forced, nil
}

func (s *Segmenter) keepPreRoll(pcm []int16, d time.Duration) {
	if s.cfg.PreRoll <= 0 {
		return
	}
	s.preRoll = append(s.preRoll, preRollFrame{pcm: append([]int16(nil), pcm...), d: d})
	s.preLen += d
	for len(s.preRoll) > 1 && s.preLen-s.preRoll[0].d >= s.cfg.PreRoll {
		s.preLen -= s.preRoll[0].d
		s.preRoll = s.preRoll[1:]
	}
}

type preRollFrame struct {
	pcm []int16
	d   time.Duration
}
