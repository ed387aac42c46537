// Package recognizer runs single-shot command recognition: it endpoints
// an utterance with a VAD and transcribes it with a SpeechToText backend.
package recognizer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"kitchen-voice/internal/application"
	"kitchen-voice/internal/infra/audio"
)

type Config struct {
	// MinSpeech discards utterances with less speech than this.
	MinSpeech time.Duration
	// MaxLength cuts an utterance that never reaches an endpoint. Ignored
	// when the session requires an endpoint.
	MaxLength time.Duration
	PreRoll   time.Duration
	// InterimInterval is how much new speech triggers an interim transcript.
	InterimInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		MinSpeech:       150 * time.Millisecond,
		MaxLength:       8 * time.Second,
		PreRoll:         200 * time.Millisecond,
		InterimInterval: time.Second,
	}
}

type Recognizer struct {
	stt    application.SpeechToText
	vad    audio.VAD
	spool  *audio.Spool
	cfg    Config
	logger *slog.Logger
}

func New(stt application.SpeechToText, vad audio.VAD, spool *audio.Spool, cfg Config, logger *slog.Logger) *Recognizer {
	if spool == nil {
		spool = audio.NewMemorySpool()
	}
	return &Recognizer{stt: stt, vad: vad, spool: spool, cfg: cfg, logger: logger}
}

func (r *Recognizer) Listen(ctx context.Context, frames <-chan application.Frame, opts application.ListenOptions) (<-chan application.Transcript, error) {
	if r.stt == nil {
		return nil, fmt.Errorf("no speech-to-text backend configured")
	}

	silence := opts.EndpointDuration
	if silence <= 0 {
		silence = 800 * time.Millisecond
	}
	segCfg := audio.SegmenterConfig{
		Silence:   silence,
		MinSpeech: r.cfg.MinSpeech,
		MaxLength: r.cfg.MaxLength,
		PreRoll:   r.cfg.PreRoll,
	}
	if opts.RequireEndpoint {
		segCfg.MaxLength = 0
	}

	s := &session{
		r:      r,
		opts:   opts,
		seg:    audio.NewSegmenter(segCfg, r.vad),
		out:    make(chan application.Transcript, 8),
		ctx:    ctx,
		logger: r.logger,
	}
	go s.run(frames)
	return s.out, nil
}

type session struct {
	r      *Recognizer
	opts   application.ListenOptions
	seg    *audio.Segmenter
	out    chan application.Transcript
	ctx    context.Context
	logger *slog.Logger

	interims    sync.WaitGroup
	interimBusy atomic.Bool
	lastInterim time.Duration
	sampleRate  int
}

func (s *session) run(frames <-chan application.Frame) {
	defer close(s.out)
	defer s.interims.Wait()

	for {
		var f application.Frame
		select {
		case <-s.ctx.Done():
			return
		case fr, ok := <-frames:
			if !ok {
				s.flush()
				return
			}
			f = fr
		}
		s.sampleRate = f.SampleRate

		utterance, forced, err := s.seg.Push(f)
		if err != nil {
			s.emit(application.Transcript{Err: fmt.Errorf("endpointing: %w", err)})
			return
		}
		if utterance != nil {
			if forced {
				s.logger.Debug("utterance cut at max length")
			}
			s.finish(utterance)
			return
		}
		s.maybeInterim()
	}
}

// flush finalises a partial utterance when the stream ends early.
func (s *session) flush() {
	if s.opts.RequireEndpoint || !s.seg.Speaking() || s.seg.SpeechDuration() < s.r.cfg.MinSpeech {
		return
	}
	s.finish(s.seg.Partial())
}

func (s *session) finish(utterance []int16) {
	// Interims must not arrive after the final transcript.
	s.interims.Wait()

	t, err := s.transcribe(utterance, s.sampleRate)
	if err != nil {
		if s.ctx.Err() == nil {
			s.emit(application.Transcript{Err: err})
		}
		return
	}

	t.Final = true
	limit := s.opts.MaxAlternatives
	if limit < 1 {
		limit = 1
	}
	if len(t.Alternatives) > limit {
		t.Alternatives = t.Alternatives[:limit]
	}
	s.emit(t)
}

func (s *session) maybeInterim() {
	if !s.opts.InterimResults || s.r.cfg.InterimInterval <= 0 || !s.seg.Speaking() {
		return
	}
	speech := s.seg.SpeechDuration()
	if speech-s.lastInterim < s.r.cfg.InterimInterval || !s.interimBusy.CompareAndSwap(false, true) {
		return
	}
	s.lastInterim = speech

	partial, rate := s.seg.Partial(), s.sampleRate
	s.interims.Add(1)
	go func() {
		defer s.interims.Done()
		defer s.interimBusy.Store(false)
		t, err := s.transcribe(partial, rate)
		if err != nil || t.Text == "" {
			return
		}
		s.emit(application.Transcript{Text: t.Text, Confidence: t.Confidence})
	}()
}

func (s *session) transcribe(pcm []int16, sampleRate int) (application.Transcript, error) {
	wav, err := s.r.spool.Encode(pcm, sampleRate)
	if err != nil {
		return application.Transcript{}, err
	}
	t, err := s.r.stt.Transcribe(s.ctx, wav)
	if err != nil {
		return application.Transcript{}, fmt.Errorf("transcribing command: %w", err)
	}
	return t, nil
}

func (s *session) emit(t application.Transcript) {
	select {
	case s.out <- t:
	case <-s.ctx.Done():
	}
}

var _ application.CommandRecognizer = (*Recognizer)(nil)
